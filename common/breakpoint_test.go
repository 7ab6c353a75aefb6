package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBreakpointSavesOriginalByteAndArms(t *testing.T) {
	backend := newFakeBackend()
	backend.setText(0x1000, []byte{0x55})

	bp, err := NewBreakpoint(backend, 100, 0x1000)
	require.NoError(t, err)
	assert.True(t, bp.IsArmed())
	assert.Equal(t, []byte{0xcc}, backend.text[0x1000])
	assert.Equal(t, []byte{0x55}, bp.originalByte)
}

func TestNewBreakpointUnreachableAddress(t *testing.T) {
	backend := newFakeBackend()
	backend.setUnreachable(0x2000)

	_, err := NewBreakpoint(backend, 100, 0x2000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAddressUnreachable)
}

func TestBreakpointProcessDisarmsAndBacksUpIP(t *testing.T) {
	backend := newFakeBackend()
	backend.setText(0x1000, []byte{0x55})
	bp, err := NewBreakpoint(backend, 100, 0x1000)
	require.NoError(t, err)

	backend.setRegs(100, Regs{Rip: 0x1001})
	hit, action, err := bp.Process(100, false)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, ActionContinue, action.Kind)
	assert.False(t, bp.IsArmed())

	pc, _ := backend.PC(100)
	assert.Equal(t, uintptr(0x1000), pc)
	assert.Equal(t, []byte{0x55}, backend.text[0x1000])
}

func TestBreakpointProcessReArmsAndSteps(t *testing.T) {
	backend := newFakeBackend()
	backend.setText(0x1000, []byte{0x55})
	bp, err := NewBreakpoint(backend, 100, 0x1000)
	require.NoError(t, err)

	backend.setRegs(100, Regs{Rip: 0x1001})
	hit, action, err := bp.Process(100, true)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, ActionStep, action.Kind)
	assert.True(t, bp.IsPending(100))
	// Process only records the pending step-over and returns the
	// action; it is the caller's job to apply it, so no SingleStep has
	// happened yet.
	assert.Empty(t, backend.stepped)
}

func TestBreakpointRearmReinstallsTrap(t *testing.T) {
	backend := newFakeBackend()
	backend.setText(0x1000, []byte{0x55})
	bp, err := NewBreakpoint(backend, 100, 0x1000)
	require.NoError(t, err)

	backend.setRegs(100, Regs{Rip: 0x1001})
	_, _, err = bp.Process(100, true)
	require.NoError(t, err)

	require.NoError(t, bp.Rearm(100))
	assert.True(t, bp.IsArmed())
	assert.False(t, bp.IsPending(100))
	assert.Equal(t, []byte{0xcc}, backend.text[0x1000])
}

func TestBreakpointJumpToSetsAddress(t *testing.T) {
	backend := newFakeBackend()
	backend.setText(0x1000, []byte{0x55})
	bp, err := NewBreakpoint(backend, 100, 0x1000)
	require.NoError(t, err)

	backend.setRegs(101, Regs{Rip: 0x1001})
	require.NoError(t, bp.JumpTo(101))

	pc, _ := backend.PC(101)
	assert.Equal(t, uintptr(0x1000), pc)
}

func TestBreakpointThreadKilledClearsPending(t *testing.T) {
	backend := newFakeBackend()
	backend.setText(0x1000, []byte{0x55})
	bp, err := NewBreakpoint(backend, 100, 0x1000)
	require.NoError(t, err)

	backend.setRegs(100, Regs{Rip: 0x1001})
	_, _, err = bp.Process(100, true)
	require.NoError(t, err)
	require.True(t, bp.IsPending(100))

	bp.ThreadKilled(100)
	assert.False(t, bp.IsPending(100))
}

func TestBreakpointEnableFailsOnAllZeroOriginalByte(t *testing.T) {
	backend := newFakeBackend()
	backend.setText(0x1000, []byte{0x00})

	_, err := NewBreakpoint(backend, 100, 0x1000)
	require.Error(t, err)
}

