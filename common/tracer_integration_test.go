//go:build linux_ptrace_e2e

package common

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// TestLauncherTracesRealBinary only runs under -tags=linux_ptrace_e2e,
// against a tiny compiled helper at testdata/tinyhelper, which is not
// checked into the repository; without it Run fails and the test
// skips. It exercises the
// real linuxBackend end to end rather than the fake one, mirroring
// majorcontext-moat's guarded tracer_integration_test.go convention.
func TestLauncherTracesRealBinary(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	launcher := NewLauncher(NewLinuxBackend(), log)

	exitCode, traces, timeline, err := launcher.Run(LaunchConfig{
		Binary:      "testdata/tinyhelper",
		Breakpoints: []uintptr{0x401136},
		ReArm:       false,
	})
	if err != nil {
		t.Skipf("launcher run failed (may require ptrace privileges): %v", err)
	}

	require.Equal(t, 0, exitCode)
	require.Len(t, traces, 1)
	require.Greater(t, traces[0].Count, uint64(0))
	require.NotEmpty(t, timeline.Events)
}
