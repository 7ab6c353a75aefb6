package common

import (
	"bytes"

	"github.com/razzie/minitarp/arch"
)

var trapInstructionSize = uintptr(len(arch.TrapInstruction))
var emptyInstr = make([]byte, len(arch.TrapInstruction))

// Breakpoint is C2: exclusive custody of one trap site in a tracee's
// address space. Grounded on the teacher's common/breakpoint.go for
// the byte save/restore (Enable/Disable); Process/JumpTo/ThreadKilled
// and pendingThreads are new, following the exact hit-handling state
// machine original_source/src/statemachine/linux.rs implements.
type Breakpoint struct {
	backend        Backend
	pid            int
	addr           uintptr
	armed          bool
	originalByte   []byte
	pendingThreads map[int]bool
}

// NewBreakpoint reads the word at addr, saves the original byte, and
// arms the trap. Returns ErrAddressUnreachable if addr cannot be
// written (EIO — the tracee is almost certainly a PIE binary with
// compile-time-invalid absolute addresses).
func NewBreakpoint(backend Backend, pid int, addr uintptr) (*Breakpoint, error) {
	bp := &Breakpoint{
		backend:        backend,
		pid:            pid,
		addr:           addr,
		originalByte:   make([]byte, trapInstructionSize),
		pendingThreads: make(map[int]bool),
	}

	if err := bp.enable(); err != nil {
		return nil, err
	}

	return bp, nil
}

func (bp *Breakpoint) enable() error {
	if err := bp.backend.PeekData(bp.pid, bp.addr, bp.originalByte); err != nil {
		if IsEIO(err) {
			return Error(ErrAddressUnreachable)
		}
		return Error(err)
	}

	if bytes.Equal(bp.originalByte, emptyInstr) {
		return NewBreakpointInstallError("could not save original instruction at %#x", bp.addr)
	}

	if err := bp.backend.PokeData(bp.pid, bp.addr, arch.TrapInstruction); err != nil {
		if IsEIO(err) {
			return Error(ErrAddressUnreachable)
		}
		return Error(err)
	}

	bp.armed = true
	return nil
}

func (bp *Breakpoint) disable() error {
	if err := bp.backend.PokeData(bp.pid, bp.addr, bp.originalByte); err != nil {
		return Error(err)
	}
	bp.armed = false
	return nil
}

// Address returns the breakpoint's instruction address.
func (bp *Breakpoint) Address() uintptr {
	return bp.addr
}

// IsArmed reports whether the trap byte is currently installed.
func (bp *Breakpoint) IsArmed() bool {
	return bp.armed
}

// Process handles a trap observed at this breakpoint's address for
// thread pid (spec.md §4.2):
//  1. Disarm by writing the original byte back.
//  2. Back the instruction pointer up by one (the trap leaves IP one
//     past the faulting byte on x86).
//  3. If reArm: record pid as pending and return Step; the caller
//     applies the single-step and, on the matching completion trap,
//     must call Rearm to re-install the trap.
//  4. Otherwise: leave disarmed for the rest of this run, return Continue.
func (bp *Breakpoint) Process(pid int, reArm bool) (bool, TracerAction, error) {
	if err := bp.disable(); err != nil {
		return false, TracerAction{}, Error(err)
	}

	pc, err := bp.backend.PC(pid)
	if err != nil {
		return false, TracerAction{}, Error(err)
	}
	if err := bp.backend.SetPC(pid, pc-trapInstructionSize); err != nil {
		return false, TracerAction{}, Error(err)
	}

	if reArm {
		bp.pendingThreads[pid] = true
		return true, stepAction(pid), nil
	}

	return true, continueAction(pid), nil
}

// Rearm re-installs the trap after a pending step-over completes. The
// caller is responsible for recognising the completing single-step
// trap and invoking this before resuming other threads at the site.
func (bp *Breakpoint) Rearm(pid int) error {
	delete(bp.pendingThreads, pid)
	return bp.enable()
}

// JumpTo handles a hit observed at an already-disarmed site: a second
// thread reached the address after another thread's step-over. Just
// back the IP up by one; the caller continues the thread.
func (bp *Breakpoint) JumpTo(pid int) error {
	return Error(bp.backend.SetPC(pid, bp.addr))
}

// ThreadKilled removes pid from pendingThreads, releasing the
// step-over bookkeeping for a thread that exited mid-step.
func (bp *Breakpoint) ThreadKilled(pid int) {
	delete(bp.pendingThreads, pid)
}

// IsPending reports whether pid is mid-step-over at this site.
func (bp *Breakpoint) IsPending(pid int) bool {
	return bp.pendingThreads[pid]
}
