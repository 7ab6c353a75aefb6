package common

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// TraceOptions is the set of ptrace event notifications the state
// machine asks the kernel for once the tracee's initial stop is seen
// (spec.md §4.4 Initialise state). Grounded on DataDog/datadog-agent's
// pkg/security/ptracer option-flag combination, widened from the
// teacher's TRACECLONE|TRACEFORK-only set to the full clone/fork/
// vfork/exec/exit set the spec requires.
const TraceOptions = unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACEEXEC |
	unix.PTRACE_O_TRACEEXIT

// Ptrace event codes reported alongside a SIGTRAP stop (spec.md §4.4,
// item 1).
const (
	EventClone = unix.PTRACE_EVENT_CLONE
	EventFork  = unix.PTRACE_EVENT_FORK
	EventVfork = unix.PTRACE_EVENT_VFORK
	EventExec  = unix.PTRACE_EVENT_EXEC
	EventExit  = unix.PTRACE_EVENT_EXIT
)

// Backend is C1, the Debug-Control Primitives: a thin capability set
// over the host kernel's tracing facility. Kept as an explicit
// interface (spec.md §9 "Polymorphism over tracer backends") so the
// state machine in statemachine.go can run against linuxBackend in
// production and fakeBackend in tests.
type Backend interface {
	// SetOptions enables reporting of clone/fork/vfork/exec/exit events.
	SetOptions(pid int, flags int) error
	// Continue resumes pid, re-injecting sig if non-zero.
	Continue(pid int, sig syscall.Signal) error
	// SingleStep executes one instruction in pid then traps, re-injecting sig if non-zero.
	SingleStep(pid int, sig syscall.Signal) error
	// Detach relinquishes control of pid.
	Detach(pid int) error
	// PeekData reads len(out) bytes from pid's memory at addr.
	PeekData(pid int, addr uintptr, out []byte) error
	// PokeData writes data to pid's memory at addr.
	PokeData(pid int, addr uintptr, data []byte) error
	// GetRegs returns pid's general purpose registers.
	GetRegs(pid int) (Regs, error)
	// SetRegs writes pid's general purpose registers.
	SetRegs(pid int, regs Regs) error
	// GetEventMsg returns the auxiliary data for the last ptrace event
	// (e.g. a new child's pid on PTRACE_EVENT_CLONE).
	GetEventMsg(pid int) (uint64, error)
	// PC is a convenience wrapper reading the instruction pointer out of GetRegs.
	PC(pid int) (uintptr, error)
	// SetPC is a convenience wrapper writing the instruction pointer via SetRegs.
	SetPC(pid int, pc uintptr) error
	// WaitPID polls once, non-blocking, for a single pid (used by the Start state).
	WaitPID(pid int) (WaitNotification, error)
	// WaitAny drains one pending notification for any child thread of
	// the tracer, non-blocking (used by the Waiting state).
	WaitAny() (WaitNotification, error)
}

// linuxBackend is the real ptrace-backed Backend implementation.
// Grounded on the teacher's common/process.go Process type: the
// Ptrace* family comes from the standard library syscall package, as
// the teacher uses it; golang.org/x/sys/unix supplies only the pieces
// stdlib does not expose (the PTRACE_EVENT_*/PTRACE_O_* constants
// above, and raw access for single-step-with-signal).
type linuxBackend struct{}

// NewLinuxBackend returns the production Backend.
func NewLinuxBackend() Backend {
	return linuxBackend{}
}

func (linuxBackend) SetOptions(pid int, flags int) error {
	return Error(syscall.PtraceSetOptions(pid, flags))
}

func (linuxBackend) Continue(pid int, sig syscall.Signal) error {
	return Error(syscall.PtraceCont(pid, int(sig)))
}

// SingleStep needs to re-inject an arbitrary signal, which the stdlib
// syscall.PtraceSingleStep wrapper does not support (it hard-codes
// signal 0), so this goes to raw ptrace(2) directly.
func (linuxBackend) SingleStep(pid int, sig syscall.Signal) error {
	return ptraceRaw(unix.PTRACE_SINGLESTEP, pid, 0, uintptr(sig))
}

func (linuxBackend) Detach(pid int) error {
	return Error(syscall.PtraceDetach(pid))
}

func (linuxBackend) PeekData(pid int, addr uintptr, out []byte) error {
	_, err := syscall.PtracePeekData(pid, addr, out)
	return Error(err)
}

func (linuxBackend) PokeData(pid int, addr uintptr, data []byte) error {
	_, err := syscall.PtracePokeData(pid, addr, data)
	return Error(err)
}

func (linuxBackend) GetRegs(pid int) (Regs, error) {
	var regs Regs
	if err := syscall.PtraceGetRegs(pid, &regs); err != nil {
		return Regs{}, Error(err)
	}
	return regs, nil
}

func (linuxBackend) SetRegs(pid int, regs Regs) error {
	return Error(syscall.PtraceSetRegs(pid, &regs))
}

func (linuxBackend) GetEventMsg(pid int) (uint64, error) {
	msg, err := syscall.PtraceGetEventMsg(pid)
	return uint64(msg), Error(err)
}

func (b linuxBackend) PC(pid int) (uintptr, error) {
	regs, err := b.GetRegs(pid)
	if err != nil {
		return 0, Error(err)
	}
	return uintptr(regs.Rip), nil
}

func (b linuxBackend) SetPC(pid int, pc uintptr) error {
	regs, err := b.GetRegs(pid)
	if err != nil {
		return Error(err)
	}
	regs.Rip = uint64(pc)
	return b.SetRegs(pid, regs)
}

func (linuxBackend) WaitPID(pid int) (WaitNotification, error) {
	var ws syscall.WaitStatus
	wpid, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
	if err != nil {
		if IsESRCH(err) {
			return WaitNotification{Kind: NotifyStillAlive}, nil
		}
		return WaitNotification{}, Error(err)
	}
	if wpid <= 0 {
		return WaitNotification{Kind: NotifyStillAlive}, nil
	}
	return classifyWaitStatus(wpid, ws), nil
}

func (linuxBackend) WaitAny() (WaitNotification, error) {
	var ws syscall.WaitStatus
	wpid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG|unix.WALL, nil)
	if err != nil {
		if err == syscall.ECHILD {
			return WaitNotification{Kind: NotifyStillAlive}, nil
		}
		return WaitNotification{}, Error(err)
	}
	if wpid <= 0 {
		return WaitNotification{Kind: NotifyStillAlive}, nil
	}
	return classifyWaitStatus(wpid, ws), nil
}

func classifyWaitStatus(wpid int, ws syscall.WaitStatus) WaitNotification {
	switch {
	case ws.Exited():
		return WaitNotification{Kind: NotifyExited, PID: wpid, ExitCode: ws.ExitStatus()}
	case ws.Signaled():
		return WaitNotification{Kind: NotifySignaled, PID: wpid, Signal: ws.Signal(), CoreDumped: ws.CoreDump()}
	case ws.Stopped():
		sig := ws.StopSignal()
		if sig == syscall.SIGTRAP {
			if cause := ws.TrapCause(); cause != 0 {
				return WaitNotification{Kind: NotifyPtraceEvent, PID: wpid, Signal: sig, Code: cause}
			}
		}
		return WaitNotification{Kind: NotifyStopped, PID: wpid, Signal: sig}
	default:
		return WaitNotification{Kind: NotifyStillAlive}
	}
}

// IsESRCH reports whether err is (or wraps) ESRCH, the "thread already
// gone" condition spec.md §4.1/§7 treat as a recoverable no-op.
func IsESRCH(err error) bool {
	if err == nil {
		return false
	}
	if errno, ok := err.(syscall.Errno); ok {
		return errno == syscall.ESRCH
	}
	if te, ok := err.(*TracedError); ok {
		return IsESRCH(te.Err)
	}
	return false
}

// IsEIO reports whether err is (or wraps) EIO, the signature of a
// breakpoint address that cannot be reached (spec.md §4.2).
func IsEIO(err error) bool {
	if err == nil {
		return false
	}
	if errno, ok := err.(syscall.Errno); ok {
		return errno == syscall.EIO
	}
	if te, ok := err.(*TracedError); ok {
		return IsEIO(te.Err)
	}
	return false
}

func ptraceRaw(request int, pid int, addr, data uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(request), uintptr(pid), addr, data, 0, 0)
	if errno != 0 {
		return Error(errno)
	}
	return nil
}
