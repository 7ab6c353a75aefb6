package common

import (
	"os"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	sysPersonality  = 135 // SYS_personality on amd64
	addrNoRandomize = 0x0040000
)

// LaunchConfig names the binary to launch and the breakpoint
// addresses to arm once it stops at its initial trap.
type LaunchConfig struct {
	Binary      string
	Args        []string
	Breakpoints []uintptr
	ReArm       bool
}

// Launcher is C5: forks the target binary under ptrace and drives the
// state machine (C4) to completion. Grounded on
// original_source/src/linux.rs for the ASLR-disable and CPU-affinity
// steps, and on the Go ptrace-launch idiom common across the example
// pack (os/exec's SysProcAttr{Ptrace:true} lets the runtime perform
// fork+PTRACE_TRACEME+execve, rather than hand-rolling clone/execve as
// the original Rust implementation does).
type Launcher struct {
	backend Backend
	log     *logrus.Logger
}

// NewLauncher returns a Launcher driving backend.
func NewLauncher(backend Backend, log *logrus.Logger) *Launcher {
	return &Launcher{backend: backend, log: log}
}

// Run launches cfg.Binary under ptrace, drives the tracer state
// machine until the tracee exits, and returns its exit code plus the
// accumulated Traces and EventLog.
//
// The launching goroutine is pinned to its OS thread for the whole
// call: several ptrace operations are only valid from the thread that
// performed PTRACE_TRACEME's counterpart attach, and the ASLR/affinity
// adjustments below apply to "the thread about to fork", which must
// stay put until StartProcess's internal fork+exec has happened.
func (l *Launcher) Run(cfg LaunchConfig) (int, []*Trace, *EventLog, error) {
	if _, err := os.Stat(cfg.Binary); err != nil {
		return 0, nil, nil, Error(ErrBinaryMissing)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cpu, err := currentCPU()
	if err == nil {
		if afferr := pinToCPU(0, cpu); afferr != nil {
			l.log.WithError(afferr).Debug("could not pin tracer to launch cpu")
		}
	}

	if err := disableASLR(); err != nil {
		l.log.WithError(err).Debug("could not disable ASLR; continuing regardless")
	}

	argv := append([]string{cfg.Binary}, cfg.Args...)
	env := append(os.Environ(), "RUST_TEST_THREADS=1", "RUST_BACKTRACE=1")

	proc, err := os.StartProcess(cfg.Binary, argv, &os.ProcAttr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
		Env:   env,
		Sys: &syscall.SysProcAttr{
			Ptrace:  true,
			Setpgid: true,
		},
	})
	if err != nil {
		return 0, nil, nil, Errorf("start process %s: %v: %w", cfg.Binary, err, ErrForkFailed)
	}

	if cpu >= 0 {
		if afferr := pinToCPU(proc.Pid, cpu); afferr != nil {
			l.log.WithError(afferr).Debug("could not pin tracee to launch cpu")
		}
	}

	traces := make([]*Trace, len(cfg.Breakpoints))
	for i, addr := range cfg.Breakpoints {
		traces[i] = NewTrace(addr)
	}

	state, data := Create(l.backend, l.log, proc.Pid, traces, cfg.ReArm)
	data.Timeline.Add(NewBinaryLaunchEvent(cfg.Binary))

	for !state.IsTerminal() {
		next, err := data.Step(state, cfg.Breakpoints)
		if err != nil {
			return 0, traces, data.Timeline, err
		}
		state = next
	}

	return state.ExitCode, traces, data.Timeline, nil
}

func disableASLR() error {
	current, _, errno := unix.Syscall(sysPersonality, 0xffffffff, 0, 0)
	if errno != 0 {
		return Error(errno)
	}
	_, _, errno = unix.Syscall(sysPersonality, current|addrNoRandomize, 0, 0)
	if errno != 0 {
		return Error(errno)
	}
	return nil
}

// currentCPU returns the CPU the calling thread is presently running
// on, or -1 if it could not be determined.
func currentCPU() (int, error) {
	cpu, err := unix.SchedGetcpu()
	if err != nil {
		return -1, Error(err)
	}
	return cpu, nil
}

// pinToCPU restricts pid (0 for the calling thread) to run only on cpu, the kcov-derived
// mitigation spec.md §4.5 calls for: serialising breakpoint step-over
// with any sibling thread by removing cross-cpu races entirely.
func pinToCPU(pid, cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return Error(unix.SchedSetaffinity(pid, &set))
}
