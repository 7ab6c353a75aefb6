package common

import "syscall"

// NotificationKind discriminates the union spec.md §3 calls
// WaitNotification.
type NotificationKind int

const (
	// NotifyStillAlive means no pending event was found.
	NotifyStillAlive NotificationKind = iota
	// NotifyStopped means a thread stopped on delivery of Signal.
	NotifyStopped
	// NotifyPtraceEvent means a ptrace event (clone/fork/vfork/exec/exit) fired.
	NotifyPtraceEvent
	// NotifySignaled means the thread was killed by Signal.
	NotifySignaled
	// NotifyExited means the thread exited normally with ExitCode.
	NotifyExited
)

// WaitNotification is the Go shape of spec.md §3's tagged union: one
// struct with a Kind discriminant instead of separate variant types,
// matching how the rest of the ptrace corpus (e.g. delve, eaburns)
// consumes syscall.WaitStatus.
type WaitNotification struct {
	Kind       NotificationKind
	PID        int
	Signal     syscall.Signal
	Code       int  // ptrace event code, valid when Kind == NotifyPtraceEvent
	CoreDumped bool // valid when Kind == NotifySignaled
	ExitCode   int  // valid when Kind == NotifyExited
}

// ActionKind discriminates TracerAction.
type ActionKind int

const (
	// ActionNothing means no action is required.
	ActionNothing ActionKind = iota
	// ActionContinue resumes the thread; errors are fatal.
	ActionContinue
	// ActionTryContinue resumes the thread; errors are swallowed (thread may be gone).
	ActionTryContinue
	// ActionStep single-steps the thread; errors are fatal.
	ActionStep
	// ActionDetach relinquishes control of the thread; errors are fatal.
	ActionDetach
)

// ProcessInfo names the next tracer action's target thread and an
// optional signal to re-inject.
type ProcessInfo struct {
	PID    int
	Signal syscall.Signal // 0 means "no signal"
}

// TracerAction is the next thing to do to a tracee thread.
type TracerAction struct {
	Kind ActionKind
	Info ProcessInfo
}

func continueAction(pid int) TracerAction {
	return TracerAction{Kind: ActionContinue, Info: ProcessInfo{PID: pid}}
}

func tryContinueAction(info ProcessInfo) TracerAction {
	return TracerAction{Kind: ActionTryContinue, Info: info}
}

func stepAction(pid int) TracerAction {
	return TracerAction{Kind: ActionStep, Info: ProcessInfo{PID: pid}}
}

func detachAction(pid int) TracerAction {
	return TracerAction{Kind: ActionDetach, Info: ProcessInfo{PID: pid}}
}

// StateKind enumerates the finite states from spec.md §3.
type StateKind int

const (
	// StateStart waits for the initial stop from the child's self-trace request.
	StateStart StateKind = iota
	// StateInitialise installs breakpoints and issues the first continue.
	StateInitialise
	// StateWaiting means the tracee is running; the supervisor is blocked on notifications.
	StateWaiting
	// StateStopped means one or more notifications are queued for dispatch.
	StateStopped
	// StateEnd is terminal; ExitCode holds the tracee's exit status.
	StateEnd
)

// TestState is the small state tag the state machine moves through.
// It is deliberately kept separate from LinuxData (the heavy mutable
// object) per spec.md §9's design note.
type TestState struct {
	Kind     StateKind
	ExitCode int
}

// IsTerminal reports whether no further Step calls should be made.
func (s TestState) IsTerminal() bool {
	return s.Kind == StateEnd
}

func startState() TestState       { return TestState{Kind: StateStart} }
func initialiseState() TestState  { return TestState{Kind: StateInitialise} }
func waitingState() TestState     { return TestState{Kind: StateWaiting} }
func stoppedState() TestState     { return TestState{Kind: StateStopped} }
func endState(code int) TestState { return TestState{Kind: StateEnd, ExitCode: code} }
