package common

import (
	"syscall"

	"github.com/sirupsen/logrus"
)

// LinuxData is the heavy mutable object step() operates on. Kept
// separate from TestState deliberately (spec.md §9): the state is a
// small tag, the data is everything a run accumulates. Grounded on
// original_source/src/statemachine/linux.rs's LinuxData.
type LinuxData struct {
	Backend Backend
	Log     *logrus.Logger

	Parent  int
	Current int

	ThreadCount int
	ReArm       bool

	Breakpoints map[uintptr]*Breakpoint
	Traces      map[uintptr]*Trace

	Timeline *EventLog

	waitQueue []WaitNotification
}

// NewLinuxData builds the run's mutable state. traces is the
// caller-supplied address→count table created once per configured
// address before launch (spec.md §3).
func NewLinuxData(backend Backend, log *logrus.Logger, parentPID int, traces []*Trace, reArm bool) *LinuxData {
	traceMap := make(map[uintptr]*Trace, len(traces))
	for _, t := range traces {
		traceMap[t.Address] = t
	}
	return &LinuxData{
		Backend:     backend,
		Log:         log,
		Parent:      parentPID,
		Current:     parentPID,
		Breakpoints: make(map[uintptr]*Breakpoint),
		Traces:      traceMap,
		Timeline:    NewEventLog(),
		ReArm:       reArm,
	}
}

// Create is C4's create(): the initial state and a fresh LinuxData,
// per spec.md §4.4.
func Create(backend Backend, log *logrus.Logger, parentPID int, traces []*Trace, reArm bool) (TestState, *LinuxData) {
	return startState(), NewLinuxData(backend, log, parentPID, traces, reArm)
}

// Step is C4's step(): a single transition. The caller loops until
// next.IsTerminal(). config is the set of addresses to arm in
// Initialise.
func (d *LinuxData) Step(state TestState, config []uintptr) (TestState, error) {
	switch state.Kind {
	case StateStart:
		return d.stepStart()
	case StateInitialise:
		return d.stepInitialise(config)
	case StateWaiting:
		return d.stepWaiting()
	case StateStopped:
		return d.stepStopped()
	default:
		return state, NewStateMachineError("step called on terminal state %v", state.Kind)
	}
}

func (d *LinuxData) stepStart() (TestState, error) {
	note, err := d.Backend.WaitPID(d.Current)
	if err != nil {
		return startState(), Error(err)
	}

	switch note.Kind {
	case NotifyStillAlive:
		return startState(), nil
	case NotifyStopped:
		if note.Signal == syscall.SIGTRAP {
			d.Current = note.PID
			return initialiseState(), nil
		}
		return startState(), NewStateMachineError("unreachable transition in Start: Stopped(%v)", note.Signal)
	default:
		return startState(), NewStateMachineError("unreachable transition in Start: %v", note.Kind)
	}
}

func (d *LinuxData) stepInitialise(config []uintptr) (TestState, error) {
	if err := d.Backend.SetOptions(d.Current, TraceOptions); err != nil {
		return initialiseState(), NewStateMachineError("set_options failed: %v", err)
	}

	for _, addr := range config {
		if _, exists := d.Breakpoints[addr]; exists {
			continue
		}
		bp, err := NewBreakpoint(d.Backend, d.Current, addr)
		if err != nil {
			return initialiseState(), Error(err)
		}
		d.Breakpoints[addr] = bp
	}

	if err := d.Backend.Continue(d.Parent, 0); err != nil {
		return initialiseState(), NewStateMachineError("initial continue failed: %v", err)
	}

	return waitingState(), nil
}

func (d *LinuxData) stepWaiting() (TestState, error) {
	for {
		note, err := d.Backend.WaitAny()
		if err != nil {
			return waitingState(), Error(err)
		}
		if note.Kind == NotifyStillAlive {
			if len(d.waitQueue) > 0 {
				return stoppedState(), nil
			}
			return waitingState(), nil
		}
		d.waitQueue = append(d.waitQueue, note)
	}
}

// visitedPCs is local to one Stopped→Waiting drain (spec.md §4.4.1),
// so it lives on the stack of stepStopped rather than on LinuxData.
func (d *LinuxData) stepStopped() (TestState, error) {
	queue := d.waitQueue
	d.waitQueue = nil
	visitedPCs := make(map[uintptr]bool)

	var actions []TracerAction
	var final TestState = waitingState()

	for _, note := range queue {
		next, action, err := d.processNotification(note, visitedPCs)
		if err != nil {
			return next, err
		}
		if next.Kind != StateWaiting {
			final = next
		}
		if action.Kind != ActionNothing {
			actions = append(actions, action)
		}
	}

	if len(actions) == 0 {
		// Best-effort continue the parent so the tracee is never left frozen.
		_ = d.Backend.Continue(d.Parent, 0)
		return final, nil
	}

	for _, action := range actions {
		if err := d.applyAction(action); err != nil {
			return final, err
		}
	}

	return final, nil
}

func (d *LinuxData) applyAction(action TracerAction) error {
	switch action.Kind {
	case ActionContinue:
		if err := d.Backend.Continue(action.Info.PID, action.Info.Signal); err != nil {
			return NewTraceRuntimeError("continue %d failed: %v", action.Info.PID, err)
		}
	case ActionTryContinue:
		if err := d.Backend.Continue(action.Info.PID, action.Info.Signal); err != nil && !IsESRCH(err) {
			return nil
		}
	case ActionStep:
		if err := d.Backend.SingleStep(action.Info.PID, action.Info.Signal); err != nil {
			return NewTraceRuntimeError("single-step %d failed: %v", action.Info.PID, err)
		}
	case ActionDetach:
		if err := d.Backend.Detach(action.Info.PID); err != nil {
			return NewTraceRuntimeError("detach %d failed: %v", action.Info.PID, err)
		}
	}
	return nil
}

func (d *LinuxData) processNotification(note WaitNotification, visitedPCs map[uintptr]bool) (TestState, TracerAction, error) {
	switch note.Kind {
	case NotifyPtraceEvent:
		return d.processPtraceEvent(note)
	case NotifyStopped:
		return d.processStopped(note, visitedPCs)
	case NotifySignaled:
		if note.Signal == syscall.SIGTRAP && note.CoreDumped {
			return waitingState(), continueAction(note.PID), nil
		}
		return waitingState(), TracerAction{}, NewTraceRuntimeError("thread %d killed by signal %v", note.PID, note.Signal)
	case NotifyExited:
		for _, bp := range d.Breakpoints {
			if note.PID != d.Parent {
				bp.ThreadKilled(note.PID)
			}
		}
		if note.PID == d.Parent {
			return endState(note.ExitCode), TracerAction{}, nil
		}
		return waitingState(), tryContinueAction(ProcessInfo{PID: d.Parent}), nil
	default:
		return waitingState(), TracerAction{}, NewStateMachineError("unreachable notification kind %v", note.Kind)
	}
}

func (d *LinuxData) processPtraceEvent(note WaitNotification) (TestState, TracerAction, error) {
	if note.Signal != syscall.SIGTRAP {
		return waitingState(), TracerAction{}, NewTraceRuntimeError("ptrace event with non-SIGTRAP signal %v", note.Signal)
	}

	switch note.Code {
	case EventClone:
		child, err := d.Backend.GetEventMsg(note.PID)
		if err != nil {
			return waitingState(), TracerAction{}, NewTraceRuntimeError("get_event_msg failed: %v", err)
		}
		d.ThreadCount++
		d.Timeline.Add(NewTraceEvent(note.PID, "new thread").WithChild(int(child)))
		d.Log.WithFields(logrus.Fields{"parent": note.PID, "child": child}).Info("new thread")
		return waitingState(), continueAction(note.PID), nil

	case EventFork, EventVfork:
		d.Timeline.Add(NewTraceEvent(note.PID, "fork/vfork"))
		d.Log.WithField("pid", note.PID).Info("fork/vfork")
		return waitingState(), continueAction(note.PID), nil

	case EventExec:
		d.Timeline.Add(NewTraceEvent(note.PID, "exec: abandoning trace"))
		d.Log.WithField("pid", note.PID).Info("exec: abandoning trace")
		return waitingState(), detachAction(note.PID), nil

	case EventExit:
		d.ThreadCount--
		d.Timeline.Add(NewTraceEvent(note.PID, "thread exit event"))
		return waitingState(), tryContinueAction(ProcessInfo{PID: note.PID}), nil

	default:
		return waitingState(), TracerAction{}, NewTraceRuntimeError("unrecognised ptrace event code %d", note.Code)
	}
}

func (d *LinuxData) processStopped(note WaitNotification, visitedPCs map[uintptr]bool) (TestState, TracerAction, error) {
	switch note.Signal {
	case syscall.SIGTRAP:
		d.Current = note.PID

		if bp := d.pendingBreakpoint(note.PID); bp != nil {
			if err := bp.Rearm(note.PID); err != nil {
				return waitingState(), TracerAction{}, Error(err)
			}
			return waitingState(), continueAction(note.PID), nil
		}

		action, err := d.collectCoverage(note.PID, visitedPCs)
		if err != nil {
			return waitingState(), action, err
		}
		return waitingState(), action, nil

	case syscall.SIGSTOP:
		return waitingState(), continueAction(note.PID), nil

	case syscall.SIGSEGV:
		d.Timeline.Add(NewTraceEvent(note.PID, "segfault"))
		d.Log.WithField("pid", note.PID).Error("segfault")
		return waitingState(), TracerAction{}, NewTraceRuntimeError("segfault in pid %d", note.PID)

	case syscall.SIGILL:
		pc, _ := d.Backend.PC(note.PID)
		d.Timeline.Add(NewTraceEvent(note.PID, "illegal instruction").WithAddress(pc))
		d.Log.WithFields(logrus.Fields{"pid": note.PID, "pc": pc}).Error("illegal instruction")
		return waitingState(), TracerAction{}, NewTraceRuntimeError("illegal instruction in pid %d at %#x", note.PID, pc)

	default:
		return waitingState(), tryContinueAction(ProcessInfo{PID: note.PID, Signal: note.Signal}), nil
	}
}

// pendingBreakpoint returns the breakpoint, if any, that pid is
// currently stepping over, so the next SIGTRAP stop for pid can be
// recognised as a step-over completion rather than a fresh hit.
func (d *LinuxData) pendingBreakpoint(pid int) *Breakpoint {
	for _, bp := range d.Breakpoints {
		if bp.IsPending(pid) {
			return bp
		}
	}
	return nil
}

// collectCoverage is C4's §4.4.1 coverage collector.
func (d *LinuxData) collectCoverage(pid int, visitedPCs map[uintptr]bool) (TracerAction, error) {
	pc, err := d.Backend.PC(pid)
	if err != nil {
		return continueAction(pid), NewTraceRuntimeError("read pc of %d failed: %v", pid, err)
	}
	pc--

	bp, ok := d.Breakpoints[pc]
	if !ok {
		return continueAction(pid), nil
	}

	if visitedPCs[pc] {
		if err := bp.JumpTo(pid); err != nil {
			return continueAction(pid), nil
		}
		return continueAction(pid), nil
	}

	visitedPCs[pc] = true

	hit, action, err := bp.Process(pid, d.ReArm)
	if err != nil {
		return continueAction(pid), nil
	}
	if hit {
		if t, ok := d.Traces[pc]; ok {
			t.Count++
		}
		d.Timeline.Add(NewTraceEvent(pid, "breakpoint hit").WithAddress(pc))
	}
	return action, nil
}
