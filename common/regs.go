package common

import "syscall"

// Regs is the tracee's general purpose register set. We operate on
// syscall.PtraceRegs directly instead of flattening it through
// reflection (as the teacher's original common/regs.go did) — the
// only fields the state machine ever touches are the program counter
// and, during step-over, nothing else, so there's no value in a
// generic register map here.
type Regs = syscall.PtraceRegs
