package common

import (
	"sync"
	"syscall"
)

// fakeBackend is the in-memory Backend the design notes call for: a
// scripted sequence of WaitNotifications plus a byte-addressable fake
// text segment, so statemachine_test.go and breakpoint_test.go can
// exercise every transition without a real kernel or tracee.
type fakeBackend struct {
	mu sync.Mutex

	text map[uintptr][]byte // fake tracee text segment, keyed by address
	regs map[int]Regs
	evt  map[int]uint64

	notifications []WaitNotification // drained in order by WaitAny/WaitPID
	unreachable   map[uintptr]bool    // addresses that fail PeekData/PokeData with EIO

	continued []ProcessInfo
	stepped   []ProcessInfo
	detached  []int
	options   map[int]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		text:        make(map[uintptr][]byte),
		regs:        make(map[int]Regs),
		evt:         make(map[int]uint64),
		unreachable: make(map[uintptr]bool),
		options:     make(map[int]int),
	}
}

func (b *fakeBackend) setText(addr uintptr, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.text[addr] = cp
}

func (b *fakeBackend) setUnreachable(addr uintptr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unreachable[addr] = true
}

func (b *fakeBackend) setRegs(pid int, r Regs) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[pid] = r
}

func (b *fakeBackend) setEventMsg(pid int, msg uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evt[pid] = msg
}

func (b *fakeBackend) push(n WaitNotification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, n)
}

func (b *fakeBackend) SetOptions(pid int, flags int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.options[pid] = flags
	return nil
}

func (b *fakeBackend) Continue(pid int, sig syscall.Signal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.continued = append(b.continued, ProcessInfo{PID: pid, Signal: sig})
	return nil
}

func (b *fakeBackend) SingleStep(pid int, sig syscall.Signal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stepped = append(b.stepped, ProcessInfo{PID: pid, Signal: sig})
	return nil
}

func (b *fakeBackend) Detach(pid int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detached = append(b.detached, pid)
	return nil
}

func (b *fakeBackend) PeekData(pid int, addr uintptr, out []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unreachable[addr] {
		return Error(syscall.EIO)
	}
	data, ok := b.text[addr]
	if !ok {
		return Error(syscall.EIO)
	}
	copy(out, data)
	return nil
}

func (b *fakeBackend) PokeData(pid int, addr uintptr, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unreachable[addr] {
		return Error(syscall.EIO)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.text[addr] = cp
	return nil
}

func (b *fakeBackend) GetRegs(pid int) (Regs, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[pid], nil
}

func (b *fakeBackend) SetRegs(pid int, regs Regs) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[pid] = regs
	return nil
}

func (b *fakeBackend) GetEventMsg(pid int) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evt[pid], nil
}

func (b *fakeBackend) PC(pid int) (uintptr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uintptr(b.regs[pid].Rip), nil
}

func (b *fakeBackend) SetPC(pid int, pc uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.regs[pid]
	r.Rip = uint64(pc)
	b.regs[pid] = r
	return nil
}

func (b *fakeBackend) WaitPID(pid int) (WaitNotification, error) {
	return b.pop(func(n WaitNotification) bool { return n.PID == pid })
}

func (b *fakeBackend) WaitAny() (WaitNotification, error) {
	return b.pop(func(WaitNotification) bool { return true })
}

func (b *fakeBackend) pop(match func(WaitNotification) bool) (WaitNotification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, n := range b.notifications {
		if match(n) {
			b.notifications = append(b.notifications[:i], b.notifications[i+1:]...)
			return n, nil
		}
	}
	return WaitNotification{Kind: NotifyStillAlive}, nil
}

var _ Backend = (*fakeBackend)(nil)
