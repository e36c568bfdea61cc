package engine

import "github.com/saworbit/tracekeeper/pkg/trace"

// Bus is a minimal synchronous Source. Callbacks run on the goroutine that
// raises the event, in connection order. It exists for tests and for replay
// tooling; a real emulator supplies its own Source.
type Bus struct {
	memory    []MemoryAccessFunc
	tlbMiss   []FaultFunc
	pageFault []FaultFunc
	timer     []TickFunc
}

// NewBus returns an empty bus with no subscribers.
func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) ConnectMemoryAccess(fn MemoryAccessFunc) Unsubscribe {
	i := len(b.memory)
	b.memory = append(b.memory, fn)
	return func() { b.memory[i] = nil }
}

func (b *Bus) ConnectTLBMiss(fn FaultFunc) Unsubscribe {
	i := len(b.tlbMiss)
	b.tlbMiss = append(b.tlbMiss, fn)
	return func() { b.tlbMiss[i] = nil }
}

func (b *Bus) ConnectPageFault(fn FaultFunc) Unsubscribe {
	i := len(b.pageFault)
	b.pageFault = append(b.pageFault, fn)
	return func() { b.pageFault[i] = nil }
}

func (b *Bus) ConnectTimer(fn TickFunc) Unsubscribe {
	i := len(b.timer)
	b.timer = append(b.timer, fn)
	return func() { b.timer[i] = nil }
}

// RaiseMemoryAccess delivers a memory access to all connected callbacks.
func (b *Bus) RaiseMemoryAccess(ctx Context, address, hostAddress, value trace.Operand, isWrite, isIO bool) {
	for _, fn := range b.memory {
		if fn != nil {
			fn(ctx, address, hostAddress, value, isWrite, isIO)
		}
	}
}

// RaiseTLBMiss delivers a TLB miss.
func (b *Bus) RaiseTLBMiss(ctx Context, address uint64, isWrite bool) {
	for _, fn := range b.tlbMiss {
		if fn != nil {
			fn(ctx, address, isWrite)
		}
	}
}

// RaisePageFault delivers a page fault.
func (b *Bus) RaisePageFault(ctx Context, address uint64, isWrite bool) {
	for _, fn := range b.pageFault {
		if fn != nil {
			fn(ctx, address, isWrite)
		}
	}
}

// Tick delivers one timer tick.
func (b *Bus) Tick() {
	for _, fn := range b.timer {
		if fn != nil {
			fn()
		}
	}
}

// StaticContext is a fixed-value Context for tests and replayed event streams.
type StaticContext struct {
	StateID uint32
	PC      uint64
	SP      uint64
}

func (c StaticContext) ID() uint32             { return c.StateID }
func (c StaticContext) ProgramCounter() uint64 { return c.PC }
func (c StaticContext) StackPointer() uint64   { return c.SP }
