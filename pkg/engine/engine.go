// Package engine declares the interfaces the tracing core consumes from the
// execution engine that drives the monitored program. The engine itself is
// an external collaborator; this package also ships a small synchronous Bus
// so pipelines can be assembled without a live emulator.
package engine

import "github.com/saworbit/tracekeeper/pkg/trace"

// Context exposes per-thread-of-control state at query time. Contexts are
// referenced for the duration of a callback only, never stored.
type Context interface {
	// ID identifies the monitored thread of control for sink tagging.
	ID() uint32
	ProgramCounter() uint64
	StackPointer() uint64
}

// MemoryAccessFunc receives one data memory access. Address and value may be
// symbolic; hostAddress is the engine-internal backing address.
type MemoryAccessFunc func(ctx Context, address, hostAddress, value trace.Operand, isWrite, isIO bool)

// FaultFunc receives one TLB miss or page fault.
type FaultFunc func(ctx Context, address uint64, isWrite bool)

// TickFunc receives one periodic timer tick.
type TickFunc func()

// Unsubscribe detaches a previously connected callback. Safe to call once.
type Unsubscribe func()

// Source is the engine's event subscription surface. Delivery is
// single-threaded, synchronous and in-order; callbacks must not block.
type Source interface {
	ConnectMemoryAccess(fn MemoryAccessFunc) Unsubscribe
	ConnectTLBMiss(fn FaultFunc) Unsubscribe
	ConnectPageFault(fn FaultFunc) Unsubscribe
	ConnectTimer(fn TickFunc) Unsubscribe
}
