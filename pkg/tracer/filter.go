package tracer

import "github.com/saworbit/tracekeeper/pkg/config"

// stackRegionMask selects the 8 KiB-aligned region an address falls in. The
// stack is assumed to be 8 KiB and 8 KiB-aligned; this approximates "same
// stack frame page" without tracking exact stack bounds.
const stackRegionMask = ^uint64(0x1FFF)

// Filter is the per-event accept predicate. Inputs are assumed concrete;
// symbolic operands are dropped upstream by the tracer.
type Filter struct {
	monitorStack bool
	floor        uint64
}

// NewFilter derives the predicate from an immutable tracer configuration.
func NewFilter(cfg config.TracerConfig) Filter {
	return Filter{
		monitorStack: cfg.MonitorStack,
		floor:        cfg.CatchAccessesAbove,
	}
}

// Accept decides whether an access at addr, issued while the stack pointer
// was sp, is interesting enough to record. The address floor is evaluated
// first for early exit on the hot path.
func (f Filter) Accept(addr, sp uint64) bool {
	if addr < f.floor {
		return false
	}

	if f.monitorStack {
		return addr&stackRegionMask == sp&stackRegionMask
	}

	return true
}
