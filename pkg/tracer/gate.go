// Package tracer implements the selective trace recorder: an activation gate
// with a tick-counted startup delay, a cheap per-event filter, and the glue
// that turns accepted engine events into fixed-layout records for the sink.
package tracer

// Gate decides whether monitoring is active yet. It starts pending when a
// tick trigger is configured and transitions to active exactly once; the
// transition is monotonic.
type Gate struct {
	trigger uint64
	elapsed uint64
	active  bool
}

// NewGate builds a gate delayed by trigger ticks. A zero trigger starts the
// gate active.
func NewGate(trigger uint64) *Gate {
	return &Gate{trigger: trigger, active: trigger == 0}
}

// Active reports whether the gate has fired.
func (g *Gate) Active() bool {
	return g.active
}

// Tick advances the pending counter and returns true exactly once, on the
// tick that transitions the gate to active. Ticks after activation are no-ops.
func (g *Gate) Tick() bool {
	if g.active {
		return false
	}
	if g.elapsed < g.trigger {
		g.elapsed++
		return false
	}
	g.active = true
	return true
}
