package tracer

import (
	"fmt"
	"log"

	"github.com/saworbit/tracekeeper/internal/metrics"
	"github.com/saworbit/tracekeeper/pkg/config"
	"github.com/saworbit/tracekeeper/pkg/engine"
	"github.com/saworbit/tracekeeper/pkg/sink"
	"github.com/saworbit/tracekeeper/pkg/trace"
)

// Tracer converts accepted engine events into fixed-layout trace records and
// forwards them to the sink. It holds no mutable trace state of its own; its
// only side effect is sink writes.
//
// All callbacks run synchronously on the goroutine driving the monitored
// execution.
type Tracer struct {
	cfg    config.TracerConfig
	filter Filter
	gate   *Gate
	out    sink.Sink
	logger *log.Logger

	timerOff engine.Unsubscribe
	eventOff []engine.Unsubscribe
}

// New builds a tracer. A missing sink is a configuration error and is
// rejected once here, never checked on the hot path.
func New(cfg config.TracerConfig, out sink.Sink, logger *log.Logger) (*Tracer, error) {
	if out == nil {
		return nil, fmt.Errorf("tracer requires a sink")
	}
	if logger == nil {
		logger = log.Default()
	}

	t := &Tracer{
		cfg:    cfg,
		filter: NewFilter(cfg),
		gate:   NewGate(cfg.TimeTriggerTicks),
		out:    out,
		logger: logger,
	}

	metrics.SetTracerActive(t.gate.Active())
	return t, nil
}

// Active reports whether the activation gate has fired.
func (t *Tracer) Active() bool {
	return t.gate.Active()
}

// Attach wires the tracer to the engine's subscription points. With an
// immediate gate the event callbacks are connected right away; otherwise only
// the timer is connected, so the monitored execution pays nothing per event
// until the gate fires.
func (t *Tracer) Attach(src engine.Source) {
	if t.gate.Active() {
		t.enableTracing(src)
		return
	}

	t.timerOff = src.ConnectTimer(func() {
		if t.gate.Tick() {
			t.enableTracing(src)
			if t.timerOff != nil {
				t.timerOff()
				t.timerOff = nil
			}
		}
	})
}

// Detach disconnects every callback the tracer registered.
func (t *Tracer) Detach() {
	if t.timerOff != nil {
		t.timerOff()
		t.timerOff = nil
	}
	for _, off := range t.eventOff {
		off()
	}
	t.eventOff = nil
}

func (t *Tracer) enableTracing(src engine.Source) {
	if t.cfg.MonitorMemory {
		t.logger.Printf("[tracer] enabling memory tracing")
		t.eventOff = append(t.eventOff, src.ConnectMemoryAccess(t.OnMemoryAccess))
	}
	if t.cfg.MonitorPageFaults {
		t.logger.Printf("[tracer] enabling page fault tracing")
		t.eventOff = append(t.eventOff, src.ConnectPageFault(t.OnPageFault))
	}
	if t.cfg.MonitorTlbMisses {
		t.logger.Printf("[tracer] enabling TLB miss tracing")
		t.eventOff = append(t.eventOff, src.ConnectTLBMiss(t.OnTLBMiss))
	}
	metrics.SetTracerActive(true)
}

// OnMemoryAccess handles one data memory access. Events carrying symbolic
// addresses or values are dropped: the record layout only stores concrete
// 64-bit quantities.
func (t *Tracer) OnMemoryAccess(ctx engine.Context, address, hostAddress, value trace.Operand, isWrite, isIO bool) {
	_ = hostAddress

	if address.Symbolic || value.Symbolic {
		metrics.ObserveEvent("memory", "symbolic")
		return
	}

	if !t.filter.Accept(address.Value, ctx.StackPointer()) {
		metrics.ObserveEvent("memory", "filtered")
		return
	}

	ev := trace.MemoryEvent(address, value, isWrite, isIO)
	t.emit(ctx, ev)
}

// OnTLBMiss handles one TLB miss. Misses are rare and always interesting, so
// no address or stack filtering applies.
func (t *Tracer) OnTLBMiss(ctx engine.Context, address uint64, isWrite bool) {
	t.emit(ctx, trace.TLBMissEvent(address, isWrite))
}

// OnPageFault handles one page fault, unconditionally like TLB misses.
func (t *Tracer) OnPageFault(ctx engine.Context, address uint64, isWrite bool) {
	t.emit(ctx, trace.PageFaultEvent(address, isWrite))
}

func (t *Tracer) emit(ctx engine.Context, ev trace.Event) {
	rec, ok := ev.Encode(ctx.ProgramCounter())
	if !ok {
		metrics.ObserveEvent(ev.Kind.String(), "symbolic")
		return
	}

	if err := t.out.Write(ctx.ID(), ev.Kind, rec); err != nil {
		metrics.ObserveEvent(ev.Kind.String(), "error")
		t.logger.Printf("[tracer] sink write failed: %v", err)
		return
	}

	metrics.ObserveEvent(ev.Kind.String(), "recorded")
	metrics.ObserveRecordBytes(len(rec))
}
