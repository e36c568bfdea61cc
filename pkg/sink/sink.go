// Package sink persists encoded trace records. The tracer only depends on
// the Sink interface; the Pebble-backed Store is the shipped implementation.
package sink

import (
	"errors"

	"github.com/saworbit/tracekeeper/pkg/trace"
)

// ErrClosed is returned when writing to a sink that has been closed.
var ErrClosed = errors.New("trace sink is closed")

// Sink is an append-only, kind-tagged binary record stream. Records are
// fixed-size per kind, so readers select the decode from the kind alone.
type Sink interface {
	// Write appends one encoded record tagged with the originating
	// execution context id.
	Write(stateID uint32, kind trace.Kind, record []byte) error
}
