package trace

// Operand is a possibly-symbolic 64-bit quantity delivered by the execution
// engine. Symbolic operands carry no usable numeric value.
type Operand struct {
	Value    uint64
	Symbolic bool
}

// Concrete wraps a fully determined value.
func Concrete(v uint64) Operand {
	return Operand{Value: v}
}

// Symbolic marks an operand whose value is not a single concrete number.
func Symbolic() Operand {
	return Operand{Symbolic: true}
}

// Event is the tagged union over the three raw event shapes. It lives for a
// single callback invocation and is immediately converted to a fixed-layout
// record; it is never persisted as-is.
type Event struct {
	Kind    Kind
	Address Operand
	Value   Operand
	Write   bool
	IO      bool
}

// MemoryEvent builds a data-memory-access event.
func MemoryEvent(address, value Operand, write, io bool) Event {
	return Event{Kind: KindMemory, Address: address, Value: value, Write: write, IO: io}
}

// TLBMissEvent builds a TLB-miss event. Miss addresses are always concrete.
func TLBMissEvent(address uint64, write bool) Event {
	return Event{Kind: KindTLBMiss, Address: Concrete(address), Write: write}
}

// PageFaultEvent builds a page-fault event.
func PageFaultEvent(address uint64, write bool) Event {
	return Event{Kind: KindPageFault, Address: Concrete(address), Write: write}
}

// Encode converts the event into its fixed-layout record bytes, stamped with
// the program counter of the originating context. The second return is false
// when the event cannot be encoded (symbolic operands on a memory event).
func (e Event) Encode(pc uint64) ([]byte, bool) {
	switch e.Kind {
	case KindMemory:
		if e.Address.Symbolic || e.Value.Symbolic {
			return nil, false
		}
		var flags uint8
		if e.Write {
			flags |= FlagWrite
		}
		if e.IO {
			flags |= FlagIO
		}
		rec := MemoryRecord{
			PC:      pc,
			Address: e.Address.Value,
			Value:   e.Value.Value,
			Size:    MinBytes(e.Value.Value),
			Flags:   flags,
		}
		return rec.Encode(), true
	case KindTLBMiss:
		return TLBMissRecord{PC: pc, Address: e.Address.Value, Write: e.Write}.Encode(), true
	case KindPageFault:
		return PageFaultRecord{PC: pc, Address: e.Address.Value, Write: e.Write}.Encode(), true
	default:
		return nil, false
	}
}
