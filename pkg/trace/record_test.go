package trace

import "testing"

func TestRecordSizesAreFixed(t *testing.T) {
	mem := MemoryRecord{PC: 1, Address: 2, Value: 3, Size: 4, Flags: 5}
	if got := len(mem.Encode()); got != MemoryRecordSize {
		t.Errorf("memory record encoded to %d bytes, want %d", got, MemoryRecordSize)
	}

	tlb := TLBMissRecord{PC: 1, Address: 2, Write: true}
	if got := len(tlb.Encode()); got != TLBMissRecordSize {
		t.Errorf("tlbmiss record encoded to %d bytes, want %d", got, TLBMissRecordSize)
	}

	pf := PageFaultRecord{PC: 1, Address: 2}
	if got := len(pf.Encode()); got != PageFaultRecordSize {
		t.Errorf("pagefault record encoded to %d bytes, want %d", got, PageFaultRecordSize)
	}

	if KindMemory.Size() != MemoryRecordSize || KindTLBMiss.Size() != TLBMissRecordSize || KindPageFault.Size() != PageFaultRecordSize {
		t.Error("Kind.Size does not match record constants")
	}
	if KindInvalid.Size() != 0 {
		t.Errorf("invalid kind should have size 0, got %d", KindInvalid.Size())
	}
}

func TestMemoryRecordRoundTrip(t *testing.T) {
	rec := MemoryRecord{
		PC:      0xdeadbeef00,
		Address: 0x2000,
		Value:   0x42,
		Size:    1,
		Flags:   FlagWrite,
	}

	decoded, err := DecodeMemory(rec.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded != rec {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, rec)
	}

	if _, err := DecodeMemory(make([]byte, MemoryRecordSize-1)); err == nil {
		t.Error("expected error decoding short memory record")
	}
}

func TestFaultRecordRoundTrip(t *testing.T) {
	tlb := TLBMissRecord{PC: 0x401000, Address: 0x7fff0000, Write: true}
	decodedTLB, err := DecodeTLBMiss(tlb.Encode())
	if err != nil {
		t.Fatalf("decode tlbmiss failed: %v", err)
	}
	if decodedTLB != tlb {
		t.Errorf("tlbmiss mismatch: got %+v, want %+v", decodedTLB, tlb)
	}

	pf := PageFaultRecord{PC: 0x401000, Address: 0xffff800000000000, Write: false}
	decodedPF, err := DecodePageFault(pf.Encode())
	if err != nil {
		t.Fatalf("decode pagefault failed: %v", err)
	}
	if decodedPF != pf {
		t.Errorf("pagefault mismatch: got %+v, want %+v", decodedPF, pf)
	}
}

func TestMinBytes(t *testing.T) {
	cases := []struct {
		value uint64
		want  uint8
	}{
		{0, 1},
		{0x42, 1},
		{0xff, 1},
		{0x100, 2},
		{0xffff, 2},
		{0x10000, 3},
		{0xffffffff, 4},
		{0x100000000, 5},
		{0xffffffffffffffff, 8},
	}

	for _, tc := range cases {
		if got := MinBytes(tc.value); got != tc.want {
			t.Errorf("MinBytes(0x%x) = %d, want %d", tc.value, got, tc.want)
		}
	}
}

func TestEventEncodeMemoryFlags(t *testing.T) {
	ev := MemoryEvent(Concrete(0x2000), Concrete(0x42), true, false)
	buf, ok := ev.Encode(0x1234)
	if !ok {
		t.Fatal("concrete memory event failed to encode")
	}

	rec, err := DecodeMemory(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if rec.PC != 0x1234 {
		t.Errorf("pc = 0x%x, want 0x1234", rec.PC)
	}
	if rec.Size != 1 {
		t.Errorf("size = %d, want 1", rec.Size)
	}
	if rec.Flags != FlagWrite {
		t.Errorf("flags = %#b, want %#b", rec.Flags, FlagWrite)
	}
}

func TestEventEncodeRejectsSymbolic(t *testing.T) {
	if _, ok := MemoryEvent(Symbolic(), Concrete(1), false, false).Encode(0); ok {
		t.Error("symbolic address must not encode")
	}
	if _, ok := MemoryEvent(Concrete(1), Symbolic(), false, false).Encode(0); ok {
		t.Error("symbolic value must not encode")
	}
	if _, ok := (Event{}).Encode(0); ok {
		t.Error("zero-kind event must not encode")
	}
}
