package tracer

import (
	"testing"

	"github.com/saworbit/tracekeeper/pkg/config"
)

func TestFilterAddressFloor(t *testing.T) {
	for _, monitorStack := range []bool{false, true} {
		f := NewFilter(config.TracerConfig{
			CatchAccessesAbove: 0x1000,
			MonitorStack:       monitorStack,
		})

		for _, addr := range []uint64{0, 1, 0x800, 0xfff} {
			if f.Accept(addr, addr) {
				t.Errorf("addr 0x%x below floor accepted (monitorStack=%t)", addr, monitorStack)
			}
		}
	}
}

func TestFilterStackRegion(t *testing.T) {
	f := NewFilter(config.TracerConfig{MonitorStack: true})

	cases := []struct {
		addr, sp uint64
		want     bool
	}{
		{0x0, 0x0, true},
		{0x0, 0x1fff, true},      // same 8 KiB region
		{0x1fff, 0x0, true},      // last byte of the region
		{0x2000, 0x1fff, false},  // first byte of the next region
		{0x2000, 0x2000, true},   // exactly at a region edge
		{0x3fff, 0x2000, true},   // last byte of the second region
		{0x4000, 0x2000, false},  // one region apart
		{0x7f001000, 0x0, false}, // far apart
		{0x7f003234, 0x7f0001ff, false},
		{0x7f000123, 0x7f0001ff, true},
	}

	for _, tc := range cases {
		// The contract: accepted iff both fall in the same masked region.
		want := tc.addr&^uint64(0x1fff) == tc.sp&^uint64(0x1fff)
		if want != tc.want {
			t.Fatalf("test case inconsistent for addr=0x%x sp=0x%x", tc.addr, tc.sp)
		}
		if got := f.Accept(tc.addr, tc.sp); got != want {
			t.Errorf("Accept(0x%x, 0x%x) = %t, want %t", tc.addr, tc.sp, got, want)
		}
	}
}

func TestFilterAcceptsByDefault(t *testing.T) {
	f := NewFilter(config.TracerConfig{})
	if !f.Accept(0xdeadbeef, 0x0) {
		t.Error("filter without floor or stack rule must accept")
	}
}
