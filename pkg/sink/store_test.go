package sink

import (
	"testing"

	"github.com/cockroachdb/pebble"

	"github.com/saworbit/tracekeeper/pkg/trace"
)

func openTestDB(t *testing.T) *pebble.DB {
	t.Helper()
	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreWriteAndScan(t *testing.T) {
	db := openTestDB(t)

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	mem := trace.MemoryRecord{PC: 0x401000, Address: 0x2000, Value: 0x42, Size: 1, Flags: trace.FlagWrite}
	tlb := trace.TLBMissRecord{PC: 0x401004, Address: 0x3000, Write: false}
	pf := trace.PageFaultRecord{PC: 0x401008, Address: 0x4000, Write: true}

	if err := store.Write(7, trace.KindMemory, mem.Encode()); err != nil {
		t.Fatalf("write memory: %v", err)
	}
	if err := store.Write(7, trace.KindTLBMiss, tlb.Encode()); err != nil {
		t.Fatalf("write tlbmiss: %v", err)
	}
	if err := store.Write(9, trace.KindPageFault, pf.Encode()); err != nil {
		t.Fatalf("write pagefault: %v", err)
	}

	if store.Len() != 3 {
		t.Errorf("Len = %d, want 3", store.Len())
	}

	var recs []Record
	if err := store.Scan(func(rec Record) error {
		recs = append(recs, rec)
		return nil
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(recs) != 3 {
		t.Fatalf("scanned %d records, want 3", len(recs))
	}

	for i, rec := range recs {
		if rec.Seq != uint64(i) {
			t.Errorf("record %d has seq %d", i, rec.Seq)
		}
	}

	if recs[0].Kind != trace.KindMemory || recs[0].StateID != 7 {
		t.Errorf("record 0 = %+v", recs[0])
	}
	decoded, err := trace.DecodeMemory(recs[0].Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != mem {
		t.Errorf("memory record = %+v, want %+v", decoded, mem)
	}

	if recs[2].Kind != trace.KindPageFault || recs[2].StateID != 9 {
		t.Errorf("record 2 = %+v", recs[2])
	}
}

func TestStoreRejectsMalformedRecords(t *testing.T) {
	db := openTestDB(t)

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.Write(1, trace.KindMemory, make([]byte, 5)); err == nil {
		t.Error("expected error for wrong record size")
	}
	if err := store.Write(1, trace.KindInvalid, nil); err == nil {
		t.Error("expected error for invalid kind")
	}
	if store.Len() != 0 {
		t.Errorf("malformed writes must not advance the sequence, Len = %d", store.Len())
	}
}

func TestStoreResumesSequence(t *testing.T) {
	db := openTestDB(t)

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	rec := trace.PageFaultRecord{PC: 1, Address: 2, Write: true}
	for i := 0; i < 4; i++ {
		if err := store.Write(1, trace.KindPageFault, rec.Encode()); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	reopened, err := NewStore(db)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	if reopened.Len() != 4 {
		t.Errorf("resumed sequence = %d, want 4", reopened.Len())
	}

	if err := reopened.Write(1, trace.KindPageFault, rec.Encode()); err != nil {
		t.Fatalf("write after reopen: %v", err)
	}

	var count int
	if err := reopened.Scan(func(Record) error { count++; return nil }); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 5 {
		t.Errorf("record count after reopen = %d, want 5", count)
	}
}

func TestStoreClose(t *testing.T) {
	db := openTestDB(t)

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rec := trace.PageFaultRecord{PC: 1, Address: 2}
	if err := store.Write(1, trace.KindPageFault, rec.Encode()); err != ErrClosed {
		t.Errorf("write after close = %v, want ErrClosed", err)
	}
}
