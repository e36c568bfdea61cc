package sink

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/saworbit/tracekeeper/pkg/trace"
)

// PrefixRecord is the key prefix under which trace records are stored.
const PrefixRecord = "trace:"

// envelopeHeader is the per-record value header: 1 byte kind + 4 bytes
// little-endian state id, followed by the fixed-size record itself.
const envelopeHeader = 1 + 4

// Store appends trace records to Pebble under sequence-ordered keys.
type Store struct {
	db     *pebble.DB
	seq    uint64
	closed bool
}

// Record is one decoded store entry.
type Record struct {
	Seq     uint64
	StateID uint32
	Kind    trace.Kind
	Payload []byte
}

// NewStore creates a store bound to the provided Pebble instance. The write
// sequence resumes after the highest record already present.
func NewStore(db *pebble.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble database is not initialized")
	}

	s := &Store{db: db}

	iter, err := newRecordIter(db)
	if err != nil {
		return nil, fmt.Errorf("init record iterator: %w", err)
	}
	defer iter.Close()

	if iter.Last() && iter.Valid() {
		seq, err := parseRecordKey(iter.Key())
		if err != nil {
			return nil, err
		}
		s.seq = seq + 1
	}

	return s, nil
}

// Write appends one record. It satisfies the Sink interface.
func (s *Store) Write(stateID uint32, kind trace.Kind, record []byte) error {
	if s.closed {
		return ErrClosed
	}
	if want := kind.Size(); want == 0 || len(record) != want {
		return fmt.Errorf("record size mismatch for %s: want %d bytes, got %d", kind, kind.Size(), len(record))
	}

	key := []byte(fmt.Sprintf("%s%020d", PrefixRecord, s.seq))

	value := make([]byte, envelopeHeader+len(record))
	value[0] = byte(kind)
	binary.LittleEndian.PutUint32(value[1:5], stateID)
	copy(value[envelopeHeader:], record)

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(key, value, pebble.NoSync); err != nil {
		return fmt.Errorf("write trace record: %w", err)
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("commit trace record: %w", err)
	}

	s.seq++
	return nil
}

// Close marks the store closed for writing. The Pebble handle itself is
// owned by the caller.
func (s *Store) Close() error {
	s.closed = true
	return nil
}

// Len reports the next write sequence, i.e. the number of records appended
// across the lifetime of the store directory.
func (s *Store) Len() uint64 {
	return s.seq
}

// Scan invokes fn for every stored record in sequence order. Iteration stops
// at the first error from fn.
func (s *Store) Scan(fn func(rec Record) error) error {
	return ScanDB(s.db, fn)
}

// ScanDB iterates trace records from a raw Pebble handle, so read-only
// tooling can scan without constructing a writable Store.
func ScanDB(db *pebble.DB, fn func(rec Record) error) error {
	iter, err := newRecordIter(db)
	if err != nil {
		return fmt.Errorf("init record iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseRecordKey(iter.Key())
		if err != nil {
			return err
		}

		value := iter.Value()
		if len(value) < envelopeHeader {
			return fmt.Errorf("truncated record envelope at seq %d", seq)
		}

		kind := trace.Kind(value[0])
		payload := append([]byte(nil), value[envelopeHeader:]...)
		if want := kind.Size(); want == 0 || len(payload) != want {
			return fmt.Errorf("corrupt %s record at seq %d: %d payload bytes", kind, seq, len(payload))
		}

		rec := Record{
			Seq:     seq,
			StateID: binary.LittleEndian.Uint32(value[1:5]),
			Kind:    kind,
			Payload: payload,
		}
		if err := fn(rec); err != nil {
			return err
		}
	}

	return iter.Error()
}

func parseRecordKey(key []byte) (uint64, error) {
	raw := strings.TrimPrefix(string(key), PrefixRecord)
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed record key %q: %w", key, err)
	}
	return seq, nil
}

func newRecordIter(db *pebble.DB) (*pebble.Iterator, error) {
	upper := append([]byte(PrefixRecord), 0xff)
	return db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(PrefixRecord),
		UpperBound: upper,
	})
}
