// Package trace defines the fixed-layout binary records written to the
// trace store and the tagged event union the tracer consumes.
package trace

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Kind tags a record so a reader can pick the fixed-size decode without a
// length prefix. Zero is reserved so a zeroed byte never decodes as valid.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindMemory
	KindTLBMiss
	KindPageFault
)

// Record sizes in bytes. Constant per kind so readers can skip and seek.
const (
	MemoryRecordSize    = 8 + 8 + 8 + 1 + 1
	TLBMissRecordSize   = 8 + 8 + 1
	PageFaultRecordSize = 8 + 8 + 1
)

// Memory record flag bits.
const (
	FlagWrite uint8 = 1 << 0
	FlagIO    uint8 = 1 << 1
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindTLBMiss:
		return "tlbmiss"
	case KindPageFault:
		return "pagefault"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Size returns the encoded record size for the kind, or 0 if unknown.
func (k Kind) Size() int {
	switch k {
	case KindMemory:
		return MemoryRecordSize
	case KindTLBMiss:
		return TLBMissRecordSize
	case KindPageFault:
		return PageFaultRecordSize
	default:
		return 0
	}
}

// MemoryRecord describes one accepted data memory access.
type MemoryRecord struct {
	PC      uint64
	Address uint64
	Value   uint64
	Size    uint8
	Flags   uint8
}

// TLBMissRecord describes one TLB miss.
type TLBMissRecord struct {
	PC      uint64
	Address uint64
	Write   bool
}

// PageFaultRecord describes one page fault.
type PageFaultRecord struct {
	PC      uint64
	Address uint64
	Write   bool
}

// Encode serializes the record into its fixed little-endian layout.
func (r MemoryRecord) Encode() []byte {
	buf := make([]byte, MemoryRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.PC)
	binary.LittleEndian.PutUint64(buf[8:16], r.Address)
	binary.LittleEndian.PutUint64(buf[16:24], r.Value)
	buf[24] = r.Size
	buf[25] = r.Flags
	return buf
}

// DecodeMemory parses a memory record from its fixed layout.
func DecodeMemory(buf []byte) (MemoryRecord, error) {
	if len(buf) != MemoryRecordSize {
		return MemoryRecord{}, fmt.Errorf("memory record: want %d bytes, got %d", MemoryRecordSize, len(buf))
	}
	return MemoryRecord{
		PC:      binary.LittleEndian.Uint64(buf[0:8]),
		Address: binary.LittleEndian.Uint64(buf[8:16]),
		Value:   binary.LittleEndian.Uint64(buf[16:24]),
		Size:    buf[24],
		Flags:   buf[25],
	}, nil
}

func (r TLBMissRecord) Encode() []byte {
	return encodeFault(r.PC, r.Address, r.Write, TLBMissRecordSize)
}

func (r PageFaultRecord) Encode() []byte {
	return encodeFault(r.PC, r.Address, r.Write, PageFaultRecordSize)
}

// DecodeTLBMiss parses a TLB-miss record.
func DecodeTLBMiss(buf []byte) (TLBMissRecord, error) {
	pc, addr, write, err := decodeFault(buf, TLBMissRecordSize, "tlbmiss")
	return TLBMissRecord{PC: pc, Address: addr, Write: write}, err
}

// DecodePageFault parses a page-fault record.
func DecodePageFault(buf []byte) (PageFaultRecord, error) {
	pc, addr, write, err := decodeFault(buf, PageFaultRecordSize, "pagefault")
	return PageFaultRecord{PC: pc, Address: addr, Write: write}, err
}

func encodeFault(pc, addr uint64, write bool, size int) []byte {
	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf[0:8], pc)
	binary.LittleEndian.PutUint64(buf[8:16], addr)
	if write {
		buf[16] = 1
	}
	return buf
}

func decodeFault(buf []byte, size int, kind string) (uint64, uint64, bool, error) {
	if len(buf) != size {
		return 0, 0, false, fmt.Errorf("%s record: want %d bytes, got %d", kind, size, len(buf))
	}
	return binary.LittleEndian.Uint64(buf[0:8]),
		binary.LittleEndian.Uint64(buf[8:16]),
		buf[16] != 0,
		nil
}

// MinBytes returns the minimal number of bytes needed to represent v.
// Zero still occupies one byte.
func MinBytes(v uint64) uint8 {
	if v == 0 {
		return 1
	}
	return uint8((bits.Len64(v) + 7) / 8)
}
