// Package export decodes stored trace records into a readable stream, with
// optional compression and optional symbolization, and emits an integrity
// manifest for the exported data.
package export

import (
	"fmt"
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/saworbit/tracekeeper/pkg/sink"
	"github.com/saworbit/tracekeeper/pkg/symbols"
	"github.com/saworbit/tracekeeper/pkg/trace"
)

// Options controls one export run.
type Options struct {
	// Codec compresses the text output: "none", "zstd" or "xz".
	Codec string

	// SegmentRecords is how many records form one manifest segment.
	SegmentRecords int

	// Resolver and Modules enable symbolization; both may be nil, in which
	// case records are exported without source locations.
	Resolver *symbols.Resolver
	Modules  *ModuleMap
}

// Result reports what an export produced.
type Result struct {
	Records  uint64
	Manifest Manifest
}

// Run streams every record in the store through the codec to out and builds
// the manifest as it goes.
func Run(db *pebble.DB, out io.Writer, opts Options) (*Result, error) {
	if opts.SegmentRecords <= 0 {
		opts.SegmentRecords = 4096
	}

	w, err := newCodecWriter(out, opts.Codec)
	if err != nil {
		return nil, err
	}

	var (
		total    uint64
		segments []Segment
		segBuf   []byte
		segCount int
	)

	flushSegment := func() error {
		if segCount == 0 {
			return nil
		}
		cid, err := segmentCID(segBuf)
		if err != nil {
			return err
		}
		segments = append(segments, Segment{Index: len(segments), Records: segCount, CID: cid})
		segBuf = segBuf[:0]
		segCount = 0
		return nil
	}

	scanErr := sink.ScanDB(db, func(rec sink.Record) error {
		line, err := formatRecord(rec, opts)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return fmt.Errorf("write export line: %w", err)
		}

		segBuf = append(segBuf, rec.Payload...)
		segCount++
		total++

		if segCount >= opts.SegmentRecords {
			return flushSegment()
		}
		return nil
	})
	if scanErr != nil {
		w.Close()
		return nil, scanErr
	}

	if err := flushSegment(); err != nil {
		w.Close()
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish %s stream: %w", opts.Codec, err)
	}

	manifest, err := buildManifest(total, segments)
	if err != nil {
		return nil, err
	}

	return &Result{Records: total, Manifest: manifest}, nil
}

// newCodecWriter wraps out with the selected compression codec.
func newCodecWriter(out io.Writer, codec string) (io.WriteCloser, error) {
	switch codec {
	case "", "none":
		return nopWriteCloser{out}, nil
	case "zstd":
		w, err := zstd.NewWriter(out)
		if err != nil {
			return nil, fmt.Errorf("init zstd writer: %w", err)
		}
		return w, nil
	case "xz":
		w, err := xz.NewWriter(out)
		if err != nil {
			return nil, fmt.Errorf("init xz writer: %w", err)
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown codec: %s", codec)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// FormatRecordLine renders one record as a text line without symbolization.
func FormatRecordLine(rec sink.Record) (string, error) {
	return formatRecord(rec, Options{})
}

func formatRecord(rec sink.Record, opts Options) (string, error) {
	var line string
	var pc uint64

	switch rec.Kind {
	case trace.KindMemory:
		r, err := trace.DecodeMemory(rec.Payload)
		if err != nil {
			return "", err
		}
		pc = r.PC
		line = fmt.Sprintf("[%d] state=%d memory pc=0x%x addr=0x%x value=0x%x size=%d write=%t io=%t",
			rec.Seq, rec.StateID, r.PC, r.Address, r.Value, r.Size,
			r.Flags&trace.FlagWrite != 0, r.Flags&trace.FlagIO != 0)
	case trace.KindTLBMiss:
		r, err := trace.DecodeTLBMiss(rec.Payload)
		if err != nil {
			return "", err
		}
		pc = r.PC
		line = fmt.Sprintf("[%d] state=%d tlbmiss pc=0x%x addr=0x%x write=%t",
			rec.Seq, rec.StateID, r.PC, r.Address, r.Write)
	case trace.KindPageFault:
		r, err := trace.DecodePageFault(rec.Payload)
		if err != nil {
			return "", err
		}
		pc = r.PC
		line = fmt.Sprintf("[%d] state=%d pagefault pc=0x%x addr=0x%x write=%t",
			rec.Seq, rec.StateID, r.PC, r.Address, r.Write)
	default:
		return "", fmt.Errorf("unknown record kind %d at seq %d", rec.Kind, rec.Seq)
	}

	if opts.Resolver != nil {
		owner := opts.Resolver.TranslateOwner(uint64(rec.StateID), pc)
		line += fmt.Sprintf(" owner=%d", owner)

		if opts.Modules != nil {
			if mi, ok := opts.Modules.At(pc); ok {
				if loc, ok := opts.Resolver.Resolve(mi, pc); ok {
					line += " " + loc.String()
				}
			}
		}
	}

	return line, nil
}
