package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/saworbit/tracekeeper/internal/metrics"
	"github.com/saworbit/tracekeeper/internal/version"
	"github.com/saworbit/tracekeeper/pkg/config"
	"github.com/saworbit/tracekeeper/pkg/engine"
	"github.com/saworbit/tracekeeper/pkg/export"
	"github.com/saworbit/tracekeeper/pkg/sink"
	"github.com/saworbit/tracekeeper/pkg/symbols"
	"github.com/saworbit/tracekeeper/pkg/trace"
	"github.com/saworbit/tracekeeper/pkg/tracer"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "tracekeeper",
		Short:   "TraceKeeper - selective execution trace recorder",
		Version: version.Version,
	}

	root.AddCommand(newReplayCmd(), newExportCmd(), newTailCmd(), newStatsCmd())
	return root
}

func newReplayCmd() *cobra.Command {
	var stateDir string
	var eventsFile string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "replay --state-dir <dir> --events <file>",
		Short: "Feed a captured raw event stream through the tracing pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}
			if eventsFile == "" {
				return fmt.Errorf("events file is required")
			}
			return runReplay(stateDir, eventsFile, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory where Pebble state is stored")
	cmd.Flags().StringVar(&eventsFile, "events", "", "JSON-lines file of raw engine events")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Address for the Prometheus endpoint (optional)")
	return cmd
}

func newExportCmd() *cobra.Command {
	var stateDir string
	var outFile string
	var codec string
	var libPath string
	var modulesFile string

	cmd := &cobra.Command{
		Use:   "export --state-dir <dir> --out <file>",
		Short: "Decode trace records to text, optionally compressed and symbolized",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}
			if outFile == "" {
				return fmt.Errorf("out file is required")
			}
			return runExport(stateDir, outFile, codec, libPath, modulesFile)
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory where Pebble state is stored")
	cmd.Flags().StringVar(&outFile, "out", "", "Destination file for the decoded trace")
	cmd.Flags().StringVar(&codec, "codec", "", "Compression codec: none, zstd or xz (default from config)")
	cmd.Flags().StringVar(&libPath, "libpath", "", "Colon-separated module search path for symbolization")
	cmd.Flags().StringVar(&modulesFile, "modules", "", "JSON module map for symbolization")
	return cmd
}

func newTailCmd() *cobra.Command {
	var stateDir string

	cmd := &cobra.Command{
		Use:   "tail --state-dir <dir>",
		Short: "Follow a trace store and print new records as they appear",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}
			return runTail(stateDir)
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory where Pebble state is stored")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var stateDir string

	cmd := &cobra.Command{
		Use:   "stats --state-dir <dir>",
		Short: "Print per-kind record counts for a trace store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}
			return runStats(stateDir)
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory where Pebble state is stored")
	return cmd
}

// rawEvent is one line of a replayed engine event stream.
type rawEvent struct {
	Type    string           `json:"type"` // memory | tlbmiss | pagefault | tick
	State   uint32           `json:"state"`
	PC      export.HexUint64 `json:"pc"`
	SP      export.HexUint64 `json:"sp"`
	Addr    export.HexUint64 `json:"addr"`
	Value   export.HexUint64 `json:"value"`
	Write   bool             `json:"write"`
	IO      bool             `json:"io"`
	SymAddr bool             `json:"symbolic_addr"`
	SymVal  bool             `json:"symbolic_value"`
}

func runReplay(stateDir, eventsFile, metricsAddr string) error {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	db, err := pebble.Open(stateDir, &pebble.Options{})
	if err != nil {
		return fmt.Errorf("open pebble: %w", err)
	}
	defer db.Close()

	store, err := sink.NewStore(db)
	if err != nil {
		return fmt.Errorf("init trace store: %w", err)
	}
	defer store.Close()

	tr, err := tracer.New(cfg.Tracer, store, log.Default())
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	bus := engine.NewBus()
	tr.Attach(bus)
	defer tr.Detach()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metricsAddr != "" {
		metrics.SetAgentInfo(runtime.GOOS, runtime.GOARCH, version.Version)
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, log.Default()); err != nil {
				log.Printf("[metrics] endpoint stopped: %v", err)
			}
		}()
	}

	f, err := os.Open(eventsFile)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var lineNo int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev rawEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			log.Printf("[replay] skip malformed event at line %d: %v", lineNo, err)
			continue
		}

		raiseEvent(bus, ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read events file: %w", err)
	}

	if err := db.Flush(); err != nil {
		return fmt.Errorf("flush pebble: %w", err)
	}

	log.Printf("[replay] done: %d records in store", store.Len())
	return nil
}

func raiseEvent(bus *engine.Bus, ev rawEvent) {
	ctx := engine.StaticContext{
		StateID: ev.State,
		PC:      uint64(ev.PC),
		SP:      uint64(ev.SP),
	}

	switch ev.Type {
	case "memory":
		addr := trace.Concrete(uint64(ev.Addr))
		if ev.SymAddr {
			addr = trace.Symbolic()
		}
		value := trace.Concrete(uint64(ev.Value))
		if ev.SymVal {
			value = trace.Symbolic()
		}
		bus.RaiseMemoryAccess(ctx, addr, trace.Operand{}, value, ev.Write, ev.IO)
	case "tlbmiss":
		bus.RaiseTLBMiss(ctx, uint64(ev.Addr), ev.Write)
	case "pagefault":
		bus.RaisePageFault(ctx, uint64(ev.Addr), ev.Write)
	case "tick":
		bus.Tick()
	default:
		log.Printf("[replay] unknown event type %q", ev.Type)
	}
}

func runExport(stateDir, outFile, codec, libPath, modulesFile string) error {
	cfg := config.LoadFromEnv()
	if codec == "" {
		codec = cfg.Store.Compression
	}

	db, err := pebble.Open(stateDir, &pebble.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open pebble: %w", err)
	}
	defer db.Close()

	opts := export.Options{
		Codec:          codec,
		SegmentRecords: cfg.Store.SegmentRecords,
	}

	if libPath != "" {
		search := symbols.ParseSearchPath(libPath)
		lib, err := symbols.NewLibrary(search, symbols.NewDWARFParser(), log.Default())
		if err != nil {
			return fmt.Errorf("init module cache: %w", err)
		}
		defer lib.Close()
		opts.Resolver = symbols.NewResolver(lib, cfg.Symbols)
	}

	if modulesFile != "" {
		modules, err := export.LoadModuleMap(modulesFile)
		if err != nil {
			return err
		}
		opts.Modules = modules
	}

	out, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("create out file: %w", err)
	}
	defer out.Close()

	result, err := export.Run(db, out, opts)
	if err != nil {
		metrics.ObserveExport(codec, "failure")
		return err
	}
	metrics.ObserveExport(codec, "success")

	manifestPath := outFile + ".manifest.json"
	manifestBytes, err := json.MarshalIndent(result.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, manifestBytes, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	log.Printf("[export] wrote %d records to %s (manifest %s)", result.Records, outFile, manifestPath)
	return nil
}

func runTail(stateDir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(stateDir); err != nil {
		return fmt.Errorf("watch state dir: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	var lastSeq uint64
	printed := false

	dump := func() {
		db, err := pebble.Open(stateDir, &pebble.Options{ReadOnly: true})
		if err != nil {
			// The writer may hold the store lock; try again on the next wake.
			return
		}
		defer db.Close()

		_ = sink.ScanDB(db, func(rec sink.Record) error {
			if printed && rec.Seq < lastSeq {
				return nil
			}
			line, err := export.FormatRecordLine(rec)
			if err != nil {
				return err
			}
			fmt.Println(line)
			lastSeq = rec.Seq + 1
			printed = true
			return nil
		})
	}

	dump()

	for {
		select {
		case <-sig:
			return nil
		case evt := <-watcher.Events:
			if evt.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				dump()
			}
		case err := <-watcher.Errors:
			if err != nil {
				log.Printf("[tail] watcher error: %v", err)
			}
		case <-time.After(2 * time.Second):
			// Pebble may rewrite files without emitting events we see.
			dump()
		}
	}
}

func runStats(stateDir string) error {
	db, err := pebble.Open(stateDir, &pebble.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open pebble: %w", err)
	}
	defer db.Close()

	counts := make(map[trace.Kind]uint64)
	var total uint64

	err = sink.ScanDB(db, func(rec sink.Record) error {
		counts[rec.Kind]++
		total++
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("records: %d\n", total)
	for _, kind := range []trace.Kind{trace.KindMemory, trace.KindTLBMiss, trace.KindPageFault} {
		fmt.Printf("  %-10s %d\n", kind, counts[kind])
	}
	return nil
}
