package config

import (
	"fmt"
	"os"
	"strconv"
)

// TracerConfig holds the selective-tracing settings. Immutable after
// initialization; the tracer reads it on every event.
type TracerConfig struct {
	// MonitorStack restricts memory tracing to accesses that land in the
	// same 8 KiB-aligned region as the current stack pointer.
	MonitorStack bool

	// CatchAccessesAbove rejects any access below this address.
	CatchAccessesAbove uint64

	// TimeTriggerTicks delays activation by this many timer ticks.
	// Zero activates tracing immediately.
	TimeTriggerTicks uint64

	// MonitorMemory enables data memory access tracing.
	MonitorMemory bool

	// MonitorPageFaults enables page fault tracing.
	MonitorPageFaults bool

	// MonitorTlbMisses enables TLB miss tracing.
	MonitorTlbMisses bool
}

// SymbolsConfig holds settings for the module/debug-symbol resolver.
type SymbolsConfig struct {
	// ModulePath is a colon-separated ordered list of directories searched
	// for module images; first match wins.
	ModulePath string

	// KernelStart is the lowest kernel-space address. Program counters at
	// or above it are attributed to a single shared pseudo-owner.
	KernelStart uint64
}

// StoreConfig holds settings for the Pebble-backed trace store and export.
type StoreConfig struct {
	// Compression selects the export codec ("none", "zstd" or "xz").
	Compression string

	// SegmentRecords is the number of records per export segment; each
	// segment gets its own manifest entry.
	SegmentRecords int
}

// Config aggregates all TraceKeeper settings.
type Config struct {
	Tracer  TracerConfig
	Symbols SymbolsConfig
	Store   StoreConfig
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Tracer: TracerConfig{
			MonitorStack:       false,
			CatchAccessesAbove: 0,
			TimeTriggerTicks:   0,
			MonitorMemory:      true,
			MonitorPageFaults:  false,
			MonitorTlbMisses:   false,
		},
		Symbols: SymbolsConfig{
			ModulePath:  "",
			KernelStart: 0x80000000,
		},
		Store: StoreConfig{
			Compression:    "zstd",
			SegmentRecords: 4096,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("TRACEKEEPER_MONITOR_STACK"); v != "" {
		cfg.Tracer.MonitorStack = isTrue(v)
	}

	if v := os.Getenv("TRACEKEEPER_CATCH_ABOVE"); v != "" {
		if addr, err := strconv.ParseUint(v, 0, 64); err == nil {
			cfg.Tracer.CatchAccessesAbove = addr
		}
	}

	if v := os.Getenv("TRACEKEEPER_TIME_TRIGGER"); v != "" {
		if ticks, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Tracer.TimeTriggerTicks = ticks
		}
	}

	if v := os.Getenv("TRACEKEEPER_MONITOR_MEMORY"); v != "" {
		cfg.Tracer.MonitorMemory = isTrue(v)
	}

	if v := os.Getenv("TRACEKEEPER_MONITOR_PAGE_FAULTS"); v != "" {
		cfg.Tracer.MonitorPageFaults = isTrue(v)
	}

	if v := os.Getenv("TRACEKEEPER_MONITOR_TLB_MISSES"); v != "" {
		cfg.Tracer.MonitorTlbMisses = isTrue(v)
	}

	if v := os.Getenv("TRACEKEEPER_MODULE_PATH"); v != "" {
		cfg.Symbols.ModulePath = v
	}

	if v := os.Getenv("TRACEKEEPER_KERNEL_START"); v != "" {
		if addr, err := strconv.ParseUint(v, 0, 64); err == nil {
			cfg.Symbols.KernelStart = addr
		}
	}

	if v := os.Getenv("TRACEKEEPER_COMPRESSION"); v != "" {
		cfg.Store.Compression = v
	}

	if v := os.Getenv("TRACEKEEPER_SEGMENT_RECORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Store.SegmentRecords = n
		}
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !c.Tracer.MonitorMemory && !c.Tracer.MonitorPageFaults && !c.Tracer.MonitorTlbMisses {
		return fmt.Errorf("nothing to trace: enable at least one of memory, page faults or TLB misses")
	}

	if c.Symbols.KernelStart == 0 {
		return fmt.Errorf("kernel start address must be non-zero")
	}

	switch c.Store.Compression {
	case "none", "zstd", "xz":
	default:
		return fmt.Errorf("invalid compression: %s (must be 'none', 'zstd' or 'xz')", c.Store.Compression)
	}

	if c.Store.SegmentRecords <= 0 {
		return fmt.Errorf("segment records must be positive, got: %d", c.Store.SegmentRecords)
	}

	return nil
}

func isTrue(v string) bool {
	return v == "1" || v == "true" || v == "TRUE"
}
