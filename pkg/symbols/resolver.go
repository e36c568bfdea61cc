package symbols

import (
	"time"

	"github.com/saworbit/tracekeeper/internal/metrics"
	"github.com/saworbit/tracekeeper/pkg/config"
)

// SharedOwnerID is the pseudo-owner attributed to kernel-space program
// counters: kernel code is mapped into every process, so charging it to the
// calling pid would fragment one shared identity across many trace owners.
const SharedOwnerID = 0

// ModuleInstance identifies one load-time mapping of an executable image
// into the monitored address space. Instances are supplied by the caller at
// lookup time; the resolver never stores them.
type ModuleInstance struct {
	Name      string
	LoadBase  uint64
	ImageBase uint64
}

// Resolver maps (module instance, runtime pc) pairs to source locations and
// normalizes trace owners across the user/kernel address-space split.
type Resolver struct {
	lib         *Library
	kernelStart uint64
}

// NewResolver binds a resolver to a module cache and the configured
// kernel-space boundary.
func NewResolver(lib *Library, cfg config.SymbolsConfig) *Resolver {
	return &Resolver{lib: lib, kernelStart: cfg.KernelStart}
}

// Resolve translates a runtime program counter inside the module instance to
// an image-relative address and asks the parsed image for its location. The
// subtraction may wrap around; range validity is the parser's call, so a
// nonsensical relative address simply fails the lookup.
func (r *Resolver) Resolve(mi ModuleInstance, pc uint64) (Location, bool) {
	start := time.Now()
	defer metrics.ObserveResolve(start)

	img, ok := r.lib.Image(mi.Name)
	if !ok {
		return Location{}, false
	}

	rel := pc - mi.LoadBase + mi.ImageBase

	loc, err := img.Lookup(rel)
	if err != nil {
		return Location{}, false
	}
	return loc, true
}

// TranslateOwner normalizes the owning pid for a program counter: addresses
// at or above the kernel boundary report the shared pseudo-owner.
func (r *Resolver) TranslateOwner(pid, pc uint64) uint64 {
	if pc >= r.kernelStart {
		return SharedOwnerID
	}
	return pid
}
