package symbols

import (
	"fmt"
	"log"
	"sync"

	"github.com/saworbit/tracekeeper/internal/metrics"
)

// Location is a resolved source position. Function names are reported
// exactly as the image records them, without demangling.
type Location struct {
	File     string
	Line     uint64
	Function string
}

// String renders "file:line - function", omitting the parts that are absent.
func (l Location) String() string {
	out := l.File
	if l.Line != 0 {
		out = fmt.Sprintf("%s:%d", out, l.Line)
	}
	if l.Function != "" {
		out = fmt.Sprintf("%s - %s", out, l.Function)
	}
	return out
}

// Image is a parsed executable/debug handle. Lookups take image-relative
// addresses; out-of-range addresses fail here, not in the resolver.
type Image interface {
	Lookup(addr uint64) (Location, error)
	Close() error
}

// Parser turns a file on disk into an Image. Parsing is expensive and
// fallible; the Library caches both outcomes.
type Parser interface {
	Parse(path string) (Image, error)
}

// Library memoizes parsed images by absolute path. A given path is parsed at
// most once per run: successes live in the positive map for the lifetime of
// the library, failures in the negative set. Entries are never evicted.
type Library struct {
	mu     sync.Mutex
	search *SearchPath
	parser Parser
	logger *log.Logger

	images map[string]Image
	bad    map[string]struct{}
}

// NewLibrary builds an empty cache over the given search path and parser
// oracle. Both collaborators are required.
func NewLibrary(search *SearchPath, parser Parser, logger *log.Logger) (*Library, error) {
	if search == nil {
		return nil, fmt.Errorf("library requires a search path")
	}
	if parser == nil {
		return nil, fmt.Errorf("library requires a parser")
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Library{
		search: search,
		parser: parser,
		logger: logger,
		images: make(map[string]Image),
		bad:    make(map[string]struct{}),
	}, nil
}

// AddImage ensures the image at the absolute path is cached. It reports
// whether a parsed handle is available; a cached failure returns false
// without touching the parser again.
func (l *Library) AddImage(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addImageLocked(path)
}

func (l *Library) addImageLocked(path string) bool {
	if _, ok := l.images[path]; ok {
		metrics.ObserveLibraryLookup("hit")
		return true
	}
	if _, ok := l.bad[path]; ok {
		metrics.ObserveLibraryLookup("negative_hit")
		return false
	}

	img, err := l.parser.Parse(path)
	if err != nil {
		l.logger.Printf("[symbols] cannot parse %s: %v", path, err)
		l.bad[path] = struct{}{}
		metrics.ObserveLibraryLookup("parse_failed")
		return false
	}

	l.images[path] = img
	metrics.ObserveLibraryLookup("parsed")
	metrics.SetLibrariesCached(len(l.images))
	return true
}

// Image resolves a bare module name through the search path and returns the
// cached handle for it, parsing on first use.
func (l *Library) Image(name string) (Image, bool) {
	path, ok := l.search.Find(name)
	if !ok {
		metrics.ObserveLibraryLookup("not_found")
		return nil, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.addImageLocked(path) {
		return nil, false
	}
	return l.images[path], true
}

// Close releases every parsed image. The library owns its handles; callers
// must not use images obtained from it afterwards.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for path, img := range l.images {
		if err := img.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", path, err)
		}
		delete(l.images, path)
	}
	metrics.SetLibrariesCached(0)
	return firstErr
}
