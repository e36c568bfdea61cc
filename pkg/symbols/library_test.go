package symbols

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// stubImage records lookups and close calls.
type stubImage struct {
	loc     Location
	lookups []uint64
	closed  bool
}

func (s *stubImage) Lookup(addr uint64) (Location, error) {
	s.lookups = append(s.lookups, addr)
	if s.loc.File == "" {
		return Location{}, fmt.Errorf("no location for 0x%x", addr)
	}
	return s.loc, nil
}

func (s *stubImage) Close() error {
	s.closed = true
	return nil
}

// stubParser counts Parse invocations and fails for configured paths.
type stubParser struct {
	calls  map[string]int
	broken map[string]bool
	images map[string]*stubImage
}

func newStubParser() *stubParser {
	return &stubParser{
		calls:  make(map[string]int),
		broken: make(map[string]bool),
		images: make(map[string]*stubImage),
	}
}

func (p *stubParser) Parse(path string) (Image, error) {
	p.calls[path]++
	if p.broken[path] {
		return nil, fmt.Errorf("unparsable image %s", path)
	}
	img := &stubImage{loc: Location{File: "main.c", Line: 42, Function: "main"}}
	p.images[path] = img
	return img, nil
}

func writeModule(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("\x7fELF"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestLibrary(t *testing.T, dirs ...string) (*Library, *stubParser) {
	t.Helper()
	search := &SearchPath{}
	for _, d := range dirs {
		search.Append(d)
	}
	parser := newStubParser()
	lib, err := NewLibrary(search, parser, nil)
	if err != nil {
		t.Fatalf("new library: %v", err)
	}
	return lib, parser
}

func TestNewLibraryRequiresCollaborators(t *testing.T) {
	if _, err := NewLibrary(nil, newStubParser(), nil); err == nil {
		t.Error("expected error for missing search path")
	}
	if _, err := NewLibrary(&SearchPath{}, nil, nil); err == nil {
		t.Error("expected error for missing parser")
	}
}

func TestAddImageIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "libfoo.so")
	lib, parser := newTestLibrary(t, dir)

	if !lib.AddImage(path) {
		t.Fatal("first AddImage failed")
	}
	if !lib.AddImage(path) {
		t.Fatal("second AddImage failed")
	}

	if parser.calls[path] != 1 {
		t.Errorf("parser invoked %d times for %s, want exactly 1", parser.calls[path], path)
	}
}

func TestNegativeCachePreventsReparse(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "libbad.so")
	lib, parser := newTestLibrary(t, dir)
	parser.broken[path] = true

	if lib.AddImage(path) {
		t.Fatal("AddImage succeeded for an unparsable image")
	}
	if lib.AddImage(path) {
		t.Fatal("second AddImage must fail the same way")
	}
	if _, ok := lib.Image("libbad.so"); ok {
		t.Fatal("Image must fail for a negatively cached path")
	}

	if parser.calls[path] != 1 {
		t.Errorf("parser invoked %d times for a bad path, want exactly 1", parser.calls[path])
	}
}

func TestImageResolvesThroughSearchPath(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "libfoo.so")
	lib, parser := newTestLibrary(t, dir)

	img, ok := lib.Image("libfoo.so")
	if !ok {
		t.Fatal("expected image")
	}
	if img == nil {
		t.Fatal("nil image handle")
	}

	// Repeated lookups hit the cache.
	if _, ok := lib.Image("libfoo.so"); !ok {
		t.Fatal("cached lookup failed")
	}
	if parser.calls[path] != 1 {
		t.Errorf("parser invoked %d times, want 1", parser.calls[path])
	}
}

func TestImageUnresolvableName(t *testing.T) {
	lib, parser := newTestLibrary(t, t.TempDir())

	if _, ok := lib.Image("libmissing.so"); ok {
		t.Fatal("expected absent result for unresolvable module")
	}
	if len(parser.calls) != 0 {
		t.Error("parser must not run when path search fails")
	}
}

func TestCloseReleasesImages(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "libfoo.so")
	lib, parser := newTestLibrary(t, dir)

	if !lib.AddImage(path) {
		t.Fatal("AddImage failed")
	}
	if err := lib.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !parser.images[path].closed {
		t.Error("library did not close its parsed image")
	}
}
