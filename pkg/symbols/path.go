// Package symbols resolves raw program counters in loaded module images to
// source locations: an ordered path search turns bare module names into
// candidate files, a process-wide cache memoizes parsed images (and known-bad
// paths), and the resolver translates runtime addresses into image-relative
// ones before asking the parser oracle.
package symbols

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/saworbit/tracekeeper/internal/platform"
)

// SearchPath is an ordered list of directories probed for module images.
// Search order is insertion order; the first match wins.
type SearchPath struct {
	dirs []string
}

// ParseSearchPath splits a colon-separated directory list, preserving order.
// Empty segments are dropped.
func ParseSearchPath(s string) *SearchPath {
	p := &SearchPath{}
	for _, dir := range strings.Split(s, ":") {
		if dir != "" {
			p.Append(dir)
		}
	}
	return p
}

// Append adds one directory to the end of the search order.
func (p *SearchPath) Append(dir string) {
	p.dirs = append(p.dirs, dir)
}

// Dirs returns the directories in search order.
func (p *SearchPath) Dirs() []string {
	return p.dirs
}

// Find probes each directory in order for a readable regular file named
// name and returns its path. The probe is the only filesystem side effect.
func (p *SearchPath) Find(name string) (string, bool) {
	for _, dir := range p.dirs {
		candidate := platform.LongPathname(filepath.Join(dir, name))

		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := ensureReadable(candidate, info); err != nil {
			continue
		}

		return candidate, true
	}
	return "", false
}
