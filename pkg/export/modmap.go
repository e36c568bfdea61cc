package export

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/saworbit/tracekeeper/pkg/symbols"
)

// HexUint64 is a uint64 that accepts JSON numbers or hex strings. Kernel
// addresses exceed the 53-bit range JSON numbers can carry exactly, so maps
// normally use "0x..." strings.
type HexUint64 uint64

func (h *HexUint64) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	v, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", raw, err)
	}
	*h = HexUint64(v)
	return nil
}

func (h HexUint64) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", "0x"+strconv.FormatUint(uint64(h), 16))), nil
}

// ModuleMapping describes where one module image was loaded for the run
// being exported.
type ModuleMapping struct {
	Name      string    `json:"name"`
	LoadBase  HexUint64 `json:"load_base"`
	Size      HexUint64 `json:"size"`
	ImageBase HexUint64 `json:"image_base"`
}

// ModuleMap answers "which module contains this program counter" during
// export-time symbolization.
type ModuleMap struct {
	mappings []ModuleMapping
}

// LoadModuleMap reads a JSON array of module mappings.
func LoadModuleMap(path string) (*ModuleMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module map: %w", err)
	}

	var mappings []ModuleMapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("decode module map %s: %w", path, err)
	}

	return &ModuleMap{mappings: mappings}, nil
}

// At returns the module instance whose load range contains pc.
func (m *ModuleMap) At(pc uint64) (symbols.ModuleInstance, bool) {
	for _, mm := range m.mappings {
		base := uint64(mm.LoadBase)
		if pc >= base && pc < base+uint64(mm.Size) {
			return symbols.ModuleInstance{
				Name:      mm.Name,
				LoadBase:  base,
				ImageBase: uint64(mm.ImageBase),
			}, true
		}
	}
	return symbols.ModuleInstance{}, false
}
