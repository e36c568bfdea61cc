package symbols

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
)

// DWARFParser parses ELF images with DWARF line information. It is the
// default Parser oracle; callers with other debug formats supply their own.
type DWARFParser struct{}

// NewDWARFParser returns the ELF/DWARF parser oracle.
func NewDWARFParser() DWARFParser {
	return DWARFParser{}
}

// Parse opens the ELF file at path and loads its DWARF data eagerly, so a
// corrupt image fails here (and is negatively cached) rather than at every
// lookup.
func (DWARFParser) Parse(path string) (Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ELF %s: %w", path, err)
	}

	data, err := f.DWARF()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("load DWARF from %s: %w", path, err)
	}

	syms, _ := f.Symbols() // images may be stripped of .symtab; DWARF can still carry lines

	return &dwarfImage{file: f, data: data, symbols: syms}, nil
}

type dwarfImage struct {
	file    *elf.File
	data    *dwarf.Data
	symbols []elf.Symbol
}

// Lookup maps an image-relative address to (file, line, function). The line
// table answers file and line; the function name comes from the enclosing
// DWARF subprogram, falling back to the ELF symbol table.
func (im *dwarfImage) Lookup(addr uint64) (Location, error) {
	r := im.data.Reader()
	cu, err := r.SeekPC(addr)
	if err != nil {
		return Location{}, fmt.Errorf("no compile unit covers 0x%x: %w", addr, err)
	}

	lr, err := im.data.LineReader(cu)
	if err != nil {
		return Location{}, fmt.Errorf("line table unavailable: %w", err)
	}
	if lr == nil {
		return Location{}, fmt.Errorf("compile unit has no line table")
	}

	var entry dwarf.LineEntry
	if err := lr.SeekPC(addr, &entry); err != nil {
		return Location{}, fmt.Errorf("no line maps 0x%x: %w", addr, err)
	}

	loc := Location{Line: uint64(entry.Line)}
	if entry.File != nil {
		loc.File = entry.File.Name
	}
	loc.Function = im.functionAt(r, addr)

	return loc, nil
}

// functionAt scans the current compile unit for the subprogram whose ranges
// contain addr. The reader is already positioned just past the CU entry.
func (im *dwarfImage) functionAt(r *dwarf.Reader, addr uint64) string {
	for {
		e, err := r.Next()
		if err != nil || e == nil || e.Tag == dwarf.TagCompileUnit {
			break
		}
		if e.Tag != dwarf.TagSubprogram {
			continue
		}

		ranges, err := im.data.Ranges(e)
		if err != nil {
			continue
		}
		for _, rg := range ranges {
			if addr >= rg[0] && addr < rg[1] {
				if name, ok := e.Val(dwarf.AttrName).(string); ok {
					return name
				}
			}
		}
	}

	return im.symbolAt(addr)
}

func (im *dwarfImage) symbolAt(addr uint64) string {
	for _, sym := range im.symbols {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
			continue
		}
		if addr >= sym.Value && addr < sym.Value+sym.Size {
			return sym.Name
		}
	}
	return ""
}

func (im *dwarfImage) Close() error {
	return im.file.Close()
}
