package binfmt

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
)

// ELF constants, from the System V ABI.
const (
	elfClass32 = 1
	elfClass64 = 2

	elfData2LSB = 1
	elfData2MSB = 2

	shtNull    = 0
	shtSymtab  = 2
	shtDynamic = 6
	shtNote    = 7
	shtNobits  = 8
	shtDynsym  = 11

	stbLocal  = 0
	stbGlobal = 1
	stbWeak   = 2

	sttNotype = 0
	sttFile   = 4

	shnUndef  = 0
	shnAbs    = 0xfff1
	shnCommon = 0xfff2

	dtNull   = 0
	dtNeeded = 1

	ntGnuBuildID   = 3
	buildIDSection = ".note.gnu.build-id"
)

// ElfExtractor decodes ELF objects, executables and shared libraries. Each
// extraction method opens the file independently and fails on its own without
// affecting the others.
type ElfExtractor struct{}

// NewElfExtractor creates an ELF extractor.
func NewElfExtractor() *ElfExtractor {
	return &ElfExtractor{}
}

// FormatName returns the format handled by this extractor.
func (e *ElfExtractor) FormatName() string { return string(FormatELF) }

type elfSection struct {
	rawName uint32
	name    string
	typ     uint32
	flags   uint64
	addr    uint64
	offset  uint64
	size    uint64
	link    uint32
}

type elfFile struct {
	r        *reader
	is64     bool
	sections []elfSection
}

// openElf reads the whole file and decodes the identification bytes and the
// section header table. Section headers lying past the end of the file are
// dropped, leaving a partial table rather than failing the open.
func openElf(path string) (*elfFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 16 || data[0] != 0x7f || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, fmt.Errorf("%s: %w", path, ErrMalformed)
	}

	var is64 bool
	switch data[4] {
	case elfClass32:
	case elfClass64:
		is64 = true
	default:
		return nil, fmt.Errorf("%s: bad ELF class %d: %w", path, data[4], ErrMalformed)
	}

	var order binary.ByteOrder
	switch data[5] {
	case elfData2LSB:
		order = binary.LittleEndian
	case elfData2MSB:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%s: bad ELF data encoding %d: %w", path, data[5], ErrMalformed)
	}

	r := newReader(data, order)
	f := &elfFile{r: r, is64: is64}

	var shoff uint64
	var shentsize, shnum, shstrndx uint16
	var ok bool
	if is64 {
		shoff, ok = r.u64(0x28)
	} else {
		var v uint32
		v, ok = r.u32(0x20)
		shoff = uint64(v)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrTruncated)
	}
	if is64 {
		shentsize, _ = r.u16(0x3a)
		shnum, _ = r.u16(0x3c)
		shstrndx, ok = r.u16(0x3e)
	} else {
		shentsize, _ = r.u16(0x2e)
		shnum, _ = r.u16(0x30)
		shstrndx, ok = r.u16(0x32)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrTruncated)
	}
	if shentsize == 0 || shnum == 0 {
		return f, nil
	}

	for i := uint64(0); i < uint64(shnum); i++ {
		off := shoff + i*uint64(shentsize)
		sec, ok := f.readSectionHeader(off)
		if !ok {
			break
		}
		f.sections = append(f.sections, sec)
	}

	// Resolve section names through the section-header string table.
	if int(shstrndx) < len(f.sections) {
		strtab := f.sections[shstrndx]
		for i := range f.sections {
			if uint64(f.sections[i].rawName) >= strtab.size {
				continue
			}
			off := strtab.offset + uint64(f.sections[i].rawName)
			if name, ok := r.cstring(off, strtab.size-uint64(f.sections[i].rawName)); ok {
				f.sections[i].name = name
			}
		}
	}

	return f, nil
}

func (f *elfFile) readSectionHeader(off uint64) (elfSection, bool) {
	var s elfSection
	r := f.r
	var ok bool
	if f.is64 {
		if s.rawName, ok = r.u32(off); !ok {
			return s, false
		}
		s.typ, _ = r.u32(off + 4)
		s.flags, _ = r.u64(off + 8)
		s.addr, _ = r.u64(off + 16)
		s.offset, _ = r.u64(off + 24)
		s.size, _ = r.u64(off + 32)
		if s.link, ok = r.u32(off + 40); !ok {
			return s, false
		}
		if _, ok = r.u64(off + 56); !ok { // sh_entsize, end of the header
			return s, false
		}
	} else {
		if s.rawName, ok = r.u32(off); !ok {
			return s, false
		}
		s.typ, _ = r.u32(off + 4)
		var v32 uint32
		v32, _ = r.u32(off + 8)
		s.flags = uint64(v32)
		v32, _ = r.u32(off + 12)
		s.addr = uint64(v32)
		v32, _ = r.u32(off + 16)
		s.offset = uint64(v32)
		v32, _ = r.u32(off + 20)
		s.size = uint64(v32)
		if s.link, ok = r.u32(off + 24); !ok {
			return s, false
		}
		if _, ok = r.u32(off + 36); !ok { // sh_entsize, end of the header
			return s, false
		}
	}
	return s, true
}

// data returns the section contents, or nil when the section lies outside
// the file (SHT_NOBITS sections have no file contents by definition).
func (f *elfFile) data(s elfSection) []byte {
	if s.typ == shtNobits {
		return nil
	}
	b, ok := f.r.bytes(s.offset, s.size)
	if !ok {
		return nil
	}
	return b
}

// ExtractSymbols walks every .symtab and .dynsym section, filtering out
// null-name entries, local bindings and STT_FILE entries.
func (e *ElfExtractor) ExtractSymbols(path string) ([]SymbolRecord, error) {
	f, err := openElf(path)
	if err != nil {
		return nil, err
	}

	var symbols []SymbolRecord
	for _, sec := range f.sections {
		if sec.typ != shtSymtab && sec.typ != shtDynsym {
			continue
		}
		symData := f.data(sec)
		if symData == nil {
			continue
		}
		var strData []byte
		if int(sec.link) < len(f.sections) {
			strData = f.data(f.sections[sec.link])
		}
		symbols = append(symbols, f.readSymbols(symData, strData)...)
	}
	return symbols, nil
}

func (f *elfFile) readSymbols(symData, strData []byte) []SymbolRecord {
	entSize := uint64(16)
	if f.is64 {
		entSize = 24
	}
	sr := newReader(symData, f.r.order)
	str := newReader(strData, f.r.order)

	var out []SymbolRecord
	for off := uint64(0); off+entSize <= sr.len(); off += entSize {
		var nameOff uint32
		var info byte
		var shndx uint16
		var value, size uint64
		if f.is64 {
			nameOff, _ = sr.u32(off)
			info, _ = sr.u8(off + 4)
			shndx, _ = sr.u16(off + 6)
			value, _ = sr.u64(off + 8)
			size, _ = sr.u64(off + 16)
		} else {
			nameOff, _ = sr.u32(off)
			var v32 uint32
			v32, _ = sr.u32(off + 4)
			value = uint64(v32)
			v32, _ = sr.u32(off + 8)
			size = uint64(v32)
			info, _ = sr.u8(off + 12)
			shndx, _ = sr.u16(off + 14)
		}

		if nameOff == 0 {
			continue
		}
		bind := info >> 4
		typ := info & 0xf
		if bind == stbLocal || typ == sttFile {
			continue
		}
		name, ok := str.cstring(uint64(nameOff), 0)
		if !ok {
			continue
		}

		out = append(out, SymbolRecord{
			Name:    name,
			Address: value,
			Size:    size,
			Defined: typ != sttNotype && shndx != shnUndef,
			Global:  bind == stbGlobal,
			Weak:    bind == stbWeak,
			Section: f.sectionLabel(shndx),
		})
	}
	return out
}

func (f *elfFile) sectionLabel(shndx uint16) string {
	switch shndx {
	case shnUndef:
		return SectionUndefined
	case shnAbs:
		return SectionAbsolute
	case shnCommon:
		return SectionCommon
	}
	if int(shndx) < len(f.sections) && f.sections[shndx].name != "" {
		return f.sections[shndx].name
	}
	return SectionUnknown
}

// ExtractSections returns all section headers except SHT_NULL entries and
// zero-size housekeeping sections. Zero-size SHT_NOBITS sections such as an
// empty .bss are retained.
func (e *ElfExtractor) ExtractSections(path string) ([]SectionRecord, error) {
	f, err := openElf(path)
	if err != nil {
		return nil, err
	}

	var sections []SectionRecord
	for _, sec := range f.sections {
		if sec.typ == shtNull {
			continue
		}
		if sec.size == 0 && sec.typ != shtNobits {
			continue
		}
		sections = append(sections, SectionRecord{
			Name:    sec.name,
			Address: sec.addr,
			Size:    sec.size,
			Type:    elfSectionTypeString(sec.typ),
			Flags:   sec.flags,
		})
	}
	return sections, nil
}

func elfSectionTypeString(typ uint32) string {
	switch typ {
	case 1:
		return "PROGBITS"
	case shtSymtab:
		return "SYMTAB"
	case 3:
		return "STRTAB"
	case 4:
		return "RELA"
	case 5:
		return "HASH"
	case shtDynamic:
		return "DYNAMIC"
	case shtNote:
		return "NOTE"
	case shtNobits:
		return "NOBITS"
	case 9:
		return "REL"
	case shtDynsym:
		return "DYNSYM"
	default:
		return fmt.Sprintf("0x%x", typ)
	}
}

// ExtractDependencies returns the DT_NEEDED entries of the first (and only)
// dynamic section, in encounter order, duplicates preserved.
func (e *ElfExtractor) ExtractDependencies(path string) ([]string, error) {
	f, err := openElf(path)
	if err != nil {
		return nil, err
	}

	for _, sec := range f.sections {
		if sec.typ != shtDynamic {
			continue
		}
		dynData := f.data(sec)
		if dynData == nil {
			return nil, nil
		}
		var strData []byte
		if int(sec.link) < len(f.sections) {
			strData = f.data(f.sections[sec.link])
		}
		return f.readNeeded(dynData, strData), nil
	}
	return nil, nil
}

func (f *elfFile) readNeeded(dynData, strData []byte) []string {
	entSize := uint64(8)
	if f.is64 {
		entSize = 16
	}
	dr := newReader(dynData, f.r.order)
	str := newReader(strData, f.r.order)

	var deps []string
	for off := uint64(0); off+entSize <= dr.len(); off += entSize {
		var tag, val uint64
		if f.is64 {
			tag, _ = dr.u64(off)
			val, _ = dr.u64(off + 8)
		} else {
			var v32 uint32
			v32, _ = dr.u32(off)
			tag = uint64(v32)
			v32, _ = dr.u32(off + 4)
			val = uint64(v32)
		}
		if tag == dtNull {
			break
		}
		if tag != dtNeeded {
			continue
		}
		if name, ok := str.cstring(val, 0); ok && name != "" {
			deps = append(deps, name)
		}
	}
	return deps
}

// ExtractBuildID scans SHT_NOTE sections for the GNU build-id note and
// returns its descriptor hex-encoded. A missing note yields ("", nil);
// malformed note streams end the scan of that section without error.
func (e *ElfExtractor) ExtractBuildID(path string) (string, error) {
	f, err := openElf(path)
	if err != nil {
		return "", err
	}

	for _, sec := range f.sections {
		if sec.typ != shtNote || sec.name != buildIDSection {
			continue
		}
		if id := parseBuildIDNote(f.data(sec), f.r.order); id != "" {
			return id, nil
		}
	}
	return "", nil
}

func parseBuildIDNote(data []byte, order binary.ByteOrder) string {
	r := newReader(data, order)
	align4 := func(n uint64) uint64 { return (n + 3) &^ 3 }

	off := uint64(0)
	for {
		nameSize, ok1 := r.u32(off)
		descSize, ok2 := r.u32(off + 4)
		noteType, ok3 := r.u32(off + 8)
		if !ok1 || !ok2 || !ok3 {
			return ""
		}
		descOff := off + 12 + align4(uint64(nameSize))
		desc, ok := r.bytes(descOff, uint64(descSize))
		if !ok {
			// The header claims more bytes than remain.
			return ""
		}
		if noteType == ntGnuBuildID && descSize > 0 {
			return hex.EncodeToString(desc)
		}
		off = descOff + align4(uint64(descSize))
	}
}
