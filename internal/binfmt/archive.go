package binfmt

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Sanity ceilings for archive symbol tables. Counts or offsets past these
// are treated as corruption and yield an empty result rather than an error.
const (
	arMaxSymbols    = 100000
	arMaxMemberSize = 100 * 1024 * 1024
	arMaxNameScan   = 1000
)

// ArchiveExtractor decodes Unix ar archives: the member directory and the
// legacy "/" / "__.SYMDEF" symbol index.
type ArchiveExtractor struct{}

// NewArchiveExtractor creates an archive extractor.
func NewArchiveExtractor() *ArchiveExtractor {
	return &ArchiveExtractor{}
}

// FormatName returns the format handled by this extractor.
func (e *ArchiveExtractor) FormatName() string { return string(FormatArchive) }

// arMember is one archive member with its payload location resolved.
type arMember struct {
	name   string
	offset uint64 // payload offset within the archive
	size   uint64
}

// openArchive validates the global header and walks the 60-byte member
// headers. Members are 2-byte aligned; a header that does not parse ends
// the walk rather than failing the archive.
func openArchive(path string) (*reader, []arMember, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if len(data) < len(arMagic) || string(data[:len(arMagic)]) != arMagic {
		return nil, nil, fmt.Errorf("%s: not an ar archive: %w", path, ErrMalformed)
	}

	r := newReader(data, binary.LittleEndian)
	var members []arMember
	off := uint64(len(arMagic))
	for {
		hdr, ok := r.bytes(off, 60)
		if !ok {
			break
		}
		name := strings.TrimRight(string(hdr[0:16]), " ")
		sizeStr := strings.TrimRight(string(hdr[48:58]), " ")
		size, err := strconv.ParseUint(sizeStr, 10, 64)
		if err != nil || size > arMaxMemberSize {
			break
		}
		if !r.in(off+60, size) {
			break
		}
		members = append(members, arMember{name: name, offset: off + 60, size: size})
		off += 60 + size
		if off%2 != 0 {
			off++
		}
	}
	return r, members, nil
}

// ExtractMembers lists the archive's object members in directory order.
// The symbol-index and extended-name pseudo members ("/", "//", "__.SYMDEF")
// are bookkeeping, not contents, and are skipped.
func (e *ArchiveExtractor) ExtractMembers(path string) ([]string, error) {
	_, members, err := openArchive(path)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, m := range members {
		if isSymbolIndex(m.name) || m.name == "//" {
			continue
		}
		names = append(names, strings.TrimSuffix(m.name, "/"))
	}
	return names, nil
}

func isSymbolIndex(name string) bool {
	return name == "/" || name == "__.SYMDEF" || name == "__.SYMDEF SORTED"
}

// ExtractSymbols decodes the archive's symbol index when one is present.
// The index layout is a native-endian symbol count, the string-table byte
// size, that many string-table offsets, then the NUL-terminated string table
// itself. A count or table size that fails the sanity ceilings yields an
// empty result.
func (e *ArchiveExtractor) ExtractSymbols(path string) ([]SymbolRecord, error) {
	r, members, err := openArchive(path)
	if err != nil {
		return nil, err
	}

	var idx *arMember
	for i := range members {
		if isSymbolIndex(members[i].name) {
			idx = &members[i]
			break
		}
	}
	if idx == nil {
		return nil, nil
	}

	count, ok := r.u32(idx.offset)
	if !ok || count == 0 || count > arMaxSymbols {
		return nil, nil
	}
	strTableSize, ok := r.u32(idx.offset + 4)
	if !ok || uint64(strTableSize) > idx.size {
		return nil, nil
	}
	tableStart := idx.offset + 8 + uint64(count)*4
	if tableStart+uint64(strTableSize) > idx.offset+idx.size {
		return nil, nil
	}
	tableSize := uint64(strTableSize)

	var symbols []SymbolRecord
	for i := uint64(0); i < uint64(count); i++ {
		strOff, ok := r.u32(idx.offset + 8 + i*4)
		if !ok || uint64(strOff) >= tableSize {
			break
		}
		max := tableSize - uint64(strOff)
		if max > arMaxNameScan {
			max = arMaxNameScan
		}
		name, ok := r.cstring(tableStart+uint64(strOff), max)
		if !ok || name == "" {
			continue
		}
		symbols = append(symbols, SymbolRecord{
			Name:    name,
			Address: uint64(strOff),
			Defined: true,
			Global:  true,
			Section: SectionUnknown,
		})
	}
	return symbols, nil
}

// ExtractSections represents each object member as a pseudo section so that
// archives participate in the common section view. Type is always
// "archive_member"; Address carries the member's payload offset.
func (e *ArchiveExtractor) ExtractSections(path string) ([]SectionRecord, error) {
	_, members, err := openArchive(path)
	if err != nil {
		return nil, err
	}

	var sections []SectionRecord
	for _, m := range members {
		if isSymbolIndex(m.name) || m.name == "//" {
			continue
		}
		sections = append(sections, SectionRecord{
			Name:    strings.TrimSuffix(m.name, "/"),
			Address: m.offset,
			Size:    m.size,
			Type:    "archive_member",
		})
	}
	return sections, nil
}
