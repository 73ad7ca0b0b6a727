package binfmt

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Builders for synthetic test binaries. Each produces a minimal but
// structurally correct file covering just the features under test.

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// --- ELF ---

type elfTestSection struct {
	name  string
	typ   uint32
	flags uint64
	addr  uint64
	data  []byte
	size  uint64 // overrides len(data) when non-zero (SHT_NOBITS)
	link  uint32
}

// elfBuilder assembles a structurally valid ELF image. The zero value
// produces a little-endian 64-bit file; set class and order for the other
// encodings.
type elfBuilder struct {
	class    byte             // elfClass64 when unset
	order    binary.ByteOrder // little-endian when unset
	sections []elfTestSection
}

// addSection appends a section and returns its header index. Index 0 is the
// mandatory SHT_NULL entry; the name string table is appended by build.
func (b *elfBuilder) addSection(s elfTestSection) uint32 {
	b.sections = append(b.sections, s)
	return uint32(len(b.sections)) // slot 0 is the null section
}

func (b *elfBuilder) build(t *testing.T) []byte {
	t.Helper()

	// Assemble .shstrtab from the section names.
	shstrtab := []byte{0}
	nameOffs := make([]uint32, len(b.sections))
	for i, s := range b.sections {
		nameOffs[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, []byte(s.name)...)
		shstrtab = append(shstrtab, 0)
	}
	shstrOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, []byte(".shstrtab")...)
	shstrtab = append(shstrtab, 0)

	all := append([]elfTestSection{}, b.sections...)
	all = append(all, elfTestSection{name: ".shstrtab", typ: 3, data: shstrtab})
	nameOffs = append(nameOffs, shstrOff)

	shnum := uint16(len(all) + 1) // plus the null section
	shstrndx := uint16(len(all))  // last header

	class := b.class
	if class == 0 {
		class = elfClass64
	}
	order := b.order
	if order == nil {
		order = binary.LittleEndian
	}
	is64 := class == elfClass64

	ehsize, shentsize := 52, 40
	machine := uint16(0x03) // EM_386
	if is64 {
		ehsize, shentsize = 64, 64
		machine = 0x3e // EM_X86_64
	}
	encoding := byte(elfData2LSB)
	if order == binary.ByteOrder(binary.BigEndian) {
		encoding = elfData2MSB
	}

	// ELF header, then section contents, then the header table.
	out := make([]byte, ehsize)
	copy(out, []byte{0x7f, 'E', 'L', 'F', class, encoding, 1})
	order.PutUint16(out[0x10:], 2) // ET_EXEC
	order.PutUint16(out[0x12:], machine)
	order.PutUint32(out[0x14:], 1)

	offsets := make([]uint64, len(all))
	for i, s := range all {
		if s.typ == shtNobits {
			offsets[i] = uint64(len(out))
			continue
		}
		offsets[i] = uint64(len(out))
		out = append(out, s.data...)
	}
	for len(out)%8 != 0 {
		out = append(out, 0)
	}
	shoff := uint64(len(out))

	if is64 {
		order.PutUint64(out[0x28:], shoff)
		order.PutUint16(out[0x34:], uint16(ehsize))
		order.PutUint16(out[0x3a:], uint16(shentsize))
		order.PutUint16(out[0x3c:], shnum)
		order.PutUint16(out[0x3e:], shstrndx)
	} else {
		order.PutUint32(out[0x20:], uint32(shoff))
		order.PutUint16(out[0x28:], uint16(ehsize))
		order.PutUint16(out[0x2e:], uint16(shentsize))
		order.PutUint16(out[0x30:], shnum)
		order.PutUint16(out[0x32:], shstrndx)
	}

	out = append(out, make([]byte, shentsize)...) // null section header
	for i, s := range all {
		hdr := make([]byte, shentsize)
		size := uint64(len(s.data))
		if s.size != 0 {
			size = s.size
		}
		if is64 {
			order.PutUint32(hdr[0:], nameOffs[i])
			order.PutUint32(hdr[4:], s.typ)
			order.PutUint64(hdr[8:], s.flags)
			order.PutUint64(hdr[16:], s.addr)
			order.PutUint64(hdr[24:], offsets[i])
			order.PutUint64(hdr[32:], size)
			order.PutUint32(hdr[40:], s.link)
		} else {
			order.PutUint32(hdr[0:], nameOffs[i])
			order.PutUint32(hdr[4:], s.typ)
			order.PutUint32(hdr[8:], uint32(s.flags))
			order.PutUint32(hdr[12:], uint32(s.addr))
			order.PutUint32(hdr[16:], uint32(offsets[i]))
			order.PutUint32(hdr[20:], uint32(size))
			order.PutUint32(hdr[24:], s.link)
		}
		out = append(out, hdr...)
	}
	return out
}

// elfStrtab builds a string table and returns it with the offset of each name.
func elfStrtab(names ...string) ([]byte, map[string]uint32) {
	table := []byte{0}
	offs := make(map[string]uint32, len(names))
	for _, n := range names {
		offs[n] = uint32(len(table))
		table = append(table, []byte(n)...)
		table = append(table, 0)
	}
	return table, offs
}

func elfSym(order binary.ByteOrder, is64 bool, nameOff uint32, bind, typ byte, shndx uint16, value, size uint64) []byte {
	if is64 {
		b := make([]byte, 24)
		order.PutUint32(b[0:], nameOff)
		b[4] = bind<<4 | typ
		order.PutUint16(b[6:], shndx)
		order.PutUint64(b[8:], value)
		order.PutUint64(b[16:], size)
		return b
	}
	b := make([]byte, 16)
	order.PutUint32(b[0:], nameOff)
	order.PutUint32(b[4:], uint32(value))
	order.PutUint32(b[8:], uint32(size))
	b[12] = bind<<4 | typ
	order.PutUint16(b[14:], shndx)
	return b
}

func elfSym64(nameOff uint32, bind, typ byte, shndx uint16, value, size uint64) []byte {
	return elfSym(binary.LittleEndian, true, nameOff, bind, typ, shndx, value, size)
}

func elfDyn(order binary.ByteOrder, is64 bool, tag, val uint64) []byte {
	if is64 {
		b := make([]byte, 16)
		order.PutUint64(b[0:], tag)
		order.PutUint64(b[8:], val)
		return b
	}
	b := make([]byte, 8)
	order.PutUint32(b[0:], uint32(tag))
	order.PutUint32(b[4:], uint32(val))
	return b
}

func elfDyn64(tag, val uint64) []byte {
	return elfDyn(binary.LittleEndian, true, tag, val)
}

func elfNote(nameSize, descSize, noteType uint32, name, desc []byte) []byte {
	align4 := func(b []byte) []byte {
		for len(b)%4 != 0 {
			b = append(b, 0)
		}
		return b
	}
	out := make([]byte, 12)
	le := binary.LittleEndian
	le.PutUint32(out[0:], nameSize)
	le.PutUint32(out[4:], descSize)
	le.PutUint32(out[8:], noteType)
	out = append(out, align4(name)...)
	out = append(out, align4(desc)...)
	return out
}

// --- Mach-O little-endian ---

type machoBuilder struct {
	cpuType    uint32
	cpuSubtype uint32
	flags      uint32
	is64       bool
	commands   [][]byte
	payload    []byte // symbol/string tables, placed after the commands
}

func newMachoBuilder() *machoBuilder {
	return &machoBuilder{cpuType: cpuTypeX86_64, cpuSubtype: 3, is64: true}
}

func newMachoBuilder32() *machoBuilder {
	return &machoBuilder{cpuType: cpuTypeX86, cpuSubtype: 3}
}

func (b *machoBuilder) headerLen() uint32 {
	if b.is64 {
		return 32
	}
	return 28
}

func (b *machoBuilder) addCommand(cmd []byte) {
	b.commands = append(b.commands, cmd)
}

// payloadOffset returns the file offset the next payload byte will land at,
// assuming no further commands are added.
func (b *machoBuilder) payloadOffset() uint32 {
	off := b.headerLen()
	for _, c := range b.commands {
		off += uint32(len(c))
	}
	return off + uint32(len(b.payload))
}

func (b *machoBuilder) addPayload(data []byte) uint32 {
	off := b.payloadOffset()
	b.payload = append(b.payload, data...)
	return off
}

func (b *machoBuilder) build() []byte {
	le := binary.LittleEndian
	sizeofcmds := 0
	for _, c := range b.commands {
		sizeofcmds += len(c)
	}

	magic := uint32(machMagic64)
	if !b.is64 {
		magic = machMagic32
	}
	out := make([]byte, b.headerLen())
	le.PutUint32(out[0:], magic)
	le.PutUint32(out[4:], b.cpuType)
	le.PutUint32(out[8:], b.cpuSubtype)
	le.PutUint32(out[12:], 2) // MH_EXECUTE
	le.PutUint32(out[16:], uint32(len(b.commands)))
	le.PutUint32(out[20:], uint32(sizeofcmds))
	le.PutUint32(out[24:], b.flags)
	for _, c := range b.commands {
		out = append(out, c...)
	}
	return append(out, b.payload...)
}

func machoCmd(cmd uint32, body []byte) []byte {
	size := 8 + len(body)
	for size%8 != 0 {
		body = append(body, 0)
		size++
	}
	out := make([]byte, 8, size)
	binary.LittleEndian.PutUint32(out[0:], cmd)
	binary.LittleEndian.PutUint32(out[4:], uint32(size))
	return append(out, body...)
}

// machoDylibCmd encodes a dylib load command: name offset 24, then the
// timestamp/current/compat versions, then the NUL-terminated install name.
func machoDylibCmd(cmd uint32, name string, currentVersion uint32) []byte {
	body := make([]byte, 16)
	le := binary.LittleEndian
	le.PutUint32(body[0:], 24) // name offset from command start
	le.PutUint32(body[4:], 0)
	le.PutUint32(body[8:], currentVersion)
	le.PutUint32(body[12:], 0)
	body = append(body, []byte(name)...)
	body = append(body, 0)
	return machoCmd(cmd, body)
}

func machoNlist64(strx uint32, typ, sect byte, value uint64) []byte {
	b := make([]byte, 16)
	le := binary.LittleEndian
	le.PutUint32(b[0:], strx)
	b[4] = typ
	b[5] = sect
	le.PutUint64(b[8:], value)
	return b
}

func machoNlist32(strx uint32, typ, sect byte, value uint32) []byte {
	b := make([]byte, 12)
	le := binary.LittleEndian
	le.PutUint32(b[0:], strx)
	b[4] = typ
	b[5] = sect
	le.PutUint32(b[8:], value)
	return b
}

type machoTestSection struct {
	name  string
	addr  uint64
	size  uint64
	flags uint32
}

// machoSegmentCmd encodes an LC_SEGMENT or LC_SEGMENT_64 command holding the
// given sections. Section file offsets are left zero; the extractors read
// only the header fields.
func machoSegmentCmd(is64 bool, segName string, sections []machoTestSection) []byte {
	le := binary.LittleEndian
	name16 := func(s string) []byte {
		b := make([]byte, 16)
		copy(b, s)
		return b
	}

	var body []byte
	if is64 {
		body = make([]byte, 64)
		copy(body[0:], name16(segName))
		le.PutUint32(body[56:], uint32(len(sections)))
		for _, s := range sections {
			sec := make([]byte, 80)
			copy(sec[0:], name16(s.name))
			copy(sec[16:], name16(segName))
			le.PutUint64(sec[32:], s.addr)
			le.PutUint64(sec[40:], s.size)
			le.PutUint32(sec[64:], s.flags)
			body = append(body, sec...)
		}
	} else {
		body = make([]byte, 48)
		copy(body[0:], name16(segName))
		le.PutUint32(body[40:], uint32(len(sections)))
		for _, s := range sections {
			sec := make([]byte, 68)
			copy(sec[0:], name16(s.name))
			copy(sec[16:], name16(segName))
			le.PutUint32(sec[32:], uint32(s.addr))
			le.PutUint32(sec[36:], uint32(s.size))
			le.PutUint32(sec[56:], s.flags)
			body = append(body, sec...)
		}
	}
	cmd := lcSegment
	if is64 {
		cmd = lcSegment64
	}
	return machoCmd(uint32(cmd), body)
}

// buildFat wraps thin images in a big-endian fat header, 0x1000-aligned.
func buildFat(images ...[]byte) []byte {
	be := binary.BigEndian
	const sliceAlign = 0x1000

	out := make([]byte, 8)
	be.PutUint32(out[0:], fatMagic)
	be.PutUint32(out[4:], uint32(len(images)))

	offset := sliceAlign
	for _, img := range images {
		arch := make([]byte, 20)
		be.PutUint32(arch[0:], binary.LittleEndian.Uint32(img[4:]))  // cputype
		be.PutUint32(arch[4:], binary.LittleEndian.Uint32(img[8:])) // cpusubtype
		be.PutUint32(arch[8:], uint32(offset))
		be.PutUint32(arch[12:], uint32(len(img)))
		be.PutUint32(arch[16:], 12) // 2^12 alignment
		out = append(out, arch...)
		offset += (len(img) + sliceAlign - 1) / sliceAlign * sliceAlign
	}

	offset = sliceAlign
	for _, img := range images {
		out = append(out, make([]byte, offset-len(out))...)
		out = append(out, img...)
		offset += (len(img) + sliceAlign - 1) / sliceAlign * sliceAlign
	}
	return out
}

// --- ar archives ---

func arHeader(name string, size int) []byte {
	hdr := []byte(fmt.Sprintf("%-16s%-12s%-6s%-6s%-8s%-10d`\n", name, "0", "0", "0", "644", size))
	if len(hdr) != 60 {
		panic("bad ar header length")
	}
	return hdr
}

func buildArchive(members ...struct {
	name string
	data []byte
}) []byte {
	out := []byte(arMagic)
	for _, m := range members {
		out = append(out, arHeader(m.name, len(m.data))...)
		out = append(out, m.data...)
		if len(out)%2 != 0 {
			out = append(out, '\n')
		}
	}
	return out
}

type arTestMember = struct {
	name string
	data []byte
}

// arSymbolIndex builds a legacy "/" symbol index: a little-endian count,
// the string-table byte size, count string-table offsets, then the string
// table.
func arSymbolIndex(names ...string) []byte {
	le := binary.LittleEndian
	table := []byte{}
	offs := make([]uint32, len(names))
	for i, n := range names {
		offs[i] = uint32(len(table))
		table = append(table, []byte(n)...)
		table = append(table, 0)
	}
	out := make([]byte, 8)
	le.PutUint32(out, uint32(len(names)))
	le.PutUint32(out[4:], uint32(len(table)))
	for _, o := range offs {
		b := make([]byte, 4)
		le.PutUint32(b, o)
		out = append(out, b...)
	}
	return append(out, table...)
}
