package binfmt

import (
	"encoding/binary"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Mach-O load commands and header constants, from <mach-o/loader.h>.
const (
	lcReqDyld = 0x80000000

	lcSegment          = 0x1
	lcSymtab           = 0x2
	lcLoadDylib        = 0xc
	lcIDDylib          = 0xd
	lcLoadWeakDylib    = 0x18 | lcReqDyld
	lcSegment64        = 0x19
	lcUUID             = 0x1b
	lcCodeSignature    = 0x1d
	lcReexportDylib    = 0x1f | lcReqDyld
	lcLazyLoadDylib    = 0x20
	lcVersionMinMacOSX = 0x24
	lcVersionMinIOS    = 0x25
	lcSourceVersion    = 0x2a
	lcBuildVersion     = 0x32

	nStab = 0xe0
	nType = 0x0e
	nUndf = 0x00
	nExt  = 0x01

	mhHardenedRuntime = 0x00800000

	platformMacOS   = 1
	platformIOS     = 2
	platformTvOS    = 3
	platformWatchOS = 4

	cpuArch64     = 0x01000000
	cpuTypeX86    = 7
	cpuTypeX86_64 = cpuTypeX86 | cpuArch64
	cpuTypeArm    = 12
	cpuTypeArm64  = cpuTypeArm | cpuArch64
	cpuTypePPC    = 18
	cpuTypePPC64  = cpuTypePPC | cpuArch64
)

// MachOExtractor decodes thin and universal (fat) Mach-O binaries. For fat
// binaries every method except ExtractArchitectures operates on the first
// architecture slice only; this mirrors the upstream behavior and is a
// documented limitation, not a bug.
type MachOExtractor struct{}

// NewMachOExtractor creates a Mach-O extractor.
func NewMachOExtractor() *MachOExtractor {
	return &MachOExtractor{}
}

// FormatName returns the format handled by this extractor.
func (e *MachOExtractor) FormatName() string { return string(FormatMachO) }

// machoImage is one thin Mach-O image: either the whole file or the first
// slice of a fat binary, with the header already decoded.
type machoImage struct {
	r          *reader
	is64       bool
	cpuType    uint32
	cpuSubtype uint32
	ncmds      uint32
	flags      uint32
}

func (img *machoImage) headerSize() uint64 {
	if img.is64 {
		return 32
	}
	return 28
}

// openMachO maps the file and positions a reader at the first thin image,
// stepping through the big-endian fat header when present.
func openMachO(path string) (*machoImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := newReader(data, binary.BigEndian)

	magic, ok := r.u32(0)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrTruncated)
	}
	if magic == fatMagic || magic == fatCigam {
		order := binary.ByteOrder(binary.BigEndian)
		if magic == fatCigam {
			order = binary.LittleEndian
		}
		fr := newReader(data, order)
		nfat, ok := fr.u32(4)
		if !ok || nfat == 0 {
			return nil, fmt.Errorf("%s: empty fat header: %w", path, ErrMalformed)
		}
		// First fat_arch entry starts right after the 8-byte fat header.
		off, ok1 := fr.u32(8 + 8)
		size, ok2 := fr.u32(8 + 12)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%s: %w", path, ErrTruncated)
		}
		slice, ok := r.bytes(uint64(off), uint64(size))
		if !ok {
			return nil, fmt.Errorf("%s: fat slice out of range: %w", path, ErrMalformed)
		}
		data = slice
	}
	return openThinMachO(path, data)
}

func openThinMachO(path string, data []byte) (*machoImage, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%s: %w", path, ErrTruncated)
	}
	var order binary.ByteOrder
	var is64 bool
	switch binary.LittleEndian.Uint32(data) {
	case machMagic32:
		order = binary.LittleEndian
	case machMagic64:
		order, is64 = binary.LittleEndian, true
	case machCigam32:
		order = binary.BigEndian
	case machCigam64:
		order, is64 = binary.BigEndian, true
	default:
		return nil, fmt.Errorf("%s: not a Mach-O image: %w", path, ErrMalformed)
	}

	img := &machoImage{r: newReader(data, order), is64: is64}
	var ok bool
	img.cpuType, _ = img.r.u32(4)
	img.cpuSubtype, _ = img.r.u32(8)
	img.ncmds, _ = img.r.u32(16)
	img.flags, ok = img.r.u32(24)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrTruncated)
	}
	return img, nil
}

// eachCommand iterates the load-command stream, handing fn the command tag
// and a reader scoped to the command's own bytes. Unrecognized commands are
// skipped by advancing cmdsize; a command that does not fit in the remaining
// buffer ends the walk. fn returns false to stop early.
func (img *machoImage) eachCommand(fn func(cmd uint32, body *reader) bool) {
	off := img.headerSize()
	for i := uint32(0); i < img.ncmds; i++ {
		cmd, ok1 := img.r.u32(off)
		size, ok2 := img.r.u32(off + 4)
		if !ok1 || !ok2 || size < 8 {
			return
		}
		body, ok := img.r.sub(off, uint64(size))
		if !ok {
			return
		}
		if !fn(cmd, body) {
			return
		}
		off += uint64(size)
	}
}

// ExtractSymbols decodes the LC_SYMTAB nlist entries of the primary image.
// Mach-O symbols carry no size; leading underscores are stripped from names
// the way the upstream tooling reports them.
func (e *MachOExtractor) ExtractSymbols(path string) ([]SymbolRecord, error) {
	img, err := openMachO(path)
	if err != nil {
		return nil, err
	}

	var symbols []SymbolRecord
	img.eachCommand(func(cmd uint32, body *reader) bool {
		if cmd != lcSymtab {
			return true
		}
		symoff, _ := body.u32(8)
		nsyms, _ := body.u32(12)
		stroff, _ := body.u32(16)
		strsize, ok := body.u32(20)
		if !ok {
			return false
		}
		strtab, _ := img.r.sub(uint64(stroff), uint64(strsize))

		entSize := uint64(12)
		if img.is64 {
			entSize = 16
		}
		for j := uint64(0); j < uint64(nsyms); j++ {
			off := uint64(symoff) + j*entSize
			strx, ok1 := img.r.u32(off)
			typ, ok2 := img.r.u8(off + 4)
			sect, ok3 := img.r.u8(off + 5)
			if !ok1 || !ok2 || !ok3 {
				break
			}
			var value uint64
			var ok bool
			if img.is64 {
				value, ok = img.r.u64(off + 8)
			} else {
				var v32 uint32
				v32, ok = img.r.u32(off + 8)
				value = uint64(v32)
			}
			if !ok {
				break
			}

			name := "<badstrx>"
			if strtab != nil {
				if s, ok := strtab.cstring(uint64(strx), 0); ok {
					name = strings.TrimPrefix(s, "_")
				}
			}

			symbols = append(symbols, SymbolRecord{
				Name:    name,
				Address: value,
				Defined: typ&nStab == 0 && typ&nType != nUndf,
				Global:  typ&nExt != 0,
				Section: strconv.Itoa(int(sect)),
			})
		}
		return false // Mach-O has one LC_SYMTAB
	})
	return symbols, nil
}

// ExtractSections emits one record per section of every LC_SEGMENT /
// LC_SEGMENT_64 command; Type carries the owning segment name.
func (e *MachOExtractor) ExtractSections(path string) ([]SectionRecord, error) {
	img, err := openMachO(path)
	if err != nil {
		return nil, err
	}

	var sections []SectionRecord
	img.eachCommand(func(cmd uint32, body *reader) bool {
		if cmd != lcSegment && cmd != lcSegment64 {
			return true
		}
		segName, _ := body.cstring(8, 16)

		var nsectsOff, sectStart, sectSize uint64
		if cmd == lcSegment64 {
			nsectsOff, sectStart, sectSize = 64, 72, 80
		} else {
			nsectsOff, sectStart, sectSize = 48, 56, 68
		}
		nsects, ok := body.u32(nsectsOff)
		if !ok {
			return true
		}
		for j := uint64(0); j < uint64(nsects); j++ {
			off := sectStart + j*sectSize
			name, ok := body.cstring(off, 16)
			if !ok {
				break
			}
			var addr, size uint64
			var flags uint32
			if cmd == lcSegment64 {
				addr, _ = body.u64(off + 32)
				size, _ = body.u64(off + 40)
				flags, ok = body.u32(off + 64)
			} else {
				var v32 uint32
				v32, _ = body.u32(off + 32)
				addr = uint64(v32)
				v32, _ = body.u32(off + 36)
				size = uint64(v32)
				flags, ok = body.u32(off + 56)
			}
			if !ok {
				break
			}
			sections = append(sections, SectionRecord{
				Name:    name,
				Address: addr,
				Size:    size,
				Type:    segName,
				Flags:   uint64(flags),
			})
		}
		return true
	})
	return sections, nil
}

// ExtractDependencies returns the linked-library install names of the primary
// image in load-command order, duplicates preserved, together with the subset
// that refers to frameworks.
func (e *MachOExtractor) ExtractDependencies(path string) (deps, frameworks []string, err error) {
	img, err := openMachO(path)
	if err != nil {
		return nil, nil, err
	}

	img.eachCommand(func(cmd uint32, body *reader) bool {
		switch cmd {
		case lcLoadDylib, lcLoadWeakDylib, lcReexportDylib, lcLazyLoadDylib:
			nameOff, ok := body.u32(8)
			if !ok {
				return true
			}
			name, ok := body.cstring(uint64(nameOff), 0)
			if !ok || name == "" {
				return true
			}
			deps = append(deps, name)
			if strings.Contains(name, ".framework") {
				frameworks = append(frameworks, name)
			}
		}
		return true
	})
	return deps, frameworks, nil
}

// ExtractUUID returns the LC_UUID bytes formatted as an uppercase
// 8-4-4-4-12 UUID string, or "" when the command is absent.
func (e *MachOExtractor) ExtractUUID(path string) (string, error) {
	img, err := openMachO(path)
	if err != nil {
		return "", err
	}

	var uuid string
	img.eachCommand(func(cmd uint32, body *reader) bool {
		if cmd != lcUUID {
			return true
		}
		b, ok := body.bytes(8, 16)
		if !ok {
			return false
		}
		uuid = fmt.Sprintf("%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X",
			b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7],
			b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15])
		return false
	})
	return uuid, nil
}

// machoVersions holds the version-bearing load-command values of one image.
type machoVersions struct {
	sourceVersion string // LC_SOURCE_VERSION
	dylibVersion  string // LC_ID_DYLIB current_version
}

func (e *MachOExtractor) extractVersions(path string) (machoVersions, error) {
	var v machoVersions
	img, err := openMachO(path)
	if err != nil {
		return v, err
	}

	img.eachCommand(func(cmd uint32, body *reader) bool {
		switch cmd {
		case lcSourceVersion:
			if packed, ok := body.u64(8); ok {
				v.sourceVersion = decodeSourceVersion(packed)
			}
		case lcIDDylib:
			if packed, ok := body.u32(16); ok {
				v.dylibVersion = decodeDylibVersion(packed)
			}
		}
		return true
	})
	return v, nil
}

// ExtractVersion resolves the binary's version with the fixed priority
// LC_SOURCE_VERSION > LC_ID_DYLIB > a version mined from symbol names.
// The ordering disambiguates binaries carrying more than one version-bearing
// load command and must not be reordered.
func (e *MachOExtractor) ExtractVersion(path string) (string, error) {
	v, err := e.extractVersions(path)
	if err != nil {
		return "", err
	}
	if v.sourceVersion != "" {
		return v.sourceVersion, nil
	}
	if v.dylibVersion != "" {
		return v.dylibVersion, nil
	}
	symbols, err := e.ExtractSymbols(path)
	if err != nil {
		return "", err
	}
	return MineVersionFromSymbols(symbols), nil
}

// decodeDylibVersion unpacks the 32-bit major.minor.patch layout
// (major<<16 | minor<<8 | patch) used by dylib and version-min commands.
func decodeDylibVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>16, (v>>8)&0xff, v&0xff)
}

// decodeSourceVersion unpacks the 64-bit a.b.c.d.e source version:
// ten bits for each of b..e, the remaining high bits for a.
func decodeSourceVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d.%d.%d",
		v>>40, (v>>30)&0x3ff, (v>>20)&0x3ff, (v>>10)&0x3ff, v&0x3ff)
}

var symbolVersionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`version[_\s]*(\d+\.\d+\.\d+)`),
	regexp.MustCompile(`v[_\s]*(\d+\.\d+\.\d+)`),
	regexp.MustCompile(`ver[_\s]*(\d+\.\d+\.\d+)`),
	regexp.MustCompile(`lib[_\s]*(\d+\.\d+\.\d+)`),
	regexp.MustCompile(`(\d+\.\d+\.\d+)`),
	regexp.MustCompile(`(\d+\.\d+)`),
}

// MineVersionFromSymbols scans symbol names for an embedded dotted version.
// This is the lowest-priority version source and purely heuristic.
func MineVersionFromSymbols(symbols []SymbolRecord) string {
	for _, sym := range symbols {
		name := strings.ToLower(sym.Name)
		for _, pat := range symbolVersionPatterns {
			if m := pat.FindStringSubmatch(name); m != nil {
				return m[1]
			}
		}
	}
	return ""
}

// ExtractBuildConfig decodes LC_BUILD_VERSION or, failing that, the legacy
// LC_VERSION_MIN_MACOSX / LC_VERSION_MIN_IPHONEOS commands (which carry no
// SDK version). Returns (nil, nil) when neither is present.
func (e *MachOExtractor) ExtractBuildConfig(path string) (*BuildConfig, error) {
	img, err := openMachO(path)
	if err != nil {
		return nil, err
	}

	var cfg *BuildConfig
	img.eachCommand(func(cmd uint32, body *reader) bool {
		switch cmd {
		case lcBuildVersion:
			platform, ok1 := body.u32(8)
			minos, ok2 := body.u32(12)
			sdk, ok3 := body.u32(16)
			if !ok1 || !ok2 || !ok3 {
				return true
			}
			cfg = &BuildConfig{
				TargetPlatform: platformName(platform),
				MinOSVersion:   decodeDylibVersion(minos),
				SDKVersion:     decodeDylibVersion(sdk),
			}
			return false
		case lcVersionMinMacOSX, lcVersionMinIOS:
			minos, ok := body.u32(8)
			if !ok {
				return true
			}
			platform := "macos"
			if cmd == lcVersionMinIOS {
				platform = "ios"
			}
			cfg = &BuildConfig{
				TargetPlatform: platform,
				MinOSVersion:   decodeDylibVersion(minos),
			}
			// Keep walking: a build-version command, when present, wins.
			return true
		}
		return true
	})
	return cfg, nil
}

func platformName(platform uint32) string {
	switch platform {
	case platformMacOS:
		return "macos"
	case platformIOS:
		return "ios"
	case platformTvOS:
		return "tvos"
	case platformWatchOS:
		return "watchos"
	default:
		return "unknown"
	}
}

// ExtractCodeSign reports coarse code-signing state: the presence of an
// LC_CODE_SIGNATURE command and the hardened-runtime header flag bit.
func (e *MachOExtractor) ExtractCodeSign(path string) (*CodeSignInfo, error) {
	img, err := openMachO(path)
	if err != nil {
		return nil, err
	}

	info := &CodeSignInfo{
		HardenedRuntime: img.flags&mhHardenedRuntime != 0,
	}
	img.eachCommand(func(cmd uint32, body *reader) bool {
		if cmd == lcCodeSignature {
			info.AdHocSigned = true
			return false
		}
		return true
	})
	return info, nil
}

// ExtractArchitectures enumerates every slice of a fat binary, or returns a
// single synthetic record for a thin one. This is the only method that looks
// at all slices.
func (e *MachOExtractor) ExtractArchitectures(path string) ([]ArchitectureRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%s: %w", path, ErrTruncated)
	}

	magic := binary.BigEndian.Uint32(data)
	if magic != fatMagic && magic != fatCigam {
		img, err := openThinMachO(path, data)
		if err != nil {
			return nil, err
		}
		return []ArchitectureRecord{{
			Name:       ArchName(img.cpuType),
			CPUType:    img.cpuType,
			CPUSubtype: img.cpuSubtype,
			Size:       uint64(len(data)),
		}}, nil
	}

	order := binary.ByteOrder(binary.BigEndian)
	if magic == fatCigam {
		order = binary.LittleEndian
	}
	r := newReader(data, order)
	nfat, ok := r.u32(4)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrTruncated)
	}

	var archs []ArchitectureRecord
	for i := uint64(0); i < uint64(nfat); i++ {
		off := 8 + i*20
		cpuType, ok1 := r.u32(off)
		cpuSubtype, ok2 := r.u32(off + 4)
		sliceOff, ok3 := r.u32(off + 8)
		sliceSize, ok4 := r.u32(off + 12)
		align, ok5 := r.u32(off + 16)
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
			break
		}
		archs = append(archs, ArchitectureRecord{
			Name:       ArchName(cpuType),
			CPUType:    cpuType,
			CPUSubtype: cpuSubtype,
			Offset:     uint64(sliceOff),
			Size:       uint64(sliceSize),
			Align:      align,
		})
	}
	return archs, nil
}

// ArchName maps a Mach-O CPU type to its canonical architecture string.
func ArchName(cpuType uint32) string {
	switch cpuType {
	case cpuTypeX86:
		return "i386"
	case cpuTypeX86_64:
		return "x86_64"
	case cpuTypeArm:
		return "arm"
	case cpuTypeArm64:
		return "arm64"
	case cpuTypePPC:
		return "ppc"
	case cpuTypePPC64:
		return "ppc64"
	default:
		return "unknown"
	}
}
