package binfmt

// Reserved section labels used when a symbol does not resolve to a named section.
const (
	SectionUndefined = "UNDEF"
	SectionAbsolute  = "ABS"
	SectionCommon    = "COMMON"
	SectionUnknown   = "UNKNOWN"
)

// SymbolRecord describes one symbol-table entry. Records are immutable once
// returned; a record is only appended after every field has been read and
// validated against the underlying buffer.
type SymbolRecord struct {
	Name    string `json:"name"`
	Address uint64 `json:"address"`
	Size    uint64 `json:"size"`
	Defined bool   `json:"is_defined"`
	Global  bool   `json:"is_global"`
	Weak    bool   `json:"is_weak"`
	Section string `json:"section"`
}

// SectionRecord describes one section. For Mach-O sections Type holds the
// owning segment name; for archives it is "archive_member".
type SectionRecord struct {
	Name    string `json:"name"`
	Address uint64 `json:"address"`
	Size    uint64 `json:"size"`
	Type    string `json:"type"`
	Flags   uint64 `json:"flags"`
}

// ArchitectureRecord describes one Mach-O architecture slice. A thin binary
// yields a single synthetic record covering the whole file.
type ArchitectureRecord struct {
	Name       string `json:"name"`
	CPUType    uint32 `json:"cpu_type"`
	CPUSubtype uint32 `json:"cpu_subtype"`
	Offset     uint64 `json:"offset"`
	Size       uint64 `json:"size"`
	Align      uint32 `json:"align"`
}

// BuildConfig carries the Mach-O build platform and version targets decoded
// from LC_BUILD_VERSION or the legacy LC_VERSION_MIN_* commands.
type BuildConfig struct {
	TargetPlatform string `json:"target_platform"`
	MinOSVersion   string `json:"min_os_version,omitempty"`
	SDKVersion     string `json:"sdk_version,omitempty"`
}

// CodeSignInfo holds coarse code-signing indicators. These are inferred from
// the presence of a signature load command and a header flag bit, not from
// cryptographic validation.
type CodeSignInfo struct {
	AdHocSigned     bool `json:"is_ad_hoc_signed"`
	HardenedRuntime bool `json:"is_hardened_runtime"`
}

// ComponentRecord aggregates everything extracted from a single file. It is
// created per input path, populated by exactly one extractor family, and
// handed to the caller; the engine keeps no reference afterward.
type ComponentRecord struct {
	Path   string `json:"path"`
	Format Format `json:"format"`

	Symbols      []SymbolRecord  `json:"symbols,omitempty"`
	Sections     []SectionRecord `json:"sections,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`

	// Mach-O specific.
	Architectures []ArchitectureRecord `json:"architectures,omitempty"`
	Frameworks    []string             `json:"frameworks,omitempty"`
	UUID          string               `json:"uuid,omitempty"`
	Version       string               `json:"version,omitempty"`
	BuildConfig   *BuildConfig         `json:"build_config,omitempty"`
	CodeSign      *CodeSignInfo        `json:"code_sign,omitempty"`

	// ELF specific.
	BuildID string `json:"build_id,omitempty"`

	// Archive specific.
	Members []string `json:"members,omitempty"`
}
