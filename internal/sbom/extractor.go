package sbom

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Heimdall-SBOM/heimdall-sub000/internal/binfmt"
)

// BinaryComponentExtractor extracts components from binary files using the
// format extraction engine
type BinaryComponentExtractor struct {
	orchestrator *binfmt.Orchestrator
}

// NewBinaryComponentExtractor creates a new binary component extractor
func NewBinaryComponentExtractor(orchestrator *binfmt.Orchestrator) *BinaryComponentExtractor {
	return &BinaryComponentExtractor{
		orchestrator: orchestrator,
	}
}

// ExtractComponents extracts components from a binary file
func (e *BinaryComponentExtractor) ExtractComponents(binaryPath string) ([]Component, error) {
	record, err := e.orchestrator.Extract(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze binary: %w", err)
	}
	return e.ComponentsFromRecord(record)
}

// ComponentsFromRecord converts an extraction record produced earlier into
// components. The binary is only reopened to hash it for the main component.
func (e *BinaryComponentExtractor) ComponentsFromRecord(record *binfmt.ComponentRecord) ([]Component, error) {
	var components []Component

	// Create the main application component
	mainComponent, err := e.createMainComponent(record.Path, record)
	if err != nil {
		return nil, fmt.Errorf("failed to create main component: %w", err)
	}
	components = append(components, mainComponent)

	// Extract dependency components
	components = append(components, e.extractDependencyComponents(record)...)

	// Extract framework components (Mach-O)
	components = append(components, e.extractFrameworkComponents(record)...)

	// Extract archive member components
	components = append(components, e.extractMemberComponents(record)...)

	// Extract symbol-based components (libraries identified through symbols)
	components = append(components, e.extractSymbolComponents(record)...)

	return components, nil
}

// GetSupportedFormats returns the binary formats this extractor supports
func (e *BinaryComponentExtractor) GetSupportedFormats() []string {
	return []string{
		string(binfmt.FormatELF),
		string(binfmt.FormatMachO),
		string(binfmt.FormatArchive),
	}
}

// createMainComponent creates the main application component
func (e *BinaryComponentExtractor) createMainComponent(binaryPath string, record *binfmt.ComponentRecord) (Component, error) {
	// Calculate file hash
	hash, err := e.calculateFileHash(binaryPath)
	if err != nil {
		return Component{}, fmt.Errorf("failed to calculate file hash: %w", err)
	}

	fileName := filepath.Base(binaryPath)
	version := record.Version
	if version == "" {
		version = "unknown"
	}
	component := NewComponent(ComponentTypeApplication, fileName, version)
	component.Description = fmt.Sprintf("%s binary", record.Format)
	component.Scope = ScopeRequired
	component.AddHash("sha256", hash)

	// Add properties from binary analysis
	component.AddProperty("binary.format", string(record.Format))
	component.AddProperty("binary.symbol_count", fmt.Sprintf("%d", len(record.Symbols)))
	component.AddProperty("binary.section_count", fmt.Sprintf("%d", len(record.Sections)))
	if record.BuildID != "" {
		component.AddProperty("binary.build_id", record.BuildID)
	}
	if record.UUID != "" {
		component.AddProperty("binary.uuid", record.UUID)
	}
	if len(record.Architectures) > 0 {
		names := make([]string, len(record.Architectures))
		for i, a := range record.Architectures {
			names[i] = a.Name
		}
		component.AddProperty("binary.architectures", strings.Join(names, ","))
	}
	if record.BuildConfig != nil {
		component.AddProperty("binary.target_platform", record.BuildConfig.TargetPlatform)
		if record.BuildConfig.MinOSVersion != "" {
			component.AddProperty("binary.min_os_version", record.BuildConfig.MinOSVersion)
		}
		if record.BuildConfig.SDKVersion != "" {
			component.AddProperty("binary.sdk_version", record.BuildConfig.SDKVersion)
		}
	}
	if record.CodeSign != nil {
		component.AddProperty("binary.signed", fmt.Sprintf("%t", record.CodeSign.AdHocSigned))
		component.AddProperty("binary.hardened_runtime", fmt.Sprintf("%t", record.CodeSign.HardenedRuntime))
	}

	// Add evidence
	component.Evidence = &Evidence{
		Identity: &EvidenceIdentity{
			Field:      "binary_analysis",
			Confidence: 1.0,
			Methods: []EvidenceMethod{
				{
					Technique:  "binary_parsing",
					Confidence: 1.0,
					Value:      string(record.Format),
				},
			},
		},
		Occurrences: []EvidenceOccurrence{
			{
				Location: binaryPath,
			},
		},
	}

	return component, nil
}

// extractDependencyComponents extracts components from binary dependencies
func (e *BinaryComponentExtractor) extractDependencyComponents(record *binfmt.ComponentRecord) []Component {
	var components []Component

	seen := make(map[string]bool)
	for _, dep := range record.Dependencies {
		if seen[dep] {
			continue
		}
		seen[dep] = true

		component := e.createDependencyComponent(dep, record.Format)
		component.AddProperty("dependency.type", "runtime")
		component.AddProperty("dependency.scope", "required")
		component.Evidence = &Evidence{
			Identity: &EvidenceIdentity{
				Field:      "dependency_analysis",
				Confidence: 0.9,
				Methods: []EvidenceMethod{
					{
						Technique:  "dynamic_linking_analysis",
						Confidence: 0.9,
						Value:      dep,
					},
				},
			},
		}

		components = append(components, component)
	}

	return components
}

// createDependencyComponent creates a component for a dependency
func (e *BinaryComponentExtractor) createDependencyComponent(depName string, format binfmt.Format) Component {
	componentType := e.inferComponentType(depName)

	// Extract version if present in dependency name
	name, version := e.parseNameVersion(depName)

	component := NewComponent(componentType, name, version)
	component.Scope = ScopeRequired

	// Add format-specific properties
	switch format {
	case binfmt.FormatELF:
		component.AddProperty("dependency.format", "shared_library")
		if strings.HasPrefix(depName, "lib") && strings.Contains(depName, ".so") {
			component.AddProperty("dependency.type", "shared_object")
		}
	case binfmt.FormatMachO:
		component.AddProperty("dependency.format", "dylib")
		if strings.HasSuffix(depName, ".dylib") {
			component.AddProperty("dependency.type", "dynamic_library")
		}
	}

	return component
}

// extractFrameworkComponents creates a component per linked framework
func (e *BinaryComponentExtractor) extractFrameworkComponents(record *binfmt.ComponentRecord) []Component {
	var components []Component

	seen := make(map[string]bool)
	for _, fw := range record.Frameworks {
		name := frameworkName(fw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		component := NewComponent(ComponentTypeFramework, name, "unknown")
		component.Scope = ScopeRequired
		component.AddProperty("framework.install_path", fw)
		component.Evidence = &Evidence{
			Identity: &EvidenceIdentity{
				Field:      "framework_analysis",
				Confidence: 0.9,
				Methods: []EvidenceMethod{
					{
						Technique:  "load_command_analysis",
						Confidence: 0.9,
						Value:      fw,
					},
				},
			},
		}

		components = append(components, component)
	}

	return components
}

// frameworkName pulls the framework's base name out of its install path,
// e.g. ".../Foundation.framework/Versions/C/Foundation" -> "Foundation".
func frameworkName(installPath string) string {
	for _, part := range strings.Split(installPath, "/") {
		if strings.HasSuffix(part, ".framework") {
			return strings.TrimSuffix(part, ".framework")
		}
	}
	return ""
}

// extractMemberComponents creates a file component per archive member
func (e *BinaryComponentExtractor) extractMemberComponents(record *binfmt.ComponentRecord) []Component {
	var components []Component

	for _, member := range record.Members {
		component := NewComponent(ComponentTypeFile, member, "unknown")
		component.Scope = ScopeRequired
		component.AddProperty("archive.member", "true")
		components = append(components, component)
	}

	return components
}

// extractSymbolComponents extracts components based on symbol analysis
func (e *BinaryComponentExtractor) extractSymbolComponents(record *binfmt.ComponentRecord) []Component {
	var components []Component

	// Group symbols by potential library/framework
	librarySymbols := e.groupSymbolsByLibrary(record.Symbols)

	for library, symbols := range librarySymbols {
		if len(symbols) < 3 { // Only consider libraries with multiple symbols
			continue
		}

		component := NewComponent(ComponentTypeLibrary, library, "unknown")
		component.Scope = ScopeRequired
		component.Description = fmt.Sprintf("Library identified through symbol analysis (%d symbols)", len(symbols))

		component.AddProperty("symbols.count", fmt.Sprintf("%d", len(symbols)))
		component.AddProperty("symbols.detection_method", "symbol_analysis")

		// Add a sample of symbols (limit to avoid huge properties)
		sampleSize := 10
		if len(symbols) < sampleSize {
			sampleSize = len(symbols)
		}
		component.AddProperty("symbols.sample", strings.Join(symbols[:sampleSize], ","))

		component.Evidence = &Evidence{
			Identity: &EvidenceIdentity{
				Field:      "symbol_analysis",
				Confidence: 0.7, // Lower confidence as this is heuristic
				Methods: []EvidenceMethod{
					{
						Technique:  "symbol_pattern_matching",
						Confidence: 0.7,
						Value:      library,
					},
				},
			},
		}

		components = append(components, component)
	}

	return components
}

// inferComponentType infers the component type from the dependency name
func (e *BinaryComponentExtractor) inferComponentType(depName string) ComponentType {
	depLower := strings.ToLower(depName)

	// Check for common frameworks
	frameworks := []string{"qt", "gtk", "wxwidgets", "fltk", "sdl", "opengl", "vulkan"}
	for _, framework := range frameworks {
		if strings.Contains(depLower, framework) {
			return ComponentTypeFramework
		}
	}

	// Check for system libraries
	systemLibs := []string{"libc", "libm", "libpthread", "libdl", "librt", "libsystem"}
	for _, sysLib := range systemLibs {
		if strings.Contains(depLower, sysLib) {
			return ComponentTypeOperatingSystem
		}
	}

	return ComponentTypeLibrary
}

// parseNameVersion attempts to parse name and version from a dependency string
func (e *BinaryComponentExtractor) parseNameVersion(depName string) (name, version string) {
	// Pattern: libname.so.1.2.3
	if strings.Contains(depName, ".so.") {
		parts := strings.Split(depName, ".so.")
		if len(parts) == 2 {
			return parts[0], parts[1]
		}
	}

	// Pattern: libname-1.2.3.dylib
	if strings.Contains(depName, "-") && strings.HasSuffix(depName, ".dylib") {
		parts := strings.Split(depName, "-")
		if len(parts) >= 2 {
			name = strings.Join(parts[:len(parts)-1], "-")
			version = strings.TrimSuffix(parts[len(parts)-1], ".dylib")
			if e.looksLikeVersion(version) {
				return name, version
			}
		}
	}

	// Pattern: name.1.2.3.dylib
	if strings.HasSuffix(depName, ".dylib") {
		withoutExt := strings.TrimSuffix(depName, ".dylib")
		parts := strings.Split(withoutExt, ".")
		if len(parts) > 1 {
			versionParts := []string{}
			nameParts := []string{}

			for i := len(parts) - 1; i >= 0; i-- {
				if e.looksLikeVersionPart(parts[i]) {
					versionParts = append([]string{parts[i]}, versionParts...)
				} else {
					nameParts = parts[:i+1]
					break
				}
			}

			if len(versionParts) > 0 && len(nameParts) > 0 {
				return strings.Join(nameParts, "."), strings.Join(versionParts, ".")
			}
		}
	}

	// No version found, return name as-is
	return depName, "unknown"
}

// looksLikeVersion checks if a string looks like a version number
func (e *BinaryComponentExtractor) looksLikeVersion(s string) bool {
	hasDigit := false
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '-' || r == '_'
	})

	for _, part := range parts {
		partHasDigit := false
		for _, r := range part {
			if r >= '0' && r <= '9' {
				partHasDigit = true
				hasDigit = true
			} else if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') {
				return false
			}
		}
		// Each part should have at least one digit or be a known version suffix
		if !partHasDigit && part != "alpha" && part != "beta" && part != "rc" &&
			part != "a" && part != "b" && part != "c" {
			return false
		}
	}
	return hasDigit
}

// looksLikeVersionPart checks if a string looks like part of a version number
func (e *BinaryComponentExtractor) looksLikeVersionPart(s string) bool {
	hasDigit := false
	for _, r := range s {
		if r >= '0' && r <= '9' {
			hasDigit = true
		} else if r != 'a' && r != 'b' && r != 'r' && r != 'c' { // alpha, beta, rc
			return false
		}
	}
	return hasDigit
}

// groupSymbolsByLibrary groups symbols by potential library based on naming patterns
func (e *BinaryComponentExtractor) groupSymbolsByLibrary(symbols []binfmt.SymbolRecord) map[string][]string {
	librarySymbols := make(map[string][]string)

	for _, symbol := range symbols {
		library := e.inferLibraryFromSymbol(symbol.Name)
		if library != "" {
			librarySymbols[library] = append(librarySymbols[library], symbol.Name)
		}
	}

	return librarySymbols
}

// inferLibraryFromSymbol infers library name from symbol name
func (e *BinaryComponentExtractor) inferLibraryFromSymbol(symbol string) string {
	// Common library prefixes
	prefixes := map[string]string{
		"std::":    "libstdc++",
		"boost::":  "boost",
		"Qt":       "Qt",
		"gtk_":     "GTK",
		"g_":       "GLib",
		"cairo_":   "Cairo",
		"png_":     "libpng",
		"jpeg_":    "libjpeg",
		"ssl_":     "OpenSSL",
		"SSL_":     "OpenSSL",
		"crypto_":  "OpenSSL",
		"curl_":    "libcurl",
		"sqlite3_": "SQLite",
		"xml":      "libxml2",
		"deflate":  "zlib",
		"BZ2_":     "bzip2",
	}

	for prefix, library := range prefixes {
		if strings.HasPrefix(symbol, prefix) {
			return library
		}
	}

	// Check for C++ standard library symbols
	if strings.Contains(symbol, "std::") {
		return "libstdc++"
	}

	// Check for zlib functions that don't have prefixes
	if symbol == "deflate" || symbol == "inflate" || strings.HasPrefix(symbol, "z_") {
		return "zlib"
	}

	// Compiler/runtime symbols, skip
	if strings.HasPrefix(symbol, "__") {
		return ""
	}

	return ""
}

// calculateFileHash calculates SHA256 hash of a file
func (e *BinaryComponentExtractor) calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
