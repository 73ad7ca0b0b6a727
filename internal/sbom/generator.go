package sbom

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Heimdall-SBOM/heimdall-sub000/internal/binfmt"
)

// Generator implements the SBOMGenerator interface
type Generator struct {
	extractor ComponentExtractor
}

// NewGenerator creates a new SBOM generator
func NewGenerator() *Generator {
	return &Generator{
		extractor: NewBinaryComponentExtractor(binfmt.NewOrchestrator(binfmt.Config{})),
	}
}

// NewGeneratorWithExtractor creates a new SBOM generator with a custom extractor
func NewGeneratorWithExtractor(extractor ComponentExtractor) *Generator {
	return &Generator{
		extractor: extractor,
	}
}

// RecordComponentExtractor is implemented by extractors that can convert an
// already-extracted record without re-reading the binary.
type RecordComponentExtractor interface {
	ComponentsFromRecord(record *binfmt.ComponentRecord) ([]Component, error)
}

// Generate creates an SBOM from a binary file
func (g *Generator) Generate(binaryPath string, format SBOMFormat) (*SBOM, error) {
	// Validate input
	if _, err := os.Stat(binaryPath); err != nil {
		return nil, fmt.Errorf("binary file not found: %w", err)
	}
	
	// Create new SBOM
	sbom := NewSBOM(format)
	sbom.SetVersion()
	
	// Set target information
	err := g.setTargetInfo(sbom, binaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to set target info: %w", err)
	}
	
	// Extract components
	components, err := g.extractor.ExtractComponents(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to extract components: %w", err)
	}
	
	// Add components to SBOM
	for _, component := range components {
		sbom.AddComponent(component)
	}
	
	// Set serial number for uniqueness
	sbom.Metadata.SerialNumber = g.generateSerialNumber()
	
	// Validate the generated SBOM
	validation := sbom.Validate()
	if !validation.Valid {
		return nil, fmt.Errorf("generated SBOM is invalid: %v", validation.Errors)
	}
	
	return sbom, nil
}

// GenerateFromRecord creates an SBOM from an extraction record produced
// earlier, reusing the record instead of extracting the binary a second time.
func (g *Generator) GenerateFromRecord(record *binfmt.ComponentRecord, format SBOMFormat) (*SBOM, error) {
	if record == nil {
		return nil, fmt.Errorf("nil extraction record")
	}
	if _, err := os.Stat(record.Path); err != nil {
		return nil, fmt.Errorf("binary file not found: %w", err)
	}

	sbom := NewSBOM(format)
	sbom.SetVersion()

	if err := g.setTargetInfoFromRecord(sbom, record); err != nil {
		return nil, fmt.Errorf("failed to set target info: %w", err)
	}

	var components []Component
	var err error
	if re, ok := g.extractor.(RecordComponentExtractor); ok {
		components, err = re.ComponentsFromRecord(record)
	} else {
		components, err = g.extractor.ExtractComponents(record.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to extract components: %w", err)
	}
	for _, component := range components {
		sbom.AddComponent(component)
	}

	sbom.Metadata.SerialNumber = g.generateSerialNumber()

	validation := sbom.Validate()
	if !validation.Valid {
		return nil, fmt.Errorf("generated SBOM is invalid: %v", validation.Errors)
	}

	return sbom, nil
}

// WriteToFile writes an SBOM to a file
func (g *Generator) WriteToFile(sbom *SBOM, outputPath string) error {
	// Create output directory if it doesn't exist
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	
	// Generate format-specific output
	var data []byte
	var err error
	
	switch sbom.Format {
	case CycloneDX:
		data, err = g.generateCycloneDXJSON(sbom)
	case SPDX:
		data, err = g.generateSPDXJSON(sbom)
	default:
		return fmt.Errorf("unsupported SBOM format: %s", sbom.Format)
	}
	
	if err != nil {
		return fmt.Errorf("failed to generate %s output: %w", sbom.Format, err)
	}
	
	// Write to file
	err = os.WriteFile(outputPath, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write SBOM file: %w", err)
	}
	
	return nil
}

// GetSupportedFormats returns the SBOM formats this generator supports
func (g *Generator) GetSupportedFormats() []SBOMFormat {
	return []SBOMFormat{CycloneDX, SPDX}
}

// setTargetInfo sets the target information in the SBOM metadata
func (g *Generator) setTargetInfo(sbom *SBOM, binaryPath string) error {
	// Get file info
	fileInfo, err := os.Stat(binaryPath)
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}
	
	// Calculate file hash
	hash, err := g.calculateFileHash(binaryPath)
	if err != nil {
		return fmt.Errorf("failed to calculate file hash: %w", err)
	}
	
	// Get binary format info (basic detection)
	format, architecture, err := g.detectBinaryInfo(binaryPath)
	if err != nil {
		// Don't fail on detection error, just use unknown values
		format = "unknown"
		architecture = "unknown"
	}
	
	// Set target info
	hashes := map[string]string{
		"sha256": hash,
	}
	
	sbom.SetTarget(
		filepath.Base(binaryPath),
		binaryPath,
		fileInfo.Size(),
		hashes,
		architecture,
		format,
	)
	
	return nil
}

// setTargetInfoFromRecord fills the target from the record, reading the file
// only for its size and hash.
func (g *Generator) setTargetInfoFromRecord(sbom *SBOM, record *binfmt.ComponentRecord) error {
	fileInfo, err := os.Stat(record.Path)
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	hash, err := g.calculateFileHash(record.Path)
	if err != nil {
		return fmt.Errorf("failed to calculate file hash: %w", err)
	}

	architecture := "unknown"
	if len(record.Architectures) > 0 {
		names := make([]string, len(record.Architectures))
		for i, a := range record.Architectures {
			names[i] = a.Name
		}
		architecture = strings.Join(names, ",")
	} else if record.Format == binfmt.FormatELF {
		// The record carries no architecture for ELF; peek at the header.
		if _, arch, err := g.detectBinaryInfo(record.Path); err == nil {
			architecture = arch
		}
	}

	sbom.SetTarget(
		filepath.Base(record.Path),
		record.Path,
		fileInfo.Size(),
		map[string]string{"sha256": hash},
		architecture,
		string(record.Format),
	)

	return nil
}

// generateSerialNumber generates a unique serial number for the SBOM
func (g *Generator) generateSerialNumber() string {
	return "urn:uuid:" + uuid.New().String()
}

// calculateFileHash calculates SHA256 hash of a file
func (g *Generator) calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	
	hasher := sha256.New()
	_, err = io.Copy(hasher, file)
	if err != nil {
		return "", err
	}
	
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// detectBinaryInfo performs basic binary format and architecture detection
func (g *Generator) detectBinaryInfo(binaryPath string) (format, architecture string, err error) {
	detected := binfmt.NewSniffer().Classify(binaryPath)
	format = string(detected)
	architecture = "unknown"

	file, err := os.Open(binaryPath)
	if err != nil {
		return format, architecture, err
	}
	defer file.Close()

	header := make([]byte, 20)
	if _, err := file.ReadAt(header, 0); err != nil {
		return format, architecture, nil
	}

	switch detected {
	case binfmt.FormatELF:
		// ELF machine type, always at offset 18
		machine := binary.LittleEndian.Uint16(header[18:])
		if header[5] == 2 { // big-endian ELF
			machine = binary.BigEndian.Uint16(header[18:])
		}
		switch machine {
		case 0x3e:
			architecture = "x86_64"
		case 0x03:
			architecture = "i386"
		case 0x28:
			architecture = "arm"
		case 0xb7:
			architecture = "aarch64"
		}
	case binfmt.FormatMachO:
		archs, err := binfmt.NewMachOExtractor().ExtractArchitectures(binaryPath)
		if err == nil && len(archs) > 0 {
			names := make([]string, len(archs))
			for i, a := range archs {
				names[i] = a.Name
			}
			architecture = strings.Join(names, ",")
		}
	}

	return format, architecture, nil
}

// generateCycloneDXJSON generates CycloneDX JSON format
func (g *Generator) generateCycloneDXJSON(sbom *SBOM) ([]byte, error) {
	cdx := NewCycloneDXGeneratorWithExtractor(g.extractor)

	serial := sbom.Metadata.SerialNumber
	if serial == "" {
		serial = g.generateSerialNumber()
	}

	doc := cdx.Compose(sbom.Components, serial)

	if result := cdx.ValidateSchema(doc); !result.Valid {
		return nil, fmt.Errorf("invalid CycloneDX document: %s", strings.Join(result.Errors, "; "))
	}

	return json.MarshalIndent(doc, "", "  ")
}

// generateSPDXJSON generates SPDX JSON format
func (g *Generator) generateSPDXJSON(sbom *SBOM) ([]byte, error) {
	spdx := NewSPDXGeneratorWithExtractor(g.extractor)

	doc := spdx.Compose(sbom.Components, sbom.Metadata.Target.Path)

	if result := spdx.ValidateSchema(doc); !result.Valid {
		return nil, fmt.Errorf("invalid SPDX document: %s", strings.Join(result.Errors, "; "))
	}

	return json.MarshalIndent(doc, "", "  ")
}