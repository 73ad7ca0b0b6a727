package sbom

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Heimdall-SBOM/heimdall-sub000/internal/binfmt"
)

func TestNewGenerator(t *testing.T) {
	generator := NewGenerator()
	
	if generator == nil {
		t.Error("Expected generator to be created")
	}
	
	if generator.extractor == nil {
		t.Error("Expected extractor to be initialized")
	}
}

func TestNewGeneratorWithExtractor(t *testing.T) {
	mockExtractor := newTestExtractor()
	generator := NewGeneratorWithExtractor(mockExtractor)
	
	if generator == nil {
		t.Error("Expected generator to be created")
	}
	
	if generator.extractor != mockExtractor {
		t.Error("Expected custom extractor to be set")
	}
}

func TestGenerator_GetSupportedFormats(t *testing.T) {
	generator := NewGenerator()
	formats := generator.GetSupportedFormats()
	
	expectedFormats := []SBOMFormat{CycloneDX, SPDX}
	
	if len(formats) != len(expectedFormats) {
		t.Errorf("Expected %d formats, got %d", len(expectedFormats), len(formats))
	}
	
	for i, expected := range expectedFormats {
		if formats[i] != expected {
			t.Errorf("Expected format %s, got %s", expected, formats[i])
		}
	}
}

func TestGenerator_Generate_NonExistentFile(t *testing.T) {
	generator := NewGenerator()
	
	_, err := generator.Generate("/non/existent/file", CycloneDX)
	if err == nil {
		t.Error("Expected error for non-existent file")
	}
}

// recordingExtractor counts which extraction entry point the generator used.
type recordingExtractor struct {
	extractCalls int
	recordCalls  int
}

func (r *recordingExtractor) ExtractComponents(binaryPath string) ([]Component, error) {
	r.extractCalls++
	return []Component{NewComponent(ComponentTypeApplication, filepath.Base(binaryPath), "1.0")}, nil
}

func (r *recordingExtractor) GetSupportedFormats() []string {
	return []string{"ELF"}
}

func (r *recordingExtractor) ComponentsFromRecord(record *binfmt.ComponentRecord) ([]Component, error) {
	r.recordCalls++
	return []Component{NewComponent(ComponentTypeApplication, filepath.Base(record.Path), "1.0")}, nil
}

func TestGenerator_GenerateFromRecord(t *testing.T) {
	testFile := writeMinimalELF(t)
	extractor := &recordingExtractor{}
	generator := NewGeneratorWithExtractor(extractor)

	record := &binfmt.ComponentRecord{Path: testFile, Format: binfmt.FormatELF}
	document, err := generator.GenerateFromRecord(record, CycloneDX)
	if err != nil {
		t.Fatalf("GenerateFromRecord() error = %v", err)
	}

	if extractor.recordCalls != 1 || extractor.extractCalls != 0 {
		t.Errorf("Calls = %d record / %d extract, want the record reused",
			extractor.recordCalls, extractor.extractCalls)
	}
	if document.Metadata.Target.Format != "ELF" {
		t.Errorf("Target format = %q, want ELF", document.Metadata.Target.Format)
	}
	if document.Metadata.Target.Architecture != "x86_64" {
		t.Errorf("Target architecture = %q, want x86_64", document.Metadata.Target.Architecture)
	}
	if len(document.Components) != 1 || document.Components[0].Name != filepath.Base(testFile) {
		t.Errorf("Components = %+v", document.Components)
	}
	if document.Metadata.SerialNumber == "" {
		t.Error("Expected a serial number")
	}
}

func TestGenerator_GenerateFromRecord_MachOArchitectures(t *testing.T) {
	testFile := writeMinimalELF(t)
	generator := NewGeneratorWithExtractor(&recordingExtractor{})

	record := &binfmt.ComponentRecord{
		Path:   testFile,
		Format: binfmt.FormatMachO,
		Architectures: []binfmt.ArchitectureRecord{
			{Name: "x86_64"},
			{Name: "arm64"},
		},
	}
	document, err := generator.GenerateFromRecord(record, CycloneDX)
	if err != nil {
		t.Fatalf("GenerateFromRecord() error = %v", err)
	}
	if document.Metadata.Target.Architecture != "x86_64,arm64" {
		t.Errorf("Target architecture = %q, want x86_64,arm64", document.Metadata.Target.Architecture)
	}
	if document.Metadata.Target.Format != "Mach-O" {
		t.Errorf("Target format = %q, want Mach-O", document.Metadata.Target.Format)
	}
}

func TestGenerator_GenerateFromRecord_NilRecord(t *testing.T) {
	generator := NewGeneratorWithExtractor(&recordingExtractor{})
	if _, err := generator.GenerateFromRecord(nil, CycloneDX); err == nil {
		t.Error("Expected error for nil record")
	}
}

func TestGenerator_Generate_ValidBinary(t *testing.T) {
	testBinary := writeMinimalELF(t)

	generator := NewGenerator()
	sbom, err := generator.Generate(testBinary, CycloneDX)

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if sbom == nil {
		t.Fatal("Expected SBOM to be generated")
	}

	if sbom.Format != CycloneDX {
		t.Errorf("Expected format %s, got %s", CycloneDX, sbom.Format)
	}

	if sbom.Version != "1.5" {
		t.Errorf("Expected version '1.5', got '%s'", sbom.Version)
	}

	if sbom.Metadata.Target.Name != filepath.Base(testBinary) {
		t.Errorf("Expected target name '%s', got '%s'", filepath.Base(testBinary), sbom.Metadata.Target.Name)
	}
	
	if len(sbom.Metadata.Target.Hashes) == 0 {
		t.Error("Expected target to have hashes")
	}
	
	if sbom.Metadata.SerialNumber == "" {
		t.Error("Expected serial number to be generated")
	}
	
	if len(sbom.Components) == 0 {
		t.Error("Expected at least one component")
	}
}

func TestGenerator_WriteToFile_CycloneDX(t *testing.T) {
	tempDir := t.TempDir()
	outputPath := filepath.Join(tempDir, "test-sbom.json")
	
	// Create a test SBOM
	sbom := NewSBOM(CycloneDX)
	sbom.SetVersion()
	sbom.SetTarget("test-binary", "/path/to/test-binary", 1024, 
		map[string]string{"sha256": "abcd1234"}, "x86_64", "ELF")
	
	comp := NewComponent(ComponentTypeLibrary, "test-lib", "1.0.0")
	sbom.AddComponent(comp)
	
	generator := NewGenerator()
	err := generator.WriteToFile(sbom, outputPath)
	
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	
	// Check that file was created
	if _, err := os.Stat(outputPath); err != nil {
		t.Fatalf("Expected output file to be created: %v", err)
	}
	
	// Read and validate JSON structure
	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read output file: %v", err)
	}
	
	var cycloneDX map[string]interface{}
	err = json.Unmarshal(data, &cycloneDX)
	if err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	
	// Validate CycloneDX structure
	if cycloneDX["bomFormat"] != "CycloneDX" {
		t.Errorf("Expected bomFormat 'CycloneDX', got '%v'", cycloneDX["bomFormat"])
	}
	
	if cycloneDX["specVersion"] != "1.5" {
		t.Errorf("Expected specVersion '1.5', got '%v'", cycloneDX["specVersion"])
	}
	
	components, ok := cycloneDX["components"].([]interface{})
	if !ok {
		t.Fatal("Expected components to be an array")
	}
	
	if len(components) != 1 {
		t.Errorf("Expected 1 component, got %d", len(components))
	}
}

func TestGenerator_WriteToFile_CycloneDX_SerialNumber(t *testing.T) {
	tempDir := t.TempDir()
	outputPath := filepath.Join(tempDir, "test-sbom.json")

	// No serial number is set on the SBOM; the writer must supply one.
	sbom := NewSBOM(CycloneDX)
	sbom.SetVersion()
	sbom.SetTarget("test-binary", "/path/to/test-binary", 1024,
		map[string]string{"sha256": "abcd1234"}, "x86_64", "ELF")
	sbom.AddComponent(NewComponent(ComponentTypeLibrary, "test-lib", "1.0.0"))

	generator := NewGenerator()
	if err := generator.WriteToFile(sbom, outputPath); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read output file: %v", err)
	}

	var cycloneDX map[string]interface{}
	if err := json.Unmarshal(data, &cycloneDX); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}

	serial, _ := cycloneDX["serialNumber"].(string)
	if !strings.HasPrefix(serial, "urn:uuid:") {
		t.Errorf("Expected urn:uuid serial number, got '%v'", cycloneDX["serialNumber"])
	}
}

func TestGenerator_WriteToFile_CycloneDX_InvalidComponent(t *testing.T) {
	tempDir := t.TempDir()
	outputPath := filepath.Join(tempDir, "test-sbom.json")

	sbom := NewSBOM(CycloneDX)
	sbom.SetVersion()
	sbom.SetTarget("test-binary", "/path/to/test-binary", 1024,
		map[string]string{"sha256": "abcd1234"}, "x86_64", "ELF")
	// A component without a name or bom-ref fails schema validation.
	sbom.AddComponent(Component{Type: ComponentTypeLibrary})

	generator := NewGenerator()
	err := generator.WriteToFile(sbom, outputPath)
	if err == nil {
		t.Fatal("Expected validation error for nameless component")
	}

	if !strings.Contains(err.Error(), "invalid CycloneDX document") {
		t.Errorf("Expected schema validation error, got: %v", err)
	}
}

func TestGenerator_WriteToFile_SPDX(t *testing.T) {
	tempDir := t.TempDir()
	outputPath := filepath.Join(tempDir, "test-sbom.json")
	
	// Create a test SBOM
	sbom := NewSBOM(SPDX)
	sbom.SetVersion()
	sbom.SetTarget("test-binary", "/path/to/test-binary", 1024, 
		map[string]string{"sha256": "abcd1234"}, "x86_64", "ELF")
	
	comp := NewComponent(ComponentTypeLibrary, "test-lib", "1.0.0")
	sbom.AddComponent(comp)
	
	generator := NewGenerator()
	err := generator.WriteToFile(sbom, outputPath)
	
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	
	// Check that file was created
	if _, err := os.Stat(outputPath); err != nil {
		t.Fatalf("Expected output file to be created: %v", err)
	}
	
	// Read and validate JSON structure
	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read output file: %v", err)
	}
	
	var spdx map[string]interface{}
	err = json.Unmarshal(data, &spdx)
	if err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	
	// Validate SPDX structure
	if spdx["spdxVersion"] != "SPDX-2.3" {
		t.Errorf("Expected spdxVersion 'SPDX-2.3', got '%v'", spdx["spdxVersion"])
	}
	
	if spdx["dataLicense"] != "CC0-1.0" {
		t.Errorf("Expected dataLicense 'CC0-1.0', got '%v'", spdx["dataLicense"])
	}
	
	packages, ok := spdx["packages"].([]interface{})
	if !ok {
		t.Fatal("Expected packages to be an array")
	}
	
	// Should have main package + 1 component = 2 packages
	if len(packages) != 2 {
		t.Errorf("Expected 2 packages, got %d", len(packages))
	}
}

func TestGenerator_WriteToFile_UnsupportedFormat(t *testing.T) {
	tempDir := t.TempDir()
	outputPath := filepath.Join(tempDir, "test-sbom.json")
	
	// Create a test SBOM with unsupported format
	sbom := NewSBOM(SBOMFormat(999))
	
	generator := NewGenerator()
	err := generator.WriteToFile(sbom, outputPath)
	
	if err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestGenerator_setTargetInfo(t *testing.T) {
	// Create a temporary test file
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test-binary")
	testContent := []byte("test binary content")
	
	err := os.WriteFile(testFile, testContent, 0644)
	if err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	
	generator := NewGenerator()
	sbom := NewSBOM(CycloneDX)
	
	err = generator.setTargetInfo(sbom, testFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	
	target := sbom.Metadata.Target
	if target.Name != "test-binary" {
		t.Errorf("Expected target name 'test-binary', got '%s'", target.Name)
	}
	
	if target.Path != testFile {
		t.Errorf("Expected target path '%s', got '%s'", testFile, target.Path)
	}
	
	if target.Size != int64(len(testContent)) {
		t.Errorf("Expected target size %d, got %d", len(testContent), target.Size)
	}
	
	if len(target.Hashes) == 0 {
		t.Error("Expected target to have hashes")
	}
	
	if target.Hashes["sha256"] == "" {
		t.Error("Expected SHA256 hash to be calculated")
	}
}

func TestGenerator_generateSerialNumber(t *testing.T) {
	generator := NewGenerator()

	serial1 := generator.generateSerialNumber()
	serial2 := generator.generateSerialNumber()

	// Every SBOM gets a fresh serial number
	if serial1 == serial2 {
		t.Error("Expected each call to generate a unique serial number")
	}

	// Serial number should be in URN format
	if len(serial1) < 10 || serial1[:9] != "urn:uuid:" {
		t.Errorf("Expected serial number to start with 'urn:uuid:', got '%s'", serial1)
	}
}

func TestGenerator_calculateFileHash(t *testing.T) {
	// Create a temporary test file
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test-file")
	testContent := []byte("test content for hashing")
	
	err := os.WriteFile(testFile, testContent, 0644)
	if err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	
	generator := NewGenerator()
	hash, err := generator.calculateFileHash(testFile)
	
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	
	if hash == "" {
		t.Error("Expected hash to be calculated")
	}
	
	// Hash should be 64 characters (SHA256 hex)
	if len(hash) != 64 {
		t.Errorf("Expected hash length 64, got %d", len(hash))
	}
	
	// Hash should be consistent
	hash2, err := generator.calculateFileHash(testFile)
	if err != nil {
		t.Fatalf("Expected no error on second hash, got: %v", err)
	}
	
	if hash != hash2 {
		t.Error("Expected consistent hash values")
	}
}

func TestGenerator_detectBinaryInfo(t *testing.T) {
	generator := NewGenerator()
	
	tests := []struct {
		name             string
		header           []byte
		expectedFormat   string
		expectedArch     string
	}{
		{
			name:           "ELF x86_64",
			header:         append([]byte{0x7F, 'E', 'L', 'F', 0x02, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x3e, 0x00}, make([]byte, 20)...),
			expectedFormat: "ELF",
			expectedArch:   "x86_64",
		},
		{
			name:           "ELF i386",
			header:         append([]byte{0x7F, 'E', 'L', 'F', 0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0x00}, make([]byte, 20)...),
			expectedFormat: "ELF",
			expectedArch:   "i386",
		},
		{
			name:           "PE",
			header:         append([]byte{'M', 'Z', 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, make([]byte, 20)...),
			expectedFormat: "PE",
			expectedArch:   "unknown",
		},
		{
			name:           "Mach-O x86_64",
			header:         append([]byte{0xcf, 0xfa, 0xed, 0xfe, 0x07, 0x00, 0x00, 0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, make([]byte, 20)...),
			expectedFormat: "Mach-O",
			expectedArch:   "x86_64",
		},
		{
			name:           "Unknown",
			header:         append([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, make([]byte, 20)...),
			expectedFormat: "Unknown",
			expectedArch:   "unknown",
		},
	}
	
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Create temporary file with test header
			tempDir := t.TempDir()
			testFile := filepath.Join(tempDir, "test-binary")
			
			err := os.WriteFile(testFile, test.header, 0644)
			if err != nil {
				t.Fatalf("Failed to create test file: %v", err)
			}
			
			format, arch, err := generator.detectBinaryInfo(testFile)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			
			if format != test.expectedFormat {
				t.Errorf("Expected format '%s', got '%s'", test.expectedFormat, format)
			}
			
			if arch != test.expectedArch {
				t.Errorf("Expected architecture '%s', got '%s'", test.expectedArch, arch)
			}
		})
	}
}
