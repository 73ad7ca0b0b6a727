package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Heimdall-SBOM/heimdall-sub000/internal/binfmt"
	"github.com/Heimdall-SBOM/heimdall-sub000/internal/sbom"
	"github.com/Heimdall-SBOM/heimdall-sub000/internal/utils"
)

var (
	// Version information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heimdall-sbom",
		Short: "Binary metadata extraction and SBOM generation",
		Long: `heimdall-sbom inspects native binaries (ELF, Mach-O, and Unix ar archives)
and generates a Software Bill of Materials (SBOM) in industry-standard formats.

The tool extracts:
- Symbol tables (defined and undefined symbols)
- Section and segment layout
- Shared library dependencies and frameworks
- Build identifiers (GNU build-id, Mach-O UUID)
- Code signing and hardened runtime state
- Archive member inventories and symbol indexes

Results can be emitted as CycloneDX or SPDX documents, or as raw JSON
records for further processing.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Add subcommands
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newScanCmd() *cobra.Command {
	var (
		sbomFormat  string
		outputPath  string
		workers     int
		skipUnknown bool
		configFile  string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "scan <binary> [binary...]",
		Short: "Extract metadata from binaries and generate SBOM documents",
		Long: `Scan one or more binaries, extract their metadata, and write an SBOM
document per input.

Supported input formats:
  ELF      - symbols, sections, DT_NEEDED dependencies, GNU build-id
  Mach-O   - symbols, sections, linked dylibs, UUID, code signing state
  Archive  - member inventory and the archive symbol index

Output files are named after the input binary: <name>.<format>.json. With
--output and a single input, the document is written to the given path.

Exit codes:
  0 - All inputs scanned successfully
  1 - One or more inputs failed
  2 - Invalid arguments or configuration error`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(args, sbomFormat, outputPath, workers, skipUnknown, configFile, verbose)
		},
	}

	cmd.Flags().StringVarP(&sbomFormat, "format", "f", "", "SBOM format (cyclonedx, spdx)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (single input) or directory")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent extraction workers (0 = number of CPUs)")
	cmd.Flags().BoolVar(&skipUnknown, "skip-unknown", false, "Emit bare records for unrecognized files instead of failing")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

func newInspectCmd() *cobra.Command {
	var skipUnknown bool

	cmd := &cobra.Command{
		Use:   "inspect <binary>",
		Short: "Print the raw extraction record for a binary as JSON",
		Long: `Inspect a single binary and print its extraction record as indented JSON.

The record contains every category the extractor recovered: symbols,
sections, dependencies, build identifiers, architectures, and code signing
state. Categories that do not apply to the input format are empty.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0], skipUnknown)
		},
	}

	cmd.Flags().BoolVar(&skipUnknown, "skip-unknown", false, "Emit a bare record for unrecognized files instead of failing")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("heimdall-sbom version %s\n", version)
			fmt.Printf("Commit: %s\n", commit)
			fmt.Printf("Built: %s\n", buildDate)
		},
	}
}

// runScan extracts metadata from each input and writes one SBOM per input.
func runScan(paths []string, sbomFormat, outputPath string, workers int, skipUnknown bool, configFile string, verbose bool) error {
	// Load configuration
	var config *utils.Config
	var err error

	if configFile != "" {
		config, err = utils.LoadConfigFromFile(configFile)
	} else {
		config, err = utils.LoadDefaultConfig()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Flags override config
	if sbomFormat == "" {
		sbomFormat = config.SBOM.DefaultFormat
	}
	if workers == 0 {
		workers = config.Scan.Workers
	}
	if !skipUnknown {
		skipUnknown = config.Scan.SkipUnknown
	}

	// Create logger
	loggerConfig := utils.LoggerConfig{
		Level:  utils.LogLevel(config.LogLevel),
		Format: utils.LogFormat(config.LogFormat),
	}
	if verbose {
		loggerConfig.Level = utils.LogLevelDebug
	}
	logger := utils.NewLogger(loggerConfig)

	format, err := parseSBOMFormat(sbomFormat)
	if err != nil {
		return err
	}

	// Validate inputs before starting extraction
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("binary file not found: %s", path)
		}
	}

	logger.WithComponent("scan").Infof("Scanning %d binaries with %d workers", len(paths), workers)

	orchestrator := binfmt.NewOrchestrator(binfmt.Config{
		Logger:      logger,
		SkipUnknown: skipUnknown,
	})
	results, err := orchestrator.ExtractBatch(context.Background(), paths, workers)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	generator := sbom.NewGeneratorWithExtractor(sbom.NewBinaryComponentExtractor(orchestrator))

	failed := 0
	for i, result := range results {
		path := paths[i]
		log := logger.WithComponent("scan")
		if result.Err != nil {
			log.Errorf("Extraction failed for %s: %v", path, result.Err)
			failed++
			continue
		}

		document, err := generator.GenerateFromRecord(result.Record, format)
		if err != nil {
			log.Errorf("SBOM generation failed for %s: %v", path, err)
			failed++
			continue
		}

		target := sbomOutputPath(path, outputPath, sbomFormat, len(paths))
		if err := generator.WriteToFile(document, target); err != nil {
			log.Errorf("Failed to write SBOM for %s: %v", path, err)
			failed++
			continue
		}

		log.Infof("Wrote %s (%d components)", target, len(document.Components))
	}

	if failed > 0 {
		logger.WithComponent("scan").Errorf("Scan finished with failures: %d/%d inputs failed", failed, len(paths))
		os.Exit(1)
	}

	logger.WithComponent("scan").Infof("Scan complete: %d/%d inputs succeeded", len(paths), len(paths))
	return nil
}

// runInspect extracts a single binary and prints its record as JSON.
func runInspect(cmd *cobra.Command, path string, skipUnknown bool) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("binary file not found: %s", path)
	}

	orchestrator := binfmt.NewOrchestrator(binfmt.Config{
		Logger: utils.NewLogger(utils.LoggerConfig{
			Level:  utils.LogLevelError,
			Output: os.Stderr,
		}),
		SkipUnknown: skipUnknown,
	})

	record, err := orchestrator.Extract(path)
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", path, err)
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(record)
}

// parseSBOMFormat maps a format name to the generator's format constant.
func parseSBOMFormat(name string) (sbom.SBOMFormat, error) {
	switch strings.ToLower(name) {
	case "", "cyclonedx":
		return sbom.CycloneDX, nil
	case "spdx":
		return sbom.SPDX, nil
	default:
		return sbom.CycloneDX, fmt.Errorf("unsupported SBOM format: %s", name)
	}
}

// sbomOutputPath decides where a document for the given input goes. An
// explicit --output names the file directly when there is a single input
// and acts as a directory otherwise.
func sbomOutputPath(inputPath, outputPath, format string, inputs int) string {
	name := fmt.Sprintf("%s.%s.json", filepath.Base(inputPath), strings.ToLower(format))
	if outputPath == "" {
		return name
	}
	if inputs == 1 && !isDir(outputPath) {
		return outputPath
	}
	return filepath.Join(outputPath, name)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
