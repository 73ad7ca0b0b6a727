package binfmt

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Heimdall-SBOM/heimdall-sub000/internal/utils"
)

// Extractor is the capability shared by every format family: where a
// category does not apply the implementation returns an empty result,
// not an error.
type Extractor interface {
	ExtractSymbols(path string) ([]SymbolRecord, error)
	ExtractSections(path string) ([]SectionRecord, error)
	FormatName() string
}

// Config holds orchestrator options.
type Config struct {
	// Logger receives per-category diagnostics. A nil Logger gets the
	// default text logger.
	Logger *utils.Logger

	// SkipUnknown makes Extract return a bare record for unrecognized
	// files instead of an error.
	SkipUnknown bool
}

// Orchestrator classifies input files and routes them to the matching
// extractor. Extraction categories fail independently: Extract succeeds as
// long as at least one category produced data.
type Orchestrator struct {
	sniffer *Sniffer
	elf     *ElfExtractor
	macho   *MachOExtractor
	archive *ArchiveExtractor
	logger  *utils.Logger
	config  Config
}

// NewOrchestrator creates an orchestrator with the given configuration.
func NewOrchestrator(config Config) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}
	return &Orchestrator{
		sniffer: NewSniffer(),
		elf:     NewElfExtractor(),
		macho:   NewMachOExtractor(),
		archive: NewArchiveExtractor(),
		logger:  logger,
		config:  config,
	}
}

// Extract classifies path and runs every extraction category its format
// supports. Individual category failures are logged and tolerated; the
// returned error is non-nil only when the file is unreadable, unrecognized
// (unless SkipUnknown is set), or every category failed.
func (o *Orchestrator) Extract(path string) (*ComponentRecord, error) {
	format := o.sniffer.Classify(path)
	record := &ComponentRecord{Path: path, Format: format}
	log := o.logger.WithContext(map[string]interface{}{
		"path":   path,
		"format": string(format),
	})

	switch format {
	case FormatELF:
		return record, o.extractElf(record, log)
	case FormatMachO:
		return record, o.extractMachO(record, log)
	case FormatArchive:
		return record, o.extractArchive(record, log)
	case FormatPE:
		return record, fmt.Errorf("%s: PE binaries: %w", path, ErrUnsupportedFormat)
	default:
		if o.config.SkipUnknown {
			log.Debug("skipping unrecognized file")
			return record, nil
		}
		return record, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
}

func (o *Orchestrator) extractElf(record *ComponentRecord, log *logrus.Entry) error {
	failed := 0

	symbols, err := o.elf.ExtractSymbols(record.Path)
	if err != nil {
		log.WithField("category", "symbols").WithError(err).Warn("extraction category failed")
		failed++
	} else {
		record.Symbols = symbols
	}

	sections, err := o.elf.ExtractSections(record.Path)
	if err != nil {
		log.WithField("category", "sections").WithError(err).Warn("extraction category failed")
		failed++
	} else {
		record.Sections = sections
	}

	deps, err := o.elf.ExtractDependencies(record.Path)
	if err != nil {
		log.WithField("category", "dependencies").WithError(err).Warn("extraction category failed")
		failed++
	} else {
		record.Dependencies = deps
	}

	buildID, err := o.elf.ExtractBuildID(record.Path)
	if err != nil {
		log.WithField("category", "build-id").WithError(err).Warn("extraction category failed")
		failed++
	} else {
		record.BuildID = buildID
	}

	if failed == 4 {
		return fmt.Errorf("%s: every extraction category failed: %w", record.Path, ErrMalformed)
	}
	return nil
}

func (o *Orchestrator) extractMachO(record *ComponentRecord, log *logrus.Entry) error {
	failed, total := 0, 0
	fail := func(category string, err error) {
		log.WithField("category", category).WithError(err).Warn("extraction category failed")
		failed++
	}

	total++
	if symbols, err := o.macho.ExtractSymbols(record.Path); err != nil {
		fail("symbols", err)
	} else {
		record.Symbols = symbols
	}

	total++
	if sections, err := o.macho.ExtractSections(record.Path); err != nil {
		fail("sections", err)
	} else {
		record.Sections = sections
	}

	total++
	if deps, frameworks, err := o.macho.ExtractDependencies(record.Path); err != nil {
		fail("dependencies", err)
	} else {
		record.Dependencies = deps
		record.Frameworks = frameworks
	}

	total++
	if archs, err := o.macho.ExtractArchitectures(record.Path); err != nil {
		fail("architectures", err)
	} else {
		record.Architectures = archs
	}

	total++
	if uuid, err := o.macho.ExtractUUID(record.Path); err != nil {
		fail("uuid", err)
	} else {
		record.UUID = uuid
	}

	total++
	if version, err := o.macho.ExtractVersion(record.Path); err != nil {
		fail("version", err)
	} else {
		record.Version = version
	}

	total++
	if cfg, err := o.macho.ExtractBuildConfig(record.Path); err != nil {
		fail("build-config", err)
	} else {
		record.BuildConfig = cfg
	}

	total++
	if sign, err := o.macho.ExtractCodeSign(record.Path); err != nil {
		fail("code-sign", err)
	} else {
		record.CodeSign = sign
	}

	if failed == total {
		return fmt.Errorf("%s: every extraction category failed: %w", record.Path, ErrMalformed)
	}
	return nil
}

func (o *Orchestrator) extractArchive(record *ComponentRecord, log *logrus.Entry) error {
	failed := 0

	members, err := o.archive.ExtractMembers(record.Path)
	if err != nil {
		log.WithField("category", "members").WithError(err).Warn("extraction category failed")
		failed++
	} else {
		record.Members = members
	}

	symbols, err := o.archive.ExtractSymbols(record.Path)
	if err != nil {
		log.WithField("category", "symbols").WithError(err).Warn("extraction category failed")
		failed++
	} else {
		record.Symbols = symbols
	}

	sections, err := o.archive.ExtractSections(record.Path)
	if err != nil {
		log.WithField("category", "sections").WithError(err).Warn("extraction category failed")
		failed++
	} else {
		record.Sections = sections
	}

	if failed == 3 {
		return fmt.Errorf("%s: every extraction category failed: %w", record.Path, ErrMalformed)
	}
	return nil
}

// BatchResult pairs one input path with its extraction outcome.
type BatchResult struct {
	Record *ComponentRecord
	Err    error
}

// ExtractBatch processes paths concurrently with at most workers goroutines.
// Results preserve input order. Per-file failures are reported in the
// corresponding BatchResult; the returned error is reserved for context
// cancellation.
func (o *Orchestrator) ExtractBatch(ctx context.Context, paths []string, workers int) ([]BatchResult, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]BatchResult, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	var mu sync.Mutex
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			record, err := o.Extract(path)
			mu.Lock()
			results[i] = BatchResult{Record: record, Err: err}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
