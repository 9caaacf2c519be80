package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/arrdeck/arrdeck/internal/config/store"
	"github.com/arrdeck/arrdeck/internal/services"
)

// Store is the subset of *store.Store used by the engine.
type Store interface {
	Profiles(ctx context.Context) ([]store.Profile, error)
	Profile(ctx context.Context, id string) (store.Profile, error)
	ExistingNames(ctx context.Context, names []string) ([]string, error)
	ImportProfiles(ctx context.Context, entries []store.ImportedProfile, overwrite bool) ([]store.Profile, error)
}

// Engine exports profiles to documents and applies documents back.
type Engine struct {
	store  Store
	logger *zap.Logger
	clock  func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the export timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine builds an engine over s.
func NewEngine(s Store, opts ...Option) *Engine {
	e := &Engine{store: s, logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("transfer")
	return e
}

// Report summarises a document without applying it.
type Report struct {
	Format       Format    `json:"format"`
	Version      int       `json:"version"`
	ExportDate   time.Time `json:"exportDate"`
	ProfileCount int       `json:"profileCount"`
	Names        []string  `json:"names"`
	// Conflicts lists the document names that already exist in the store.
	Conflicts []string `json:"conflicts"`
}

// ExportProfile exports a single profile.
func (e *Engine) ExportProfile(ctx context.Context, id string) (*Document, error) {
	p, err := e.store.Profile(ctx, id)
	if err != nil {
		return nil, err
	}
	doc := e.newDocument()
	doc.Profiles = append(doc.Profiles, fromProfile(p))
	e.logger.Info("exported profile", zap.String("profile_id", id))
	return doc, nil
}

// ExportAll exports every profile.
func (e *Engine) ExportAll(ctx context.Context) (*Document, error) {
	profiles, err := e.store.Profiles(ctx)
	if err != nil {
		return nil, err
	}
	doc := e.newDocument()
	for _, p := range profiles {
		doc.Profiles = append(doc.Profiles, fromProfile(p))
	}
	e.logger.Info("exported profiles", zap.Int("count", len(doc.Profiles)))
	return doc, nil
}

func (e *Engine) newDocument() *Document {
	return &Document{
		Version:    CurrentVersion,
		ExportDate: e.clock().UTC().Truncate(time.Second),
		Profiles:   []Profile{},
	}
}

// ValidateImport parses and checks data without touching the store.
func (e *Engine) ValidateImport(ctx context.Context, data []byte) (Report, error) {
	doc, format, err := Decode(data)
	if err != nil {
		return Report{}, err
	}
	if err := Validate(doc); err != nil {
		return Report{}, err
	}

	report := Report{
		Format:       format,
		Version:      doc.Version,
		ExportDate:   doc.ExportDate,
		ProfileCount: len(doc.Profiles),
		Names:        make([]string, 0, len(doc.Profiles)),
	}
	for _, p := range doc.Profiles {
		report.Names = append(report.Names, strings.TrimSpace(p.Name))
	}
	report.Conflicts, err = e.store.ExistingNames(ctx, report.Names)
	if err != nil {
		return Report{}, err
	}
	if report.Conflicts == nil {
		report.Conflicts = []string{}
	}
	return report, nil
}

// ImportAll applies data to the store in one transaction. Existing names
// are skipped, or overwritten in place when overwrite is set. The returned
// profiles are the ones created or overwritten.
func (e *Engine) ImportAll(ctx context.Context, data []byte, overwrite bool) ([]store.Profile, error) {
	doc, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}

	entries := make([]store.ImportedProfile, 0, len(doc.Profiles))
	for _, p := range doc.Profiles {
		entries = append(entries, p.toImported())
	}
	applied, err := e.store.ImportProfiles(ctx, entries, overwrite)
	if err != nil {
		return nil, err
	}
	e.logger.Info("import applied",
		zap.Int("document_profiles", len(doc.Profiles)),
		zap.Int("applied", len(applied)),
		zap.Bool("overwrite", overwrite),
	)
	return applied, nil
}

// Validate checks a decoded document: supported version, non-empty and
// unique profile names, known service types and structurally valid
// configurations. Failures are store.DataError.
func Validate(doc *Document) error {
	if doc == nil {
		return invalid(errors.New("document is empty"))
	}
	if doc.Version != CurrentVersion {
		return invalid(fmt.Errorf("unsupported document version %d (supported: %d)", doc.Version, CurrentVersion))
	}

	fold := cases.Fold()
	seen := make(map[string]bool, len(doc.Profiles))
	for i, p := range doc.Profiles {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return invalid(fmt.Errorf("profile %d has no name", i+1))
		}
		key := fold.String(name)
		if seen[key] {
			return invalid(fmt.Errorf("profile name %q appears more than once", name))
		}
		seen[key] = true

		for j, c := range p.ServiceConfigurations {
			if !services.Type(c.ServiceType).Valid() {
				return invalid(fmt.Errorf("profile %q configuration %d: unknown service type %q", name, j+1, c.ServiceType))
			}
			if err := c.toConfiguration().Normalize().Validate(); err != nil {
				return invalid(fmt.Errorf("profile %q configuration %d: %w", name, j+1, err))
			}
		}
	}
	return nil
}

func invalid(err error) error {
	return store.DataError{Op: "transfer: validate document", Err: err}
}
