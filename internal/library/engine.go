package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"phototree/internal/directory"
	"phototree/internal/filesystem"
	"phototree/internal/logging"
	"phototree/internal/metrics"
	"phototree/internal/models"
	"phototree/internal/services"
	"phototree/internal/tracing"
)

const defaultWorkers = 4

// EngineConfig configures an Engine
type EngineConfig struct {
	// RootPath is the host path of the library root, used to rewrite
	// absolute paths handed to the create operations.
	RootPath string
	// Workers bounds concurrent image probing within one directory
	Workers int
}

// Engine keeps the album tree on disk and in the record store consistent.
// Every exported operation that writes holds the engine's write lock until
// it completes; unexported helpers assume the lock is held.
type Engine struct {
	mu sync.Mutex

	store    *services.Repository
	fs       filesystem.Provider
	logger   *logging.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate

	rootPath   string
	workers    int
	classifier *directory.Classifier
}

// NewEngine creates an engine. A nil logger falls back to the global logger
// and nil metrics disable instrumentation.
func NewEngine(cfg EngineConfig, store *services.Repository, fs filesystem.Provider, logger *logging.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Engine{
		store:    store,
		fs:       fs,
		logger:   logger,
		metrics:  m,
		validate: validator.New(),
		rootPath: cfg.RootPath,
		workers:  workers,
	}
}

// Store returns the record store the engine writes to
func (e *Engine) Store() *services.Repository {
	return e.store
}

// classify loads the type rules on first use; they are seeded once and
// never change while the process runs.
func (e *Engine) classify(ctx context.Context, store *services.Repository, p string) (models.AlbumType, error) {
	if e.classifier == nil {
		types, err := store.GetAlbumTypes(ctx)
		if err != nil {
			return models.AlbumType{}, err
		}
		c, err := directory.NewClassifier(types)
		if err != nil {
			return models.AlbumType{}, err
		}
		e.classifier = c
	}
	return e.classifier.Classify(p)
}

func (e *Engine) getAlbum(ctx context.Context, store *services.Repository, id int64) (*models.Album, error) {
	album, err := store.GetAlbumByID(ctx, id)
	if errors.Is(err, services.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrAlbumNotFound, id)
	}
	return album, err
}

func (e *Engine) getImage(ctx context.Context, store *services.Repository, id int64) (*models.Image, error) {
	image, err := store.GetImageByID(ctx, id)
	if errors.Is(err, services.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrImageNotFound, id)
	}
	return image, err
}

// imagePath returns the library-relative path of an image file
func imagePath(album *models.Album, filename string) string {
	return directory.Join(album.Path(), filename)
}

// validName rejects names that cannot be a single path segment or that the
// reconciler would hide.
func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case directory.IsExcluded(name):
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return nil
}

// timestamp puts filesystem times in the precision every store keeps
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// startSpan opens a tracing span for operation. The returned func records
// err on the span and ends it.
func (e *Engine) startSpan(ctx context.Context, operation string, albumID int64, p string) (context.Context, func(error)) {
	ctx, span := tracing.Start(ctx, "library."+operation, tracing.LibraryTracingAttrs(operation, albumID, p)...)
	return ctx, func(err error) {
		if err != nil {
			tracing.SetSpanError(ctx, err)
		}
		span.End()
	}
}
