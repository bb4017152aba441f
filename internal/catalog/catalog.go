// Package catalog serves read-only lookups over the curated snapshot.
//
// A Service owns one immutable snapshot at a time. It is built explicitly with
// New, populated by Init and may be refreshed with Reload; nothing is loaded as
// a side effect of importing the package.
package catalog

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/userdir-pipeline/internal/crawler"
	"github.com/JakeFAU/userdir-pipeline/internal/snapshot"
)

// MaxQueryLen bounds the search term length in characters.
const MaxQueryLen = 12

var (
	// ErrUnavailable is returned when no entities are loaded.
	ErrUnavailable = errors.New("catalog unavailable: no data loaded")
	// ErrUserNotFound is returned when a lookup or search matches nothing.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidQuery is returned for an empty or oversized search term.
	ErrInvalidQuery = errors.New("invalid search query")
)

// Catalog is an immutable set of curated entities.
type Catalog struct {
	entities []crawler.CuratedEntity
}

// NewCatalog wraps entities. The slice is copied.
func NewCatalog(entities []crawler.CuratedEntity) *Catalog {
	return &Catalog{entities: append([]crawler.CuratedEntity(nil), entities...)}
}

// Len returns the number of entities.
func (c *Catalog) Len() int {
	return len(c.entities)
}

// Outcome is the result of loading a snapshot. Exactly one of Catalog and Err is set.
type Outcome struct {
	Catalog *Catalog
	Err     error
}

// OK reports whether the load succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Catalog != nil
}

// Load reads the curated snapshot at path. It reports failures in the Outcome
// and leaves the degraded-mode decision to the caller.
func Load(path string) Outcome {
	entities, err := snapshot.Load[crawler.CuratedEntity](path)
	if err != nil {
		return Outcome{Err: fmt.Errorf("load catalog: %w", err)}
	}
	return Outcome{Catalog: NewCatalog(entities)}
}

// Health describes the service state.
type Health struct {
	Status    string `json:"status"`
	Users     int    `json:"users_loaded"`
	Available bool   `json:"data_available"`
	Degraded  bool   `json:"degraded"`
}

// Service answers lookups against the current catalog.
type Service struct {
	path     string
	logger   *zap.Logger
	current  atomic.Pointer[Catalog]
	degraded atomic.Bool
}

// New creates a Service for the snapshot at path. Call Init before use.
func New(path string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{path: path, logger: logger}
	s.current.Store(NewCatalog(nil))
	return s
}

// Init loads the snapshot. On failure the service keeps serving an empty
// catalog in degraded mode and the load error is returned for the caller to log
// or act on.
func (s *Service) Init() error {
	outcome := Load(s.path)
	if !outcome.OK() {
		s.degraded.Store(true)
		s.current.Store(NewCatalog(nil))
		s.logger.Error("catalog load failed, serving empty catalog",
			zap.String("path", s.path),
			zap.Error(outcome.Err),
		)
		return outcome.Err
	}
	s.degraded.Store(false)
	s.current.Store(outcome.Catalog)
	s.logger.Info("catalog loaded", zap.String("path", s.path), zap.Int("users", outcome.Catalog.Len()))
	return nil
}

// Reload swaps in a freshly loaded snapshot. On failure the previous snapshot
// stays in place.
func (s *Service) Reload() error {
	outcome := Load(s.path)
	if !outcome.OK() {
		s.logger.Warn("catalog reload failed, keeping previous snapshot",
			zap.String("path", s.path),
			zap.Error(outcome.Err),
		)
		return outcome.Err
	}
	s.current.Store(outcome.Catalog)
	s.degraded.Store(false)
	s.logger.Info("catalog reloaded", zap.Int("users", outcome.Catalog.Len()))
	return nil
}

// Degraded reports whether the last Init failed and no reload has succeeded since.
func (s *Service) Degraded() bool {
	return s.degraded.Load()
}

// Len returns the number of loaded entities.
func (s *Service) Len() int {
	return s.current.Load().Len()
}

// All returns every entity in snapshot order.
func (s *Service) All() ([]crawler.CuratedEntity, error) {
	cat := s.current.Load()
	if cat.Len() == 0 {
		return nil, ErrUnavailable
	}
	return append([]crawler.CuratedEntity(nil), cat.entities...), nil
}

// ByLogin returns the first entity whose login equals login, ignoring case and
// surrounding whitespace.
func (s *Service) ByLogin(login string) (crawler.CuratedEntity, error) {
	cat := s.current.Load()
	if cat.Len() == 0 {
		return crawler.CuratedEntity{}, ErrUnavailable
	}
	want := strings.ToLower(strings.TrimSpace(login))
	for _, e := range cat.entities {
		if strings.ToLower(e.Login) == want {
			return e, nil
		}
	}
	return crawler.CuratedEntity{}, fmt.Errorf("%w: %q", ErrUserNotFound, login)
}

// Search returns the entities whose login contains term, ignoring case. The
// term must hold 1 to MaxQueryLen characters and must not be blank.
func (s *Service) Search(term string) ([]crawler.CuratedEntity, error) {
	if n := utf8.RuneCountInString(term); n < 1 || n > MaxQueryLen {
		return nil, fmt.Errorf("%w: length must be between 1 and %d", ErrInvalidQuery, MaxQueryLen)
	}
	cat := s.current.Load()
	if cat.Len() == 0 {
		return nil, ErrUnavailable
	}
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return nil, fmt.Errorf("%w: term is blank", ErrInvalidQuery)
	}
	var out []crawler.CuratedEntity
	for _, e := range cat.entities {
		if strings.Contains(strings.ToLower(e.Login), needle) {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no login contains %q", ErrUserNotFound, term)
	}
	return out, nil
}

// Health reports the current state.
func (s *Service) Health() Health {
	n := s.Len()
	status := "healthy"
	if s.Degraded() {
		status = "degraded"
	}
	return Health{Status: status, Users: n, Available: n > 0, Degraded: s.Degraded()}
}
