// Package content holds the editable site document behind a read-through cache.
package content

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/sitepanel/internal/clock"
	"github.com/org/sitepanel/internal/storage"
	"github.com/org/sitepanel/pkg/models"
)

// DefaultCacheTTL is how long a loaded document is served without re-reading storage.
const DefaultCacheTTL = 60 * time.Second

// DefaultSections is the section allow-list for the shipped site template.
var DefaultSections = []string{"site", "hero", "about", "services", "gallery", "testimonials", "contact", "footer"}

// ErrInvalidSection is returned when a section value is not valid JSON.
var ErrInvalidSection = errors.New("section value is not valid JSON")

//go:embed default.json
var defaultDocument []byte

// Default returns a fresh copy of the compiled-in document.
func Default() models.Document {
	var doc models.Document
	if err := json.Unmarshal(defaultDocument, &doc); err != nil {
		panic(fmt.Sprintf("content: embedded default document is invalid: %v", err))
	}
	return doc
}

// Store serves the content document. Writes are serialized; the document on
// storage is always replaced whole.
type Store struct {
	store    storage.Backend
	cacheTTL time.Duration
	clock    clock.Clock

	mu       sync.RWMutex // guards cached, loadedAt and gen
	cached   models.Document
	loadedAt time.Time
	gen      uint64 // bumped by Invalidate; a load started under an older gen is not cached

	writeMu sync.Mutex // serializes WriteSection
}

// NewStore creates a Store. Zero cacheTTL means DefaultCacheTTL.
func NewStore(store storage.Backend, cacheTTL time.Duration, c clock.Clock) *Store {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Store{store: store, cacheTTL: cacheTTL, clock: clock.OrReal(c)}
}

// Read returns the current document. It never fails: when nothing usable is
// persisted it serves the compiled-in default.
func (s *Store) Read(ctx context.Context) models.Document {
	now := s.clock.Now()

	s.mu.RLock()
	if s.cached != nil && now.Sub(s.loadedAt) < s.cacheTTL {
		doc := s.cached.Clone()
		s.mu.RUnlock()
		return doc
	}
	gen := s.gen
	s.mu.RUnlock()

	doc, err := s.fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("content unreadable, serving default document")
		return Default()
	}

	s.mu.Lock()
	if s.gen == gen {
		s.cached = doc
		s.loadedAt = now
	}
	s.mu.Unlock()
	return doc.Clone()
}

// Section returns one section of the current document.
func (s *Store) Section(ctx context.Context, name string) (json.RawMessage, bool) {
	raw, ok := s.Read(ctx)[name]
	return raw, ok
}

// WriteSection replaces one section and persists the whole document.
// Concurrent writers are serialized so no update is lost.
func (s *Store) WriteSection(ctx context.Context, name string, value json.RawMessage) (models.Document, error) {
	if !json.Valid(value) {
		return nil, ErrInvalidSection
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc, err := s.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading content: %w", err)
	}
	doc[name] = append(json.RawMessage(nil), value...)

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling content: %w", err)
	}
	if err := s.store.Put(ctx, storage.KeyContent, data); err != nil {
		return nil, fmt.Errorf("persisting content: %w", err)
	}
	s.Invalidate()
	return doc.Clone(), nil
}

// Invalidate drops the cached document; the next Read reloads from storage.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.loadedAt = time.Time{}
	s.gen++
	s.mu.Unlock()
}

// fetch reads the persisted document. A missing or corrupt record yields the
// default document; a backend failure is returned so writers never build on
// a document they could not read.
func (s *Store) fetch(ctx context.Context) (models.Document, error) {
	data, err := s.store.Get(ctx, storage.KeyContent)
	if errors.Is(err, storage.ErrNotFound) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		log.Warn().Err(err).Msg("content corrupt, serving default document")
		return Default(), nil
	}
	return doc, nil
}
