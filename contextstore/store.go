package contextstore

import (
	"context"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"chatkit/core"
)

// RefKind distinguishes the two referencable item types.
type RefKind string

const (
	RefDocument RefKind = "document"
	RefNote     RefKind = "note"
)

// Item is a known document or note the user can attach as context.
type Item struct {
	ID    string
	Title string
	Kind  RefKind
}

// Resolver lists the documents and notes known to the backend. The store
// caches the results so repeated submits don't refetch.
type Resolver interface {
	ListDocuments(ctx context.Context) ([]Item, error)
	ListNotes(ctx context.Context) ([]Item, error)
}

// Config configures the store.
type Config struct {
	// CacheTTL bounds how long the known-items cache is trusted before the
	// resolver is consulted again.
	CacheTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{CacheTTL: 5 * time.Minute}
}

const freshMarker = "_fresh"

// Store holds the set of document/note ids chosen as conversation context.
// Selection order is irrelevant. At send time every id must resolve to a
// known item; unresolved ids are dropped silently.
type Store struct {
	resolver Resolver
	config   Config
	logger   *core.Logger

	mu    sync.Mutex
	docs  map[string]struct{}
	notes map[string]struct{}
	known *gocache.Cache
}

// NewStore creates a Store. Use DefaultConfig() and override only what you
// need.
func NewStore(resolver Resolver, config Config, logger *core.Logger) *Store {
	if logger == nil {
		logger = core.GetLogger()
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Store{
		resolver: resolver,
		config:   config,
		logger:   logger.With(map[string]interface{}{"component": "contextstore"}),
		docs:     make(map[string]struct{}),
		notes:    make(map[string]struct{}),
		known:    gocache.New(config.CacheTTL, 2*config.CacheTTL),
	}
}

// SelectDocument adds a document id to the selection.
func (s *Store) SelectDocument(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = struct{}{}
}

// DeselectDocument removes a document id from the selection.
func (s *Store) DeselectDocument(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
}

// SelectNote adds a note id to the selection.
func (s *Store) SelectNote(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[id] = struct{}{}
}

// DeselectNote removes a note id from the selection.
func (s *Store) DeselectNote(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, id)
}

// Clear empties the selection. Called on session switch.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]struct{})
	s.notes = make(map[string]struct{})
}

// IsEmpty reports whether nothing is selected.
func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs) == 0 && len(s.notes) == 0
}

// DocumentIDs returns the selected document ids, sorted.
func (s *Store) DocumentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.docs)
}

// NoteIDs returns the selected note ids, sorted.
func (s *Store) NoteIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.notes)
}

// Invalidate discards the known-items cache so the next Resolve refetches.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known.Flush()
}

// Resolve returns the selected ids that resolve to known documents/notes at
// this moment, refreshing the known-items cache when stale. Unresolved ids
// are dropped silently.
func (s *Store) Resolve(ctx context.Context) (docIDs, noteIDs []string, err error) {
	if err := s.refresh(ctx); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range sortedKeys(s.docs) {
		if _, ok := s.known.Get(itemKey(RefDocument, id)); ok {
			docIDs = append(docIDs, id)
		} else {
			s.logger.With(map[string]interface{}{"id": id}).Debug("dropping unresolved document id")
		}
	}
	for _, id := range sortedKeys(s.notes) {
		if _, ok := s.known.Get(itemKey(RefNote, id)); ok {
			noteIDs = append(noteIDs, id)
		} else {
			s.logger.With(map[string]interface{}{"id": id}).Debug("dropping unresolved note id")
		}
	}
	return docIDs, noteIDs, nil
}

func (s *Store) refresh(ctx context.Context) error {
	s.mu.Lock()
	if _, fresh := s.known.Get(freshMarker); fresh {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	docs, err := s.resolver.ListDocuments(ctx)
	if err != nil {
		return err
	}
	notes, err := s.resolver.ListNotes(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.known.Flush()
	for _, item := range docs {
		s.known.SetDefault(itemKey(RefDocument, item.ID), item)
	}
	for _, item := range notes {
		s.known.SetDefault(itemKey(RefNote, item.ID), item)
	}
	s.known.SetDefault(freshMarker, struct{}{})
	return nil
}

func itemKey(kind RefKind, id string) string {
	return string(kind) + ":" + id
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
