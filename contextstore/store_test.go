package contextstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mu    sync.Mutex
	docs  []Item
	notes []Item
	calls int
	err   error
}

func (r *fakeResolver) ListDocuments(context.Context) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.docs, r.err
}

func (r *fakeResolver) ListNotes(context.Context) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notes, r.err
}

func TestResolveDropsUnknownIDs(t *testing.T) {
	resolver := &fakeResolver{
		docs:  []Item{{ID: "d1", Title: "Design", Kind: RefDocument}},
		notes: []Item{{ID: "n1", Title: "Standup", Kind: RefNote}},
	}
	s := NewStore(resolver, DefaultConfig(), nil)

	s.SelectDocument("d1")
	s.SelectDocument("deleted-doc")
	s.SelectNote("n1")
	s.SelectNote("ghost-note")

	docIDs, noteIDs, err := s.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, docIDs)
	assert.Equal(t, []string{"n1"}, noteIDs)
}

func TestResolveUsesCachedKnownItems(t *testing.T) {
	resolver := &fakeResolver{docs: []Item{{ID: "d1", Kind: RefDocument}}}
	s := NewStore(resolver, DefaultConfig(), nil)
	s.SelectDocument("d1")

	_, _, err := s.Resolve(context.Background())
	require.NoError(t, err)
	_, _, err = s.Resolve(context.Background())
	require.NoError(t, err)

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	assert.Equal(t, 1, resolver.calls)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	resolver := &fakeResolver{docs: []Item{{ID: "d1", Kind: RefDocument}}}
	s := NewStore(resolver, DefaultConfig(), nil)
	s.SelectDocument("d1")

	_, _, err := s.Resolve(context.Background())
	require.NoError(t, err)

	s.Invalidate()
	_, _, err = s.Resolve(context.Background())
	require.NoError(t, err)

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	assert.Equal(t, 2, resolver.calls)
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	resolver := &fakeResolver{docs: []Item{{ID: "d1", Kind: RefDocument}}}
	s := NewStore(resolver, Config{CacheTTL: 10 * time.Millisecond}, nil)
	s.SelectDocument("d1")

	_, _, err := s.Resolve(context.Background())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, _, err = s.Resolve(context.Background())
	require.NoError(t, err)

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	assert.Equal(t, 2, resolver.calls)
}

func TestResolveReturnsResolverError(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("backend down")}
	s := NewStore(resolver, DefaultConfig(), nil)
	s.SelectDocument("d1")

	_, _, err := s.Resolve(context.Background())
	assert.Error(t, err)
}

func TestSelectionSetSemantics(t *testing.T) {
	s := NewStore(&fakeResolver{}, DefaultConfig(), nil)

	assert.True(t, s.IsEmpty())
	s.SelectDocument("d2")
	s.SelectDocument("d1")
	s.SelectDocument("d1") // set semantics, no duplicate
	s.SelectNote("n1")
	assert.False(t, s.IsEmpty())

	assert.Equal(t, []string{"d1", "d2"}, s.DocumentIDs())
	assert.Equal(t, []string{"n1"}, s.NoteIDs())

	s.DeselectDocument("d2")
	assert.Equal(t, []string{"d1"}, s.DocumentIDs())

	s.Clear()
	assert.True(t, s.IsEmpty())
	assert.Empty(t, s.DocumentIDs())
	assert.Empty(t, s.NoteIDs())
}
