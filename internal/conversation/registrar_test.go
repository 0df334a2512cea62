// ABOUTME: Tests for the Registrar
// ABOUTME: Covers titles, idempotence, the first-entry race and the single conflict retry

package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/store"
)

// barrierIndex holds every ListSummaries caller until n callers have read,
// so concurrent registrations all observe the same index state.
type barrierIndex struct {
	store.SessionIndex
	arrived sync.WaitGroup
}

func newBarrierIndex(inner store.SessionIndex, n int) *barrierIndex {
	b := &barrierIndex{SessionIndex: inner}
	b.arrived.Add(n)
	return b
}

func (b *barrierIndex) ListSummaries(ctx context.Context, ownerID string) ([]store.Summary, error) {
	out, err := b.SessionIndex.ListSummaries(ctx, ownerID)
	b.arrived.Done()
	b.arrived.Wait()
	return out, err
}

// countingIndex counts index reads.
type countingIndex struct {
	store.SessionIndex
	reads atomic.Int32
}

func (c *countingIndex) ListSummaries(ctx context.Context, ownerID string) ([]store.Summary, error) {
	c.reads.Add(1)
	return c.SessionIndex.ListSummaries(ctx, ownerID)
}

// conflictIndex always loses the create race and fails the retry with appendErr.
type conflictIndex struct {
	store.SessionIndex
	appendErr error
	appends   int
}

func (c *conflictIndex) CreateIndexEntry(ctx context.Context, ownerID string, first store.Summary) error {
	return store.ErrConflict
}

func (c *conflictIndex) AppendSummary(ctx context.Context, ownerID string, summary store.Summary) error {
	c.appends++
	return c.appendErr
}

func TestTitle(t *testing.T) {
	long := "Hello world this is a very long question exceeding forty chars"
	assert.Equal(t, long[:40], Title(long))
	assert.Equal(t, "short", Title("short"))
	assert.Equal(t, "", Title(""))

	// Counted in characters, not bytes
	accented := "ééééééééééééééééééééééééééééééééééééééééééé"
	assert.Len(t, []rune(Title(accented)), 40)
}

func TestIsUnset(t *testing.T) {
	for _, id := range []string{"", "none", "null"} {
		assert.True(t, IsUnset(id), "%q", id)
	}
	assert.False(t, IsUnset("c-123"))
}

func TestRegistrar_EnsureRegistered_TitleFromSeed(t *testing.T) {
	s := store.NewMockStore()
	r := NewRegistrar(s, s, nil)
	ctx := context.Background()

	seed := "Hello world this is a very long question exceeding forty chars"
	require.NoError(t, r.EnsureRegistered(ctx, "alice", "c1", seed))

	got, err := s.ListSummaries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, seed[:40], got[0].Title)
}

func TestRegistrar_EnsureRegistered_Idempotent(t *testing.T) {
	s := store.NewMockStore()
	m := metrics.New()
	r := NewRegistrar(s, s, nil)
	r.SetMetrics(m)
	ctx := context.Background()

	require.NoError(t, r.EnsureRegistered(ctx, "alice", "c1", "first"))
	require.NoError(t, r.EnsureRegistered(ctx, "alice", "c1", "first again"))
	require.NoError(t, r.EnsureRegistered(ctx, "alice", "c2", "second"))
	require.NoError(t, r.EnsureRegistered(ctx, "alice", "c2", "second"))

	got, err := s.ListSummaries(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []store.Summary{
		{ID: "c1", Title: "first"},
		{ID: "c2", Title: "second"},
	}, got)
}

func TestRegistrar_EnsureRegistered_ConcurrentFirstConversations(t *testing.T) {
	backends := map[string]store.Store{
		"mock":   store.NewMockStore(),
		"sqlite": createTestStore(t),
	}
	for name, s := range backends {
		t.Run(name, func(t *testing.T) {
			index := newBarrierIndex(s, 2)
			m := metrics.New()
			r := NewRegistrar(s, index, nil)
			r.SetMetrics(m)
			ctx := context.Background()

			errs := make(chan error, 2)
			for _, id := range []string{"c1", "c2"} {
				go func(id string) {
					errs <- r.EnsureRegistered(ctx, "newbie", id, "question "+id)
				}(id)
			}
			for i := 0; i < 2; i++ {
				select {
				case err := <-errs:
					require.NoError(t, err)
				case <-time.After(5 * time.Second):
					t.Fatal("registration did not finish")
				}
			}

			got, err := s.ListSummaries(ctx, "newbie")
			require.NoError(t, err)
			require.Len(t, got, 2)
			ids := []string{got[0].ID, got[1].ID}
			assert.ElementsMatch(t, []string{"c1", "c2"}, ids)
		})
	}
}

func TestRegistrar_EnsureRegistered_RetryFailureIsFatal(t *testing.T) {
	s := store.NewMockStore()
	index := &conflictIndex{SessionIndex: s, appendErr: store.ErrNotFound}
	r := NewRegistrar(s, index, nil)

	err := r.EnsureRegistered(context.Background(), "alice", "c1", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistration)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, index.appends, "conflict must be retried exactly once")
}

func TestRegistrar_EnsureRegistered_ConflictRetrySucceeds(t *testing.T) {
	s := store.NewMockStore()
	index := &conflictIndex{SessionIndex: s}
	r := NewRegistrar(s, index, nil)

	require.NoError(t, r.EnsureRegistered(context.Background(), "alice", "c1", "hi"))
	assert.Equal(t, 1, index.appends)
}

func TestRegistrar_EnsureRegistered_IndexReadError(t *testing.T) {
	s := store.NewMockStore()
	boom := errors.New("index unavailable")
	r := NewRegistrar(s, failingReadIndex{SessionIndex: s, err: boom}, nil)

	err := r.EnsureRegistered(context.Background(), "alice", "c1", "hi")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRegistration)
}

type failingReadIndex struct {
	store.SessionIndex
	err error
}

func (f failingReadIndex) ListSummaries(ctx context.Context, ownerID string) ([]store.Summary, error) {
	return nil, f.err
}

func TestRegistrar_CacheSkipsIndexRead(t *testing.T) {
	s := store.NewMockStore()
	index := &countingIndex{SessionIndex: s}
	cache := dedupe.New(time.Minute, 16)
	defer cache.Close()

	r := NewRegistrar(s, index, nil)
	r.SetCache(cache)
	ctx := context.Background()

	require.NoError(t, r.EnsureRegistered(ctx, "alice", "c1", "hi"))
	require.NoError(t, r.EnsureRegistered(ctx, "alice", "c1", "hi"))
	assert.Equal(t, int32(1), index.reads.Load())

	// A different owner with the same conversation id is a different key
	require.NoError(t, r.EnsureRegistered(ctx, "bob", "c1", "hi"))
	assert.Equal(t, int32(2), index.reads.Load())
}

func TestRegistrar_CreateOrReuse(t *testing.T) {
	s := store.NewMockStore()
	r := NewRegistrar(s, s, nil)
	ctx := context.Background()

	t.Run("existing id is returned unchanged", func(t *testing.T) {
		id, err := r.CreateOrReuse(ctx, "alice", "c-existing", "hi")
		require.NoError(t, err)
		assert.Equal(t, "c-existing", id)

		got, err := s.ListSummaries(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	for _, unset := range []string{"", "none", "null"} {
		t.Run("unset "+unset, func(t *testing.T) {
			id, err := r.CreateOrReuse(ctx, "carol-"+unset, unset, "What is Go?")
			require.NoError(t, err)
			assert.False(t, IsUnset(id))

			conv, err := s.GetConversation(ctx, id, "carol-"+unset)
			require.NoError(t, err)
			assert.Empty(t, conv.History)

			got, err := s.ListSummaries(ctx, "carol-"+unset)
			require.NoError(t, err)
			assert.Equal(t, []store.Summary{{ID: id, Title: "What is Go?"}}, got)
		})
	}
}
