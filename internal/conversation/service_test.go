// ABOUTME: Tests for the conversation Service
// ABOUTME: Verifies lazy creation, validation order, ownership and broadcasting

package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/turn"
)

func createTestStore(t *testing.T) *store.SQLiteStore {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestService_Commit_LazyCreate(t *testing.T) {
	testStore := createTestStore(t)
	svc := New(testStore, nil)
	ctx := context.Background()

	conv, err := svc.Commit(ctx, "alice", &CommitRequest{
		ConversationID: NoConversation,
		Question:       "Explain recursion",
		Answer:         "A function that calls itself.",
	})
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.False(t, IsUnset(conv.ID))
	assert.Equal(t, "alice", conv.OwnerID)

	require.Len(t, conv.History, 2)
	assert.Equal(t, store.RoleUser, conv.History[0].Role)
	assert.Equal(t, []string{"Explain recursion"}, conv.History[0].TextParts)
	assert.Equal(t, store.RoleModel, conv.History[1].Role)
	assert.Nil(t, conv.History[1].Video)

	summaries, err := svc.ListSummaries(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []store.Summary{{ID: conv.ID, Title: "Explain recursion"}}, summaries)
}

func TestService_Commit_AppendsToExisting(t *testing.T) {
	testStore := createTestStore(t)
	svc := New(testStore, nil)
	ctx := context.Background()

	first, err := svc.Commit(ctx, "alice", &CommitRequest{ConversationID: "none", Question: "one"})
	require.NoError(t, err)
	require.Len(t, first.History, 1)

	video := &store.Video{Title: "Recursion", URL: "https://youtu.be/r", Thumbnail: "https://i.ytimg.com/r.jpg"}
	second, err := svc.Commit(ctx, "alice", &CommitRequest{
		ConversationID: first.ID,
		Question:       "two",
		Image:          "/uploads/two.png",
		Video:          video,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.Len(t, second.History, 3)
	assert.Equal(t, "/uploads/two.png", second.History[1].Image)
	assert.Empty(t, second.History[2].TextParts)
	assert.Equal(t, video, second.History[2].Video)

	// Still one summary: appending never re-registers
	summaries, err := svc.ListSummaries(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestService_Commit_InvalidShapeBeforePersistence(t *testing.T) {
	testStore := createTestStore(t)
	svc := New(testStore, nil)
	ctx := context.Background()

	_, err := svc.Commit(ctx, "alice", &CommitRequest{
		ConversationID: NoConversation,
		Question:       "hi",
		Video:          &store.Video{Title: "T"},
	})
	assert.ErrorIs(t, err, turn.ErrInvalidShape)

	// No conversation was minted for the rejected submission
	summaries, err := svc.ListSummaries(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestService_Commit_OtherOwnerIsNotFound(t *testing.T) {
	testStore := createTestStore(t)
	svc := New(testStore, nil)
	ctx := context.Background()

	conv, err := svc.Commit(ctx, "alice", &CommitRequest{ConversationID: NoConversation, Question: "mine"})
	require.NoError(t, err)

	_, err = svc.Commit(ctx, "mallory", &CommitRequest{ConversationID: conv.ID, Question: "yours now"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.Get(ctx, "mallory", conv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := svc.Get(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Len(t, got.History, 1)
}

func TestService_Commit_RequiresIdentity(t *testing.T) {
	svc := New(store.NewMockStore(), nil)

	_, err := svc.Commit(context.Background(), "", &CommitRequest{ConversationID: NoConversation, Question: "hi"})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = svc.ListSummaries(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = svc.Create(context.Background(), "", "hi")
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestService_Commit_RequiresQuestion(t *testing.T) {
	svc := New(store.NewMockStore(), nil)

	_, err := svc.Commit(context.Background(), "alice", &CommitRequest{ConversationID: NoConversation, Question: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestService_Create(t *testing.T) {
	svc := New(store.NewMockStore(), nil)
	ctx := context.Background()

	id, err := svc.Create(ctx, "alice", "Hello world this is a very long question exceeding forty chars")
	require.NoError(t, err)

	conv, err := svc.Get(ctx, "alice", id)
	require.NoError(t, err)
	require.Len(t, conv.History, 1)
	assert.Equal(t, store.RoleUser, conv.History[0].Role)

	id2, err := svc.Create(ctx, "alice", "second")
	require.NoError(t, err)

	summaries, err := svc.ListSummaries(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []store.Summary{
		{ID: id, Title: "Hello world this is a very long question"},
		{ID: id2, Title: "second"},
	}, summaries)
}

// unregistrableStore loses every first-entry race and fails the retry.
type unregistrableStore struct {
	*store.MockStore
	created []string
}

func (u *unregistrableStore) CreateConversation(ctx context.Context, ownerID string) (string, error) {
	id, err := u.MockStore.CreateConversation(ctx, ownerID)
	if err == nil {
		u.created = append(u.created, id)
	}
	return id, err
}

func (u *unregistrableStore) CreateIndexEntry(ctx context.Context, ownerID string, first store.Summary) error {
	return store.ErrConflict
}

func (u *unregistrableStore) AppendSummary(ctx context.Context, ownerID string, summary store.Summary) error {
	return errors.New("index unavailable")
}

func TestService_Create_RegistrationFailureLeavesNoTurns(t *testing.T) {
	s := &unregistrableStore{MockStore: store.NewMockStore()}
	svc := New(s, nil)
	ctx := context.Background()

	id, err := svc.Create(ctx, "alice", "hello")
	require.ErrorIs(t, err, ErrRegistration)
	assert.Empty(t, id)

	summaries, err := svc.ListSummaries(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, summaries)

	require.Len(t, s.created, 1)
	conv, err := svc.Get(ctx, "alice", s.created[0])
	require.NoError(t, err)
	assert.Empty(t, conv.History, "an unregistered conversation must not carry turns")
}

func TestService_Commit_RegistrationFailureLeavesNoTurns(t *testing.T) {
	s := &unregistrableStore{MockStore: store.NewMockStore()}
	svc := New(s, nil)
	ctx := context.Background()

	_, err := svc.Commit(ctx, "alice", &CommitRequest{ConversationID: NoConversation, Question: "hello", Answer: "hi"})
	require.ErrorIs(t, err, ErrRegistration)

	require.Len(t, s.created, 1)
	conv, err := svc.Get(ctx, "alice", s.created[0])
	require.NoError(t, err)
	assert.Empty(t, conv.History)
}

func TestService_Commit_PublishesUpdate(t *testing.T) {
	svc := New(store.NewMockStore(), nil)
	b := NewBroadcaster(nil)
	defer b.Close()
	svc.SetBroadcaster(b)

	ch, _ := b.Subscribe(t.Context(), "alice")
	other, _ := b.Subscribe(t.Context(), "bob")

	conv, err := svc.Commit(context.Background(), "alice", &CommitRequest{ConversationID: NoConversation, Question: "hi"})
	require.NoError(t, err)

	select {
	case u := <-ch:
		assert.Equal(t, conv.ID, u.ConversationID)
		assert.True(t, u.Created)
		assert.Len(t, u.Conversation.History, 1)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}

	select {
	case u := <-other:
		t.Fatalf("bob received alice's update: %+v", u)
	default:
	}
}
