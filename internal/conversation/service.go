// ABOUTME: Service is the server-side commit path for conversation turns
// ABOUTME: Validates shape first, mints conversations lazily, then appends atomically

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/turn"
)

// ErrEmptyQuestion is returned when a commit or create carries no user text
var ErrEmptyQuestion = errors.New("question is required")

// CommitRequest is one submission's worth of content for a conversation.
// ConversationID may be unset (see IsUnset) to create the conversation lazily.
type CommitRequest struct {
	ConversationID string       `json:"-"`
	Question       string       `json:"question"`
	Answer         string       `json:"answer,omitempty"`
	Image          string       `json:"img,omitempty"`
	Video          *store.Video `json:"video,omitempty"`
}

// Service is the conversation layer between transport and storage.
// Every operation is scoped to an owner id that the caller has verified.
type Service struct {
	store       store.Store
	registrar   *Registrar
	broadcaster *Broadcaster
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// New creates a Service over s
func New(s store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     s,
		registrar: NewRegistrar(s, s, logger),
		logger:    logger.With("component", "conversation"),
	}
}

// SetBroadcaster publishes committed conversations to b.
func (s *Service) SetBroadcaster(b *Broadcaster) {
	s.broadcaster = b
}

// SetMetrics configures commit and registration counters.
func (s *Service) SetMetrics(m *metrics.Collector) {
	s.metrics = m
	s.registrar.SetMetrics(m)
}

// SetCache configures the registrar's warm cache.
func (s *Service) SetCache(c *dedupe.Cache) {
	s.registrar.SetCache(c)
}

// Registrar returns the service's registrar.
func (s *Service) Registrar() *Registrar {
	return s.registrar
}

// Commit folds one submission into a conversation and returns the updated
// conversation. The turn shape is checked before anything is persisted, so an
// invalid video never leaves a freshly minted conversation behind.
func (s *Service) Commit(ctx context.Context, ownerID string, req *CommitRequest) (*store.Conversation, error) {
	conv, err := s.commit(ctx, ownerID, req)
	s.metrics.Commit(commitStatus(err))
	return conv, err
}

func (s *Service) commit(ctx context.Context, ownerID string, req *CommitRequest) (*store.Conversation, error) {
	if ownerID == "" {
		return nil, auth.ErrUnauthenticated
	}
	if strings.TrimSpace(req.Question) == "" {
		return nil, ErrEmptyQuestion
	}

	turns, err := turn.Build(req.Question, req.Answer, req.Image, req.Video)
	if err != nil {
		return nil, err
	}

	created := IsUnset(req.ConversationID)
	id, err := s.registrar.CreateOrReuse(ctx, ownerID, req.ConversationID, req.Question)
	if err != nil {
		return nil, err
	}

	conv, err := s.store.AppendTurns(ctx, id, ownerID, turns)
	if err != nil {
		return nil, fmt.Errorf("appending turns: %w", err)
	}

	s.logger.Info("turns committed",
		"conversation_id", id,
		"owner_id", ownerID,
		"turns", len(turns),
		"created", created)

	if s.broadcaster != nil {
		s.broadcaster.Publish(ownerID, &Update{
			ConversationID: id,
			Created:        created,
			Conversation:   conv,
		})
	}
	return conv, nil
}

// Create eagerly creates a conversation, registers it, then appends one user
// turn carrying text and returns its id.
func (s *Service) Create(ctx context.Context, ownerID, text string) (string, error) {
	if ownerID == "" {
		return "", auth.ErrUnauthenticated
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyQuestion
	}

	turns, err := turn.Build(text, "", "", nil)
	if err != nil {
		return "", err
	}

	id, err := s.store.CreateConversation(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}
	// Register before the first turn lands so a failed registration leaves
	// only an empty conversation behind.
	if err := s.registrar.EnsureRegistered(ctx, ownerID, id, text); err != nil {
		return "", err
	}
	conv, err := s.store.AppendTurns(ctx, id, ownerID, turns)
	if err != nil {
		return "", fmt.Errorf("appending first turn: %w", err)
	}

	s.logger.Info("conversation created", "conversation_id", id, "owner_id", ownerID)

	if s.broadcaster != nil {
		s.broadcaster.Publish(ownerID, &Update{ConversationID: id, Created: true, Conversation: conv})
	}
	return id, nil
}

// Get returns one of ownerID's conversations
func (s *Service) Get(ctx context.Context, ownerID, conversationID string) (*store.Conversation, error) {
	if ownerID == "" {
		return nil, auth.ErrUnauthenticated
	}
	return s.store.GetConversation(ctx, conversationID, ownerID)
}

// ListSummaries returns ownerID's conversation summaries in creation order
func (s *Service) ListSummaries(ctx context.Context, ownerID string) ([]store.Summary, error) {
	if ownerID == "" {
		return nil, auth.ErrUnauthenticated
	}
	return s.store.ListSummaries(ctx, ownerID)
}

func commitStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, auth.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, turn.ErrInvalidShape), errors.Is(err, ErrEmptyQuestion):
		return "invalid"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRegistration):
		return "registration_failed"
	default:
		return "error"
	}
}

// OwnerCommitter binds a Service to one verified owner so in-process callers
// can commit without going through HTTP.
type OwnerCommitter struct {
	svc     *Service
	ownerID string
}

// For returns a committer that acts as ownerID.
func (s *Service) For(ownerID string) *OwnerCommitter {
	return &OwnerCommitter{svc: s, ownerID: ownerID}
}

// Commit commits req as the bound owner.
func (c *OwnerCommitter) Commit(ctx context.Context, req *CommitRequest) (*store.Conversation, error) {
	return c.svc.Commit(ctx, c.ownerID, req)
}
