// ABOUTME: Registrar keeps the per-user session index consistent with conversations
// ABOUTME: Mints conversations lazily and resolves the first-entry creation race with one retry

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/store"
)

// NoConversation is the conversation id clients send before one exists
const NoConversation = "none"

// TitleLength is the number of characters of the first question kept as title
const TitleLength = 40

// ErrRegistration is returned when a summary could not be written even after
// the single conflict retry
var ErrRegistration = errors.New("conversation registration failed")

// ConversationCreator is what the registrar needs to mint conversations
type ConversationCreator interface {
	CreateConversation(ctx context.Context, ownerID string) (string, error)
}

// Registrar guarantees that every conversation it registers has exactly one
// summary in its owner's session index.
type Registrar struct {
	conversations ConversationCreator
	index         store.SessionIndex
	cache         *dedupe.Cache
	metrics       *metrics.Collector
	logger        *slog.Logger
}

// NewRegistrar creates a Registrar
func NewRegistrar(conversations ConversationCreator, index store.SessionIndex, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		conversations: conversations,
		index:         index,
		logger:        logger.With("component", "registrar"),
	}
}

// SetCache lets repeat registrations skip the index read.
func (r *Registrar) SetCache(c *dedupe.Cache) {
	r.cache = c
}

// SetMetrics configures the registration counters.
func (r *Registrar) SetMetrics(m *metrics.Collector) {
	r.metrics = m
}

// IsUnset reports whether id means "no conversation yet".
// The empty string and "null" are accepted alongside NoConversation.
func IsUnset(id string) bool {
	return id == "" || id == NoConversation || id == "null"
}

// Title derives a summary title: the first TitleLength characters of seed.
func Title(seed string) string {
	runes := []rune(seed)
	if len(runes) > TitleLength {
		return string(runes[:TitleLength])
	}
	return seed
}

// EnsureRegistered makes sure the owner's index holds exactly one summary for
// conversationID. It is idempotent per conversation id.
//
// The index read and the create-or-append write are separate store calls, so
// two first conversations of a brand-new user can both see no entry. The one
// whose CreateIndexEntry loses with ErrConflict retries once as AppendSummary.
func (r *Registrar) EnsureRegistered(ctx context.Context, ownerID, conversationID, titleSeed string) error {
	key := dedupe.Key{OwnerID: ownerID, ConversationID: conversationID}
	if r.cache.Seen(key) {
		r.metrics.Registration(metrics.RegistrationNoop)
		return nil
	}

	summaries, err := r.index.ListSummaries(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("reading session index: %w", err)
	}
	for _, s := range summaries {
		if s.ID == conversationID {
			r.cache.Mark(key)
			r.metrics.Registration(metrics.RegistrationNoop)
			return nil
		}
	}

	summary := store.Summary{ID: conversationID, Title: Title(titleSeed)}

	if len(summaries) > 0 {
		if err := r.index.AppendSummary(ctx, ownerID, summary); err != nil {
			return fmt.Errorf("appending summary: %w", err)
		}
		r.registered(key, metrics.RegistrationAppend)
		return nil
	}

	err = r.index.CreateIndexEntry(ctx, ownerID, summary)
	if err == nil {
		r.registered(key, metrics.RegistrationCreate)
		return nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("creating index entry: %w", err)
	}

	r.logger.Debug("index entry created concurrently, retrying as append",
		"owner_id", ownerID,
		"conversation_id", conversationID)

	if err := r.index.AppendSummary(ctx, ownerID, summary); err != nil {
		r.logger.Error("append after conflict failed",
			"owner_id", ownerID,
			"conversation_id", conversationID,
			"error", err)
		return fmt.Errorf("%w: append after conflict: %w", ErrRegistration, err)
	}
	r.registered(key, metrics.RegistrationConflictRetry)
	return nil
}

// CreateOrReuse returns conversationID unchanged when it is set. Otherwise it
// mints a conversation for ownerID and registers it titled from userText.
func (r *Registrar) CreateOrReuse(ctx context.Context, ownerID, conversationID, userText string) (string, error) {
	if !IsUnset(conversationID) {
		return conversationID, nil
	}

	id, err := r.conversations.CreateConversation(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}
	r.logger.Debug("conversation created lazily", "conversation_id", id, "owner_id", ownerID)

	if err := r.EnsureRegistered(ctx, ownerID, id, userText); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Registrar) registered(key dedupe.Key, path string) {
	r.cache.Mark(key)
	r.metrics.Registration(path)
	r.logger.Debug("conversation registered",
		"owner_id", key.OwnerID,
		"conversation_id", key.ConversationID,
		"path", path)
}
