// ABOUTME: Store interfaces and data types for parley persistence
// ABOUTME: Defines Conversation, Turn, Summary and the ConversationStore/SessionIndex contracts

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist or is not
// owned by the caller. Both cases share the error so existence never leaks.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when creating a record whose key already exists
var ErrConflict = errors.New("already exists")

// ErrNoTurns is returned when an append carries no turns
var ErrNoTurns = errors.New("no turns to append")

// Role identifies who authored a turn
type Role string

// Role constants
const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// Video is a structured reference to a video attached to a model turn.
// A stored Video always carries all three fields.
type Video struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
}

// Complete reports whether every field is set.
func (v *Video) Complete() bool {
	return v != nil && v.Title != "" && v.URL != "" && v.Thumbnail != ""
}

// Turn is one role-tagged entry in a conversation history
type Turn struct {
	Role      Role     `json:"role"`
	TextParts []string `json:"parts"`
	Image     string   `json:"img,omitempty"`
	Video     *Video   `json:"video,omitempty"`
}

// Conversation is the append-only history of turns owned by one user
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	History   []Turn    `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the index record used to list a user's conversations
type Summary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ConversationStore owns persisted conversation records.
// Every read and write is scoped to the owning user.
type ConversationStore interface {
	// CreateConversation creates an empty conversation and returns its id.
	CreateConversation(ctx context.Context, ownerID string) (string, error)

	// AppendTurns adds turns to the end of the history, in order, and returns
	// the updated conversation. Returns ErrNotFound unless ownerID owns id.
	AppendTurns(ctx context.Context, id, ownerID string, turns []Turn) (*Conversation, error)

	// GetConversation returns ErrNotFound unless ownerID owns id.
	GetConversation(ctx context.Context, id, ownerID string) (*Conversation, error)
}

// SessionIndex owns the per-user ordered list of conversation summaries
type SessionIndex interface {
	// ListSummaries returns the owner's summaries in insertion order, or an
	// empty slice when the owner has no index entry yet.
	ListSummaries(ctx context.Context, ownerID string) ([]Summary, error)

	// CreateIndexEntry creates the owner's entry holding exactly first.
	// Returns ErrConflict if the entry already exists.
	CreateIndexEntry(ctx context.Context, ownerID string, first Summary) error

	// AppendSummary adds a summary to an existing entry.
	// Returns ErrNotFound if the owner has no entry yet.
	AppendSummary(ctx context.Context, ownerID string, summary Summary) error
}

// Store is a full persistence backend
type Store interface {
	ConversationStore
	SessionIndex

	// Close releases any resources held by the store
	Close() error
}

// cloneTurns copies turns deeply enough that callers cannot mutate stored history.
func cloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t
		out[i].TextParts = append([]string{}, t.TextParts...)
		if t.Video != nil {
			v := *t.Video
			out[i].Video = &v
		}
	}
	return out
}
