// ABOUTME: MongoDB implementation of the Store interface using mongo-driver v2
// ABOUTME: Conversations are single documents; history appends use an atomic $push

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	conversationsCollection = "conversations"
	sessionIndexCollection  = "session_index"
)

// MongoStore implements the Store interface on MongoDB
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

type mongoVideo struct {
	Title     string `bson:"title"`
	URL       string `bson:"url"`
	Thumbnail string `bson:"thumbnail"`
}

type mongoTurn struct {
	Role  string      `bson:"role"`
	Parts []string    `bson:"parts"`
	Img   string      `bson:"img,omitempty"`
	Video *mongoVideo `bson:"video,omitempty"`
}

type mongoConversation struct {
	ID        string      `bson:"_id"`
	OwnerID   string      `bson:"owner_id"`
	History   []mongoTurn `bson:"history"`
	CreatedAt time.Time   `bson:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at"`
}

type mongoSummary struct {
	ID    string `bson:"id"`
	Title string `bson:"title"`
}

// mongoIndexEntry is keyed by owner so the primary key enforces one entry per user.
type mongoIndexEntry struct {
	OwnerID   string         `bson:"_id"`
	Summaries []mongoSummary `bson:"summaries"`
	CreatedAt time.Time      `bson:"created_at"`
}

// NewMongoStore connects to uri, verifies the connection and ensures indexes.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	logger := slog.Default().With("component", "store")

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(dbName),
		logger: logger,
	}

	_, err = s.conversations().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating owner index: %w", err)
	}

	logger.Info("MongoDB store initialized", "database", dbName)
	return s, nil
}

func (s *MongoStore) conversations() *mongo.Collection {
	return s.db.Collection(conversationsCollection)
}

func (s *MongoStore) sessionIndex() *mongo.Collection {
	return s.db.Collection(sessionIndexCollection)
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	s.logger.Info("closing MongoDB store")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// CreateConversation inserts an empty conversation document.
func (s *MongoStore) CreateConversation(ctx context.Context, ownerID string) (string, error) {
	now := time.Now().UTC()
	doc := mongoConversation{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		History:   []mongoTurn{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.conversations().InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("inserting conversation: %w", err)
	}
	s.logger.Debug("created conversation", "id", doc.ID, "owner_id", ownerID)
	return doc.ID, nil
}

// AppendTurns pushes turns onto the history in one atomic update filtered by owner.
func (s *MongoStore) AppendTurns(ctx context.Context, id, ownerID string, turns []Turn) (*Conversation, error) {
	if len(turns) == 0 {
		return nil, ErrNoTurns
	}

	docs := make([]mongoTurn, len(turns))
	for i, t := range turns {
		docs[i] = toMongoTurn(t)
	}

	var updated mongoConversation
	err := s.conversations().FindOneAndUpdate(ctx,
		bson.M{"_id": id, "owner_id": ownerID},
		bson.M{
			"$push": bson.M{"history": bson.M{"$each": docs}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appending turns: %w", err)
	}

	s.logger.Debug("appended turns", "id", id, "count", len(turns))
	return fromMongoConversation(updated), nil
}

// GetConversation finds a conversation by id and owner.
func (s *MongoStore) GetConversation(ctx context.Context, id, ownerID string) (*Conversation, error) {
	var doc mongoConversation
	err := s.conversations().FindOne(ctx, bson.M{"_id": id, "owner_id": ownerID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return fromMongoConversation(doc), nil
}

// ListSummaries returns the owner's summaries, or an empty slice without an entry.
func (s *MongoStore) ListSummaries(ctx context.Context, ownerID string) ([]Summary, error) {
	var doc mongoIndexEntry
	err := s.sessionIndex().FindOne(ctx, bson.M{"_id": ownerID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []Summary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session index: %w", err)
	}

	summaries := make([]Summary, len(doc.Summaries))
	for i, sum := range doc.Summaries {
		summaries[i] = Summary{ID: sum.ID, Title: sum.Title}
	}
	return summaries, nil
}

// CreateIndexEntry inserts the owner's entry; a duplicate key means ErrConflict.
func (s *MongoStore) CreateIndexEntry(ctx context.Context, ownerID string, first Summary) error {
	doc := mongoIndexEntry{
		OwnerID:   ownerID,
		Summaries: []mongoSummary{{ID: first.ID, Title: first.Title}},
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.sessionIndex().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting index entry: %w", err)
	}
	s.logger.Debug("created index entry", "owner_id", ownerID, "conversation_id", first.ID)
	return nil
}

// AppendSummary pushes a summary onto an existing entry.
func (s *MongoStore) AppendSummary(ctx context.Context, ownerID string, summary Summary) error {
	result, err := s.sessionIndex().UpdateOne(ctx,
		bson.M{"_id": ownerID},
		bson.M{"$push": bson.M{"summaries": mongoSummary{ID: summary.ID, Title: summary.Title}}},
	)
	if err != nil {
		return fmt.Errorf("appending summary: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	s.logger.Debug("appended summary", "owner_id", ownerID, "conversation_id", summary.ID)
	return nil
}

func toMongoTurn(t Turn) mongoTurn {
	doc := mongoTurn{
		Role:  string(t.Role),
		Parts: nonNilParts(t.TextParts),
		Img:   t.Image,
	}
	if t.Video != nil {
		doc.Video = &mongoVideo{Title: t.Video.Title, URL: t.Video.URL, Thumbnail: t.Video.Thumbnail}
	}
	return doc
}

func fromMongoConversation(doc mongoConversation) *Conversation {
	conv := &Conversation{
		ID:        doc.ID,
		OwnerID:   doc.OwnerID,
		History:   make([]Turn, len(doc.History)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for i, t := range doc.History {
		turn := Turn{
			Role:      Role(t.Role),
			TextParts: nonNilParts(t.Parts),
			Image:     t.Img,
		}
		if t.Video != nil {
			turn.Video = &Video{Title: t.Video.Title, URL: t.Video.URL, Thumbnail: t.Video.Thumbnail}
		}
		conv.History[i] = turn
	}
	return conv
}

var _ Store = (*MongoStore)(nil)
