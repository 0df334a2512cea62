// ABOUTME: In-memory fan-out of committed conversations to an owner's other clients
// ABOUTME: Subscribers key on owner id and receive the conversation after each commit

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Update is delivered to subscribers after a successful commit.
type Update struct {
	ConversationID string              `json:"conversation_id"`
	Created        bool                `json:"created"`
	Conversation   *store.Conversation `json:"conversation"`
}

// Broadcaster provides in-memory pub/sub for committed conversations.
// Subscribers register for an owner id so every open client of that user
// sees new turns without polling.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Update // ownerID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Update),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for updates to ownerID's conversations. The channel is
// closed and the subscription removed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, ownerID string) (<-chan *Update, string) {
	subID := uuid.New().String()
	ch := make(chan *Update, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[ownerID]; !ok {
		b.subscribers[ownerID] = make(map[string]chan *Update)
	}
	b.subscribers[ownerID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "owner_id", ownerID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(ownerID, subID)
	}()

	return ch, subID
}

// Publish delivers update to every subscriber of ownerID.
// Sends never block: a subscriber with a full buffer misses the update.
func (b *Broadcaster) Publish(ownerID string, update *Update) {
	// The read lock is held across the sends so Unsubscribe cannot close a
	// channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[ownerID] {
		select {
		case ch <- update:
		default:
			b.logger.Debug("dropped update for slow subscriber",
				"owner_id", ownerID,
				"sub_id", subID,
				"conversation_id", update.ConversationID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ownerID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[ownerID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, ownerID)
	}

	b.logger.Debug("subscriber removed", "owner_id", ownerID, "sub_id", subID)
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ownerID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, ownerID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
