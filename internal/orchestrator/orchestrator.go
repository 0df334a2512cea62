// ABOUTME: Client-side submission state machine for one conversation
// ABOUTME: Fans out to text and video sources, merges what settles, and commits exactly once

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/generation"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/video"
)

// Submission errors
var (
	ErrBusy              = errors.New("a submission is already in flight")
	ErrBlankInput        = errors.New("input is blank")
	ErrNoSourceEnabled   = errors.New("at least one content source must stay enabled")
	ErrSourceUnavailable = errors.New("content source not configured")
	ErrContentSource     = errors.New("content source failed")
	ErrCancelled         = errors.New("submission cancelled")
)

// State is where the orchestrator is in a submission
type State int

// Submission states
const (
	Idle State = iota
	Composing
	AwaitingContent
	Committing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Composing:
		return "composing"
	case AwaitingContent:
		return "awaiting_content"
	case Committing:
		return "committing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source names a content source for Toggle
type Source string

// Content sources
const (
	SourceText  Source = "text"
	SourceVideo Source = "video"
)

// Options says which content sources a submission uses
type Options struct {
	Text  bool
	Video bool
}

// Committer persists one submission. conversation.Service (through For) and
// client.Client both implement it.
type Committer interface {
	Commit(ctx context.Context, req *conversation.CommitRequest) (*store.Conversation, error)
}

// IdentityChecker confirms the caller still has a usable identity before any
// content source runs. A failure must wrap auth.ErrUnauthenticated.
type IdentityChecker interface {
	CheckIdentity(ctx context.Context) error
}

// Snapshot is a copy of the state shown to the user
type Snapshot struct {
	State          State
	Options        Options
	ConversationID string
	Conversation   *store.Conversation
	Draft          string
	Partial        string
	Video          *store.Video
	Image          string
	Warnings       []error
	Err            error
}

// Orchestrator drives submissions for one conversation at a time.
// Methods are safe for concurrent use.
type Orchestrator struct {
	committer Committer
	text      generation.Source
	videos    video.Source
	identity  IdentityChecker
	metrics   *metrics.Collector
	logger    *slog.Logger
	onUpdate  func(Snapshot)

	mu           sync.Mutex
	state        State
	seq          uint64
	cancel       context.CancelFunc
	options      Options
	conversation *store.Conversation
	draft        string
	partial      string
	video        *store.Video
	image        string
	warnings     []error
	lastErr      error
}

// New creates an Orchestrator. Either source may be nil; the options start
// with text enabled when a text source exists, video otherwise.
func New(committer Committer, text generation.Source, videos video.Source, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		committer: committer,
		text:      text,
		videos:    videos,
		logger:    logger.With("component", "orchestrator"),
		options:   Options{Text: text != nil, Video: text == nil && videos != nil},
	}
}

// SetIdentity configures the identity check run at the start of every submission.
func (o *Orchestrator) SetIdentity(id IdentityChecker) {
	o.identity = id
}

// SetMetrics configures source failure counters.
func (o *Orchestrator) SetMetrics(m *metrics.Collector) {
	o.metrics = m
}

// OnUpdate registers fn to receive a Snapshot after every visible change.
// fn may be called from several goroutines and must not block for long.
func (o *Orchestrator) OnUpdate(fn func(Snapshot)) {
	o.mu.Lock()
	o.onUpdate = fn
	o.mu.Unlock()
}

// Snapshot returns the current state
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	s := Snapshot{
		State:        o.state,
		Options:      o.options,
		Conversation: o.conversation,
		Draft:        o.draft,
		Partial:      o.partial,
		Image:        o.image,
		Warnings:     append([]error(nil), o.warnings...),
		Err:          o.lastErr,
	}
	if o.conversation != nil {
		s.ConversationID = o.conversation.ID
	}
	if o.video != nil {
		v := *o.video
		s.Video = &v
	}
	return s
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	fn := o.onUpdate
	snap := o.snapshotLocked()
	o.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// Toggle flips one content source. Turning off the last enabled source is
// rejected with ErrNoSourceEnabled, and options are locked while a
// submission is in flight.
func (o *Orchestrator) Toggle(src Source) (Options, error) {
	o.mu.Lock()
	if o.state != Idle {
		opts := o.options
		o.mu.Unlock()
		return opts, ErrBusy
	}

	next := o.options
	switch src {
	case SourceText:
		next.Text = !next.Text
		if next.Text && o.text == nil {
			o.mu.Unlock()
			return o.options, fmt.Errorf("%w: %s", ErrSourceUnavailable, src)
		}
	case SourceVideo:
		next.Video = !next.Video
		if next.Video && o.videos == nil {
			o.mu.Unlock()
			return o.options, fmt.Errorf("%w: %s", ErrSourceUnavailable, src)
		}
	default:
		o.mu.Unlock()
		return o.options, fmt.Errorf("unknown content source %q", src)
	}

	if !next.Text && !next.Video {
		opts := o.options
		o.mu.Unlock()
		return opts, ErrNoSourceEnabled
	}
	o.options = next
	o.mu.Unlock()

	o.notify()
	return next, nil
}

// AttachImage sets the image reference sent with the next submission.
func (o *Orchestrator) AttachImage(path string) error {
	o.mu.Lock()
	if o.state != Idle {
		o.mu.Unlock()
		return ErrBusy
	}
	o.image = path
	o.mu.Unlock()
	o.notify()
	return nil
}

// Open switches to an existing conversation; nil starts a new one.
func (o *Orchestrator) Open(conv *store.Conversation) error {
	o.mu.Lock()
	if o.state != Idle {
		o.mu.Unlock()
		return ErrBusy
	}
	o.conversation = conv
	o.draft, o.partial, o.video, o.image = "", "", nil, ""
	o.warnings, o.lastErr = nil, nil
	o.mu.Unlock()
	o.notify()
	return nil
}

// Cancel abandons the submission in flight if it has not reached Committing.
// Results that arrive for it later are discarded. The draft and any partial
// answer stay visible. Reports whether a submission was cancelled.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	if o.state != Composing && o.state != AwaitingContent {
		o.mu.Unlock()
		return false
	}
	o.seq++
	o.state = Idle
	o.lastErr = ErrCancelled
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.mu.Unlock()

	o.logger.Debug("submission cancelled")
	o.notify()
	return true
}

// Submit runs one submission to completion and returns the committed
// conversation. It blocks until the commit finishes or the submission fails.
func (o *Orchestrator) Submit(ctx context.Context, text string) (*store.Conversation, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrBlankInput
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.state != Idle {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	o.seq++
	seq := o.seq
	o.cancel = cancel
	o.state = Composing
	o.draft = text
	o.partial = ""
	o.video = nil
	o.warnings = nil
	o.lastErr = nil
	opts := o.options
	image := o.image
	conversationID := conversation.NoConversation
	var history []store.Turn
	if o.conversation != nil {
		conversationID = o.conversation.ID
		history = o.conversation.History
	}
	o.mu.Unlock()
	o.notify()

	if !opts.Text && !opts.Video {
		return nil, o.fail(seq, ErrNoSourceEnabled)
	}

	if o.identity != nil {
		if err := o.identity.CheckIdentity(ctx); err != nil {
			return nil, o.fail(seq, fmt.Errorf("checking identity: %w", err))
		}
	}

	if !o.advance(seq, Composing, AwaitingContent) {
		return nil, ErrCancelled
	}

	answer, vid, err := o.gather(ctx, seq, opts, history, text)
	if err != nil {
		return nil, o.fail(seq, err)
	}

	if !o.advance(seq, AwaitingContent, Committing) {
		o.logger.Debug("discarding results of cancelled submission", "seq", seq)
		return nil, ErrCancelled
	}

	conv, err := o.committer.Commit(ctx, &conversation.CommitRequest{
		ConversationID: conversationID,
		Question:       text,
		Answer:         answer,
		Image:          image,
		Video:          vid,
	})
	if err != nil {
		return nil, o.fail(seq, fmt.Errorf("committing: %w", err))
	}

	o.mu.Lock()
	o.state = Idle
	o.cancel = nil
	o.conversation = conv
	o.draft, o.partial, o.video, o.image = "", "", nil, ""
	o.lastErr = nil
	o.mu.Unlock()
	o.notify()

	o.logger.Debug("submission committed", "conversation_id", conv.ID, "turns", len(conv.History))
	return conv, nil
}

// gather runs the enabled sources concurrently and waits for all of them.
// Source failures are absorbed; only an identity failure is returned.
func (o *Orchestrator) gather(ctx context.Context, seq uint64, opts Options, history []store.Turn, prompt string) (string, *store.Video, error) {
	g, gctx := errgroup.WithContext(ctx)

	var answer string
	var vid *store.Video

	if opts.Text && o.text != nil {
		g.Go(func() error {
			text, err := o.generate(gctx, seq, history, prompt)
			if err != nil {
				return o.sourceFailed(seq, SourceText, err)
			}
			answer = text
			return nil
		})
	}

	if opts.Video && o.videos != nil {
		g.Go(func() error {
			v, err := o.videos.Search(gctx, prompt)
			if err != nil {
				return o.sourceFailed(seq, SourceVideo, err)
			}
			if v != nil && !v.Complete() {
				return o.sourceFailed(seq, SourceVideo, fmt.Errorf("incomplete video result"))
			}
			vid = v
			o.applyVideo(seq, v)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", nil, err
	}
	return answer, vid, nil
}

// generate consumes the text stream, publishing the growing partial answer.
func (o *Orchestrator) generate(ctx context.Context, seq uint64, history []store.Turn, prompt string) (string, error) {
	chunks, err := o.text.Generate(ctx, history, prompt)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
			o.applyPartial(seq, sb.String())
		}
		if chunk.Done {
			return sb.String(), nil
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("stream ended without completion")
}

// sourceFailed decides whether a source error sinks the submission.
// Identity failures do; anything else degrades to missing content.
func (o *Orchestrator) sourceFailed(seq uint64, src Source, err error) error {
	if errors.Is(err, auth.ErrUnauthenticated) {
		return fmt.Errorf("%s source: %w", src, err)
	}

	o.mu.Lock()
	if o.seq != seq {
		// Cancelled; the error is most likely our own cancellation.
		o.mu.Unlock()
		return nil
	}
	o.warnings = append(o.warnings, fmt.Errorf("%w: %s: %w", ErrContentSource, src, err))
	o.mu.Unlock()

	o.logger.Warn("content source failed, continuing without it", "source", string(src), "error", err)
	o.metrics.SourceFailure(string(src))
	return nil
}

// applyPartial shows the streamed answer so far, unless the submission it
// belongs to is no longer waiting for content.
func (o *Orchestrator) applyPartial(seq uint64, partial string) bool {
	o.mu.Lock()
	if o.seq != seq || o.state != AwaitingContent {
		o.mu.Unlock()
		return false
	}
	o.partial = partial
	o.mu.Unlock()
	o.notify()
	return true
}

// applyVideo shows the video result under the same guard as applyPartial.
func (o *Orchestrator) applyVideo(seq uint64, v *store.Video) bool {
	o.mu.Lock()
	if o.seq != seq || o.state != AwaitingContent {
		o.mu.Unlock()
		return false
	}
	o.video = v
	o.mu.Unlock()
	o.notify()
	return true
}

// advance moves from one state to the next if seq is still current.
func (o *Orchestrator) advance(seq uint64, from, to State) bool {
	o.mu.Lock()
	if o.seq != seq || o.state != from {
		o.mu.Unlock()
		return false
	}
	o.state = to
	o.mu.Unlock()
	o.notify()
	return true
}

// fail returns to Idle keeping the draft and partial answer, and records err.
// A cancelled submission has already been reset, so only err is returned.
func (o *Orchestrator) fail(seq uint64, err error) error {
	o.mu.Lock()
	if o.seq != seq {
		o.mu.Unlock()
		return ErrCancelled
	}
	o.state = Idle
	o.cancel = nil
	o.lastErr = err
	o.mu.Unlock()
	o.notify()

	o.logger.Debug("submission failed", "error", err)
	return err
}
