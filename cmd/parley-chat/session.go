// ABOUTME: One interactive chat session: slash commands, submissions and rendering
// ABOUTME: Streams partial answers from orchestrator snapshots as they arrive

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/parley/internal/client"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/orchestrator"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/upload"
)

// errQuit ends the session normally
var errQuit = errors.New("quit")

type session struct {
	orch     *orchestrator.Orchestrator
	client   *client.Client
	uploader *upload.Uploader
	out      io.Writer
	logger   *slog.Logger

	mu      sync.Mutex
	printed int // bytes of the current partial answer already written
}

func newSession(orch *orchestrator.Orchestrator, c *client.Client, uploader *upload.Uploader, out io.Writer, logger *slog.Logger) *session {
	s := &session{orch: orch, client: c, uploader: uploader, out: out, logger: logger}
	orch.OnUpdate(s.render)
	return s
}

// render writes whatever part of the streamed answer is new.
func (s *session) render(snap orchestrator.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch snap.State {
	case orchestrator.Composing:
		s.printed = 0
	case orchestrator.AwaitingContent:
		if len(snap.Partial) > s.printed {
			fmt.Fprint(s.out, snap.Partial[s.printed:])
			s.printed = len(snap.Partial)
		}
	}
}

// handle runs one input line. It returns errQuit to end the session and any
// other error only when the session cannot continue.
func (s *session) handle(ctx context.Context, line string, interrupts <-chan os.Signal) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return s.submit(ctx, line, interrupts)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		s.help()
	case "/text":
		s.toggle(orchestrator.SourceText)
	case "/video":
		s.toggle(orchestrator.SourceVideo)
	case "/image":
		s.attach(ctx, arg)
	case "/list":
		s.list(ctx)
	case "/open":
		s.open(ctx, arg)
	case "/new":
		if err := s.orch.Open(nil); err != nil {
			s.fail(err)
			return nil
		}
		fmt.Fprintln(s.out, color.HiBlackString("started a new conversation"))
	case "/export":
		s.export(ctx, arg)
	default:
		fmt.Fprintf(s.out, "unknown command %s (try /help)\n", cmd)
	}
	return nil
}

// submit runs one submission, cancelling it if an interrupt arrives first.
func (s *session) submit(ctx context.Context, text string, interrupts <-chan os.Signal) error {
	type result struct {
		conv *store.Conversation
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conv, err := s.orch.Submit(ctx, text)
		done <- result{conv, err}
	}()

	var res result
	for {
		select {
		case res = <-done:
		case <-interrupts:
			if s.orch.Cancel() {
				fmt.Fprintln(s.out)
			}
			continue
		}
		break
	}

	// Terminate the streamed line
	s.mu.Lock()
	streamed := s.printed > 0
	s.mu.Unlock()
	if streamed {
		fmt.Fprintln(s.out)
	}

	switch {
	case res.err == nil:
	case errors.Is(res.err, orchestrator.ErrCancelled):
		fmt.Fprintln(s.out, color.YellowString("cancelled; nothing was saved"))
		return nil
	case client.IsUnauthenticated(res.err):
		return fmt.Errorf("identity rejected, check client.token: %w", res.err)
	default:
		s.fail(res.err)
		fmt.Fprintln(s.out, color.HiBlackString("nothing was saved; send the question again to retry"))
		return nil
	}

	snap := s.orch.Snapshot()
	for _, w := range snap.Warnings {
		fmt.Fprintln(s.out, color.YellowString("! %v", w))
	}

	last := res.conv.History[len(res.conv.History)-1]
	if last.Role == store.RoleModel {
		if !streamed && len(last.TextParts) > 0 {
			fmt.Fprintln(s.out, strings.Join(last.TextParts, "\n"))
		}
		if v := last.Video; v != nil {
			fmt.Fprintf(s.out, "%s %s %s\n", color.RedString("▶"), v.Title, color.HiBlackString(v.URL))
		}
	}
	return nil
}

func (s *session) help() {
	fmt.Fprintln(s.out, "Type a question and press Enter. Ctrl+C cancels a pending answer.")
	fmt.Fprintln(s.out, "  /text /video      toggle content sources")
	fmt.Fprintln(s.out, "  /image <path|url> attach an image to the next question")
	fmt.Fprintln(s.out, "  /list             list your conversations")
	fmt.Fprintln(s.out, "  /open <id>        continue a conversation")
	fmt.Fprintln(s.out, "  /new              start a new conversation")
	fmt.Fprintln(s.out, "  /export <file>    save the current conversation as HTML")
	fmt.Fprintln(s.out, "  /quit             leave")
}

func (s *session) toggle(src orchestrator.Source) {
	opts, err := s.orch.Toggle(src)
	if err != nil {
		s.fail(err)
	}
	fmt.Fprintf(s.out, "text: %s  video: %s\n", onOff(opts.Text), onOff(opts.Video))
}

func onOff(b bool) string {
	if b {
		return color.GreenString("on")
	}
	return color.HiBlackString("off")
}

// attach sets the next submission's image. Local files are uploaded to the
// CDN first; URLs are used as they are.
func (s *session) attach(ctx context.Context, ref string) {
	if ref == "" {
		fmt.Fprintln(s.out, "usage: /image <path|url>")
		return
	}

	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		url, err := s.uploadFile(ctx, ref)
		if err != nil {
			s.fail(err)
			return
		}
		ref = url
	}

	if err := s.orch.AttachImage(ref); err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintln(s.out, color.HiBlackString("image attached: "+ref))
}

func (s *session) uploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	params, err := s.client.UploadAuth(ctx)
	if err != nil {
		return "", err
	}
	return s.uploader.Upload(ctx, params, filepath.Base(path), f)
}

func (s *session) list(ctx context.Context) {
	summaries, err := s.client.List(ctx)
	if err != nil {
		s.fail(err)
		return
	}
	if len(summaries) == 0 {
		fmt.Fprintln(s.out, color.HiBlackString("no conversations yet"))
		return
	}

	current := s.orch.Snapshot().ConversationID
	for _, sum := range summaries {
		marker := " "
		if sum.ID == current {
			marker = color.GreenString("*")
		}
		fmt.Fprintf(s.out, "%s %s  %s\n", marker, color.HiBlackString(sum.ID), sum.Title)
	}
}

func (s *session) open(ctx context.Context, id string) {
	if id == "" {
		fmt.Fprintln(s.out, "usage: /open <id>")
		return
	}
	conv, err := s.client.Get(ctx, id)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.orch.Open(conv); err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "opened %s (%d turns)\n", conv.ID, len(conv.History))
}

func (s *session) export(ctx context.Context, path string) {
	id := s.orch.Snapshot().ConversationID
	if id == "" {
		fmt.Fprintln(s.out, "nothing to export yet")
		return
	}
	if path == "" {
		path = id + ".html"
	}

	html, err := s.client.Export(ctx, id)
	if err != nil {
		s.fail(err)
		return
	}
	if err := os.WriteFile(path, html, 0o644); err != nil {
		s.fail(fmt.Errorf("writing export: %w", err))
		return
	}
	fmt.Fprintf(s.out, "exported to %s\n", path)
}

// watch prints a notice when another session of the same owner creates a
// conversation. It returns when the stream ends.
func (s *session) watch(ctx context.Context) {
	updates, err := s.client.Events(ctx)
	if err != nil {
		s.logger.Warn("live updates unavailable", "error", err)
		return
	}
	for u := range updates {
		if !u.Created || u.Conversation == nil || u.ConversationID == s.orch.Snapshot().ConversationID {
			continue
		}
		title := u.ConversationID
		if len(u.Conversation.History) > 0 && len(u.Conversation.History[0].TextParts) > 0 {
			title = conversation.Title(u.Conversation.History[0].TextParts[0])
		}
		s.mu.Lock()
		fmt.Fprintln(s.out, color.HiBlackString("\nnew conversation elsewhere: %s (%s)", title, u.ConversationID))
		s.mu.Unlock()
	}
}

func (s *session) fail(err error) {
	fmt.Fprintln(s.out, color.RedString("error: %v", err))
}
