// ABOUTME: Interactive terminal client for parley conversations
// ABOUTME: Streams answers from the text source and commits each exchange to the gateway

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/parley/internal/client"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/generation"
	"github.com/2389/parley/internal/logging"
	"github.com/2389/parley/internal/orchestrator"
	"github.com/2389/parley/internal/upload"
	"github.com/2389/parley/internal/video"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context) error {
	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// Logs go to stderr so they do not interleave with streamed answers
	logger := logging.New(cfg.Logging, os.Stderr)

	c := client.New(cfg.Client.GatewayURL, cfg.Client.Token, logger)
	owner, err := c.Owner()
	if err != nil {
		return fmt.Errorf("checking client.token: %w", err)
	}

	var text generation.Source
	if cfg.Generation.APIKey != "" {
		text = generation.NewOpenAI(generation.Config{
			APIKey:  cfg.Generation.APIKey,
			BaseURL: cfg.Generation.BaseURL,
			Model:   cfg.Generation.Model,
			Timeout: cfg.Generation.Timeout,
		}, logger)
	}
	var videos video.Source
	if cfg.Video.APIKey != "" {
		videos = video.NewYouTube(video.Config{
			APIKey:  cfg.Video.APIKey,
			BaseURL: cfg.Video.BaseURL,
			Timeout: cfg.Video.Timeout,
		}, logger)
	}

	orch := orchestrator.New(c, text, videos, logger)
	orch.SetIdentity(c)

	uploader := upload.NewUploader("", &http.Client{Timeout: cfg.Generation.Timeout})
	s := newSession(orch, c, uploader, color.Output, logger)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go s.watch(watchCtx)

	opts := orch.Snapshot().Options
	color.New(color.FgCyan).Printf("parley-chat connected to %s as %s\n", cfg.Client.GatewayURL, owner)
	fmt.Printf("text: %s  video: %s\n", onOff(opts.Text), onOff(opts.Video))
	fmt.Println("Type a question and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	return loop(ctx, s, os.Stdin, interrupts)
}

// loop reads lines until EOF, /quit, an interrupt at the prompt, or a fatal
// session error.
func loop(ctx context.Context, s *session, in io.Reader, interrupts <-chan os.Signal) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
			return
		}
		readErr <- io.EOF
	}()

	for {
		fmt.Fprint(s.out, color.GreenString("> "))

		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case line := <-lines:
			err := s.handle(ctx, line, interrupts)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}
