// ABOUTME: Video lookup against the YouTube Data API search endpoint
// ABOUTME: Returns the top result as a complete store.Video or nothing

package video

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/2389/parley/internal/store"
)

// Source finds one video for a query. A nil video with a nil error means
// nothing matched.
type Source interface {
	Search(ctx context.Context, query string) (*store.Video, error)
}

// Config configures the YouTube client
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// YouTube searches videos with the Data API v3
type YouTube struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewYouTube creates a YouTube source
func NewYouTube(cfg Config, logger *slog.Logger) *YouTube {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://www.googleapis.com/youtube/v3"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &YouTube{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "video"),
	}
}

// Search returns the first video result for query
func (y *YouTube) Search(ctx context.Context, query string) (*store.Video, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("maxResults", "1")
	params.Set("q", query)
	params.Set("key", y.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching videos: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("video search returned %d: %s", resp.StatusCode, msg)
	}

	return parseSearch(body), nil
}

// parseSearch picks the first item that has everything a store.Video needs.
func parseSearch(body []byte) *store.Video {
	for _, item := range gjson.GetBytes(body, "items").Array() {
		id := item.Get("id.videoId").String()
		title := item.Get("snippet.title").String()
		thumb := item.Get("snippet.thumbnails.high.url").String()
		if thumb == "" {
			thumb = item.Get("snippet.thumbnails.default.url").String()
		}

		v := &store.Video{
			Title:     title,
			Thumbnail: thumb,
		}
		if id != "" {
			v.URL = "https://www.youtube.com/watch?v=" + id
		}
		if v.Complete() {
			return v
		}
	}
	return nil
}
