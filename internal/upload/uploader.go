package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"
)

// DefaultUploadURL is the CDN's direct upload endpoint
const DefaultUploadURL = "https://upload.imagekit.io/api/v1/files/upload"

// ErrUploadFailed is returned when the CDN rejects an upload
var ErrUploadFailed = errors.New("image upload failed")

// Uploader sends files straight to the CDN using gateway-signed Params.
type Uploader struct {
	url  string
	http *http.Client
}

// NewUploader creates an Uploader. An empty url means DefaultUploadURL.
func NewUploader(url string, h *http.Client) *Uploader {
	if url == "" {
		url = DefaultUploadURL
	}
	if h == nil {
		h = http.DefaultClient
	}
	return &Uploader{url: url, http: h}
}

// Upload posts file as fileName and returns the URL the CDN serves it from.
func (u *Uploader) Upload(ctx context.Context, p *Params, fileName string, file io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := [][2]string{
		{"fileName", fileName},
		{"publicKey", p.PublicKey},
		{"signature", p.Signature},
		{"expire", strconv.FormatInt(p.Expire, 10)},
		{"token", p.Token},
		{"useUniqueFileName", "true"},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("writing %s: %w", f[0], err)
		}
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("creating file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("reading %s: %w", fileName, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, &body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(data, "message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s (HTTP %d)", ErrUploadFailed, msg, resp.StatusCode)
	}

	url := gjson.GetBytes(data, "url").String()
	if url == "" {
		return "", fmt.Errorf("%w: response has no url", ErrUploadFailed)
	}
	return url, nil
}
