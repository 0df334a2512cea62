// ABOUTME: Signs short-lived upload parameters for the image CDN
// ABOUTME: Clients upload directly to the CDN with these and store only the resulting URL

package upload

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // the CDN's upload API mandates HMAC-SHA1
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/config"
)

// ErrNotConfigured is returned when no private key is configured
var ErrNotConfigured = errors.New("image uploads are not configured")

// Params are the one-time values a client sends with a direct upload
type Params struct {
	Token       string `json:"token"`
	Expire      int64  `json:"expire"`
	Signature   string `json:"signature"`
	PublicKey   string `json:"publicKey,omitempty"`
	URLEndpoint string `json:"urlEndpoint,omitempty"`
}

// Signer mints upload parameters from the configured key pair
type Signer struct {
	cfg config.UploadConfig
	now func() time.Time
}

// NewSigner creates a Signer. A zero Expire defaults to 30 minutes.
func NewSigner(cfg config.UploadConfig) *Signer {
	if cfg.Expire <= 0 {
		cfg.Expire = 30 * time.Minute
	}
	return &Signer{cfg: cfg, now: time.Now}
}

// Enabled reports whether a private key is configured.
func (s *Signer) Enabled() bool {
	return s != nil && s.cfg.PrivateKey != ""
}

// Params returns a fresh token, expiry and signature.
func (s *Signer) Params() (*Params, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	token := uuid.NewString()
	expire := s.now().Add(s.cfg.Expire).Unix()
	return &Params{
		Token:       token,
		Expire:      expire,
		Signature:   Sign(s.cfg.PrivateKey, token, expire),
		PublicKey:   s.cfg.PublicKey,
		URLEndpoint: s.cfg.URLEndpoint,
	}, nil
}

// Verify reports whether p was signed with this signer's key and has not expired.
func (s *Signer) Verify(p *Params) bool {
	if !s.Enabled() || p == nil || p.Token == "" {
		return false
	}
	if s.now().Unix() > p.Expire {
		return false
	}
	want := Sign(s.cfg.PrivateKey, p.Token, p.Expire)
	return hmac.Equal([]byte(want), []byte(p.Signature))
}

// Sign returns the hex HMAC-SHA1 of token followed by the decimal expiry.
func Sign(privateKey, token string, expire int64) string {
	mac := hmac.New(sha1.New, []byte(privateKey))
	mac.Write([]byte(token + strconv.FormatInt(expire, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
