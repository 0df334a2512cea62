// ABOUTME: Contract tests for the HTTP API surface to detect breaking changes.
// ABOUTME: Validates routes and JSON field names the chat client depends on.

package contract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/apierr"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/gateway"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/upload"
)

// expectedRoutes are the authenticated endpoints. Each must answer 401 to an
// anonymous request; a 404 or 405 means the route was dropped.
var expectedRoutes = []struct {
	method string
	path   string
}{
	{http.MethodPost, "/api/chats"},
	{http.MethodGet, "/api/userchats"},
	{http.MethodGet, "/api/chats/c1"},
	{http.MethodPut, "/api/chats/c1"},
	{http.MethodPut, "/api/chats/none"},
	{http.MethodGet, "/api/chats/c1/export"},
	{http.MethodGet, "/api/upload"},
	{http.MethodGet, "/api/events"},
}

// expectedFields maps each wire type to the JSON names it must carry.
var expectedFields = map[string]struct {
	typ    reflect.Type
	fields []string
}{
	"Conversation":  {reflect.TypeFor[store.Conversation](), []string{"id", "owner_id", "history", "created_at", "updated_at"}},
	"Turn":          {reflect.TypeFor[store.Turn](), []string{"role", "parts", "img", "video"}},
	"Video":         {reflect.TypeFor[store.Video](), []string{"title", "url", "thumbnail"}},
	"Summary":       {reflect.TypeFor[store.Summary](), []string{"id", "title"}},
	"CommitRequest": {reflect.TypeFor[conversation.CommitRequest](), []string{"question", "answer", "img", "video"}},
	"Update":        {reflect.TypeFor[conversation.Update](), []string{"conversation_id", "created", "conversation"}},
	"UploadParams":  {reflect.TypeFor[upload.Params](), []string{"token", "expire", "signature", "publicKey", "urlEndpoint"}},
	"ErrorBody":     {reflect.TypeFor[apierr.Body](), []string{"error", "code"}},
}

func jsonNames(typ reflect.Type) map[string]bool {
	names := make(map[string]bool)
	for i := range typ.NumField() {
		tag := typ.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		names[name] = true
	}
	return names
}

func TestRouteSurface(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Auth:   config.AuthConfig{JWTSecret: "contract-secret-for-jwt-signing!"},
	}
	gw, err := gateway.NewWithStore(cfg, store.NewMockStore(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	for _, route := range expectedRoutes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, nil)
			rec := httptest.NewRecorder()
			gw.Handler().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health must stay unauthenticated")
}

func TestWireFields(t *testing.T) {
	for name, expected := range expectedFields {
		t.Run(name, func(t *testing.T) {
			actual := jsonNames(expected.typ)
			for _, field := range expected.fields {
				assert.True(t, actual[field], "%s should carry JSON field %q", name, field)
			}
			for field := range actual {
				if !slices.Contains(expected.fields, field) {
					t.Logf("INFO: extra field %s.%s not in contract (consider adding)", name, field)
				}
			}
		})
	}
}

func TestErrorCodes(t *testing.T) {
	// Codes are matched by clients; renaming one is a breaking change.
	codes := map[apierr.Code]string{
		apierr.CodeUnauthenticated:    "unauthenticated",
		apierr.CodeNotFound:           "not_found",
		apierr.CodeInvalidShape:       "invalid_shape",
		apierr.CodeEmptyQuestion:      "empty_question",
		apierr.CodeRegistrationFailed: "registration_failed",
		apierr.CodeUploadsDisabled:    "uploads_disabled",
		apierr.CodeBadRequest:         "bad_request",
		apierr.CodeInternal:           "internal",
	}
	for code, wire := range codes {
		assert.Equal(t, wire, string(code))
	}
}
