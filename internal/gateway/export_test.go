package gateway

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/store"
)

func TestExport(t *testing.T) {
	tg := newTestGateway(t, nil)

	status, body := tg.do(t, "alice", http.MethodPut, "/api/chats/none", map[string]any{
		"question": "Is <script>alert(1)</script> safe?",
		"answer":   "**No.** Use `html/template`.\n\n<b>raw</b>",
		"img":      "https://ik.example.com/parley/cat.png",
		"video": map[string]string{
			"title":     "Escaping 101",
			"url":       "https://www.youtube.com/watch?v=abc",
			"thumbnail": "https://i.ytimg.com/vi/abc/hqdefault.jpg",
		},
	})
	require.Equal(t, http.StatusOK, status, string(body))
	conv := decode[store.Conversation](t, body)

	status, body = tg.do(t, "alice", http.MethodGet, "/api/chats/"+conv.ID+"/export", nil)
	require.Equal(t, http.StatusOK, status)
	html := string(body)

	assert.Contains(t, html, "<title>Is &lt;script&gt;alert(1)&lt;/script&gt; safe?</title>")
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "<strong>No.</strong>")
	assert.Contains(t, html, "<code>html/template</code>")
	assert.NotContains(t, html, "<b>raw</b>", "raw HTML in model output is dropped")
	assert.Contains(t, html, `src="https://ik.example.com/parley/cat.png"`)
	assert.Contains(t, html, `href="https://www.youtube.com/watch?v=abc"`)
	assert.Contains(t, html, "Escaping 101")
}

func TestExport_NotFoundForOtherOwner(t *testing.T) {
	tg := newTestGateway(t, nil)

	status, body := tg.do(t, "alice", http.MethodPut, "/api/chats/none", map[string]any{"question": "mine"})
	require.Equal(t, http.StatusOK, status)
	conv := decode[store.Conversation](t, body)

	status, _ = tg.do(t, "bob", http.MethodGet, "/api/chats/"+conv.ID+"/export", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
