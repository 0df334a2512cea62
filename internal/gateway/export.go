// ABOUTME: Renders a conversation as a standalone HTML page
// ABOUTME: Model turns are treated as markdown, user turns as plain text

package gateway

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var exportTemplate = template.Must(template.ParseFS(templateFS, "templates/export.html"))

type exportTurn struct {
	Role  store.Role
	Text  []string
	HTML  template.HTML
	Image string
	Video *store.Video
}

type exportPage struct {
	Title    string
	Turns    []exportTurn
	Exported string
}

// handleExport renders one conversation as HTML.
func (g *Gateway) handleExport(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := g.requireOwner(w, r)
	if !ok {
		return
	}
	conv, err := g.conversation.Get(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		g.sendError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := g.renderExport(&buf, conv); err != nil {
		g.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="`+conv.ID+`.html"`)
	_, _ = w.Write(buf.Bytes())
}

func (g *Gateway) renderExport(buf *bytes.Buffer, conv *store.Conversation) error {
	page := exportPage{
		Title:    "Conversation",
		Exported: time.Now().UTC().Format(time.RFC3339),
	}

	for _, t := range conv.History {
		if page.Title == "Conversation" && t.Role == store.RoleUser && len(t.TextParts) > 0 {
			page.Title = conversation.Title(t.TextParts[0])
		}

		et := exportTurn{Role: t.Role, Text: t.TextParts, Image: t.Image, Video: t.Video}
		if t.Role == store.RoleModel && len(t.TextParts) > 0 {
			et.HTML = g.renderMarkdown(strings.Join(t.TextParts, "\n\n"))
		}
		page.Turns = append(page.Turns, et)
	}

	return exportTemplate.Execute(buf, page)
}

// renderMarkdown converts model output to HTML. Raw HTML in the source is
// omitted by goldmark's default renderer.
func (g *Gateway) renderMarkdown(md string) template.HTML {
	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &htmlBuf); err != nil {
		g.logger.Error("failed to convert markdown", "error", err)
		return ""
	}
	return template.HTML(htmlBuf.String()) //nolint:gosec // goldmark escapes raw HTML without WithUnsafe
}
