// ABOUTME: HTTP API handlers for conversations, summaries and upload auth
// ABOUTME: Every handler acts for the owner the auth middleware put in the request context

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/parley/internal/apierr"
	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/store"
)

// maxBodyBytes bounds request bodies; images travel as URLs, not bytes
const maxBodyBytes = 1 << 20

// CreateRequest is the JSON body for POST /api/chats
type CreateRequest struct {
	Text string `json:"text"`
}

// CreateResponse is the JSON body returned by POST /api/chats
type CreateResponse struct {
	ID string `json:"id"`
}

// handleCreate eagerly creates a conversation with one user turn.
func (g *Gateway) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !g.decodeBody(w, r, &req) {
		return
	}

	ownerID, ok := g.requireOwner(w, r)
	if !ok {
		return
	}
	id, err := g.conversation.Create(r.Context(), ownerID, req.Text)
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, CreateResponse{ID: id})
}

// handleListSummaries returns the caller's summaries, oldest first.
func (g *Gateway) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := g.requireOwner(w, r)
	if !ok {
		return
	}
	summaries, err := g.conversation.ListSummaries(r.Context(), ownerID)
	if err != nil {
		g.sendError(w, err)
		return
	}
	if summaries == nil {
		summaries = []store.Summary{}
	}
	g.writeJSON(w, http.StatusOK, summaries)
}

// handleGet returns one conversation with its history.
func (g *Gateway) handleGet(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := g.requireOwner(w, r)
	if !ok {
		return
	}
	conv, err := g.conversation.Get(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, conv)
}

// handleCommit appends one submission to a conversation. The path id may be
// "none" to have the conversation created.
func (g *Gateway) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req conversation.CommitRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	req.ConversationID = r.PathValue("id")

	ownerID, ok := g.requireOwner(w, r)
	if !ok {
		return
	}
	conv, err := g.conversation.Commit(r.Context(), ownerID, &req)
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, conv)
}

// handleUploadAuth returns one-time image upload parameters.
func (g *Gateway) handleUploadAuth(w http.ResponseWriter, r *http.Request) {
	params, err := g.uploads.Params()
	if err != nil {
		g.sendError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	g.writeJSON(w, http.StatusOK, params)
}

// requireOwner reads the owner the auth middleware verified, writing a 401
// when there is none.
func (g *Gateway) requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID, err := auth.RequireOwner(r.Context())
	if err != nil {
		g.sendError(w, err)
		return "", false
	}
	return ownerID, true
}

// decodeBody decodes a bounded JSON body into v, writing a 400 on failure.
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, apierr.CodeBadRequest,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		g.sendJSONError(w, http.StatusBadRequest, apierr.CodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// sendError maps err onto a status and code. Server-side failures are logged
// and their details kept out of the response.
func (g *Gateway) sendError(w http.ResponseWriter, err error) {
	status, code := apierr.FromError(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && code == apierr.CodeInternal {
		g.logger.Error("request failed", "error", err)
		msg = "internal server error"
	} else if status >= http.StatusInternalServerError {
		g.logger.Error("request failed", "error", err, "code", code)
	}
	g.sendJSONError(w, status, code, msg)
}

// writeJSON writes v as a JSON response.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, code apierr.Code, message string) {
	g.writeJSON(w, status, apierr.Body{Error: message, Code: code})
}
