// Package gateway is the parley HTTP server.
//
// It owns the store, the conversation service and its session index cache,
// and exposes them as a JSON API for authenticated owners:
//
//	POST /api/chats              create a conversation with a first user turn
//	GET  /api/userchats          list the caller's summaries, oldest first
//	GET  /api/chats/{id}         fetch one conversation
//	PUT  /api/chats/{id}         commit a submission; {id} may be "none"
//	GET  /api/chats/{id}/export  render a conversation as HTML
//	GET  /api/upload             sign one-time image upload parameters
//	GET  /api/events             stream the caller's conversation updates
//
// Every /api route requires a bearer JWT whose subject is the owner id.
// /health and, when enabled, the metrics path are unauthenticated.
package gateway
