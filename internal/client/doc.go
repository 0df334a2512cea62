// Package client is the HTTP client for the parley gateway.
//
// A Client carries one bearer token and is safe for concurrent use. It
// satisfies the orchestrator's Committer and IdentityChecker, so the chat
// binary drives submissions against a remote gateway the same way tests
// drive them in process.
//
// Error responses are mapped back to the sentinels the gateway started from,
// so errors.Is(err, store.ErrNotFound) holds on both sides of the wire.
package client
