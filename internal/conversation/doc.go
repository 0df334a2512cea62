// Package conversation is the server-side conversation layer.
//
// # Overview
//
// The package sits between the HTTP handlers and the store. It owns the rules
// that span more than one store call: lazy creation of conversations, keeping
// the per-user session index in step with the conversations, and the order in
// which a submission is validated and persisted.
//
// # Service
//
//	svc := conversation.New(store, logger)
//	conv, err := svc.Commit(ctx, ownerID, &conversation.CommitRequest{
//		ConversationID: conversation.NoConversation,
//		Question:       "Explain recursion",
//		Answer:         "A function that calls itself...",
//	})
//
// Commit checks identity, builds the turns (rejecting a partial video before
// anything is written), creates the conversation if the id is unset, appends
// the turns in one atomic store call and returns the updated conversation.
//
// # Registrar
//
// The Registrar guarantees one summary per conversation in the owner's index.
// Registration reads the index and then creates or appends. Two first
// conversations of a new user may both decide to create; the loser sees
// store.ErrConflict and retries once as an append. A failure on that retry is
// reported as ErrRegistration.
//
// A dedupe.Cache can be attached so repeat registrations skip the index read.
//
// # Broadcasting
//
// After each commit the Service publishes an Update on the Broadcaster, keyed
// by owner id. The gateway streams these to the owner's other clients.
package conversation
