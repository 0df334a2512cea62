// Package orchestrator drives one chat session's submissions.
//
// A submission moves Idle -> Composing -> AwaitingContent -> Committing and
// back to Idle. The enabled content sources run concurrently; whatever they
// produce is merged and committed once. A source failure only drops that
// source's contribution, while a missing or rejected identity aborts the
// submission before anything is committed.
//
// Each submission carries a sequence number. Results arriving for a sequence
// that is no longer current, such as after Cancel, are discarded.
package orchestrator
