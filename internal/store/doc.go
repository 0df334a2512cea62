// Package store provides persistent storage for conversations and the
// per-user session index.
//
// # Architecture
//
// Two narrow interfaces describe what the rest of the system needs:
//
//   - ConversationStore: create, owner-scoped read, and append-only history writes
//   - SessionIndex: per-user ordered list of conversation summaries
//
// Store combines both plus Close. Three implementations exist:
//
//   - SQLiteStore: default backend (modernc.org/sqlite, no cgo)
//   - MongoStore: one document per conversation, history appended with $push
//   - MockStore: in-memory, for tests
//
// # Ownership
//
// Every conversation read or write takes the caller's owner id. A conversation
// that exists but belongs to someone else is reported as ErrNotFound, exactly
// like one that does not exist.
//
// # Atomicity
//
// AppendTurns is atomic per call: SQLite runs it in a transaction on a single
// connection, MongoDB uses one FindOneAndUpdate with $push/$each. Concurrent
// appends to the same conversation interleave without lost updates, and the
// turns of one call stay adjacent.
//
// CreateIndexEntry relies on the backend's primary key to detect a second
// entry for the same owner and reports it as ErrConflict. Resolving that race
// is the caller's job (see the conversation package).
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a
// t.TempDir() path for integration tests. Mongo tests run only when
// PARLEY_TEST_MONGO_URI is set.
package store
