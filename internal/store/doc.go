// Package store records tool executions in SQLite.
//
// The call log is an operational aid: it answers "what did the client call,
// on which tab, and how did it end" for the admin API. It holds no registry
// state, so a hub restarted against an existing database starts with an
// empty registry and the old history.
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) with WAL enabled.
// MockStore is an in-memory CallLog for tests.
package store
