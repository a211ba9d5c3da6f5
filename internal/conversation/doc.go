// ABOUTME: Package documentation for conversation persistence
// ABOUTME: Describes the SQLite-backed store and its pagination model

// Package conversation persists conversations and their items in SQLite.
//
// Items keep a server-assigned monotonic sequence, so listing in "asc"
// order always reproduces insertion order and the "after" cursor pages
// through it without skipping or repeating records. Deleting a
// conversation cascades to its items.
package conversation
