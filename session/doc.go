// Package session tracks row-level changes on a SQLite connection and
// replays them elsewhere. It drives the SQLite session extension through
// modernc.org/sqlite/lib:
//   - Session: records changes to attached tables on one engine.Conn and
//     exports them as a changeset (old+new values) or patchset (new
//     values only)
//   - ApplyChangeset/ApplyPatchset: replay an exported diff against
//     another connection, resolving conflicts through a caller-supplied
//     handler
//
// A Session holds a pointer into its connection's native state: it must
// be closed before the connection is, and like the connection it is
// pinned to one goroutine. The diff byte layout is owned by SQLite and
// treated as opaque here.
package session
