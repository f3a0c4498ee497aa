// Package engine manages raw SQLite connections for this module. It opens
// databases through modernc.org/sqlite/lib (the transpiled SQLite C API)
// and keeps a thin surface:
//   - Conn: one database handle bound to one libc thread-local state
//   - Exec/Query: plain statement execution for schema and DML work
//   - Raw: a scoped borrow of the underlying native handle, used by the
//     session package to drive the session extension entry points
//
// A Conn is owned by a single goroutine for its entire lifetime; it must
// not be shared or handed off, matching SQLite's thread affinity for a
// connection handle.
package engine
