package session

import (
	"errors"
	"fmt"

	sqlite3 "modernc.org/sqlite/lib"
)

// Code is a SQLite result code carried by session and apply errors. Only
// the codes session operations are known to produce have named
// constants; any other value renders as SQLITE_UNKNOWN with the raw
// number preserved.
type Code int32

const (
	CodeError    Code = sqlite3.SQLITE_ERROR
	CodeInternal Code = sqlite3.SQLITE_INTERNAL
	CodePerm     Code = sqlite3.SQLITE_PERM
	CodeBusy     Code = sqlite3.SQLITE_BUSY
	CodeLocked   Code = sqlite3.SQLITE_LOCKED
	CodeNoMem    Code = sqlite3.SQLITE_NOMEM
	CodeReadOnly Code = sqlite3.SQLITE_READONLY
	CodeSchema   Code = sqlite3.SQLITE_SCHEMA
	CodeTooBig   Code = sqlite3.SQLITE_TOOBIG
	CodeMisuse   Code = sqlite3.SQLITE_MISUSE
)

func (c Code) String() string {
	switch c {
	case CodeError:
		return "SQLITE_ERROR (1)"
	case CodeInternal:
		return "SQLITE_INTERNAL (2)"
	case CodePerm:
		return "SQLITE_PERM (3)"
	case CodeBusy:
		return "SQLITE_BUSY (5)"
	case CodeLocked:
		return "SQLITE_LOCKED (6)"
	case CodeNoMem:
		return "SQLITE_NOMEM (7)"
	case CodeReadOnly:
		return "SQLITE_READONLY (8)"
	case CodeSchema:
		return "SQLITE_SCHEMA (17)"
	case CodeTooBig:
		return "SQLITE_TOOBIG (18)"
	case CodeMisuse:
		return "SQLITE_MISUSE (21)"
	default:
		return fmt.Sprintf("SQLITE_UNKNOWN (%d)", int32(c))
	}
}

// SessionError reports a failed native call on a Session. Op is one of
// "create", "attach", "changeset", or "patchset".
type SessionError struct {
	Op   string
	Code Code
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session: %s failed: %s", e.Op, e.Code)
}

// ApplyError reports a native failure while applying a changeset or
// patchset.
type ApplyError struct {
	Code Code
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("session: apply failed: %s", e.Code)
}

var (
	// ErrInvalidTableName is returned by Attach when the table name
	// contains a NUL byte. The name is rejected before any native call.
	ErrInvalidTableName = errors.New("session: table name contains NUL byte")

	// ErrConflictAborted is returned by the apply functions when the
	// conflict handler answered Abort at least once. Changes applied
	// before the abort point remain in place.
	ErrConflictAborted = errors.New("session: conflict handler requested abort")

	// ErrConflictHandlerFailed is returned by the apply functions when
	// the conflict handler panicked. The panic is recovered at the
	// native boundary and the in-flight change is aborted.
	ErrConflictHandlerFailed = errors.New("session: conflict handler panicked")
)

// ConflictType classifies a conflict reported while applying a diff.
// The values are SQLite's SQLITE_CHANGESET_* conflict codes.
type ConflictType int32

const (
	// Data: a row with the same primary key exists but carries values
	// different from the incoming change's originals.
	Data ConflictType = sqlite3.SQLITE_CHANGESET_DATA
	// NotFound: the row to update or delete does not exist.
	NotFound ConflictType = sqlite3.SQLITE_CHANGESET_NOTFOUND
	// Conflict: an inserted row collides with an existing primary key.
	Conflict ConflictType = sqlite3.SQLITE_CHANGESET_CONFLICT
	// Constraint: a non-foreign-key constraint would be violated.
	Constraint ConflictType = sqlite3.SQLITE_CHANGESET_CONSTRAINT
	// ForeignKey: applying the diff left foreign key violations.
	ForeignKey ConflictType = sqlite3.SQLITE_CHANGESET_FOREIGN_KEY
)

func (t ConflictType) String() string {
	switch t {
	case Data:
		return "data"
	case NotFound:
		return "not found"
	case Conflict:
		return "conflict"
	case Constraint:
		return "constraint"
	case ForeignKey:
		return "foreign key"
	default:
		return fmt.Sprintf("unknown (%d)", int32(t))
	}
}

// ConflictAction is the handler's decision for one conflict. The values
// are SQLite's SQLITE_CHANGESET_* resolution codes.
type ConflictAction int32

const (
	// Omit skips the conflicting change and continues.
	Omit ConflictAction = sqlite3.SQLITE_CHANGESET_OMIT
	// Replace applies the change anyway, replacing the conflicting row.
	Replace ConflictAction = sqlite3.SQLITE_CHANGESET_REPLACE
	// Abort stops processing; the apply reports ErrConflictAborted.
	Abort ConflictAction = sqlite3.SQLITE_CHANGESET_ABORT
)

// ConflictHandler decides the outcome of one conflict. It runs on the
// native call stack during apply; a panic is recovered at the boundary
// and treated as Abort.
type ConflictHandler func(ConflictType) ConflictAction
