package session

import (
	"runtime"
	"strings"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/viant/sqlite-session/engine"
)

// mainSchema is the schema a new session tracks.
const mainSchema = "main"

// Session records row-level changes made to attached tables on one
// connection. Exported changesets and patchsets can be replayed against
// another database with ApplyChangeset or ApplyPatchset.
//
// The session holds a pointer into the connection's native state: it
// must be closed (or collected) strictly before the connection is
// closed, and it is pinned to the connection's goroutine. A new session
// tracks nothing until Attach or AttachAll is called, and starts
// enabled.
type Session struct {
	conn *engine.Conn
	sess uintptr // *sqlite3_session
}

// New registers a change-tracking session on the connection's main
// schema.
func New(conn *engine.Conn) (*Session, error) {
	s := &Session{conn: conn}

	err := conn.Raw(func(tls *libc.TLS, db uintptr) error {
		zDb, err := libc.CString(mainSchema)
		if err != nil {
			return err
		}
		defer libc.Xfree(tls, zDb)

		pp := tls.Alloc(8)
		defer tls.Free(8)
		*(*uintptr)(unsafe.Pointer(pp)) = 0

		if rc := sqlite3.Xsqlite3session_create(tls, db, zDb, pp); rc != sqlite3.SQLITE_OK {
			return &SessionError{Op: "create", Code: Code(rc)}
		}
		s.sess = *(*uintptr)(unsafe.Pointer(pp))
		return nil
	})
	if err != nil {
		return nil, err
	}

	runtime.SetFinalizer(s, (*Session).Close)
	return s, nil
}

// Attach starts tracking the named table. The table does not need to
// exist yet; changes are recorded once writes against it happen. Names
// containing a NUL byte are rejected before reaching the native layer.
func (s *Session) Attach(table string) error {
	if strings.IndexByte(table, 0) >= 0 {
		return ErrInvalidTableName
	}
	return s.conn.Raw(func(tls *libc.TLS, db uintptr) error {
		zTab, err := libc.CString(table)
		if err != nil {
			return err
		}
		defer libc.Xfree(tls, zTab)

		if rc := sqlite3.Xsqlite3session_attach(tls, s.sess, zTab); rc != sqlite3.SQLITE_OK {
			return &SessionError{Op: "attach", Code: Code(rc)}
		}
		return nil
	})
}

// AttachAll starts tracking every table in the schema, present or
// future.
func (s *Session) AttachAll() error {
	return s.conn.Raw(func(tls *libc.TLS, db uintptr) error {
		if rc := sqlite3.Xsqlite3session_attach(tls, s.sess, 0); rc != sqlite3.SQLITE_OK {
			return &SessionError{Op: "attach", Code: Code(rc)}
		}
		return nil
	})
}

// SetEnabled toggles whether subsequent writes are recorded. Disabling
// has no effect on changes already recorded.
func (s *Session) SetEnabled(enabled bool) {
	_ = s.conn.Raw(func(tls *libc.TLS, db uintptr) error {
		sqlite3.Xsqlite3session_enable(tls, s.sess, libc.Bool32(enabled))
		return nil
	})
}

// IsEmpty reports whether the session has recorded no changes.
func (s *Session) IsEmpty() bool {
	var empty bool
	_ = s.conn.Raw(func(tls *libc.TLS, db uintptr) error {
		empty = sqlite3.Xsqlite3session_isempty(tls, s.sess) != 0
		return nil
	})
	return empty
}

// Changeset exports the recorded changes as a changeset: old and new
// column values for every change, enabling precise conflict detection
// on apply. An empty slice means no changes were recorded.
func (s *Session) Changeset() ([]byte, error) {
	return s.export("changeset", sqlite3.Xsqlite3session_changeset)
}

// Patchset exports the recorded changes as a patchset: new values only,
// smaller than a changeset but with coarser conflict detection.
func (s *Session) Patchset() ([]byte, error) {
	return s.export("patchset", sqlite3.Xsqlite3session_patchset)
}

// export invokes one of the native export entry points, copies the
// returned buffer into Go memory, and frees the native allocation. The
// native buffer is freed even when its contents are not used.
func (s *Session) export(op string, f func(tls *libc.TLS, sess, pnOut, ppOut uintptr) int32) ([]byte, error) {
	var out []byte
	err := s.conn.Raw(func(tls *libc.TLS, db uintptr) error {
		p := tls.Alloc(16)
		defer tls.Free(16)
		pn, pp := p, p+8
		*(*int32)(unsafe.Pointer(pn)) = 0
		*(*uintptr)(unsafe.Pointer(pp)) = 0

		rc := f(tls, s.sess, pn, pp)
		n := *(*int32)(unsafe.Pointer(pn))
		buf := *(*uintptr)(unsafe.Pointer(pp))
		if buf != 0 {
			defer sqlite3.Xsqlite3_free(tls, buf)
		}

		if rc != sqlite3.SQLITE_OK {
			return &SessionError{Op: op, Code: Code(rc)}
		}
		if n <= 0 || buf == 0 {
			return nil // no recorded changes
		}
		out = make([]byte, n)
		copy(out, (*libc.RawMem)(unsafe.Pointer(buf))[:n:n])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close tears down the native session. It must be called before the
// owning connection is closed. Close is idempotent; a finalizer covers
// sessions that go out of scope unclosed, provided the connection is
// still open when it runs.
func (s *Session) Close() error {
	if s.sess == 0 {
		return nil
	}
	err := s.conn.Raw(func(tls *libc.TLS, db uintptr) error {
		sqlite3.Xsqlite3session_delete(tls, s.sess)
		return nil
	})
	s.sess = 0
	runtime.SetFinalizer(s, nil)
	return err
}
