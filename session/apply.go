package session

import (
	"math"
	"sync"
	"unsafe"

	"modernc.org/libc"
	"modernc.org/libc/sys/types"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/viant/sqlite-session/engine"
)

// conflictContext carries the handler and its outcome across the native
// callback boundary. The callback can only return a resolution code, so
// abort and panic outcomes are recorded here and inspected after the
// native apply call returns.
type conflictContext struct {
	handler  ConflictHandler
	aborted  bool
	panicked bool
}

// applyContexts maps the opaque context word given to the native engine
// back to the Go-side context. A Go pointer cannot travel through the
// native layer directly.
var applyContexts = struct {
	mu   sync.Mutex
	m    map[uintptr]*conflictContext
	next uintptr
}{m: make(map[uintptr]*conflictContext)}

func registerContext(ctx *conflictContext) uintptr {
	applyContexts.mu.Lock()
	defer applyContexts.mu.Unlock()
	applyContexts.next++
	id := applyContexts.next
	applyContexts.m[id] = ctx
	return id
}

func unregisterContext(id uintptr) {
	applyContexts.mu.Lock()
	defer applyContexts.mu.Unlock()
	delete(applyContexts.m, id)
}

// cFuncPointer converts a function defined by a function declaration to
// a C pointer the native engine can call. The result of using it on
// closures is undefined.
func cFuncPointer[T any](f T) uintptr {
	return *(*uintptr)(unsafe.Pointer(&struct{ f T }{f}))
}

var conflictCallbackPtr = cFuncPointer(conflictCallback)

// conflictCallback is the only code the native engine ever calls back
// into. It must always return a valid resolution code: conflict codes
// outside the known taxonomy abort without consulting the handler, and
// a handler panic is recovered here rather than unwinding through the
// native call stack.
//
// int xConflict(void *pCtx, int eConflict, sqlite3_changeset_iter *p)
func conflictCallback(tls *libc.TLS, pCtx uintptr, eConflict int32, pIter uintptr) int32 {
	applyContexts.mu.Lock()
	ctx := applyContexts.m[pCtx]
	applyContexts.mu.Unlock()
	if ctx == nil {
		return sqlite3.SQLITE_CHANGESET_ABORT
	}

	action := Abort
	switch ConflictType(eConflict) {
	case Data, NotFound, Conflict, Constraint, ForeignKey:
		action = invokeHandler(ctx, ConflictType(eConflict))
	}

	if action == Abort {
		ctx.aborted = true
	}
	return int32(action)
}

func invokeHandler(ctx *conflictContext, typ ConflictType) (action ConflictAction) {
	defer func() {
		if recover() != nil {
			ctx.panicked = true
			action = Abort
		}
	}()
	return ctx.handler(typ)
}

// ApplyChangeset applies an exported changeset to conn. Each conflict
// the native engine detects is passed to onConflict; its answer decides
// whether the change is skipped, forced, or the whole apply aborted.
//
// The apply is not wrapped in a caller-visible transaction; wrap the
// call in one if atomicity with surrounding work is required.
func ApplyChangeset(conn *engine.Conn, changeset []byte, onConflict ConflictHandler) error {
	return apply(conn, changeset, onConflict)
}

// ApplyPatchset applies an exported patchset to conn. Semantics match
// ApplyChangeset; the native entry point is shared because the binary
// format is self-describing.
func ApplyPatchset(conn *engine.Conn, patchset []byte, onConflict ConflictHandler) error {
	return apply(conn, patchset, onConflict)
}

func apply(conn *engine.Conn, data []byte, onConflict ConflictHandler) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) > math.MaxInt32 {
		return &ApplyError{Code: CodeTooBig}
	}

	ctx := &conflictContext{handler: onConflict}
	id := registerContext(ctx)
	defer unregisterContext(id)

	var rc int32
	err := conn.Raw(func(tls *libc.TLS, db uintptr) error {
		n := len(data)
		p := libc.Xmalloc(tls, types.Size_t(n))
		if p == 0 {
			return &ApplyError{Code: CodeNoMem}
		}
		defer libc.Xfree(tls, p)
		copy((*libc.RawMem)(unsafe.Pointer(p))[:n:n], data)

		rc = sqlite3.Xsqlite3changeset_apply(tls, db, int32(n), p, 0, conflictCallbackPtr, id)
		return nil
	})
	if err != nil {
		return err
	}

	if ctx.panicked {
		return ErrConflictHandlerFailed
	}
	if ctx.aborted {
		return ErrConflictAborted
	}
	if rc != sqlite3.SQLITE_OK && rc != sqlite3.SQLITE_ABORT {
		return &ApplyError{Code: Code(rc)}
	}
	return nil
}
