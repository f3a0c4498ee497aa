package engine

import (
	"errors"
	"fmt"
	"unsafe"

	"modernc.org/libc"
	"modernc.org/libc/sys/types"
	sqlite3 "modernc.org/sqlite/lib"
)

const ptrSize = int(unsafe.Sizeof(uintptr(0)))

// Conn is a single SQLite database connection. It owns the native
// database handle and the libc thread-local state all native calls run
// on. A Conn is not safe for concurrent use.
type Conn struct {
	db  uintptr // *sqlite3
	tls *libc.TLS
}

// Open opens the database at path, creating it if needed. Pass ":memory:"
// for an in-memory database.
func Open(path string) (*Conn, error) {
	tls := libc.NewTLS()
	c := &Conn{tls: tls}

	db, err := c.openV2(path, sqlite3.SQLITE_OPEN_READWRITE|sqlite3.SQLITE_OPEN_CREATE|
		sqlite3.SQLITE_OPEN_FULLMUTEX|sqlite3.SQLITE_OPEN_URI)
	if err != nil {
		tls.Close()
		return nil, err
	}

	c.db = db
	return c, nil
}

// int sqlite3_open_v2(const char *filename, sqlite3 **ppDb, int flags, const char *zVfs);
func (c *Conn) openV2(path string, flags int32) (uintptr, error) {
	p, err := c.malloc(ptrSize)
	if err != nil {
		return 0, err
	}
	defer c.free(p)

	s, err := libc.CString(path)
	if err != nil {
		return 0, err
	}
	defer c.free(s)

	if rc := sqlite3.Xsqlite3_open_v2(c.tls, s, p, flags, 0); rc != sqlite3.SQLITE_OK {
		return 0, fmt.Errorf("engine: open %q: %s", path, c.errmsg(rc))
	}
	return *(*uintptr)(unsafe.Pointer(p)), nil
}

// Close releases the native database handle and the libc state. Any
// session created from this connection must be closed first. Close is
// idempotent.
func (c *Conn) Close() error {
	if c.db != 0 {
		if rc := sqlite3.Xsqlite3_close_v2(c.tls, c.db); rc != sqlite3.SQLITE_OK {
			return fmt.Errorf("engine: close: %s", c.errmsg(rc))
		}
		c.db = 0
	}
	if c.tls != nil {
		c.tls.Close()
		c.tls = nil
	}
	return nil
}

// ErrClosed is returned by Raw after Close.
var ErrClosed = errors.New("engine: connection closed")

// Raw lends the underlying native handle and its libc state to f for the
// duration of the call. The handle must not be retained past f's return.
func (c *Conn) Raw(f func(tls *libc.TLS, db uintptr) error) error {
	if c.db == 0 {
		return ErrClosed
	}
	return f(c.tls, c.db)
}

// Exec runs one or more SQL statements separated by semicolons. It is
// intended for schema setup and plain DML; values are embedded in the
// statement text.
func (c *Conn) Exec(sql string) error {
	zSQL, err := libc.CString(sql)
	if err != nil {
		return err
	}
	defer c.free(zSQL)

	pzErr, err := c.malloc(ptrSize)
	if err != nil {
		return err
	}
	defer c.free(pzErr)
	*(*uintptr)(unsafe.Pointer(pzErr)) = 0

	rc := sqlite3.Xsqlite3_exec(c.tls, c.db, zSQL, 0, 0, pzErr)
	if p := *(*uintptr)(unsafe.Pointer(pzErr)); p != 0 {
		msg := libc.GoString(p)
		sqlite3.Xsqlite3_free(c.tls, p)
		if rc != sqlite3.SQLITE_OK {
			return fmt.Errorf("engine: exec: %s (%d)", msg, rc)
		}
	}
	if rc != sqlite3.SQLITE_OK {
		return fmt.Errorf("engine: exec: %s", c.errmsg(rc))
	}
	return nil
}

// Query runs a single SELECT statement and returns all rows. Cells are
// decoded by column type: int64, float64, string, []byte, or nil.
func (c *Conn) Query(sql string) ([][]interface{}, error) {
	pstmt, err := c.prepare(sql)
	if err != nil {
		return nil, err
	}
	defer sqlite3.Xsqlite3_finalize(c.tls, pstmt)

	nCol := int(sqlite3.Xsqlite3_column_count(c.tls, pstmt))
	var rows [][]interface{}
	for {
		rc := sqlite3.Xsqlite3_step(c.tls, pstmt)
		switch rc {
		case sqlite3.SQLITE_ROW:
			row := make([]interface{}, nCol)
			for i := 0; i < nCol; i++ {
				v, err := c.column(pstmt, i)
				if err != nil {
					return nil, err
				}
				row[i] = v
			}
			rows = append(rows, row)
		case sqlite3.SQLITE_DONE:
			return rows, nil
		default:
			return nil, fmt.Errorf("engine: step: %s", c.errmsg(rc))
		}
	}
}

// int sqlite3_prepare_v2(sqlite3*, const char *zSql, int nByte, sqlite3_stmt **ppStmt, const char **pzTail);
func (c *Conn) prepare(sql string) (uintptr, error) {
	zSQL, err := libc.CString(sql)
	if err != nil {
		return 0, err
	}
	defer c.free(zSQL)

	ppstmt, err := c.malloc(ptrSize)
	if err != nil {
		return 0, err
	}
	defer c.free(ppstmt)

	if rc := sqlite3.Xsqlite3_prepare_v2(c.tls, c.db, zSQL, -1, ppstmt, 0); rc != sqlite3.SQLITE_OK {
		return 0, fmt.Errorf("engine: prepare: %s", c.errmsg(rc))
	}
	pstmt := *(*uintptr)(unsafe.Pointer(ppstmt))
	if pstmt == 0 {
		return 0, fmt.Errorf("engine: prepare: empty statement")
	}
	return pstmt, nil
}

func (c *Conn) column(pstmt uintptr, i int) (interface{}, error) {
	switch sqlite3.Xsqlite3_column_type(c.tls, pstmt, int32(i)) {
	case sqlite3.SQLITE_INTEGER:
		return int64(sqlite3.Xsqlite3_column_int64(c.tls, pstmt, int32(i))), nil
	case sqlite3.SQLITE_FLOAT:
		return float64(sqlite3.Xsqlite3_column_double(c.tls, pstmt, int32(i))), nil
	case sqlite3.SQLITE_TEXT:
		p := sqlite3.Xsqlite3_column_text(c.tls, pstmt, int32(i))
		n := int(sqlite3.Xsqlite3_column_bytes(c.tls, pstmt, int32(i)))
		if p == 0 || n == 0 {
			return "", nil
		}
		b := make([]byte, n)
		copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:n:n])
		return string(b), nil
	case sqlite3.SQLITE_BLOB:
		p := sqlite3.Xsqlite3_column_blob(c.tls, pstmt, int32(i))
		n := int(sqlite3.Xsqlite3_column_bytes(c.tls, pstmt, int32(i)))
		if p == 0 || n == 0 {
			return []byte(nil), nil
		}
		b := make([]byte, n)
		copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:n:n])
		return b, nil
	case sqlite3.SQLITE_NULL:
		return nil, nil
	default:
		return nil, fmt.Errorf("engine: column %d: unexpected type", i)
	}
}

func (c *Conn) errmsg(rc int32) string {
	str := libc.GoString(sqlite3.Xsqlite3_errstr(c.tls, rc))
	msg := libc.GoString(sqlite3.Xsqlite3_errmsg(c.tls, c.db))
	if msg == str || msg == "" {
		return fmt.Sprintf("%s (%d)", str, rc)
	}
	return fmt.Sprintf("%s: %s (%d)", str, msg, rc)
}

func (c *Conn) malloc(n int) (uintptr, error) {
	if p := libc.Xmalloc(c.tls, types.Size_t(n)); p != 0 || n == 0 {
		return p, nil
	}
	return 0, fmt.Errorf("engine: cannot allocate %d bytes", n)
}

func (c *Conn) free(p uintptr) {
	if p != 0 {
		libc.Xfree(c.tls, p)
	}
}
