package session

import (
	"fmt"
	"testing"

	"github.com/viant/sqlite-session/engine"
)

func benchConn(b *testing.B) *engine.Conn {
	b.Helper()
	c, err := engine.Open(":memory:")
	if err != nil {
		b.Fatalf("Open failed: %v", err)
	}
	b.Cleanup(func() { _ = c.Close() })
	if err := c.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, quantity INTEGER)"); err != nil {
		b.Fatalf("CREATE TABLE failed: %v", err)
	}
	return c
}

func insertRows(b *testing.B, c *engine.Conn, start, end int) {
	b.Helper()
	for i := start; i < end; i++ {
		if err := c.Exec(fmt.Sprintf("INSERT INTO items (id, name, quantity) VALUES (%d, 'item-%d', %d)", i, i, i)); err != nil {
			b.Fatalf("INSERT failed: %v", err)
		}
	}
}

func BenchmarkSessionCreation(b *testing.B) {
	c := benchConn(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s, err := New(c)
		if err != nil {
			b.Fatalf("New failed: %v", err)
		}
		_ = s.Close()
	}
}

func BenchmarkAttachTable(b *testing.B) {
	c := benchConn(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s, err := New(c)
		if err != nil {
			b.Fatalf("New failed: %v", err)
		}
		if err := s.Attach("items"); err != nil {
			b.Fatalf("Attach failed: %v", err)
		}
		_ = s.Close()
	}
}

func benchmarkExport(b *testing.B, rows int, export func(*Session) ([]byte, error)) {
	c := benchConn(b)
	s, err := New(c)
	if err != nil {
		b.Fatalf("New failed: %v", err)
	}
	defer s.Close()
	if err := s.Attach("items"); err != nil {
		b.Fatalf("Attach failed: %v", err)
	}
	insertRows(b, c, 0, rows)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := export(s); err != nil {
			b.Fatalf("export failed: %v", err)
		}
	}
}

func BenchmarkChangesetGeneration(b *testing.B) {
	for _, rows := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("rows-%d", rows), func(b *testing.B) {
			benchmarkExport(b, rows, (*Session).Changeset)
		})
	}
}

func BenchmarkPatchsetGeneration(b *testing.B) {
	for _, rows := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("rows-%d", rows), func(b *testing.B) {
			benchmarkExport(b, rows, (*Session).Patchset)
		})
	}
}

func BenchmarkApplyPatchset(b *testing.B) {
	for _, rows := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("rows-%d", rows), func(b *testing.B) {
			source := benchConn(b)
			s, err := New(source)
			if err != nil {
				b.Fatalf("New failed: %v", err)
			}
			defer s.Close()
			if err := s.Attach("items"); err != nil {
				b.Fatalf("Attach failed: %v", err)
			}
			insertRows(b, source, 0, rows)
			patchset, err := s.Patchset()
			if err != nil {
				b.Fatalf("Patchset failed: %v", err)
			}
			b.SetBytes(int64(len(patchset)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				replica := openItems(b)
				b.StartTimer()
				if err := ApplyPatchset(replica, patchset, func(ConflictType) ConflictAction { return Abort }); err != nil {
					b.Fatalf("ApplyPatchset failed: %v", err)
				}
				b.StopTimer()
				_ = replica.Close()
				b.StartTimer()
			}
		})
	}
}

func BenchmarkFullReplication(b *testing.B) {
	const rows = 100
	for i := 0; i < b.N; i++ {
		source := openItems(b)
		s, err := New(source)
		if err != nil {
			b.Fatalf("New failed: %v", err)
		}
		if err := s.Attach("items"); err != nil {
			b.Fatalf("Attach failed: %v", err)
		}
		insertRows(b, source, 0, rows)
		patchset, err := s.Patchset()
		if err != nil {
			b.Fatalf("Patchset failed: %v", err)
		}
		replica := openItems(b)
		if err := ApplyPatchset(replica, patchset, func(ConflictType) ConflictAction { return Abort }); err != nil {
			b.Fatalf("ApplyPatchset failed: %v", err)
		}
		_ = s.Close()
		_ = source.Close()
		_ = replica.Close()
	}
}
