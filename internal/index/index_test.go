package index

import (
	"path/filepath"
	"testing"
)

func TestIndexAppendAndClosest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000.index")
	ix, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ix.Close()

	entries := []Entry{
		{Offset: 0, Position: 0},
		{Offset: 2, Position: 10},
		{Offset: 5, Position: 30},
		{Offset: 9, Position: 70},
	}
	for _, e := range entries {
		if err := ix.Append(e); err != nil {
			t.Fatalf("Append(%v): %v", e, err)
		}
	}

	cases := []struct {
		target   uint64
		wantOK   bool
		wantPos  uint32
		wantOffs uint64
	}{
		{target: 0, wantOK: true, wantOffs: 0, wantPos: 0},
		{target: 1, wantOK: true, wantOffs: 0, wantPos: 0},
		{target: 2, wantOK: true, wantOffs: 2, wantPos: 10},
		{target: 4, wantOK: true, wantOffs: 2, wantPos: 10},
		{target: 9, wantOK: true, wantOffs: 9, wantPos: 70},
		{target: 100, wantOK: true, wantOffs: 9, wantPos: 70},
	}
	for _, tc := range cases {
		got, ok := ix.Closest(tc.target)
		if ok != tc.wantOK {
			t.Fatalf("Closest(%d) ok=%v want %v", tc.target, ok, tc.wantOK)
		}
		if ok && (got.Offset != tc.wantOffs || got.Position != tc.wantPos) {
			t.Fatalf("Closest(%d) = %+v, want offset=%d pos=%d", tc.target, got, tc.wantOffs, tc.wantPos)
		}
	}
}

func TestIndexEmptyClosest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000.index")
	ix, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ix.Close()

	if _, ok := ix.Closest(5); ok {
		t.Fatalf("expected no entry on empty index")
	}
}

func TestIndexNonMonotonicAppendFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000.index")
	ix, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ix.Close()

	if err := ix.Append(Entry{Offset: 9, Position: 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := ix.Append(Entry{Offset: 5, Position: 12}); err == nil {
		t.Fatalf("expected BadArgument on non-monotonic append")
	}
	if err := ix.Append(Entry{Offset: 9, Position: 12}); err == nil {
		t.Fatalf("expected BadArgument on duplicate offset")
	}
}

func TestIndexSealRejectsAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000.index")
	ix, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ix.Close()

	if err := ix.Append(Entry{Offset: 0, Position: 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := ix.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := ix.Append(Entry{Offset: 1, Position: 4}); err == nil {
		t.Fatalf("expected BadArgument append on sealed index")
	}

	// Closest must still work after sealing, now served from the mmap.
	got, ok := ix.Closest(0)
	if !ok || got.Offset != 0 {
		t.Fatalf("Closest after seal = %+v, %v", got, ok)
	}
}

func TestIndexSealIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000.index")
	ix, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ix.Close()

	if err := ix.Seal(); err != nil {
		t.Fatalf("first Seal: %v", err)
	}
	if err := ix.Seal(); err != nil {
		t.Fatalf("second Seal: %v", err)
	}
}
