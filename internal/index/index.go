// Package index implements the per-segment sparse offset→file-position
// index: an in-memory mirror plus file while a segment is Active, a
// read-only memory-mapped file once the segment is Sealed.
package index

import (
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"offsetlog/internal/lkerrors"
	"offsetlog/pkg/binaryio"
)

// EntryWidth is the on-disk size of one index entry: offset(8) + position(4).
const EntryWidth = 12

// Entry is one offset→file-position mapping.
type Entry struct {
	Offset   uint64
	Position uint32
}

func encode(e Entry, dst []byte) {
	binaryio.PutUint64(dst[0:8], e.Offset)
	binaryio.PutUint32(dst[8:12], e.Position)
}

func decode(src []byte) Entry {
	return Entry{
		Offset:   binaryio.Uint64(src[0:8]),
		Position: binaryio.Uint32(src[8:12]),
	}
}

// Index is writable while Active and read-only (memory-mapped) while
// Sealed. The zero value is not usable; construct with New.
type Index struct {
	path string

	mu      sync.Mutex // guards state transitions and the active file/mirror
	sealed  bool
	file    *os.File // open only while Active
	mirror  []Entry  // active in-memory mirror, authoritative
	hasLast bool
	last    uint64

	// count is the number of published entries. The writer stores it with
	// release ordering after the entry bytes are durable in mirror/file;
	// readers load it with acquire ordering before indexing into mirror or
	// mapped, so they never observe a partially published entry.
	count atomic.Int64

	mapped []byte // sealed mmap, nil if the index is empty
}

// New creates (or truncates) an Active index file at path.
func New(path string) (*Index, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, lkerrors.Io("open index", err)
	}
	return &Index{path: path, file: f}, nil
}

// Append records one entry. Fails with BadArgument if the index is Sealed
// or the entry's offset is not strictly greater than the last appended
// offset.
func (ix *Index) Append(e Entry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.sealed {
		return lkerrors.BadArgumentF("append to sealed index %s", ix.path)
	}
	if ix.hasLast && e.Offset <= ix.last {
		return lkerrors.BadArgumentF("non-monotonic index append: offset %d after %d", e.Offset, ix.last)
	}

	var buf [EntryWidth]byte
	encode(e, buf[:])
	if err := binaryio.WriteFull(ix.file, buf[:]); err != nil {
		return lkerrors.Io("append index entry", err)
	}

	ix.mirror = append(ix.mirror, e)
	ix.hasLast = true
	ix.last = e.Offset
	ix.count.Store(int64(len(ix.mirror)))
	return nil
}

// Closest returns the entry with the greatest offset <= target, and
// whether one exists.
//
// mu is held for the whole search, not just to snapshot sealed/mapped/
// mirror: releasing it before indexing into mapped would let a concurrent
// Close Munmap the very slice this function is still decoding from.
// Closest never blocks on I/O, so holding mu through the search costs
// nothing readers would otherwise avoid.
func (ix *Index) Closest(target uint64) (Entry, bool) {
	n := int(ix.count.Load())
	if n == 0 {
		return Entry{}, false
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	var get func(i int) Entry
	if ix.sealed {
		mapped := ix.mapped
		get = func(i int) Entry { return decode(mapped[i*EntryWidth:]) }
	} else {
		mirror := ix.mirror
		get = func(i int) Entry { return mirror[i] }
	}

	// largest i such that get(i).Offset <= target
	i := sort.Search(n, func(i int) bool { return get(i).Offset > target }) - 1
	if i < 0 {
		return Entry{}, false
	}
	return get(i), true
}

// Len reports the number of published entries.
func (ix *Index) Len() int { return int(ix.count.Load()) }

// Seal transitions the index from Active to Sealed: the file is reopened
// read-only and memory-mapped, and the in-memory mirror is dropped. Idempotent.
func (ix *Index) Seal() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.sealed {
		return nil
	}

	if ix.file != nil {
		if err := ix.file.Close(); err != nil {
			return lkerrors.Io("close index before seal", err)
		}
	}

	size := int64(len(ix.mirror)) * EntryWidth
	if size > 0 {
		f, err := os.OpenFile(ix.path, os.O_RDONLY, 0o644)
		if err != nil {
			return lkerrors.Io("reopen index read-only", err)
		}
		mapped, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
		// The mapping keeps the pages resident independent of the
		// descriptor, so the fd can be closed immediately after mmap.
		f.Close()
		if err != nil {
			return lkerrors.Io("mmap index", err)
		}
		ix.mapped = mapped
	}

	ix.file = nil
	ix.mirror = nil
	ix.sealed = true
	return nil
}

// Close releases the index's resources: closes the active file, or
// unmaps the sealed mapping.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.sealed {
		if ix.mapped != nil {
			err := unix.Munmap(ix.mapped)
			ix.mapped = nil
			if err != nil {
				return lkerrors.Io("munmap index", err)
			}
		}
		return nil
	}
	if ix.file != nil {
		err := ix.file.Close()
		ix.file = nil
		return err
	}
	return nil
}

// Remove deletes the index file at path; a missing file is not an error.
// It does not close any open Index. Used by recovery to discard a possibly
// corrupt index before rebuilding it from the record file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return lkerrors.Io("remove index", err)
	}
	return nil
}
