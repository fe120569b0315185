// Package segment implements a single log segment: one record file plus
// one index, append/read/seal/recover as described by the storage engine's
// component design.
package segment

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"offsetlog/internal/index"
	"offsetlog/internal/lkerrors"
	"offsetlog/pkg/binaryio"
)

// State is a segment's position in its lifecycle.
type State int

const (
	Active State = iota
	Sealed
)

func (s State) String() string {
	if s == Sealed {
		return "sealed"
	}
	return "active"
}

// RecoverOutcome reports what the recovery scan found.
type RecoverOutcome int

const (
	Recovered RecoverOutcome = iota
	Truncated
	Empty
)

func (o RecoverOutcome) String() string {
	switch o {
	case Truncated:
		return "truncated"
	case Empty:
		return "empty"
	default:
		return "recovered"
	}
}

const headerSize = 4 // len:u32-LE prefix

// Segment owns one record file and one index for a single contiguous
// offset range starting at BaseOffset. All mutation is writer-only;
// Read is safe for concurrent callers while the writer appends.
type Segment struct {
	dir        string
	baseOffset uint64
	maxSize    int64

	state State
	idx   *index.Index

	// fileMu guards recordFile against concurrent close-and-reopen by the
	// sealed segment cache. Read holds the read side for the whole of a
	// multi-ReadAt operation, so CloseRecordFile (which takes the write
	// side) can never close a descriptor a concurrent Read is using.
	fileMu      sync.RWMutex
	recordFile  *os.File
	writeCursor int64 // writer-only: next write position

	published       atomic.Bool
	publishedOffset atomic.Uint64
	publishedSize   atomic.Uint64
}

func logPath(dir string, baseOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.log", baseOffset))
}

func indexPath(dir string, baseOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.index", baseOffset))
}

// New creates a brand-new, empty Active segment.
func New(dir string, baseOffset uint64, cfg Config) (*Segment, error) {
	f, err := os.OpenFile(logPath(dir, baseOffset), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, lkerrors.Io("create segment record file", err)
	}

	idx, err := index.New(indexPath(dir, baseOffset))
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Segment{
		dir:        dir,
		baseOffset: baseOffset,
		maxSize:    cfg.MaxSize,
		state:      Active,
		idx:        idx,
		recordFile: f,
	}, nil
}

// Open reopens an existing segment's record file as Active and replays it
// (see recover) to rebuild state and the index from scratch.
func Open(dir string, baseOffset uint64, cfg Config) (*Segment, RecoverOutcome, error) {
	f, err := os.OpenFile(logPath(dir, baseOffset), os.O_RDWR, 0o644)
	if err != nil {
		return nil, Empty, lkerrors.Io("open segment record file", err)
	}

	if err := index.Remove(indexPath(dir, baseOffset)); err != nil {
		f.Close()
		return nil, Empty, err
	}
	idx, err := index.New(indexPath(dir, baseOffset))
	if err != nil {
		f.Close()
		return nil, Empty, err
	}

	s := &Segment{
		dir:        dir,
		baseOffset: baseOffset,
		maxSize:    cfg.MaxSize,
		state:      Active,
		idx:        idx,
		recordFile: f,
	}

	outcome, err := s.recover()
	if err != nil {
		f.Close()
		return nil, Empty, err
	}
	return s, outcome, nil
}

// recover scans the record file from offset 0, validating each
// length-prefixed record and rebuilding the index as it goes. A record
// whose length prefix or payload cannot be fully read is a torn write from
// an unclean shutdown; the file is truncated to the last good boundary.
func (s *Segment) recover() (RecoverOutcome, error) {
	fi, err := s.recordFile.Stat()
	if err != nil {
		return Empty, lkerrors.Io("stat segment record file", err)
	}
	size := fi.Size()
	if size == 0 {
		return Empty, nil
	}

	var pos int64
	var i uint64
	for pos < size {
		var lenBuf [headerSize]byte
		if _, err := binaryio.ReadFullAt(s.recordFile, lenBuf[:], pos); err != nil {
			break // torn length prefix
		}
		recLen := int64(binaryio.Uint32(lenBuf[:]))
		if recLen > size-pos-headerSize {
			break // torn payload
		}

		if err := s.idx.Append(index.Entry{Offset: s.baseOffset + i, Position: uint32(pos)}); err != nil {
			return Empty, err
		}
		i++
		pos += headerSize + recLen
	}

	outcome := Recovered
	if pos != size {
		outcome = Truncated
		if err := s.recordFile.Truncate(pos); err != nil {
			return Empty, lkerrors.Io("truncate torn segment tail", err)
		}
	}
	if i > 0 {
		s.published.Store(true)
		s.publishedOffset.Store(s.baseOffset + i - 1)
		s.publishedSize.Store(uint64(pos))
	}
	s.writeCursor = pos

	return outcome, nil
}

// BaseOffset is the lowest offset this segment may contain.
func (s *Segment) BaseOffset() uint64 { return s.baseOffset }

// State reports whether the segment is Active or Sealed.
func (s *Segment) State() State { return s.state }

// PublishedOffset returns the greatest offset visible to readers and
// whether any record has been published at all.
func (s *Segment) PublishedOffset() (uint64, bool) {
	return s.publishedOffset.Load(), s.published.Load()
}

// PublishedSize returns the number of record-file bytes visible to readers.
func (s *Segment) PublishedSize() uint64 { return s.publishedSize.Load() }

// IsFull reports whether the segment has reached its configured max size.
func (s *Segment) IsFull() bool {
	return int64(s.publishedSize.Load()) >= s.maxSize
}

// Append writes data as one length-prefixed record, indexes it, and
// publishes the new offset and size. Writer-only; not safe for concurrent
// callers.
func (s *Segment) Append(data []byte) (uint64, error) {
	if s.state != Active {
		return 0, lkerrors.BadArgumentF("append to %s segment %d", s.state, s.baseOffset)
	}

	recSize := int64(headerSize + len(data))
	if int64(s.writeCursor)+recSize > s.maxSize {
		return 0, lkerrors.ErrFull
	}
	if s.writeCursor > math.MaxUint32 {
		return 0, lkerrors.ErrOverflow
	}

	filePos := s.writeCursor
	buf := make([]byte, recSize)
	binaryio.PutUint32(buf[0:headerSize], uint32(len(data)))
	copy(buf[headerSize:], data)

	if err := binaryio.WriteFull(s.recordFile, buf); err != nil {
		return 0, lkerrors.Io("append segment record", err)
	}
	s.writeCursor += recSize

	var offset uint64
	if s.published.Load() {
		offset = s.publishedOffset.Load() + 1
	} else {
		offset = s.baseOffset
	}

	if err := s.idx.Append(index.Entry{Offset: offset, Position: uint32(filePos)}); err != nil {
		return 0, err
	}

	s.publishedOffset.Store(offset)
	s.publishedSize.Store(uint64(s.writeCursor))
	s.published.Store(true)

	return offset, nil
}

// withRecordFile runs fn with a valid, open record-file handle, holding
// fileMu's read side for fn's whole duration. CloseRecordFile takes the
// write side, so it blocks until every in-flight fn using the descriptor
// it is about to close has returned — it can never close a descriptor a
// concurrent Read is still reading from.
func (s *Segment) withRecordFile(fn func(f *os.File) error) error {
	s.fileMu.RLock()
	if s.recordFile != nil {
		defer s.fileMu.RUnlock()
		return fn(s.recordFile)
	}
	s.fileMu.RUnlock()

	s.fileMu.Lock()
	if s.recordFile == nil {
		f, err := os.Open(logPath(s.dir, s.baseOffset))
		if err != nil {
			s.fileMu.Unlock()
			return lkerrors.Io("reopen sealed segment record file", err)
		}
		s.recordFile = f
	}
	s.fileMu.Unlock()

	s.fileMu.RLock()
	defer s.fileMu.RUnlock()
	if s.recordFile == nil {
		return lkerrors.Io("reopen sealed segment record file", os.ErrClosed)
	}
	return fn(s.recordFile)
}

// CloseRecordFile closes the record file's descriptor without otherwise
// disturbing the segment's state. Only valid on a Sealed segment; used by
// the sealed-segment cache to bound the number of concurrently open file
// descriptors. withRecordFile reopens it on the next read. Blocks until
// any read currently using the descriptor has finished.
func (s *Segment) CloseRecordFile() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if s.state != Sealed {
		return lkerrors.BadArgumentF("CloseRecordFile on %s segment %d", s.state, s.baseOffset)
	}
	if s.recordFile == nil {
		return nil
	}
	err := s.recordFile.Close()
	s.recordFile = nil
	return err
}

// filePosition locates the record-file byte offset of a published offset,
// via an index lookup followed by a forward walk over any records the
// index does not cover directly. f must already be open for reading; the
// caller holds fileMu for the duration.
func (s *Segment) filePosition(f *os.File, offset uint64) (uint64, error) {
	ent, ok := s.idx.Closest(offset)
	if !ok {
		ent = index.Entry{Offset: s.baseOffset, Position: 0}
	}

	pos := uint64(ent.Position)
	cur := ent.Offset
	for cur < offset {
		var lenBuf [headerSize]byte
		if _, err := binaryio.ReadFullAt(f, lenBuf[:], int64(pos)); err != nil {
			return 0, lkerrors.CorruptF("segment %d: walking to offset %d: %v", s.baseOffset, offset, err)
		}
		pos += headerSize + uint64(binaryio.Uint32(lenBuf[:]))
		cur++
	}
	return pos, nil
}

// Read returns a contiguous slice of the record file starting at the file
// position of startOffset, bounded by whole records, maxBytes, and the
// segment's published size. It returns an empty slice (never an error) when
// startOffset is past the published frontier or no record fits within
// maxBytes. exhausted reports whether the segment has nothing more at or
// after startOffset beyond what was returned — the engine uses this to
// decide whether a multi-segment fetch should continue into the next
// segment. Safe for concurrent callers while the writer appends.
func (s *Segment) Read(startOffset uint64, maxBytes int32) (data []byte, exhausted bool, err error) {
	po, has := s.PublishedOffset()
	if !has || startOffset > po {
		return []byte{}, true, nil
	}
	ps := s.PublishedSize()

	err = s.withRecordFile(func(f *os.File) error {
		p0, perr := s.filePosition(f, startOffset)
		if perr != nil {
			return perr
		}

		pos := p0
		var total int64
		for pos < ps {
			var lenBuf [headerSize]byte
			if _, rerr := binaryio.ReadFullAt(f, lenBuf[:], int64(pos)); rerr != nil {
				return lkerrors.CorruptF("segment %d: reading record at %d: %v", s.baseOffset, pos, rerr)
			}
			recSize := int64(headerSize) + int64(binaryio.Uint32(lenBuf[:]))
			if total+recSize > int64(maxBytes) {
				data, err = sliceAt(f, p0, total)
				exhausted = false
				return err
			}
			total += recSize
			pos += uint64(recSize)
		}
		// Loop exited because pos reached ps: every published record at or
		// after startOffset was consumed, so the caller may continue
		// reading from the next segment.
		data, err = sliceAt(f, p0, total)
		exhausted = true
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return data, exhausted, nil
}

func sliceAt(f *os.File, pos int64, n int64) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := binaryio.ReadFullAt(f, buf, pos); err != nil {
		return nil, lkerrors.Io("read segment range", err)
	}
	return buf, nil
}

// Seal transitions the segment from Active to Sealed: the index is mapped
// read-only. The record file's descriptor is left exactly as it is —
// closing and reopening it here would race a concurrent Read that
// obtained the old descriptor before Seal ran (pread-style reads work
// fine on the original read-write handle, and nothing appends to it once
// Sealed). Idempotent.
func (s *Segment) Seal() error {
	if s.state == Sealed {
		return nil
	}
	if err := s.idx.Seal(); err != nil {
		return err
	}
	s.state = Sealed
	return nil
}

// Close releases the segment's open resources.
func (s *Segment) Close() error {
	if err := s.idx.Close(); err != nil {
		return err
	}
	if s.recordFile != nil {
		return s.recordFile.Close()
	}
	return nil
}
