// Package engine implements the storage engine's top-level log: an ordered
// collection of sealed segments plus one active segment, routing appends
// and fetches and rolling over when the active segment fills up.
package engine

import (
	"errors"
	"os"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"offsetlog/internal/lkerrors"
	"offsetlog/internal/segment"
)

var segmentFileRE = regexp.MustCompile(`^(\d{20})\.(log|index)$`)

// Config assembles everything Open needs: where the segments live, how big
// each one may grow, how many sealed segments that Fetch has read from may
// keep an open record-file descriptor at once (see sealedFileCache), and
// where to send structured logs.
type Config struct {
	Dir             string
	MaxSegmentSize  int64
	SealedCacheSize int
	Logger          *zap.SugaredLogger
}

func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		MaxSegmentSize:  1 << 20,
		SealedCacheSize: 64,
	}
}

// Log is the append-only, segmented, offset-addressed record log. All
// mutation (Append, rollover) is single-writer; Fetch is safe for any
// number of concurrent callers.
type Log struct {
	dir            string
	maxSegmentSize int64
	log            *zap.SugaredLogger
	started        atomic.Bool

	active atomic.Pointer[segment.Segment]

	sealedMu sync.RWMutex
	sealed   []*segment.Segment // ascending by BaseOffset

	cache *sealedFileCache
}

// Open scans cfg.Dir for existing segments, recovers each, seals all but
// the highest-base-offset one, and keeps that one Active — ready to accept
// the next Append regardless of what its own recovery outcome was. A
// directory with no segments at all gets one brand-new empty Active
// segment at offset 0.
func Open(cfg Config) (*Log, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, lkerrors.Io("create log directory", err)
	}

	bases, err := discoverSegments(cfg.Dir, log)
	if err != nil {
		return nil, err
	}

	l := &Log{
		dir:            cfg.Dir,
		maxSegmentSize: cfg.MaxSegmentSize,
		log:            log,
		cache:          newSealedFileCache(cfg.SealedCacheSize),
	}

	if len(bases) == 0 {
		seg, err := segment.New(cfg.Dir, 0, segment.Config{MaxSize: cfg.MaxSegmentSize})
		if err != nil {
			return nil, err
		}
		l.active.Store(seg)
		log.Infow("created initial segment", "baseOffset", 0)
		return l, nil
	}

	for i, base := range bases {
		seg, outcome, err := segment.Open(cfg.Dir, base, segment.Config{MaxSize: cfg.MaxSegmentSize})
		if err != nil {
			return nil, err
		}
		log.Infow("recovered segment", "baseOffset", base, "outcome", outcome.String())

		if i < len(bases)-1 {
			if err := seg.Seal(); err != nil {
				return nil, err
			}
			l.sealed = append(l.sealed, seg)
		} else {
			l.active.Store(seg)
		}
	}

	return l, nil
}

// discoverSegments lists the base offsets of every *.log file in dir,
// ascending, and logs (never fails on) any *.log/*.index pairing mismatch
// left behind by a crash between creating the two files of a segment.
func discoverSegments(dir string, log *zap.SugaredLogger) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, lkerrors.Io("read log directory", err)
	}

	logs := mapset.NewSet[uint64]()
	indexes := mapset.NewSet[uint64]()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentFileRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		base, _ := strconv.ParseUint(m[1], 10, 64)
		if m[2] == "log" {
			logs.Add(base)
		} else {
			indexes.Add(base)
		}
	}

	if orphanLogs := logs.Difference(indexes); orphanLogs.Cardinality() > 0 {
		log.Warnw("segment log files with no index file", "baseOffsets", orphanLogs.ToSlice())
	}
	if orphanIndexes := indexes.Difference(logs); orphanIndexes.Cardinality() > 0 {
		log.Warnw("orphaned index files with no record file", "baseOffsets", orphanIndexes.ToSlice())
	}

	bases := logs.ToSlice()
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	return bases, nil
}

// Start transitions the log to accepting Append/Fetch. Before Start, and
// after Close, both fail with NotStarted.
func (l *Log) Start() error {
	l.started.Store(true)
	return nil
}

// Close releases every segment's resources, active and sealed.
func (l *Log) Close() error {
	l.started.Store(false)

	var first error
	if seg := l.active.Load(); seg != nil {
		if err := seg.Close(); err != nil && first == nil {
			first = err
		}
	}

	l.sealedMu.RLock()
	defer l.sealedMu.RUnlock()
	for _, seg := range l.sealed {
		if err := seg.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Append writes data as one new record, returning its offset. If the
// active segment has no room for the record, the log rolls over to a new
// active segment and retries once.
func (l *Log) Append(data []byte) (uint64, error) {
	if !l.started.Load() {
		return 0, lkerrors.ErrNotStarted
	}

	if int64(recordHeaderSize+len(data)) > l.maxSegmentSize {
		return 0, lkerrors.BadArgumentF("record of %d bytes cannot fit in any %d-byte segment", len(data), l.maxSegmentSize)
	}

	seg := l.active.Load()
	offset, err := seg.Append(data)
	if errors.Is(err, lkerrors.ErrFull) {
		if err := l.rollover(seg); err != nil {
			return 0, err
		}
		seg = l.active.Load()
		offset, err = seg.Append(data)
	}
	if err != nil {
		return 0, err
	}

	if seg.IsFull() {
		if err := l.rollover(seg); err != nil {
			return 0, err
		}
	}
	return offset, nil
}

// recordHeaderSize mirrors the segment package's length-prefix width: a
// record whose payload plus this header exceeds MaxSegmentSize can never
// fit in any segment, regardless of how much of it is currently free.
const recordHeaderSize = 4

// Fetch resolves the segment containing start, reads from it, and if the
// read stopped because the segment's published frontier (not maxBytes) was
// reached, continues into the next segment until maxBytes is exhausted or
// there is nothing left to read.
func (l *Log) Fetch(start uint64, maxBytes int32) ([]byte, error) {
	if !l.started.Load() {
		return nil, lkerrors.ErrNotStarted
	}

	out := []byte{}
	if maxBytes <= 0 {
		return out, nil
	}

	cur := start
	remaining := maxBytes
	seg := l.findSegment(cur)

	for seg != nil && remaining > 0 {
		if seg.State() == segment.Sealed {
			l.cache.Touch(seg)
		}

		data, exhausted, err := seg.Read(cur, remaining)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		remaining -= int32(len(data))

		if !exhausted {
			break
		}
		next := l.nextSegmentAfter(seg)
		if next == nil {
			break
		}
		seg = next
		cur = seg.BaseOffset()
	}

	return out, nil
}

// PublishedOffset returns the active segment's published offset, and
// whether anything has been published to the log at all.
func (l *Log) PublishedOffset() (uint64, bool) {
	seg := l.active.Load()
	if po, has := seg.PublishedOffset(); has {
		return po, true
	}
	// An empty active segment past offset 0 follows a sealed segment whose
	// last published offset is one below the active base.
	if base := seg.BaseOffset(); base > 0 {
		return base - 1, true
	}
	return 0, false
}

// rollover seals old in place and installs a freshly created active
// segment starting immediately after it. If old is no longer the active
// segment when this call runs, it is a no-op.
func (l *Log) rollover(old *segment.Segment) error {
	if l.active.Load() != old {
		return nil
	}

	po, has := old.PublishedOffset()
	newBase := old.BaseOffset()
	if has {
		newBase = po + 1
	}

	next, err := segment.New(l.dir, newBase, segment.Config{MaxSize: l.maxSegmentSize})
	if err != nil {
		return err
	}
	if err := old.Seal(); err != nil {
		next.Close()
		return err
	}

	l.sealedMu.Lock()
	l.sealed = append(l.sealed, old)
	l.sealedMu.Unlock()

	l.active.Store(next)
	l.log.Infow("rolled segment", "sealedBaseOffset", old.BaseOffset(), "newBaseOffset", newBase)
	return nil
}

// findSegment returns the segment whose range covers offset: the active
// segment if the sealed list is empty or the active segment's base offset
// is already at or below offset, otherwise the sealed segment with the
// greatest base offset not exceeding it.
func (l *Log) findSegment(offset uint64) *segment.Segment {
	l.sealedMu.RLock()
	defer l.sealedMu.RUnlock()

	active := l.active.Load()
	if len(l.sealed) == 0 || active.BaseOffset() <= offset {
		return active
	}

	i := sort.Search(len(l.sealed), func(i int) bool {
		return l.sealed[i].BaseOffset() > offset
	}) - 1
	if i < 0 {
		return l.sealed[0]
	}
	return l.sealed[i]
}

// nextSegmentAfter returns the segment immediately following seg in offset
// order, or nil if seg is the active segment.
func (l *Log) nextSegmentAfter(seg *segment.Segment) *segment.Segment {
	active := l.active.Load()
	if seg == active {
		return nil
	}

	l.sealedMu.RLock()
	defer l.sealedMu.RUnlock()
	for i, s := range l.sealed {
		if s == seg {
			if i+1 < len(l.sealed) {
				return l.sealed[i+1]
			}
			return active
		}
	}
	return nil
}
