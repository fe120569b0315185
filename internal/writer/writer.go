// Package writer owns the single goroutine that applies appends to the
// log, generalizing the reference module's BrokerCore writer loop to any
// number of concurrent submitters queued behind an appendqueue.Queue.
package writer

import (
	"context"

	"go.uber.org/zap"

	"offsetlog/internal/appendqueue"
	"offsetlog/internal/engine"
	"offsetlog/internal/lkerrors"
)

// Writer serializes every Append against the log through one queue and one
// consumer goroutine, so the log itself never needs to be safe for
// concurrent writers.
type Writer struct {
	queue *appendqueue.Queue
	log   *engine.Log
	zlog  *zap.SugaredLogger
}

func New(queue *appendqueue.Queue, log *engine.Log, zlog *zap.SugaredLogger) *Writer {
	if zlog == nil {
		zlog = zap.NewNop().Sugar()
	}
	return &Writer{queue: queue, log: log, zlog: zlog}
}

// Submit enqueues payload and blocks until it has been applied, the
// context is canceled, or the writer has shut down — whichever comes
// first. Unlike the reference module's unconditional future.get(), a
// canceled context returns immediately to the caller; the job itself is
// still drained and completed (or discarded) by Run, it just no longer has
// anyone listening on Done.
func (w *Writer) Submit(ctx context.Context, payload []byte) (uint64, error) {
	job := &appendqueue.AppendJob{Payload: payload, Done: make(chan appendqueue.Completion, 1)}
	if err := w.queue.Push(job); err != nil {
		return 0, err
	}

	select {
	case c := <-job.Done:
		return c.Offset, c.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Run is the single writer goroutine: pop a job, apply it to the log,
// complete it, repeat, until ctx is canceled. Cancellation closes the
// queue, which wakes a blocked Pop and drains whatever was still queued;
// those jobs are completed with ShuttingDown before Run returns.
func (w *Writer) Run(ctx context.Context) {
	stopWatching := make(chan struct{})
	defer close(stopWatching)
	go func() {
		select {
		case <-ctx.Done():
			w.queue.Close()
		case <-stopWatching:
		}
	}()

	for {
		job, ok := w.queue.Pop()
		if !ok {
			return
		}

		select {
		case <-ctx.Done():
			job.Done <- appendqueue.Completion{Err: lkerrors.ErrShuttingDown}
			continue
		default:
		}

		offset, err := w.log.Append(job.Payload)
		if err != nil {
			w.zlog.Errorw("append failed", "error", err)
		}
		job.Done <- appendqueue.Completion{Offset: offset, Err: err}
	}
}
