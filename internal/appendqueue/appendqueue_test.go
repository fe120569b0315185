package appendqueue

import (
	"errors"
	"testing"
	"time"

	"offsetlog/internal/lkerrors"
)

func TestPushPopFIFOOrder(t *testing.T) {
	q := New(Config{Capacity: 4})

	for i := 0; i < 3; i++ {
		job := &AppendJob{Payload: []byte{byte(i)}, Done: make(chan Completion, 1)}
		if err := q.Push(job); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		job, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop: queue unexpectedly empty")
		}
		if job.Payload[0] != byte(i) {
			t.Fatalf("got payload %v want %d", job.Payload, i)
		}
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New(Config{Capacity: 4})

	done := make(chan *AppendJob, 1)
	go func() {
		job, _ := q.Pop()
		done <- job
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("Pop returned before any job was pushed")
	default:
	}

	job := &AppendJob{Payload: []byte{42}, Done: make(chan Completion, 1)}
	if err := q.Push(job); err != nil {
		t.Fatalf("Push: %v", err)
	}

	select {
	case got := <-done:
		if got.Payload[0] != 42 {
			t.Fatalf("got payload %v want [42]", got.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("Pop never woke up after Push")
	}
}

func TestPushBlocksWhenFull(t *testing.T) {
	q := New(Config{Capacity: 1})
	first := &AppendJob{Payload: []byte{1}, Done: make(chan Completion, 1)}
	if err := q.Push(first); err != nil {
		t.Fatalf("Push: %v", err)
	}

	pushed := make(chan struct{})
	go func() {
		second := &AppendJob{Payload: []byte{2}, Done: make(chan Completion, 1)}
		q.Push(second)
		close(pushed)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-pushed:
		t.Fatalf("Push returned before the queue had room")
	default:
	}

	if _, ok := q.Pop(); !ok {
		t.Fatalf("Pop: queue unexpectedly empty")
	}

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatalf("Push never unblocked after Pop freed a slot")
	}
}

func TestCloseDrainsThenStopsPop(t *testing.T) {
	q := New(Config{Capacity: 4})
	job := &AppendJob{Payload: []byte{7}, Done: make(chan Completion, 1)}
	if err := q.Push(job); err != nil {
		t.Fatalf("Push: %v", err)
	}
	q.Close()

	got, ok := q.Pop()
	if !ok || got.Payload[0] != 7 {
		t.Fatalf("expected Close to let queued jobs drain, got %v, %v", got, ok)
	}

	if _, ok := q.Pop(); ok {
		t.Fatalf("expected Pop to report no more jobs after drain")
	}
}

func TestPushAfterCloseFailsWithShuttingDown(t *testing.T) {
	q := New(Config{Capacity: 4})
	q.Close()

	job := &AppendJob{Payload: []byte{1}, Done: make(chan Completion, 1)}
	if err := q.Push(job); !errors.Is(err, lkerrors.ErrShuttingDown) {
		t.Fatalf("expected ShuttingDown, got %v", err)
	}
}
