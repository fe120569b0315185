package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"offsetlog/internal/appendqueue"
	"offsetlog/internal/client"
	"offsetlog/internal/engine"
	"offsetlog/internal/writer"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func startTestBroker(t *testing.T) (addr string, stop func()) {
	t.Helper()
	dir := t.TempDir()

	log, err := engine.Open(engine.Config{Dir: dir, MaxSegmentSize: 1 << 20})
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}
	if err := log.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	queue := appendqueue.New(appendqueue.DefaultConfig())
	w := writer.New(queue, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	addr = freeAddr(t)
	b := New(Config{ListenAddr: addr}, w, log, nil)

	serveErr := make(chan error, 1)
	go func() { serveErr <- b.Serve() }()

	// Serve's net.Listen races against the client dialing; retry briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("broker never started listening on %s: %v", addr, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	return addr, func() {
		b.Stop()
		cancel()
		log.Close()
	}
}

func TestBrokerProduceAndFetch(t *testing.T) {
	addr, stop := startTestBroker(t)
	defer stop()

	c, err := client.Dial(client.Config{BrokerAddr: addr})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	var offsets []uint64
	for i := 0; i < 5; i++ {
		offset, err := c.Produce([]byte{byte(i), byte(i), byte(i)})
		if err != nil {
			t.Fatalf("Produce #%d: %v", i, err)
		}
		offsets = append(offsets, offset)
	}
	for i, o := range offsets {
		if o != uint64(i) {
			t.Fatalf("got offsets %v want contiguous starting at 0", offsets)
		}
	}

	data, err := c.Fetch(0, 1024)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(data) != 5*(4+3) {
		t.Fatalf("got %d bytes want %d", len(data), 5*(4+3))
	}
}

func TestBrokerFetchPastFrontierReturnsEmpty(t *testing.T) {
	addr, stop := startTestBroker(t)
	defer stop()

	c, err := client.Dial(client.Config{BrokerAddr: addr})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Produce([]byte{1}); err != nil {
		t.Fatalf("Produce: %v", err)
	}

	data, err := c.Fetch(50, 1024)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("got %v want empty past the frontier", data)
	}
}
