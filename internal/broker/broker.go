// Package broker accepts TCP connections speaking the wire protocol and
// dispatches Produce to a writer.Writer and Fetch to an engine.Log.
package broker

import (
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"offsetlog/internal/engine"
	"offsetlog/internal/wire"
	"offsetlog/internal/writer"
)

// Broker serves one log over one listener. Produce requests are submitted
// to Writer; Fetch requests read straight from Log, which is safe for any
// number of concurrent readers.
type Broker struct {
	Config Config
	Writer *writer.Writer
	Log    *engine.Log
	log    *zap.SugaredLogger

	quit chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, w *writer.Writer, l *engine.Log, zlog *zap.SugaredLogger) *Broker {
	if zlog == nil {
		zlog = zap.NewNop().Sugar()
	}
	return &Broker{
		Config: cfg,
		Writer: w,
		Log:    l,
		log:    zlog,
		quit:   make(chan struct{}),
	}
}

// Serve listens and accepts connections until Stop is called. Each
// connection is handled on its own goroutine.
func (b *Broker) Serve() error {
	ln, err := net.Listen("tcp", b.Config.ListenAddr)
	if err != nil {
		return err
	}

	b.log.Infow("broker listening", "addr", b.Config.ListenAddr)

	go func() {
		<-b.quit
		b.log.Infow("broker stopping, closing listener")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-b.quit:
				return nil
			default:
				b.log.Warnw("accept error", "error", err)
				continue
			}
		}

		b.wg.Add(1)
		go b.handleConnection(conn)
	}
}

// Stop closes the listener and waits for every in-flight connection
// handler to return.
func (b *Broker) Stop() {
	close(b.quit)
	b.wg.Wait()
}

func (b *Broker) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()
		b.wg.Done()
	}()

	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			if err != io.EOF {
				b.log.Warnw("connection closed with error", "error", err)
			}
			return
		}

		err = func() error {
			defer req.Release()

			respBody, handleErr := b.handleRequest(req)
			if handleErr != nil {
				b.log.Warnw("request handler error", "apiKey", req.Header.ApiKey, "error", handleErr)
				return handleErr
			}

			return wire.SendResponse(conn, req.Header.CorrelationID, respBody)
		}()

		if err != nil {
			return
		}
	}
}
