package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"offsetlog/internal/appendqueue"
	"offsetlog/internal/broker"
	"offsetlog/internal/engine"
	"offsetlog/internal/writer"
)

func main() {
	listenAddr := flag.String("listen", ":9092", "TCP address to listen on")
	dataDir := flag.String("dir", "./data", "directory holding segment files")
	maxSegmentSize := flag.Int64("max-segment-bytes", 10*1024*1024, "maximum size of one segment's record file")
	sealedCacheSize := flag.Int("sealed-cache-size", 64, "max sealed segments, among those read by Fetch, that keep an open record-file descriptor")
	queueCapacity := flag.Int("queue-capacity", 1024, "max queued append jobs before Produce blocks")
	flag.Parse()

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()
	sugar := zlog.Sugar()

	logConfig := engine.Config{
		Dir:             *dataDir,
		MaxSegmentSize:  *maxSegmentSize,
		SealedCacheSize: *sealedCacheSize,
		Logger:          sugar,
	}
	l, err := engine.Open(logConfig)
	if err != nil {
		sugar.Fatalw("failed to open log", "error", err)
	}
	if err := l.Start(); err != nil {
		sugar.Fatalw("failed to start log", "error", err)
	}
	defer l.Close()

	queue := appendqueue.New(appendqueue.Config{Capacity: *queueCapacity})
	w := writer.New(queue, l, sugar)

	ctx, cancel := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(writerDone)
	}()

	b := broker.New(broker.Config{ListenAddr: *listenAddr}, w, l, sugar)

	go func() {
		if err := b.Serve(); err != nil {
			sugar.Errorw("broker stopped serving", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	sugar.Infow("shutting down")
	b.Stop()
	cancel()
	<-writerDone
	sugar.Infow("shutdown complete")
}
