package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"classtrack/internal/config"
	"classtrack/internal/eventlog"
	"classtrack/internal/queue"
	"classtrack/internal/store"
)

// Worker drains the Redis event queue into the persisted event log so
// the API process does not have to. Run it alongside cmd/api when
// QUEUE_BACKEND=redis.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	q := queue.NewRedisQueue(redisClient.Client, "classtrack:events")
	repo := eventlog.NewRepository(db.Client)

	log.Println("worker started, archiving events...")
	if err := eventlog.NewArchiver(repo, q).Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("archiver failed: %v", err)
	}
	log.Println("worker stopped")
}
