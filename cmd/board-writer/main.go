package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"sprint-board/internal/config"
	"sprint-board/storage"
	"sprint-board/writer"
)

func main() {
	if config.Debug() {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("board writer starting")

	connStr, storeCfg, err := config.Storage()
	if err != nil {
		log.Fatal(err)
	}
	base, err := storage.New(connStr, storeCfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisOpts, err := config.Redis()
	if err != nil {
		log.Fatal(err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()
	cacheTTL, err := config.Duration("BOARD_CACHE_TTL", 5*time.Minute)
	if err != nil {
		log.Fatal(err)
	}
	cache := storage.NewCache(base, rc, cacheTTL)

	breakerTimeout, err := config.Duration("BREAKER_TIMEOUT", 30*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	breakerFailures, err := config.Int("BREAKER_MAX_FAILURES", 5)
	if err != nil {
		log.Fatal(err)
	}
	breaker := storage.NewBreaker(base, storage.BreakerConfig{
		MaxFailures: uint32(breakerFailures),
		Timeout:     breakerTimeout,
	})

	maxAttempts, err := config.Int("COMMIT_MAX_DEQUEUE_COUNT", 5)
	if err != nil {
		log.Fatal(err)
	}
	poll, err := config.Duration("COMMIT_POLL_INTERVAL", time.Second)
	if err != nil {
		log.Fatal(err)
	}
	writesPerSecond, err := config.Float("COMMIT_WRITES_PER_SECOND", 0)
	if err != nil {
		log.Fatal(err)
	}
	updatesChannel := os.Getenv("BOARD_UPDATES_CHANNEL")
	if updatesChannel == "" {
		updatesChannel = "board-updates"
	}

	p := writer.New(writer.Config{
		UpdatesChannel:  updatesChannel,
		MaxDequeueCount: int64(maxAttempts),
		PollInterval:    poll,
		WritesPerSecond: rate.Limit(writesPerSecond),
	}, base, breaker, cache, rc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("writer: %v", err)
	}
	log.Info("board writer stopped")
}
