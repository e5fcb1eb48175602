package storage

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"sprint-board/domain"
)

// ErrCircuitOpen is returned while the breaker rejects writes.
var ErrCircuitOpen = errors.New("storage circuit breaker is open")

type bulkWriter interface {
	BulkUpsert(ctx context.Context, sprintID string, diff domain.PersistenceDiff, ts int64) error
}

// BreakerConfig tunes the write circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that trip the circuit.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration
	// HalfOpenRequests is the number of probe writes allowed when half-open.
	HalfOpenRequests uint32
}

// Breaker guards bulk writes so a failing table service is not hammered by
// every queued commit.
type Breaker struct {
	next    bulkWriter
	breaker *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker. Zero config values fall back
// to 5 failures, a 30s open period and a single probe.
func NewBreaker(next bulkWriter, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	settings := gobreaker.Settings{
		Name:        "board-bulk-upsert",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	}
	return &Breaker{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// BulkUpsert forwards the diff unless the circuit is open.
func (b *Breaker) BulkUpsert(ctx context.Context, sprintID string, diff domain.PersistenceDiff, ts int64) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.next.BulkUpsert(ctx, sprintID, diff, ts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State reports the breaker state as "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.breaker.State().String()
}
