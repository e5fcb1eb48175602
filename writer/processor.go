// Package writer applies queued board commits to storage.
package writer

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"sprint-board/domain"
	"sprint-board/storage"
)

// Queue is the commit queue consumed by the writer.
type Queue interface {
	Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error)
	Delete(ctx context.Context, id, receipt string) error
}

type bulkWriter interface {
	BulkUpsert(ctx context.Context, sprintID string, diff domain.PersistenceDiff, ts int64) error
}

type boardRefresher interface {
	RefreshBoard(ctx context.Context, sprintID string) ([]domain.WorkItem, error)
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Config tunes the writer loop.
type Config struct {
	// UpdatesChannel is the Redis channel BoardUpdate messages go to.
	UpdatesChannel string
	// MaxDequeueCount drops a commit after this many failed attempts.
	MaxDequeueCount int64
	// PollInterval is the wait after an empty or failed dequeue.
	PollInterval time.Duration
	// WritesPerSecond caps bulk upserts; zero means unlimited.
	WritesPerSecond rate.Limit
}

// Processor drains the commit queue.
type Processor struct {
	cfg     Config
	queue   Queue
	writer  bulkWriter
	cache   boardRefresher
	rc      publisher
	limiter *rate.Limiter
}

// New creates a Processor. cache and rc may be nil.
func New(cfg Config, q Queue, w bulkWriter, cache boardRefresher, rc publisher) *Processor {
	if cfg.MaxDequeueCount <= 0 {
		cfg.MaxDequeueCount = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	limit := cfg.WritesPerSecond
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Processor{
		cfg:     cfg,
		queue:   q,
		writer:  w,
		cache:   cache,
		rc:      rc,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Run polls the queue until ctx is done.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Errorf("dequeue commit: %v", err)
			}
			p.wait(ctx)
			continue
		}
		if msg == nil {
			p.wait(ctx)
			continue
		}
		if err := p.Handle(ctx, msg); err != nil {
			log.WithField("message", deref(msg.MessageID)).Warnf("commit left on queue: %v", err)
			if errors.Is(err, storage.ErrCircuitOpen) {
				p.wait(ctx)
			}
		}
	}
}

func (p *Processor) wait(ctx context.Context) {
	t := time.NewTimer(p.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Handle applies one queued message. The message is deleted once applied, or
// when it can never be applied: undecodable payloads and commits that failed
// MaxDequeueCount times. A returned error means the message stays queued and
// reappears after its visibility timeout.
func (p *Processor) Handle(ctx context.Context, msg *azqueue.DequeuedMessage) error {
	var env domain.CommitEnvelope
	if err := sonic.UnmarshalString(deref(msg.MessageText), &env); err != nil || env.SprintID == "" {
		log.WithField("message", deref(msg.MessageID)).Errorf("dropping malformed commit: %v", err)
		return p.delete(ctx, msg)
	}

	if err := p.Apply(ctx, env); err != nil {
		if msg.DequeueCount != nil && *msg.DequeueCount >= p.cfg.MaxDequeueCount {
			log.WithFields(log.Fields{
				"sprint":   env.SprintID,
				"commit":   env.ID,
				"attempts": *msg.DequeueCount,
			}).Errorf("dropping commit after repeated failures: %v", err)
			if perr := p.announce(ctx, domain.CommitFailed(env, err.Error())); perr != nil {
				return perr
			}
			return p.delete(ctx, msg)
		}
		return err
	}
	return p.delete(ctx, msg)
}

// Apply writes the diff, refreshes the cached board and announces the change.
func (p *Processor) Apply(ctx context.Context, env domain.CommitEnvelope) error {
	if len(env.Records) > 0 {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := p.writer.BulkUpsert(ctx, env.SprintID, env.Records, env.Timestamp); err != nil {
			return err
		}
	}
	if p.cache != nil {
		if _, err := p.cache.RefreshBoard(ctx, env.SprintID); err != nil {
			log.WithField("sprint", env.SprintID).Errorf("refresh board cache: %v", err)
		}
	}
	return p.announce(ctx, domain.BoardUpdate{
		SprintID:  env.SprintID,
		CommitID:  env.ID,
		Timestamp: env.Timestamp,
	})
}

// announce publishes upd on the updates channel. Publish failures are only
// logged; the board itself is already settled.
func (p *Processor) announce(ctx context.Context, upd domain.BoardUpdate) error {
	if p.rc == nil || p.cfg.UpdatesChannel == "" {
		return nil
	}
	payload, err := sonic.MarshalString(upd)
	if err != nil {
		return err
	}
	if err := p.rc.Publish(ctx, p.cfg.UpdatesChannel, payload).Err(); err != nil {
		log.WithField("failed", upd.Failed).Errorf("Unable to publish board update for %s to %s", upd.SprintID, p.cfg.UpdatesChannel)
	}
	return nil
}

func (p *Processor) delete(ctx context.Context, msg *azqueue.DequeuedMessage) error {
	if err := p.queue.Delete(ctx, deref(msg.MessageID), deref(msg.PopReceipt)); err != nil {
		log.WithField("message", deref(msg.MessageID)).Errorf("delete commit message: %v", err)
		return err
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
