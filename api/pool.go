package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"sprint-board/domain"
)

type committer interface {
	EnqueueCommit(ctx context.Context, env domain.CommitEnvelope) error
}

// SenderConfig sizes the background commit sender.
type SenderConfig struct {
	Workers        int
	Buffer         int
	EnqueueTimeout time.Duration
	HandoffTimeout time.Duration
}

// SenderConfigFromEnv reads ENQUEUE_WORKERS, ENQUEUE_BUFFER, ENQUEUE_TIMEOUT
// and ENQUEUE_HANDOFF_TIMEOUT.
func SenderConfigFromEnv() SenderConfig {
	return SenderConfig{
		Workers:        envInt("ENQUEUE_WORKERS", 8),
		Buffer:         envInt("ENQUEUE_BUFFER", 1024),
		EnqueueTimeout: envDur("ENQUEUE_TIMEOUT", 30*time.Second),
		HandoffTimeout: envDur("ENQUEUE_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
}

type commitJob struct {
	env     domain.CommitEnvelope
	deduped bool // key was recorded by the deduper and must be released on failure
}

// CommitSender hands persistence diffs to the commit queue off the request
// path.
type CommitSender struct {
	cfg     SenderConfig
	store   committer
	deduper Deduper
	updates UpdatePublisher
	logger  *log.Logger

	mu     sync.RWMutex
	jobs   chan commitJob
	closed bool
	wg     sync.WaitGroup
}

// NewCommitSender starts cfg.Workers goroutines draining the job buffer. A
// commit the workers fail to queue is announced through updates when it is
// not nil, since its caller was already answered.
func NewCommitSender(cfg SenderConfig, store committer, deduper Deduper, updates UpdatePublisher, logger *log.Logger) *CommitSender {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 30 * time.Second
	}
	s := &CommitSender{
		cfg:     cfg,
		store:   store,
		deduper: deduper,
		updates: updates,
		logger:  logger,
		jobs:    make(chan commitJob, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Infof("commit sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.EnqueueTimeout, cfg.HandoffTimeout)
	return s
}

func (s *CommitSender) worker(id int) {
	defer s.wg.Done()
	for j := range s.jobs {
		if err := s.send(j); err != nil {
			s.logger.WithFields(log.Fields{
				"worker":  id,
				"sprint":  j.env.SprintID,
				"commit":  j.env.ID,
				"user":    j.env.UserID,
				"records": len(j.env.Records),
			}).Errorf("enqueue commit failed: %v", err)
			s.reportFailure(j.env)
		}
	}
}

func (s *CommitSender) reportFailure(env domain.CommitEnvelope) {
	if s.updates == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EnqueueTimeout)
	defer cancel()
	if err := s.updates.PublishUpdate(ctx, domain.CommitFailed(env, errEnqueueFailed)); err != nil {
		s.logger.Errorf("unable to announce failed commit %s for sprint %s: %v", env.ID, env.SprintID, err)
	}
}

// send enqueues synchronously and releases the idempotency key on failure.
func (s *CommitSender) send(j commitJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EnqueueTimeout)
	err := s.store.EnqueueCommit(ctx, j.env)
	cancel()
	if err != nil && j.deduped && s.deduper != nil {
		if rerr := s.deduper.Remove(context.Background(), j.env.UserID, j.env.ID); rerr != nil {
			s.logger.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, j.env.ID, j.env.UserID)
		}
	}
	return err
}

// TryEnqueue offers the job to the workers, waiting at most the handoff
// timeout for buffer space. It reports false when the buffer stayed full or
// the sender is closed.
func (s *CommitSender) TryEnqueue(j commitJob) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	select {
	case s.jobs <- j:
		return true
	default:
	}
	if s.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(s.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case s.jobs <- j:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to drain.
func (s *CommitSender) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	s.wg.Wait()
}
