package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/goleak"

	"sprint-board/domain"
)

type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	sent    []string
}

func (b *blockingStore) EnqueueCommit(ctx context.Context, env domain.CommitEnvelope) error {
	<-b.release
	b.mu.Lock()
	b.sent = append(b.sent, env.ID)
	b.mu.Unlock()
	return nil
}

func (b *blockingStore) Sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

type recordingDeduper struct {
	mu      sync.Mutex
	removed []string
}

func (r *recordingDeduper) Add(context.Context, string, string) (bool, error) { return true, nil }

func (r *recordingDeduper) Remove(_ context.Context, _ string, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, key)
	return nil
}

type failingStore struct{}

func (failingStore) EnqueueCommit(context.Context, domain.CommitEnvelope) error {
	return errors.New("queue down")
}

func job(id string) commitJob {
	return commitJob{env: domain.CommitEnvelope{ID: id, UserID: "u", SprintID: "s"}}
}

func TestCommitSenderDrainsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := &blockingStore{release: make(chan struct{})}
	s := NewCommitSender(SenderConfig{Workers: 2, Buffer: 4}, store, nil, nil, log.New())
	for _, id := range []string{"a", "b", "c"} {
		if !s.TryEnqueue(job(id)) {
			t.Fatalf("enqueue %s rejected", id)
		}
	}
	close(store.release)
	s.Close()

	if got := len(store.Sent()); got != 3 {
		t.Fatalf("expected 3 commits sent, got %d", got)
	}
	if s.TryEnqueue(job("late")) {
		t.Fatal("closed sender accepted a job")
	}
	s.Close()
}

func TestTryEnqueueWaitsForCapacity(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := &blockingStore{release: make(chan struct{})}
	s := NewCommitSender(SenderConfig{Workers: 1, Buffer: 1, HandoffTimeout: 500 * time.Millisecond}, store, nil, nil, log.New())
	defer s.Close()

	// One job held by the worker, one filling the buffer.
	if !s.TryEnqueue(job("a")) {
		t.Fatal("first enqueue rejected")
	}
	deadline := time.Now().Add(time.Second)
	for len(s.jobs) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up first job")
		}
		time.Sleep(time.Millisecond)
	}
	if !s.TryEnqueue(job("b")) {
		t.Fatal("second enqueue rejected")
	}

	done := make(chan bool, 1)
	go func() { done <- s.TryEnqueue(job("c")) }()

	select {
	case <-done:
		t.Fatal("TryEnqueue returned before capacity was freed")
	case <-time.After(20 * time.Millisecond):
	}

	close(store.release)
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected successful enqueue after capacity freed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for enqueue completion")
	}
}

func TestTryEnqueueTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := &blockingStore{release: make(chan struct{})}
	s := NewCommitSender(SenderConfig{Workers: 1, Buffer: 0, HandoffTimeout: 20 * time.Millisecond}, store, nil, nil, log.New())

	if !s.TryEnqueue(job("a")) {
		t.Fatal("first enqueue should be handed to the idle worker")
	}
	if s.TryEnqueue(job("b")) {
		t.Fatal("expected enqueue to fail while the worker is busy")
	}
	close(store.release)
	s.Close()
}

func TestCommitSenderRollsBackDedupeOnFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	deduper := &recordingDeduper{}
	s := NewCommitSender(SenderConfig{Workers: 1, Buffer: 2}, failingStore{}, deduper, nil, log.New())

	j := job("k1")
	j.deduped = true
	if !s.TryEnqueue(j) {
		t.Fatal("enqueue rejected")
	}
	if !s.TryEnqueue(job("k2")) {
		t.Fatal("enqueue rejected")
	}
	s.Close()

	if len(deduper.removed) != 1 || deduper.removed[0] != "k1" {
		t.Fatalf("expected only k1 to be released, got %v", deduper.removed)
	}
}

func TestSenderConfigFromEnv(t *testing.T) {
	t.Setenv("ENQUEUE_WORKERS", "3")
	t.Setenv("ENQUEUE_BUFFER", "bogus")
	t.Setenv("ENQUEUE_HANDOFF_TIMEOUT", "5ms")

	cfg := SenderConfigFromEnv()
	if cfg.Workers != 3 {
		t.Fatalf("expected 3 workers, got %d", cfg.Workers)
	}
	if cfg.Buffer != 1024 {
		t.Fatalf("expected default buffer, got %d", cfg.Buffer)
	}
	if cfg.HandoffTimeout != 5*time.Millisecond {
		t.Fatalf("unexpected handoff timeout %v", cfg.HandoffTimeout)
	}
	if cfg.EnqueueTimeout != 30*time.Second {
		t.Fatalf("unexpected enqueue timeout %v", cfg.EnqueueTimeout)
	}
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []domain.BoardUpdate
}

func (r *recordingPublisher) PublishUpdate(_ context.Context, upd domain.BoardUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, upd)
	return nil
}

func TestCommitSenderAnnouncesFailedCommit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pub := &recordingPublisher{}
	s := NewCommitSender(SenderConfig{Workers: 1, Buffer: 1}, failingStore{}, nil, pub, log.New())
	j := job("k1")
	j.env.Timestamp = 7
	if !s.TryEnqueue(j) {
		t.Fatal("enqueue rejected")
	}
	s.Close()

	want := domain.BoardUpdate{SprintID: "s", CommitID: "k1", Timestamp: 7, Failed: true, Error: errEnqueueFailed}
	if len(pub.updates) != 1 || pub.updates[0] != want {
		t.Fatalf("unexpected announcements: %+v", pub.updates)
	}
}
