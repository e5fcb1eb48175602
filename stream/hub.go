// Package stream fans board change notifications out to connected clients.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"sprint-board/domain"
)

// subscriberBuffer bounds the updates pending for one slow reader.
const subscriberBuffer = 16

// Hub tracks subscribers per sprint.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.BoardUpdate]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan domain.BoardUpdate]struct{})}
}

// Subscribe registers interest in a sprint. The returned func unsubscribes.
func (h *Hub) Subscribe(sprintID string) (<-chan domain.BoardUpdate, func()) {
	ch := make(chan domain.BoardUpdate, subscriberBuffer)
	h.mu.Lock()
	set, ok := h.subs[sprintID]
	if !ok {
		set = make(map[chan domain.BoardUpdate]struct{})
		h.subs[sprintID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sprintID], ch)
			if len(h.subs[sprintID]) == 0 {
				delete(h.subs, sprintID)
			}
			h.mu.Unlock()
		})
	}
}

// Notify hands upd to every subscriber of its sprint without blocking. When a
// reader is full a successful update is dropped, since any pending entry
// already makes the reader reload the board. A failure evicts the oldest
// pending entry instead so the reader still learns about it.
func (h *Hub) Notify(upd domain.BoardUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[upd.SprintID] {
		select {
		case ch <- upd:
			continue
		default:
		}
		if !upd.Failed {
			continue
		}
		select {
		case old := <-ch:
			if old.Failed {
				log.WithFields(log.Fields{"sprint": old.SprintID, "commit": old.CommitID}).Warn("dropping commit failure for slow subscriber")
			}
		default:
		}
		select {
		case ch <- upd:
		default:
		}
	}
}

// Subscribers reports how many clients watch the sprint.
func (h *Hub) Subscribers(sprintID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sprintID])
}

// Run relays BoardUpdate messages published on channel to the hub until ctx
// is done, resubscribing when the pubsub connection drops.
func (h *Hub) Run(ctx context.Context, rc *redis.Client, channel string) {
	for {
		sub := rc.Subscribe(ctx, channel)
		h.consume(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (h *Hub) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var upd domain.BoardUpdate
			if err := sonic.UnmarshalString(msg.Payload, &upd); err != nil || upd.SprintID == "" {
				log.WithField("payload", msg.Payload).Errorf("unable to parse board update: %v", err)
				continue
			}
			h.Notify(upd)
		}
	}
}
