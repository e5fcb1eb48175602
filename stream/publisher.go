package stream

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"sprint-board/domain"
)

// Publisher announces board updates on the Redis channel every Hub listens to,
// so clients connected to any instance receive them.
type Publisher struct {
	rc      *redis.Client
	channel string
}

// NewPublisher creates a Publisher for channel.
func NewPublisher(rc *redis.Client, channel string) *Publisher {
	return &Publisher{rc: rc, channel: channel}
}

// PublishUpdate sends upd to the updates channel.
func (p *Publisher) PublishUpdate(ctx context.Context, upd domain.BoardUpdate) error {
	payload, err := sonic.MarshalString(upd)
	if err != nil {
		return err
	}
	return p.rc.Publish(ctx, p.channel, payload).Err()
}
