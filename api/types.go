package api

import (
	"context"

	"sprint-board/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FetchByParent(ctx context.Context, sprintID string) ([]domain.WorkItem, error)
	FetchSprint(ctx context.Context, sprintID string) (domain.Sprint, error)
	FetchDevelopers(ctx context.Context) ([]domain.Member, error)
	FetchDeveloper(ctx context.Context, subject string) (domain.Member, error)
	EnqueueCommit(ctx context.Context, env domain.CommitEnvelope) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents a commit from being queued twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when queueing fails.
	Remove(ctx context.Context, userID, key string) error
}

// Notifier lets the stream endpoint wait for board changes of a sprint.
type Notifier interface {
	Subscribe(sprintID string) (<-chan domain.BoardUpdate, func())
}

// UpdatePublisher announces board updates to every API instance.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, upd domain.BoardUpdate) error
}
