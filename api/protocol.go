package api

import "sprint-board/domain"

const (
	// boardRequestMaxSize bounds preview and commit bodies, which carry the
	// whole collection.
	boardRequestMaxSize = 512 * 1024
	moveRequestMaxSize  = 4 * 1024

	errEnqueueFailed = "failed to enqueue commit"
)

// POST /api/sprints/:sprintID/board/preview request body
type previewRequest struct {
	Items    []domain.WorkItem `json:"items"`
	ActiveID string            `json:"activeId"`
	OverID   string            `json:"overId"`
}

// POST /api/sprints/:sprintID/board/moves request body
type moveRequest struct {
	ActiveID       string `json:"activeId"`
	OverID         string `json:"overId"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// POST /api/sprints/:sprintID/board/commit request body
type commitRequest struct {
	Items          []domain.WorkItem `json:"items"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
}

type boardResponse struct {
	SprintID   string            `json:"sprintId"`
	Items      []domain.WorkItem `json:"items"`
	Columns    []domain.Column   `json:"columns"`
	CanReorder bool              `json:"canReorder"`
}

type moveResponse struct {
	boardResponse
	Applied        bool   `json:"applied"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type commitResponse struct {
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Records        int    `json:"records"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	Error          string `json:"error,omitempty"`
}

type burndownResponse struct {
	SprintID string                 `json:"sprintId"`
	Points   []domain.BurndownPoint `json:"points"`
}

type developerTimeResponse struct {
	SprintID   string                 `json:"sprintId"`
	Developers []domain.DeveloperTime `json:"developers"`
}
