package domain

import "time"

// WorkItem represents a user story placed on a sprint board.
type WorkItem struct {
	ID          string     `json:"id"`
	State       State      `json:"state"`
	Position    int        `json:"position"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Name        string   `json:"name,omitempty"`
	Tag         string   `json:"tag,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	StoryPoints int      `json:"storyPoints"`
	DeveloperID string   `json:"developerId,omitempty"`
	TimeTaken   *float64 `json:"timeTaken,omitempty"`

	Placeholder bool `json:"placeholder,omitempty"`
}

// NewWorkItem returns a story entering the board. Callers append it after the
// existing collection and renumber.
func NewWorkItem(id string) WorkItem {
	return WorkItem{ID: id, State: Todo}
}

func cloneItems(items []WorkItem) []WorkItem {
	out := make([]WorkItem, len(items))
	copy(out, items)
	return out
}

func indexOf(items []WorkItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func renumber(items []WorkItem) {
	for i := range items {
		items[i].Position = i
	}
}
