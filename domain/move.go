package domain

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Mover applies drag gestures to a board collection.
type Mover struct {
	now func() time.Time
}

// NewMover creates a Mover stamping completions with the given clock. A nil
// clock defaults to time.Now.
func NewMover(now func() time.Time) Mover {
	if now == nil {
		now = time.Now
	}
	return Mover{now: now}
}

var defaultMover = NewMover(nil)

// PreviewMove applies a drag of activeID over overID using the wall clock.
func PreviewMove(items []WorkItem, activeID, overID string) []WorkItem {
	return defaultMover.PreviewMove(items, activeID, overID)
}

// PreviewMove returns the collection as it looks with the active story dropped
// on the hovered one. Unknown ids, placeholder drags and backward moves leave
// items untouched. The input slice is never modified.
func (m Mover) PreviewMove(items []WorkItem, activeID, overID string) []WorkItem {
	out, _ := m.Move(items, activeID, overID)
	return out
}

// Move is PreviewMove that also reports whether the gesture was applied. A
// column the gesture leaves without entries gets its placeholder back so it
// stays droppable for the rest of the drag.
func (m Mover) Move(items []WorkItem, activeID, overID string) ([]WorkItem, bool) {
	if activeID == overID {
		return items, false
	}
	from := indexOf(items, activeID)
	to := indexOf(items, overID)
	if from < 0 || to < 0 {
		log.WithFields(log.Fields{"active": activeID, "over": overID}).Debug("board move references unknown story")
		return items, false
	}
	active := items[from]
	over := items[to]
	if IsPlaceholder(active) {
		log.WithField("active", activeID).Debug("board move started on a placeholder")
		return items, false
	}
	if !CanTransition(active.State, over.State) {
		log.WithFields(log.Fields{"active": activeID, "from": active.State, "to": over.State}).Debug("backward board move rejected")
		return items, false
	}

	if active.State != over.State {
		active.State = over.State
		if active.State == TerminalState && active.CompletedAt == nil {
			ts := m.now().UTC()
			active.CompletedAt = &ts
		}
	}

	out := make([]WorkItem, 0, len(items))
	for i := range items {
		if i == from {
			continue
		}
		if i == to && from > to {
			out = append(out, active)
		}
		out = append(out, items[i])
		if i == to && from < to {
			out = append(out, active)
		}
	}
	renumber(out)
	return seedColumn(out, items[from].State), true
}
