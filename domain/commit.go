package domain

import "time"

// Record is the durable projection of a story's ordering fields.
type Record struct {
	ID          string     `json:"id"`
	State       State      `json:"state"`
	Position    int        `json:"position"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// PersistenceDiff is a batch of records applied as insert-or-update by id.
// Every record is independent, so a failed batch can be retried as a whole.
type PersistenceDiff []Record

// CommitMove projects the collection onto the records that need storing.
// Placeholders never leave the engine.
func CommitMove(items []WorkItem) PersistenceDiff {
	diff := make(PersistenceDiff, 0, len(items))
	for _, it := range items {
		if IsPlaceholder(it) {
			continue
		}
		diff = append(diff, Record{
			ID:          it.ID,
			State:       it.State,
			Position:    it.Position,
			CompletedAt: it.CompletedAt,
		})
	}
	return diff
}

// IDs returns the story ids in diff order.
func (d PersistenceDiff) IDs() []string {
	ids := make([]string, len(d))
	for i, r := range d {
		ids[i] = r.ID
	}
	return ids
}

// Stamp is the stored state of a story and the timestamp of the commit that
// last wrote it.
type Stamp struct {
	State           State
	CommitTimestamp int64
}

// Reconcile returns the records of a diff committed at ts that may overwrite
// the stored stamps. A record never moves a story to an earlier state. A
// record from an older commit is kept only when it moves the story forward,
// so out-of-order commits cannot undo each other's moves.
func (d PersistenceDiff) Reconcile(stored map[string]Stamp, ts int64) PersistenceDiff {
	out := make(PersistenceDiff, 0, len(d))
	for _, r := range d {
		if IsPlaceholderID(r.ID) {
			continue
		}
		if cur, ok := stored[r.ID]; ok {
			if r.State < cur.State {
				continue
			}
			if r.State == cur.State && ts < cur.CommitTimestamp {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}
