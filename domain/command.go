package domain

// CommitEnvelope carries a persistence diff through the commit queue.
type CommitEnvelope struct {
	// ID carries the idempotency key of the gesture that produced the diff.
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	SprintID  string          `json:"sprintId"`
	Records   PersistenceDiff `json:"records"`
	Timestamp int64           `json:"timestamp"`
}

// BoardUpdate is published once a commit reached storage, or with Failed set
// once it is known that the commit never will.
type BoardUpdate struct {
	SprintID  string `json:"sprintId"`
	CommitID  string `json:"commitId"`
	Timestamp int64  `json:"timestamp"`
	Failed    bool   `json:"failed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CommitFailed builds the update announcing that env was not persisted.
func CommitFailed(env CommitEnvelope, reason string) BoardUpdate {
	return BoardUpdate{
		SprintID:  env.SprintID,
		CommitID:  env.ID,
		Timestamp: env.Timestamp,
		Failed:    true,
		Error:     reason,
	}
}
