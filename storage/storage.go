package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"sprint-board/domain"
)

const (
	sprintPartition    = "sprint"
	developerPartition = "developer"

	// maxTransactionActions is the Table service limit per entity group transaction.
	maxTransactionActions = 100

	// maxConflictRetries bounds how often a diff is reconciled again after a
	// concurrent writer changed the partition.
	maxConflictRetries = 5
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict indicates that the Table service rejected a write
	// because the entity changed since it was read.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// Config names the tables and queue used by the board.
type Config struct {
	StoriesTable    string
	SprintsTable    string
	DevelopersTable string
	CommitQueue     string
	// VisibilityTimeout hides a dequeued commit from other writers until it is
	// deleted or the timeout elapses.
	VisibilityTimeout time.Duration
}

// Storage provides access to underlying persistence mechanisms.
type Storage struct {
	storyTable        *aztables.Client
	sprintTable       *aztables.Client
	developerTable    *aztables.Client
	commitQueue       *azqueue.QueueClient
	visibilityTimeout int32
}

// New creates a Storage instance from the given connection string.
func New(connStr string, cfg Config) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, cfg.CommitQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	vt := int32(cfg.VisibilityTimeout / time.Second)
	if vt <= 0 {
		vt = 30
	}
	return &Storage{
		storyTable:        svc.NewClient(cfg.StoriesTable),
		sprintTable:       svc.NewClient(cfg.SprintsTable),
		developerTable:    svc.NewClient(cfg.DevelopersTable),
		commitQueue:       cq,
		visibilityTimeout: vt,
	}, nil
}

type storyEntity struct {
	aztables.Entity
	Name        string   `json:"Name"`
	Tag         string   `json:"Tag"`
	Priority    string   `json:"Priority"`
	State       string   `json:"State"`
	Position    int      `json:"Position"`
	CompletedAt string   `json:"CompletedAt"`
	StoryPoints int      `json:"StoryPoints"`
	DeveloperID string   `json:"DeveloperId"`
	TimeTaken   *float64 `json:"TimeTaken"`
	// CommitTimestamp is the timestamp of the last commit that wrote the
	// ordering fields.
	CommitTimestamp int64 `json:"CommitTimestamp"`
}

// recordEntity is the merge payload for a persisted ordering record. Fields
// it omits are left untouched by the Table service.
type recordEntity struct {
	PartitionKey    string `json:"PartitionKey"`
	RowKey          string `json:"RowKey"`
	State           string `json:"State"`
	Position        int    `json:"Position"`
	CompletedAt     string `json:"CompletedAt,omitempty"`
	CommitTimestamp int64  `json:"CommitTimestamp"`
}

// stampEntity is the projection read to reconcile a commit.
type stampEntity struct {
	RowKey          string `json:"RowKey"`
	ETag            string `json:"odata.etag"`
	State           string `json:"State"`
	CommitTimestamp int64  `json:"CommitTimestamp"`
}

type storedStamp struct {
	domain.Stamp
	etag azcore.ETag
}

type sprintEntity struct {
	aztables.Entity
	Name      string `json:"Name"`
	StartDate string `json:"StartDate"`
	EndDate   string `json:"EndDate"`
	Status    string `json:"Status"`
}

type developerEntity struct {
	aztables.Entity
	Name  string `json:"Name"`
	Email string `json:"Email"`
	Role  string `json:"Role"`
}

func partitionFilter(pk string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(pk, "'", "''") + "'"
}

func decodeStoryEntity(data []byte) (domain.WorkItem, bool, error) {
	var ent storyEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.WorkItem{}, false, err
	}
	state, err := domain.ParseState(ent.State)
	if err != nil {
		return domain.WorkItem{}, false, nil
	}
	item := domain.WorkItem{
		ID:          ent.RowKey,
		State:       state,
		Position:    ent.Position,
		Name:        ent.Name,
		Tag:         ent.Tag,
		Priority:    ent.Priority,
		StoryPoints: ent.StoryPoints,
		DeveloperID: ent.DeveloperID,
		TimeTaken:   ent.TimeTaken,
	}
	if ent.CompletedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, ent.CompletedAt)
		if err != nil {
			return domain.WorkItem{}, false, fmt.Errorf("story %s completedAt: %w", ent.RowKey, err)
		}
		item.CompletedAt = &ts
	}
	return item, true, nil
}

func encodeRecord(sprintID string, r domain.Record, ts int64) ([]byte, error) {
	ent := recordEntity{
		PartitionKey:    sprintID,
		RowKey:          r.ID,
		State:           r.State.String(),
		Position:        r.Position,
		CommitTimestamp: ts,
	}
	if r.CompletedAt != nil {
		ent.CompletedAt = r.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(ent)
}

// FetchByParent retrieves the board stories of a sprint. Stories outside the
// board workflow, such as backlog entries, are skipped.
func (s *Storage) FetchByParent(ctx context.Context, sprintID string) ([]domain.WorkItem, error) {
	filter := partitionFilter(sprintID)
	pager := s.storyTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	items := []domain.WorkItem{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			item, onBoard, err := decodeStoryEntity(e)
			if err != nil {
				return nil, err
			}
			if !onBoard {
				log.WithField("sprint", sprintID).Debug("skipping story outside board workflow")
				continue
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// BulkUpsert merges the diff of a commit taken at ts into the sprint
// partition. The diff is reconciled against the stored stories first, so a
// stale or reordered commit never moves a story back to an earlier state.
// Existing stories are updated under their ETag; when another writer got
// there first the partition is read again and the diff reconciled anew.
// Records are sent in transactions of at most maxTransactionActions.
func (s *Storage) BulkUpsert(ctx context.Context, sprintID string, diff domain.PersistenceDiff, ts int64) error {
	for attempt := 0; ; attempt++ {
		stored, err := s.fetchStamps(ctx, sprintID)
		if err != nil {
			return err
		}
		err = s.submitRecords(ctx, sprintID, diff, stored, ts)
		if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		if attempt >= maxConflictRetries {
			return err
		}
		log.WithFields(log.Fields{"sprint": sprintID, "ts": ts, "attempt": attempt + 1}).Warn("board commit raced another writer, reconciling again")
	}
}

func (s *Storage) fetchStamps(ctx context.Context, sprintID string) (map[string]storedStamp, error) {
	filter := partitionFilter(sprintID)
	sel := "RowKey,State,CommitTimestamp"
	pager := s.storyTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel})
	stored := make(map[string]storedStamp)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			id, st, err := decodeStamp(e)
			if err != nil {
				return nil, err
			}
			stored[id] = st
		}
	}
	return stored, nil
}

func decodeStamp(data []byte) (string, storedStamp, error) {
	var ent stampEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return "", storedStamp{}, err
	}
	st := storedStamp{
		Stamp: domain.Stamp{CommitTimestamp: ent.CommitTimestamp},
		etag:  azcore.ETag(ent.ETag),
	}
	// Stories outside the board workflow rank below every board state.
	if state, err := domain.ParseState(ent.State); err == nil {
		st.State = state
	} else {
		st.State = domain.Todo - 1
	}
	return ent.RowKey, st, nil
}

func (s *Storage) submitRecords(ctx context.Context, sprintID string, diff domain.PersistenceDiff, stored map[string]storedStamp, ts int64) error {
	actions, err := reconcileActions(sprintID, diff, stored, ts)
	if err != nil {
		return err
	}
	for start := 0; start < len(actions); start += maxTransactionActions {
		end := min(start+maxTransactionActions, len(actions))
		if _, err := s.storyTable.SubmitTransaction(ctx, actions[start:end], nil); err != nil {
			return fmt.Errorf("bulk upsert sprint %s records %d-%d: %w", sprintID, start, end, conflict(err))
		}
	}
	return nil
}

// reconcileActions turns the records that survive reconciliation into table
// actions. Known stories are merged under their ETag, new ones are added.
// The stored commit timestamp only ever grows.
func reconcileActions(sprintID string, diff domain.PersistenceDiff, stored map[string]storedStamp, ts int64) ([]aztables.TransactionAction, error) {
	stamps := make(map[string]domain.Stamp, len(stored))
	for id, st := range stored {
		stamps[id] = st.Stamp
	}
	fresh := diff.Reconcile(stamps, ts)
	if skipped := len(diff) - len(fresh); skipped > 0 {
		log.WithFields(log.Fields{"sprint": sprintID, "ts": ts, "skipped": skipped}).Info("skipping stale board records")
	}

	actions := make([]aztables.TransactionAction, 0, len(fresh))
	for _, r := range fresh {
		cur, ok := stored[r.ID]
		payload, err := encodeRecord(sprintID, r, max(ts, cur.CommitTimestamp))
		if err != nil {
			return nil, err
		}
		action := aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload}
		if ok {
			etag := cur.etag
			if etag == "" {
				etag = azcore.ETagAny
			}
			action.ActionType = aztables.TransactionTypeUpdateMerge
			action.IfMatch = &etag
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// conflict maps the Table service's precondition and duplicate-add failures
// to ErrConcurrencyConflict.
func conflict(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && (respErr.StatusCode == 412 || respErr.StatusCode == 409) {
		return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
	}
	return err
}

// FetchSprint loads a sprint by id.
func (s *Storage) FetchSprint(ctx context.Context, sprintID string) (domain.Sprint, error) {
	resp, err := s.sprintTable.GetEntity(ctx, sprintPartition, sprintID, nil)
	if err != nil {
		return domain.Sprint{}, notFound(err)
	}
	return decodeSprintEntity(resp.Value)
}

func decodeSprintEntity(data []byte) (domain.Sprint, error) {
	var ent sprintEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Sprint{}, err
	}
	sp := domain.Sprint{ID: ent.RowKey, Name: ent.Name, Status: ent.Status}
	var err error
	if sp.StartDate, err = parseDate(ent.StartDate); err != nil {
		return domain.Sprint{}, fmt.Errorf("sprint %s start date: %w", ent.RowKey, err)
	}
	if sp.EndDate, err = parseDate(ent.EndDate); err != nil {
		return domain.Sprint{}, fmt.Errorf("sprint %s end date: %w", ent.RowKey, err)
	}
	return sp, nil
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", v)
}

// FetchDevelopers lists all board members.
func (s *Storage) FetchDevelopers(ctx context.Context) ([]domain.Member, error) {
	filter := partitionFilter(developerPartition)
	pager := s.developerTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	members := []domain.Member{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			m, err := decodeDeveloperEntity(e)
			if err != nil {
				return nil, err
			}
			members = append(members, m)
		}
	}
	return members, nil
}

// FetchDeveloper loads the member registered for an auth subject.
func (s *Storage) FetchDeveloper(ctx context.Context, subject string) (domain.Member, error) {
	resp, err := s.developerTable.GetEntity(ctx, developerPartition, subject, nil)
	if err != nil {
		return domain.Member{}, notFound(err)
	}
	return decodeDeveloperEntity(resp.Value)
}

func decodeDeveloperEntity(data []byte) (domain.Member, error) {
	var ent developerEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Member{}, err
	}
	return domain.Member{ID: ent.RowKey, Name: ent.Name, Email: ent.Email, Role: ent.Role}, nil
}

func notFound(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return ErrNotFound
	}
	return err
}

// EnqueueCommit sends the envelope to the commit queue.
func (s *Storage) EnqueueCommit(ctx context.Context, env domain.CommitEnvelope) error {
	data, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.commitQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Dequeue retrieves a single message from the commit queue.
func (s *Storage) Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := s.commitQueue.DequeueMessage(ctx, &azqueue.DequeueMessageOptions{VisibilityTimeout: &s.visibilityTimeout})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// Delete removes a processed message from the queue.
func (s *Storage) Delete(ctx context.Context, id, receipt string) error {
	_, err := s.commitQueue.DeleteMessage(ctx, id, receipt, nil)
	return err
}
