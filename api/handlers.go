package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"sprint-board/domain"
	"sprint-board/storage"
)

const (
	routeBoard   = "/api/sprints/:sprintID/board"
	routePreview = "/api/sprints/:sprintID/board/preview"
	routeMoves   = "/api/sprints/:sprintID/board/moves"
	routeCommit  = "/api/sprints/:sprintID/board/commit"
	routeBurn    = "/api/sprints/:sprintID/burndown"
	routeTime    = "/api/sprints/:sprintID/time"
	routeStream  = "/api/sprints/:sprintID/stream"
)

var (
	errNotMember = errors.New("not a board member")
	errReadOnly  = errors.New("role cannot reorder the board")
)

// Deps carries everything the board routes need.
type Deps struct {
	Store    Storage
	Auth     Authenticator
	Deduper  Deduper
	Sender   *CommitSender
	Notifier Notifier
	Logger   *log.Logger
	// Mover stamps completion times; the zero value uses the wall clock.
	Mover *domain.Mover
	// PreviewRate limits preview requests per caller per second; zero disables it.
	PreviewRate  rate.Limit
	PreviewBurst int
}

func (d Deps) mover() domain.Mover {
	if d.Mover != nil {
		return *d.Mover
	}
	return domain.NewMover(nil)
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	previewMW := []echo.MiddlewareFunc{}
	if d.PreviewRate > 0 {
		previewMW = append(previewMW, previewRateLimiter(d.PreviewRate, d.PreviewBurst))
	}

	e.GET(routeBoard, getBoard(d))
	e.POST(routePreview, postPreview(d), previewMW...)
	e.POST(routeMoves, postMove(d))
	e.POST(routeCommit, postCommit(d), middleware.Decompress())
	e.GET(routeBurn, getBurndown(d))
	e.GET(routeTime, getDeveloperTime(d))
	if d.Notifier != nil {
		e.GET(routeStream, streamBoard(d))
	}
	e.GET("/healthz", healthz())
}

func previewRateLimiter(limit rate.Limit, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      limit,
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
				return h, nil
			}
			return c.RealIP(), nil
		},
	})
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

type principal struct {
	userID string
	member domain.Member
	role   domain.Role
}

// authorize resolves the caller's member record and role. The returned status
// is meaningful only when err is non-nil.
func authorize(ctx context.Context, d Deps, header string) (principal, int, error) {
	userID, err := d.Auth.UserIDFromAuthHeader(header)
	if err != nil {
		return principal{}, http.StatusUnauthorized, err
	}
	member, err := d.Store.FetchDeveloper(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return principal{}, http.StatusForbidden, errNotMember
		}
		return principal{}, http.StatusInternalServerError, err
	}
	role, err := domain.ParseRole(member.Role)
	if err != nil {
		return principal{}, http.StatusForbidden, err
	}
	return principal{userID: userID, member: member, role: role}, 0, nil
}

func newBoard(sprintID string, items []domain.WorkItem, role domain.Role) boardResponse {
	return boardResponse{
		SprintID:   sprintID,
		Items:      items,
		Columns:    domain.Columns(items),
		CanReorder: role.CanReorder(),
	}
}

// loadBoard returns the sprint's stories in display order with a placeholder
// in every empty column.
func loadBoard(ctx context.Context, store Storage, sprintID string) ([]domain.WorkItem, error) {
	items, err := store.FetchByParent(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	return domain.SeedPlaceholders(domain.Arrange(items)), nil
}

func decodeBody(c echo.Context, limit int64, dst any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, limit))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func getBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, d.Logger, routeBoard)
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx = spanCtx
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		p, status, authErr := authorize(ctx, d, c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(status, authErr.Error())
		}

		sprintID := c.Param("sprintID")
		fetchStart := time.Now()
		items, fetchErr := loadBoard(ctx, d.Store, sprintID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			return c.String(http.StatusInternalServerError, fetchErr.Error())
		}
		metrics.SetItemsReturned(len(items))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, newBoard(sprintID, items, p.role))
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postPreview(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, status, err := authorize(c.Request().Context(), d, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(status, err.Error())
		}
		if !p.role.CanReorder() {
			return c.String(http.StatusForbidden, errReadOnly.Error())
		}

		var req previewRequest
		if err := decodeBody(c, boardRequestMaxSize, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		items := d.mover().PreviewMove(req.Items, req.ActiveID, req.OverID)
		return c.JSON(http.StatusOK, newBoard(c.Param("sprintID"), items, p.role))
	}
}

func postMove(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, d.Logger, routeMoves)
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx = spanCtx
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		p, status, authErr := authorize(ctx, d, c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(status, authErr.Error())
		}
		if !p.role.CanReorder() {
			metrics.SetErrorStage("role")
			return c.String(http.StatusForbidden, errReadOnly.Error())
		}

		var req moveRequest
		if decErr := decodeBody(c, moveRequestMaxSize, &req); decErr != nil || req.ActiveID == "" || req.OverID == "" {
			metrics.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}

		sprintID := c.Param("sprintID")
		fetchStart := time.Now()
		items, fetchErr := loadBoard(ctx, d.Store, sprintID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			return c.String(http.StatusInternalServerError, fetchErr.Error())
		}

		next, applied := d.mover().Move(items, req.ActiveID, req.OverID)
		metrics.SetMoveApplied(applied)
		metrics.SetItemsReturned(len(next))
		resp := moveResponse{boardResponse: newBoard(sprintID, next, p.role), Applied: applied}
		if !applied {
			return c.JSON(http.StatusOK, resp)
		}

		res, submitErr := submitCommit(ctx, d, p.userID, sprintID, domain.CommitMove(next), req.IdempotencyKey)
		if submitErr != nil {
			metrics.SetErrorStage("enqueue")
			c.Logger().Errorf("enqueue commit failed: %v", submitErr)
			return c.JSON(http.StatusInternalServerError, commitResponse{Error: errEnqueueFailed})
		}
		resp.IdempotencyKey = res.IdempotencyKey
		return c.JSON(http.StatusAccepted, resp)
	}
}

func postCommit(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		p, status, err := authorize(ctx, d, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(status, err.Error())
		}
		if !p.role.CanReorder() {
			return c.String(http.StatusForbidden, errReadOnly.Error())
		}

		var req commitRequest
		if err := decodeBody(c, boardRequestMaxSize, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		for _, it := range req.Items {
			if it.ID == "" {
				return c.String(http.StatusBadRequest, "story without id")
			}
		}

		diff := domain.CommitMove(req.Items)
		res, err := submitCommit(ctx, d, p.userID, c.Param("sprintID"), diff, req.IdempotencyKey)
		if err != nil {
			c.Logger().Errorf("enqueue commit failed: %v", err)
			return c.JSON(http.StatusInternalServerError, commitResponse{Error: errEnqueueFailed})
		}
		return c.JSON(http.StatusAccepted, res)
	}
}

// submitCommit records the idempotency key and hands the diff to the sender,
// queueing inline when the sender buffer is saturated.
func submitCommit(ctx context.Context, d Deps, userID, sprintID string, diff domain.PersistenceDiff, key string) (commitResponse, error) {
	if key == "" {
		key = uuid.NewString()
	}
	res := commitResponse{IdempotencyKey: key, Records: len(diff)}
	job := commitJob{env: domain.CommitEnvelope{
		ID:        key,
		UserID:    userID,
		SprintID:  sprintID,
		Records:   diff,
		Timestamp: nextTimestamp(),
	}}

	if d.Deduper != nil {
		added, err := d.Deduper.Add(ctx, userID, key)
		if err != nil {
			return commitResponse{}, err
		}
		if !added {
			res.Duplicate = true
			return res, nil
		}
		job.deduped = true
	}

	if d.Sender != nil {
		if d.Sender.TryEnqueue(job) {
			return res, nil
		}
		if d.Logger != nil {
			d.Logger.Warn("commit buffer saturated; enqueueing inline")
		}
		if err := d.Sender.send(job); err != nil {
			return commitResponse{}, err
		}
		return res, nil
	}

	if err := d.Store.EnqueueCommit(ctx, job.env); err != nil {
		if job.deduped {
			if rerr := d.Deduper.Remove(context.Background(), userID, key); rerr != nil && d.Logger != nil {
				d.Logger.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, key, userID)
			}
		}
		return commitResponse{}, err
	}
	return res, nil
}

func getBurndown(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		p, status, err := authorize(ctx, d, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(status, err.Error())
		}
		if !p.role.CanViewStatistics() {
			return c.NoContent(http.StatusForbidden)
		}

		sprintID := c.Param("sprintID")
		var (
			sprint domain.Sprint
			items  []domain.WorkItem
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			sprint, err = d.Store.FetchSprint(gctx, sprintID)
			return err
		})
		g.Go(func() (err error) {
			items, err = d.Store.FetchByParent(gctx, sprintID)
			return err
		})
		if err := g.Wait(); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return c.String(http.StatusNotFound, "sprint not found")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, burndownResponse{SprintID: sprintID, Points: domain.Burndown(sprint, items)})
	}
}

func getDeveloperTime(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		p, status, err := authorize(ctx, d, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(status, err.Error())
		}
		if !p.role.CanViewStatistics() {
			return c.NoContent(http.StatusForbidden)
		}

		sprintID := c.Param("sprintID")
		var (
			members []domain.Member
			items   []domain.WorkItem
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			members, err = d.Store.FetchDevelopers(gctx)
			return err
		})
		g.Go(func() (err error) {
			items, err = d.Store.FetchByParent(gctx, sprintID)
			return err
		})
		if err := g.Wait(); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, developerTimeResponse{SprintID: sprintID, Developers: domain.DeveloperTimes(members, items)})
	}
}
