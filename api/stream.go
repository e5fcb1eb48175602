package api

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"sprint-board/domain"
)

// commitFailedEvent names the server-sent event announcing a commit that was
// not persisted. The board snapshot that follows it is the stored one.
const commitFailedEvent = "commit-failed"

// streamBoard pushes the sprint board as server-sent events: once on connect
// and again after every committed change. Commits that could not be persisted
// are announced with a commitFailedEvent before the board is resent.
func streamBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		ctx := c.Request().Context()
		p, status, err := authorize(ctx, d, authHeader)
		if err != nil {
			return c.String(status, err.Error())
		}

		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		sprintID := c.Param("sprintID")
		updates, unsubscribe := d.Notifier.Subscribe(sprintID)
		defer unsubscribe()
		for {
			items, err := loadBoard(ctx, d.Store, sprintID)
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			data, err := sonic.Marshal(newBoard(sprintID, items, p.role))
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if err := writeEvent(c.Response(), data); err != nil {
				c.Logger().Error(err)
				return err
			}
			flusher.Flush()
			var pending []domain.BoardUpdate
			select {
			case <-ctx.Done():
				return nil
			case upd, ok := <-updates:
				if !ok {
					return nil
				}
				pending = append(pending, upd)
			}
			pending = drain(updates, pending)
			for _, upd := range pending {
				if !upd.Failed {
					continue
				}
				data, err := sonic.Marshal(upd)
				if err != nil {
					c.Logger().Error(err)
					return err
				}
				if err := writeNamedEvent(c.Response(), commitFailedEvent, data); err != nil {
					c.Logger().Error(err)
					return err
				}
			}
		}
	}
}

// drain collects the updates already waiting so a burst causes one reload.
func drain(updates <-chan domain.BoardUpdate, pending []domain.BoardUpdate) []domain.BoardUpdate {
	for {
		select {
		case upd, ok := <-updates:
			if !ok {
				return pending
			}
			pending = append(pending, upd)
		default:
			return pending
		}
	}
}

func writeNamedEvent(w http.ResponseWriter, name string, data []byte) error {
	if _, err := w.Write([]byte("event: " + name + "\n")); err != nil {
		return err
	}
	return writeEvent(w, data)
}

func writeEvent(w http.ResponseWriter, data []byte) error {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
