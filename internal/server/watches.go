package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/poodle/internal/poller"
	"github.com/mohammad-safakhou/poodle/internal/runtime"
	"github.com/mohammad-safakhou/poodle/models"
)

// WatchService is the subset of *poller.Watcher the API needs.
type WatchService interface {
	Watch(ctx context.Context, channelID string, ids ...int64) ([]poller.Result, error)
	Unwatch(ctx context.Context, channelID string, ids ...int64) ([]poller.Result, error)
	List(ctx context.Context, channelID string) ([]models.WatchedResource, error)
}

type WatchHandler struct {
	Watcher WatchService
}

func (h *WatchHandler) Register(g *echo.Group) {
	read := runtime.RequireScopes(runtime.ScopeWatchesRead)
	write := runtime.RequireScopes(runtime.ScopeWatchesWrite)
	g.GET("", h.list, read)
	g.POST("", h.watch, write)
	g.DELETE("", h.unwatchMany, write)
	g.DELETE("/:id", h.unwatch, write)
}

type watchRequest struct {
	IDs []int64 `json:"ids"`
}

type watchView struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	WatchedAt time.Time  `json:"watched_at"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type resultsResponse struct {
	ChannelID string          `json:"channel_id"`
	Results   []poller.Result `json:"results"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (h *WatchHandler) list(c echo.Context) error {
	channel, err := channelParam(c)
	if err != nil {
		return err
	}
	list, err := h.Watcher.List(c.Request().Context(), channel)
	if err != nil {
		return err
	}
	out := make([]watchView, 0, len(list))
	for _, r := range list {
		out = append(out, watchView{
			ID:        r.ID,
			Name:      r.Name,
			URL:       r.URL,
			WatchedAt: r.WatchedAt,
			CheckedAt: optionalTime(r.CheckedAt),
			UpdatedAt: optionalTime(r.UpdatedAt),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *WatchHandler) watch(c echo.Context) error {
	channel, err := channelParam(c)
	if err != nil {
		return err
	}
	var req watchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := validateIDs(req.IDs); err != nil {
		return err
	}
	results, err := h.Watcher.Watch(c.Request().Context(), channel, req.IDs...)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resultsResponse{ChannelID: channel, Results: results})
}

func (h *WatchHandler) unwatch(c echo.Context) error {
	channel, err := channelParam(c)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resource id")
	}
	return h.respondUnwatch(c, channel, []int64{id})
}

// unwatchMany takes ?ids=1,2,3.
func (h *WatchHandler) unwatchMany(c echo.Context) error {
	channel, err := channelParam(c)
	if err != nil {
		return err
	}
	var ids []int64
	for _, part := range strings.Split(c.QueryParam("ids"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid resource id: "+part)
		}
		ids = append(ids, id)
	}
	if err := validateIDs(ids); err != nil {
		return err
	}
	return h.respondUnwatch(c, channel, ids)
}

func (h *WatchHandler) respondUnwatch(c echo.Context, channel string, ids []int64) error {
	results, err := h.Watcher.Unwatch(c.Request().Context(), channel, ids...)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resultsResponse{ChannelID: channel, Results: results})
}

func channelParam(c echo.Context) (string, error) {
	channel := strings.TrimSpace(c.Param("channel"))
	if channel == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "channel required")
	}
	return channel, nil
}

func validateIDs(ids []int64) error {
	if len(ids) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "ids required")
	}
	for _, id := range ids {
		if id <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "resource ids must be positive")
		}
	}
	return nil
}
