package poller

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/mohammad-safakhou/poodle/internal/helpers"
	"github.com/mohammad-safakhou/poodle/internal/registry"
	"github.com/mohammad-safakhou/poodle/models"
)

// Outcome is the per-id result of a watch or unwatch request.
type Outcome string

const (
	OutcomeWatched         Outcome = "watched"
	OutcomeAlreadyWatching Outcome = "already_watching"
	OutcomeUnwatched       Outcome = "unwatched"
	OutcomeNotWatching     Outcome = "not_watching"
	OutcomeFailed          Outcome = "failed"
)

type Result struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name,omitempty"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// Watcher adds and removes watched resources on behalf of a channel. A
// resource is only stored after a successful first fetch.
type Watcher struct {
	sessions SessionProvider
	loader   PageLoader
	registry registry.Registry
	logger   *log.Logger
}

func NewWatcher(sessions SessionProvider, loader PageLoader, reg registry.Registry, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Watcher{sessions: sessions, loader: loader, registry: reg, logger: logger}
}

// Watch fetches every id and starts watching it in channelID.
func (w *Watcher) Watch(ctx context.Context, channelID string, ids ...int64) ([]Result, error) {
	current, err := w.index(ctx, channelID)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		if res, ok := current[id]; ok {
			out = append(out, Result{ID: id, Name: res.Name, Outcome: OutcomeAlreadyWatching})
			continue
		}
		out = append(out, w.watch(ctx, channelID, id))
	}
	return out, nil
}

func (w *Watcher) watch(ctx context.Context, channelID string, id int64) Result {
	failed := func(err error) Result {
		w.logger.Printf("watch course %d for channel %s: %v", id, channelID, err)
		return Result{ID: id, Outcome: OutcomeFailed, Error: err.Error()}
	}
	session, err := w.sessions.EnsureActive(ctx)
	if err != nil {
		return failed(err)
	}
	snap, err := w.loader.Fetch(ctx, session, id)
	if err != nil {
		return failed(err)
	}
	err = w.registry.Add(ctx, models.WatchedResource{
		ChannelID:   channelID,
		ID:          id,
		Name:        snap.Name,
		URL:         snap.URL,
		Content:     snap.Content,
		ContentHash: helpers.Fingerprint(snap.Content),
		WatchedAt:   time.Now().UTC(),
	})
	switch {
	case errors.Is(err, models.ErrAlreadyWatching):
		return Result{ID: id, Name: snap.Name, Outcome: OutcomeAlreadyWatching}
	case err != nil:
		return failed(err)
	}
	w.logger.Printf("channel %s now watches course %d (%s)", channelID, id, snap.Name)
	return Result{ID: id, Name: snap.Name, Outcome: OutcomeWatched}
}

// Unwatch stops watching every id in channelID.
func (w *Watcher) Unwatch(ctx context.Context, channelID string, ids ...int64) ([]Result, error) {
	current, err := w.index(ctx, channelID)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		name := current[id].Name
		err := w.registry.Remove(ctx, channelID, id)
		switch {
		case errors.Is(err, models.ErrNotWatching):
			out = append(out, Result{ID: id, Outcome: OutcomeNotWatching})
		case err != nil:
			out = append(out, Result{ID: id, Name: name, Outcome: OutcomeFailed, Error: err.Error()})
		default:
			out = append(out, Result{ID: id, Name: name, Outcome: OutcomeUnwatched})
		}
	}
	return out, nil
}

// List returns the channel's watched resources in watch order.
func (w *Watcher) List(ctx context.Context, channelID string) ([]models.WatchedResource, error) {
	return w.registry.List(ctx, channelID)
}

func (w *Watcher) index(ctx context.Context, channelID string) (map[int64]models.WatchedResource, error) {
	list, err := w.registry.List(ctx, channelID)
	if err != nil {
		return nil, err
	}
	idx := make(map[int64]models.WatchedResource, len(list))
	for _, r := range list {
		idx[r.ID] = r
	}
	return idx, nil
}
