// Package registry keeps the watched course pages of every notification
// channel.
package registry

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/poodle/models"
)

// Registry stores watched resources per channel. Implementations are safe for
// concurrent use and return copies, never shared state.
type Registry interface {
	// Add starts watching r for r.ChannelID; models.ErrAlreadyWatching if it
	// already does.
	Add(ctx context.Context, r models.WatchedResource) error
	// Remove stops watching; models.ErrNotWatching if the channel did not.
	Remove(ctx context.Context, channelID string, resourceID int64) error
	// List returns the channel's resources in the order they were watched.
	List(ctx context.Context, channelID string) ([]models.WatchedResource, error)
	// Channels returns every channel with at least one watched resource.
	Channels(ctx context.Context) ([]string, error)
	// UpdateContent replaces the stored fragment of a still watched resource.
	// models.ErrNotWatching means it was unwatched in the meantime.
	UpdateContent(ctx context.Context, channelID string, resourceID int64, u ContentUpdate) error
}

// ContentUpdate is written back after a poll of one resource.
type ContentUpdate struct {
	Content     string
	ContentHash string
	// Changed is false for a poll that only refreshes CheckedAt.
	Changed   bool
	CheckedAt time.Time
}
