package models

import (
	"errors"
	"strconv"
	"time"
)

// ErrAlreadyWatching is returned when a channel already watches a resource
var ErrAlreadyWatching = errors.New("already watching")

// ErrNotWatching is returned when a channel does not watch a resource
var ErrNotWatching = errors.New("not watching")

// WatchedResource is a course page a channel subscribed to, together with the
// content fragment of its last successful diff.
type WatchedResource struct {
	ChannelID   string    `json:"channel_id"`
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	WatchedAt   time.Time `json:"watched_at"`
	CheckedAt   time.Time `json:"checked_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Key identifies the resource inside its channel.
func (r WatchedResource) Key() string {
	return strconv.FormatInt(r.ID, 10)
}

// ChangeEvent is raised once per resource and sweep when new uploads appear.
type ChangeEvent struct {
	ID           string    `json:"id"`
	ChannelID    string    `json:"channel_id"`
	ResourceID   int64     `json:"resource_id"`
	ResourceName string    `json:"resource_name"`
	ResourceURL  string    `json:"resource_url"`
	Summary      string    `json:"summary"`
	Lines        []string  `json:"lines"`
	Footer       string    `json:"footer,omitempty"`
	DetectedAt   time.Time `json:"detected_at"`
}

// Title is the headline used by sinks that render events for humans.
func (e ChangeEvent) Title() string {
	return "Update in course " + e.ResourceName
}
