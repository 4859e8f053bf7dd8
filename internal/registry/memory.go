package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohammad-safakhou/poodle/models"
)

// Memory is an in-process Registry. Nothing survives a restart.
type Memory struct {
	mu       sync.RWMutex
	channels map[string][]models.WatchedResource
}

func NewMemory() *Memory {
	return &Memory{channels: make(map[string][]models.WatchedResource)}
}

func (m *Memory) Add(_ context.Context, r models.WatchedResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.channels[r.ChannelID] {
		if existing.ID == r.ID {
			return models.ErrAlreadyWatching
		}
	}
	if r.WatchedAt.IsZero() {
		r.WatchedAt = time.Now().UTC()
	}
	m.channels[r.ChannelID] = append(m.channels[r.ChannelID], r)
	return nil
}

func (m *Memory) Remove(_ context.Context, channelID string, resourceID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.channels[channelID]
	for i, existing := range list {
		if existing.ID != resourceID {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(m.channels, channelID)
		} else {
			m.channels[channelID] = list
		}
		return nil
	}
	return models.ErrNotWatching
}

func (m *Memory) List(_ context.Context, channelID string) ([]models.WatchedResource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.channels[channelID]
	out := make([]models.WatchedResource, len(list))
	copy(out, list)
	return out, nil
}

func (m *Memory) Channels(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.channels))
	for id := range m.channels {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) UpdateContent(_ context.Context, channelID string, resourceID int64, u ContentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.channels[channelID]
	for i := range list {
		if list[i].ID != resourceID {
			continue
		}
		list[i].CheckedAt = u.CheckedAt
		if u.Changed {
			list[i].Content = u.Content
			list[i].ContentHash = u.ContentHash
			list[i].UpdatedAt = u.CheckedAt
		}
		return nil
	}
	return models.ErrNotWatching
}

var _ Registry = (*Memory)(nil)
