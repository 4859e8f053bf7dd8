// Package notify delivers change events to the places a channel listens on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/mohammad-safakhou/poodle/internal/queue/streams"
	"github.com/mohammad-safakhou/poodle/models"
)

// Sink receives change events for a channel.
type Sink interface {
	Notify(ctx context.Context, channelID string, ev models.ChangeEvent) error
}

// Format renders an event as a chat message: the title line, the summary
// lines and, when present, the footer.
func Format(ev models.ChangeEvent) string {
	var b strings.Builder
	b.WriteString(ev.Title())
	b.WriteByte('\n')
	b.WriteString(ev.Summary)
	if ev.Footer != "" {
		b.WriteString(ev.Footer)
		b.WriteByte('\n')
	}
	return b.String()
}

// LogSink writes every event to a logger.
type LogSink struct {
	logger *log.Logger
}

func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, channelID string, ev models.ChangeEvent) error {
	s.logger.Printf("channel %s: %s", channelID, Format(ev))
	return nil
}

// StreamSink appends events to a Redis stream as course.change envelopes.
type StreamSink struct {
	publisher *streams.Publisher
	stream    string
	maxLen    int64
}

func NewStreamSink(publisher *streams.Publisher, stream string, maxLen int64) *StreamSink {
	return &StreamSink{publisher: publisher, stream: stream, maxLen: maxLen}
}

func (s *StreamSink) Notify(ctx context.Context, channelID string, ev models.ChangeEvent) error {
	ev.ChannelID = channelID
	if _, err := s.publisher.PublishChange(ctx, s.stream, ev, streams.WithMaxLenApprox(s.maxLen)); err != nil {
		return fmt.Errorf("publish change %s: %w", ev.ID, err)
	}
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, channelID string, ev models.ChangeEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, channelID, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
