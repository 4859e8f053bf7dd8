// Package poller sweeps watched course pages and turns new uploads into
// change events.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/poodle/internal/changes"
	"github.com/mohammad-safakhou/poodle/internal/helpers"
	"github.com/mohammad-safakhou/poodle/internal/notify"
	"github.com/mohammad-safakhou/poodle/internal/portal"
	"github.com/mohammad-safakhou/poodle/internal/registry"
	"github.com/mohammad-safakhou/poodle/internal/telemetry"
	"github.com/mohammad-safakhou/poodle/models"
)

// DefaultInterval is the pause between two sweeps.
const DefaultInterval = 300 * time.Second

const minLockTTL = time.Minute

// SessionProvider lends a logged-in portal session.
type SessionProvider interface {
	EnsureActive(ctx context.Context) (*portal.Session, error)
}

// PageLoader fetches one course page.
type PageLoader interface {
	Fetch(ctx context.Context, session *portal.Session, id int64) (portal.Snapshot, error)
}

// SweepLock serialises sweeps across processes sharing one registry.
type SweepLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

// Options configures a Poller. A non-empty Schedule (cron syntax) replaces
// the fixed Interval.
type Options struct {
	Interval time.Duration
	Schedule string
	// Footer, when set, supplies the footer line of every event.
	Footer  func() string
	Logger  *log.Logger
	Metrics *telemetry.Metrics
	// Lock, when set, is held for the duration of every sweep.
	Lock SweepLock
}

// Poller runs the single poll loop.
type Poller struct {
	sessions SessionProvider
	loader   PageLoader
	detector *changes.Detector
	registry registry.Registry
	sink     notify.Sink

	interval time.Duration
	schedule *cronexpr.Expression
	footer   func() string
	logger   *log.Logger
	metrics  *telemetry.Metrics
	lock     SweepLock
	now      func() time.Time
}

func New(sessions SessionProvider, loader PageLoader, detector *changes.Detector, reg registry.Registry, sink notify.Sink, opts Options) (*Poller, error) {
	p := &Poller{
		sessions: sessions,
		loader:   loader,
		detector: detector,
		registry: reg,
		sink:     sink,
		interval: opts.Interval,
		footer:   opts.Footer,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		lock:     opts.Lock,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if opts.Schedule != "" {
		expr, err := cronexpr.Parse(opts.Schedule)
		if err != nil {
			return nil, fmt.Errorf("parse schedule %q: %w", opts.Schedule, err)
		}
		p.schedule = expr
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard, "", 0)
	}
	if p.detector == nil {
		p.detector = changes.NewDetector(p.logger)
	}
	return p, nil
}

// Run sweeps immediately, then once per interval (or schedule tick) until
// ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	for {
		p.runOnce(ctx)

		timer := time.NewTimer(p.nextDelay(time.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runOnce sweeps unless another process holds the sweep lock.
func (p *Poller) runOnce(ctx context.Context) {
	if p.lock != nil {
		release, ok, err := p.lock.Acquire(ctx, p.lockTTL())
		if err != nil {
			p.logger.Printf("acquire sweep lock: %v", err)
			return
		}
		if !ok {
			p.logger.Printf("sweep lock held elsewhere, skipping")
			return
		}
		defer release()
	}
	if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
		p.logger.Printf("sweep: %v", err)
	}
}

func (p *Poller) lockTTL() time.Duration {
	if p.interval < minLockTTL {
		return minLockTTL
	}
	return p.interval
}

func (p *Poller) nextDelay(now time.Time) time.Duration {
	if p.schedule != nil {
		if next := p.schedule.Next(now); !next.IsZero() {
			return next.Sub(now)
		}
	}
	return p.interval
}

// Stats counts what one sweep did.
type Stats struct {
	Checked int
	Changed int
	Failed  int
}

// Sweep polls every watched resource once. Per-resource failures are logged
// and counted; a login that fails after all attempts ends the sweep early
// and is returned.
func (p *Poller) Sweep(ctx context.Context) (Stats, error) {
	var stats Stats
	start := time.Now()
	watched := 0
	defer func() { p.metrics.Sweep(time.Since(start), watched) }()

	channels, err := p.registry.Channels(ctx)
	if err != nil {
		return stats, fmt.Errorf("list channels: %w", err)
	}
	for _, channelID := range channels {
		// Snapshot the channel; no registry lock is held while fetching.
		resources, err := p.registry.List(ctx, channelID)
		if err != nil {
			p.logger.Printf("list channel %s: %v", channelID, err)
			continue
		}
		watched += len(resources)
		for _, res := range resources {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			session, err := p.sessions.EnsureActive(ctx)
			if err != nil {
				if errors.Is(err, portal.ErrLoginFailed) {
					p.logger.Printf("login failed, skipping the rest of this sweep: %v", err)
					return stats, err
				}
				p.logger.Printf("session for course %d: %v", res.ID, err)
				stats.Failed++
				continue
			}
			snap, err := p.loader.Fetch(ctx, session, res.ID)
			if err != nil {
				p.logger.Printf("fetch course %d: %v", res.ID, err)
				stats.Failed++
				continue
			}
			stats.Checked++
			if p.check(ctx, channelID, res, snap) {
				stats.Changed++
			}
		}
	}
	return stats, nil
}

// check compares a fresh snapshot with the stored resource, writes the new
// content back and emits an event for classified additions.
func (p *Poller) check(ctx context.Context, channelID string, res models.WatchedResource, snap portal.Snapshot) bool {
	now := p.now()
	if snap.Content == res.Content {
		if err := p.registry.UpdateContent(ctx, channelID, res.ID, registry.ContentUpdate{CheckedAt: now}); err != nil && !errors.Is(err, models.ErrNotWatching) {
			p.logger.Printf("mark course %d checked: %v", res.ID, err)
		}
		return false
	}

	summary, ok := p.detector.Diff(res.Content, snap.Content)
	err := p.registry.UpdateContent(ctx, channelID, res.ID, registry.ContentUpdate{
		Content:     snap.Content,
		ContentHash: helpers.Fingerprint(snap.Content),
		Changed:     true,
		CheckedAt:   now,
	})
	if errors.Is(err, models.ErrNotWatching) {
		p.logger.Printf("course %d was unwatched in channel %s during the sweep", res.ID, channelID)
		return false
	}
	if err != nil {
		p.logger.Printf("store course %d: %v", res.ID, err)
		return false
	}
	if !ok {
		p.logger.Printf("unrecognised change in course %d", res.ID)
		return false
	}

	ev := models.ChangeEvent{
		ID:           uuid.NewString(),
		ChannelID:    channelID,
		ResourceID:   res.ID,
		ResourceName: res.Name,
		ResourceURL:  res.URL,
		Summary:      summary.String(),
		Lines:        summary.Lines,
		DetectedAt:   now,
	}
	if p.footer != nil {
		ev.Footer = p.footer()
	}
	p.metrics.Change()
	p.logger.Printf("course %d changed: %d new uploads", res.ID, len(summary.Lines))
	if err := p.sink.Notify(ctx, channelID, ev); err != nil {
		p.logger.Printf("notify channel %s about course %d: %v", channelID, res.ID, err)
	}
	return true
}
