package poller

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/poodle/internal/portal"
	"github.com/mohammad-safakhou/poodle/internal/registry"
	"github.com/mohammad-safakhou/poodle/models"
)

type fakeSessions struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSessions) EnsureActive(context.Context) (*portal.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &portal.Session{}, nil
}

// fakeLoader serves the current page of each course; pages can be swapped
// between sweeps.
type fakeLoader struct {
	mu      sync.Mutex
	pages   map[int64]portal.Snapshot
	errs    map[int64]error
	fetched []int64
	onFetch func(id int64)
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{pages: map[int64]portal.Snapshot{}, errs: map[int64]error{}}
}

func (f *fakeLoader) set(id int64, name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[id] = portal.Snapshot{ID: id, Name: name, URL: "https://portal.example/course/view.php?id=" + formatID(id), Content: content}
}

func (f *fakeLoader) Fetch(_ context.Context, _ *portal.Session, id int64) (portal.Snapshot, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, id)
	hook := f.onFetch
	snap, ok := f.pages[id]
	err := f.errs[id]
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if err != nil {
		return portal.Snapshot{}, err
	}
	if !ok {
		return portal.Snapshot{}, portal.ErrNotFound
	}
	return snap, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (r *recordingSink) Notify(_ context.Context, channelID string, ev models.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ChannelID = channelID
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) all() []models.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChangeEvent(nil), r.events...)
}

func readChangesFixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile("../changes/testdata/" + name)
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return string(b)
}

type harness struct {
	sessions *fakeSessions
	loader   *fakeLoader
	registry *registry.Memory
	sink     *recordingSink
	watcher  *Watcher
	poller   *Poller
	logs     *bytes.Buffer
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		sessions: &fakeSessions{},
		loader:   newFakeLoader(),
		registry: registry.NewMemory(),
		sink:     &recordingSink{},
		logs:     &bytes.Buffer{},
	}
	logger := log.New(h.logs, "", 0)
	opts.Logger = logger
	p, err := New(h.sessions, h.loader, nil, h.registry, h.sink, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.poller = p
	h.watcher = NewWatcher(h.sessions, h.loader, h.registry, logger)
	return h
}

func TestWatchThenSweepEmitsChangeOnlyForNewUploads(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{Footer: func() string { return "Stay curious!" }})
	origin := readChangesFixture(t, "origin.html")
	h.loader.set(42, "Analysis 1", origin)

	results, err := h.watcher.Watch(ctx, "chan-1", 42)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != OutcomeWatched || results[0].Name != "Analysis 1" {
		t.Fatalf("unexpected watch results: %+v", results)
	}

	for i := 0; i < 2; i++ {
		stats, err := h.poller.Sweep(ctx)
		if err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
		if stats.Checked != 1 || stats.Changed != 0 {
			t.Fatalf("sweep %d stats: %+v", i, stats)
		}
	}
	if got := h.sink.all(); len(got) != 0 {
		t.Fatalf("unchanged page produced events: %+v", got)
	}

	target := readChangesFixture(t, "target.html")
	h.loader.set(42, "Analysis 1", target)
	stats, err := h.poller.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Changed != 1 {
		t.Fatalf("expected one change, got %+v", stats)
	}

	events := h.sink.all()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ev := events[0]
	want := "New \"Datei\" uploaded: \"NEW CONTENT!\"\nNew \"Textseite\" uploaded: \"MORE CONTENT!\"\n"
	if ev.Summary != want {
		t.Fatalf("summary = %q, want %q", ev.Summary, want)
	}
	if ev.ChannelID != "chan-1" || ev.ResourceID != 42 || ev.ResourceName != "Analysis 1" || ev.ID == "" || ev.Footer != "Stay curious!" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	list, _ := h.registry.List(ctx, "chan-1")
	if list[0].Content != target {
		t.Fatalf("stored content not replaced after the change")
	}

	// The stored content is now the target; the next sweep is quiet again.
	if _, err := h.poller.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(h.sink.all()) != 1 {
		t.Fatalf("change reported twice")
	}
}

func TestSweepSingleUploadSummary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.loader.set(42, "Analysis 1", readChangesFixture(t, "origin.html"))
	if _, err := h.watcher.Watch(ctx, "chan-1", 42); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	h.loader.set(42, "Analysis 1", readChangesFixture(t, "target_single.html"))
	stats, err := h.poller.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Checked != 1 || stats.Changed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	events := h.sink.all()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if want := "New \"Datei\" uploaded: \"NEW CONTENT!\"\n"; events[0].Summary != want {
		t.Fatalf("summary = %q, want %q", events[0].Summary, want)
	}
}

func TestWatchCompletesWhileSweepFetches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.loader.set(42, "Analysis 1", readChangesFixture(t, "origin.html"))
	h.loader.set(7, "Lineare Algebra", `<div id="page-content"></div>`)
	if _, err := h.watcher.Watch(ctx, "chan-1", 42); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.loader.mu.Lock()
	h.loader.onFetch = func(id int64) {
		if id != 42 {
			return
		}
		once.Do(func() { close(entered) })
		<-release
	}
	h.loader.mu.Unlock()

	swept := make(chan error, 1)
	go func() {
		_, err := h.poller.Sweep(ctx)
		swept <- err
	}()
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("sweep never reached the fetch")
	}

	watched := make(chan []Result, 1)
	go func() {
		results, err := h.watcher.Watch(ctx, "chan-1", 7)
		if err != nil {
			t.Errorf("Watch during sweep: %v", err)
		}
		watched <- results
	}()
	select {
	case results := <-watched:
		if len(results) != 1 || results[0].Outcome != OutcomeWatched {
			t.Fatalf("unexpected watch results: %+v", results)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch blocked while a sweep was fetching")
	}
	if list, err := h.registry.List(ctx, "chan-1"); err != nil || len(list) != 2 {
		t.Fatalf("list during sweep: %d entries, err %v", len(list), err)
	}

	close(release)
	select {
	case err := <-swept:
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("sweep did not finish after the fetch was released")
	}
}

func TestSweepStoresUnclassifiedChangesWithoutEvent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	old := `<div id="page-content"><ul><li id="a">A</li></ul></div>`
	cur := `<div id="page-content"><ul><li id="a">A</li><li id="b">Room change</li></ul></div>`
	h.loader.set(7, "Linear Algebra", old)
	if _, err := h.watcher.Watch(ctx, "chan-1", 7); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	h.loader.set(7, "Linear Algebra", cur)

	if _, err := h.poller.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(h.sink.all()) != 0 {
		t.Fatalf("unclassified change must not be reported")
	}
	list, _ := h.registry.List(ctx, "chan-1")
	if list[0].Content != cur {
		t.Fatalf("diffed content should replace the stored fragment")
	}
	if !strings.Contains(h.logs.String(), "unrecognised change in course 7") {
		t.Fatalf("expected diagnostic log, got %q", h.logs.String())
	}
}

func TestSweepFetchErrorLeavesContentUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.loader.set(1, "One", "<div>one</div>")
	h.loader.set(2, "Two", "<div>two</div>")
	if _, err := h.watcher.Watch(ctx, "chan-1", 1, 2); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	h.loader.mu.Lock()
	h.loader.errs[1] = portal.ErrNetwork
	h.loader.mu.Unlock()
	h.loader.set(2, "Two", "<div>two, edited</div>")

	stats, err := h.poller.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Failed != 1 || stats.Checked != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	list, _ := h.registry.List(ctx, "chan-1")
	if list[0].Content != "<div>one</div>" {
		t.Fatalf("failed fetch must not touch content: %q", list[0].Content)
	}
	if list[1].Content != "<div>two, edited</div>" {
		t.Fatalf("the second resource must still be processed")
	}
}

func TestSweepStopsOnLoginFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	for _, id := range []int64{1, 2, 3} {
		_ = h.registry.Add(ctx, models.WatchedResource{ChannelID: "chan-1", ID: id, Content: "<div/>"})
	}
	h.sessions.err = portal.ErrLoginFailed

	_, err := h.poller.Sweep(ctx)
	if !errors.Is(err, portal.ErrLoginFailed) {
		t.Fatalf("expected ErrLoginFailed, got %v", err)
	}
	if h.sessions.calls != 1 {
		t.Fatalf("expected the sweep to stop after the first failed login, got %d calls", h.sessions.calls)
	}
	if len(h.loader.fetched) != 0 {
		t.Fatalf("no page should be fetched without a session")
	}
}

func TestSweepSkipsResourceUnwatchedMidSweep(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	_ = h.registry.Add(ctx, models.WatchedResource{ChannelID: "chan-1", ID: 5, Name: "Five", Content: `<div id="page-content"><ul></ul></div>`})
	h.loader.set(5, "Five", `<div id="page-content"><ul><li><span class="instancename">Notes<span class="accesshide "> Datei</span></span></li></ul></div>`)
	h.loader.onFetch = func(id int64) {
		_ = h.registry.Remove(ctx, "chan-1", id)
	}

	if _, err := h.poller.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(h.sink.all()) != 0 {
		t.Fatalf("no event for a resource that was unwatched during the sweep")
	}
	if list, _ := h.registry.List(ctx, "chan-1"); len(list) != 0 {
		t.Fatalf("resource must not be re-added: %+v", list)
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	h := newHarness(t, Options{Interval: 10 * time.Millisecond})
	_ = h.registry.Add(context.Background(), models.WatchedResource{ChannelID: "c", ID: 1, Content: "<div/>"})
	h.loader.set(1, "One", "<div/>")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := h.poller.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	h.loader.mu.Lock()
	fetches := len(h.loader.fetched)
	h.loader.mu.Unlock()
	if fetches < 2 {
		t.Fatalf("expected repeated sweeps, got %d fetches", fetches)
	}
}

type fakeLock struct {
	held     bool
	acquired int
	released int
	ttl      time.Duration
}

func (l *fakeLock) Acquire(_ context.Context, ttl time.Duration) (func(), bool, error) {
	l.ttl = ttl
	if l.held {
		return nil, false, nil
	}
	l.acquired++
	return func() { l.released++ }, true, nil
}

func TestRunOnceRespectsSweepLock(t *testing.T) {
	lock := &fakeLock{held: true}
	h := newHarness(t, Options{Interval: 10 * time.Millisecond, Lock: lock})
	_ = h.registry.Add(context.Background(), models.WatchedResource{ChannelID: "c", ID: 1, Content: "<div/>"})
	h.loader.set(1, "One", "<div/>")

	h.poller.runOnce(context.Background())
	if len(h.loader.fetched) != 0 {
		t.Fatalf("expected no fetch while the lock is held elsewhere")
	}
	if !strings.Contains(h.logs.String(), "sweep lock held elsewhere") {
		t.Fatalf("expected skip to be logged, got %q", h.logs.String())
	}
	if lock.ttl != time.Minute {
		t.Fatalf("lock ttl = %v, want the one minute floor", lock.ttl)
	}

	lock.held = false
	h.poller.runOnce(context.Background())
	if len(h.loader.fetched) != 1 || lock.acquired != 1 || lock.released != 1 {
		t.Fatalf("fetched=%d acquired=%d released=%d", len(h.loader.fetched), lock.acquired, lock.released)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New(&fakeSessions{}, newFakeLoader(), nil, registry.NewMemory(), &recordingSink{}, Options{Schedule: "every tuesday"}); err == nil {
		t.Fatalf("expected schedule parse error")
	}
}

func TestNextDelay(t *testing.T) {
	p, err := New(&fakeSessions{}, newFakeLoader(), nil, registry.NewMemory(), &recordingSink{}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d := p.nextDelay(time.Now()); d != DefaultInterval {
		t.Fatalf("default delay = %s", d)
	}

	p, err = New(&fakeSessions{}, newFakeLoader(), nil, registry.NewMemory(), &recordingSink{}, Options{Schedule: "*/5 * * * *"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2024, 5, 1, 10, 2, 0, 0, time.UTC)
	if d := p.nextDelay(now); d != 3*time.Minute {
		t.Fatalf("cron delay = %s, want 3m", d)
	}
}
