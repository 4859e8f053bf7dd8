package portal

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-shiori/dom"
	"github.com/mohammad-safakhou/poodle/internal/telemetry"
	"golang.org/x/net/html"
)

// ContentContainerID is the id of the element holding a course's content.
const ContentContainerID = "page-content"

// Snapshot is the state of one course page at fetch time.
type Snapshot struct {
	ID      int64
	Name    string
	URL     string
	Content string
}

// Loader fetches course pages through a borrowed session.
type Loader struct {
	cfg     Config
	logger  *log.Logger
	metrics *telemetry.Metrics
}

func NewLoader(cfg Config, logger *log.Logger, metrics *telemetry.Metrics) *Loader {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Loader{cfg: cfg, logger: logger, metrics: metrics}
}

// ResourceURL is the canonical URL of the course with the given id.
func (l *Loader) ResourceURL(id int64) string {
	return l.cfg.CourseURL(id)
}

// Fetch loads the course page and extracts its title and content fragment.
func (l *Loader) Fetch(ctx context.Context, session *Session, id int64) (Snapshot, error) {
	snap, err := l.fetch(ctx, session, id)
	if err != nil {
		l.metrics.Fetch("error")
		return Snapshot{}, err
	}
	l.metrics.Fetch("success")
	return snap, nil
}

func (l *Loader) fetch(ctx context.Context, session *Session, id int64) (Snapshot, error) {
	target := l.ResourceURL(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Snapshot{}, err
	}
	resp, err := session.client.Do(req)
	if err != nil {
		return Snapshot{}, networkError("course fetch", err)
	}
	defer resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Snapshot{}, statusError(ErrNotFound, "course "+formatID(id), resp.StatusCode)
	}
	doc, err := html.Parse(resp.Body)
	if err != nil {
		return Snapshot{}, networkError("course fetch", err)
	}

	name, content := ExtractCourse(doc)
	if name == "" {
		return Snapshot{}, fmt.Errorf("%w: course %d has no title", ErrNotFound, id)
	}
	return Snapshot{ID: id, Name: name, URL: target, Content: content}, nil
}

// ExtractCourse returns the text of the first h1 and the serialized markup of
// the first element whose id is ContentContainerID.
func ExtractCourse(doc *html.Node) (name, content string) {
	if h1 := dom.QuerySelector(doc, "h1"); h1 != nil {
		name = dom.TextContent(h1)
	}
	if container := dom.QuerySelector(doc, "#"+ContentContainerID); container != nil {
		content = dom.OuterHTML(container)
	}
	return name, content
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
