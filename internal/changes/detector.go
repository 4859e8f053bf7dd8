// Package changes turns two fetches of a course fragment into a short list of
// new uploads.
package changes

import (
	"fmt"
	"io"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/go-shiori/dom"
	"github.com/mohammad-safakhou/poodle/internal/helpers"
	"golang.org/x/net/html"
)

const (
	nameSelector = `span[class="instancename"]`
	// The portal renders the hidden type label with a trailing space in its
	// class attribute; the match is exact.
	typeSelector = `span[class="accesshide "]`

	previewRunes = 200
)

// Addition is one node present in the new fragment but not in the old one.
type Addition struct {
	Markup string
	// Type is the type label without its leading separator, e.g. "Datei".
	Type string
	// Name is the display name with the type label cut off its end.
	Name string
	// Classified is set when both labels were recovered.
	Classified bool
}

// Line renders the addition the way notifications show it.
func (a Addition) Line() string {
	return fmt.Sprintf("New \"%s\" uploaded: \"%s\"", a.Type, a.Name)
}

// Summary holds the classified additions of one diff, in tree diff order.
type Summary struct {
	Lines        []string
	Additions    []Addition
	Unclassified []Addition
}

// String joins the lines, each terminated by a newline.
func (s Summary) String() string {
	var b strings.Builder
	for _, line := range s.Lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Detector compares course fragments.
type Detector struct {
	logger *log.Logger
}

func NewDetector(logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Detector{logger: logger}
}

// Diff reports the new uploads in newFragment. ok is false when the fragments
// are identical or when no addition could be classified.
func (d *Detector) Diff(oldFragment, newFragment string) (Summary, bool) {
	if oldFragment == newFragment {
		return Summary{}, false
	}
	oldDoc, err := html.Parse(strings.NewReader(oldFragment))
	if err != nil {
		d.logger.Printf("parse previous fragment: %v", err)
		return Summary{}, false
	}
	newDoc, err := html.Parse(strings.NewReader(newFragment))
	if err != nil {
		d.logger.Printf("parse current fragment: %v", err)
		return Summary{}, false
	}

	var summary Summary
	for _, node := range additions(oldDoc, newDoc) {
		add := Classify(dom.OuterHTML(node))
		if !add.Classified {
			d.logger.Printf("unrecognised change: %s\n%s\n-----", helpers.TextPreview(add.Markup, previewRunes), add.Markup)
			summary.Unclassified = append(summary.Unclassified, add)
			continue
		}
		summary.Additions = append(summary.Additions, add)
		summary.Lines = append(summary.Lines, add.Line())
	}
	return summary, len(summary.Lines) > 0
}

// Classify re-parses markup and extracts the type and name labels. When a
// label is missing, or the type label is longer than the name label, the
// returned Addition only carries the markup.
func Classify(markup string) Addition {
	add := Addition{Markup: markup}
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return add
	}
	name := lastText(doc, nameSelector)
	kind := lastText(doc, typeSelector)
	if name == "" || kind == "" || len(kind) > len(name) {
		return add
	}
	// The rendered name ends with the type label; cut exactly its byte length.
	add.Name = name[:len(name)-len(kind)]
	_, lead := utf8.DecodeRuneInString(kind)
	add.Type = kind[lead:]
	add.Classified = true
	return add
}

// lastText returns the text content of the last element matching selector,
// or "" when none does.
func lastText(doc *html.Node, selector string) string {
	nodes := dom.QuerySelectorAll(doc, selector)
	if len(nodes) == 0 {
		return ""
	}
	return dom.TextContent(nodes[len(nodes)-1])
}
