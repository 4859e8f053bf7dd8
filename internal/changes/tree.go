package changes

import (
	"strings"

	"github.com/go-shiori/dom"
	"golang.org/x/net/html"
)

// treeDiff aligns two element trees and collects the element subtrees of the
// new tree that have no counterpart in the old one. Removed and modified
// nodes are not reported; a modified node is descended into so additions
// inside it are still found.
type treeDiff struct {
	rendered map[*html.Node]string
	text     map[*html.Node][]string
	added    []*html.Node
}

func newTreeDiff() *treeDiff {
	return &treeDiff{rendered: make(map[*html.Node]string), text: make(map[*html.Node][]string)}
}

// additions returns the added subtrees of newRoot in document order.
func additions(oldRoot, newRoot *html.Node) []*html.Node {
	d := newTreeDiff()
	d.walk(oldRoot, newRoot)
	return d.added
}

func (d *treeDiff) walk(oldNode, newNode *html.Node) {
	oldChildren := dom.Children(oldNode)
	newChildren := dom.Children(newNode)

	anchors := d.identical(oldChildren, newChildren)
	anchors = append(anchors, match{old: len(oldChildren), new: len(newChildren)})

	oi, ni := 0, 0
	for _, a := range anchors {
		d.pairGap(oldChildren[oi:a.old], newChildren[ni:a.new])
		oi, ni = a.old+1, a.new+1
	}
}

// pairGap handles the children between two identical anchors. Old and new
// children of the same signature are aligned in order so that the pairing
// shares the most visible words; paired children are compared recursively
// and unpaired new children are additions.
func (d *treeDiff) pairGap(oldNodes, newNodes []*html.Node) {
	n, m := len(oldNodes), len(newNodes)
	if n == 0 {
		d.added = append(d.added, newNodes...)
		return
	}
	if m == 0 {
		return
	}

	weights := make([][]int, n)
	for i, o := range oldNodes {
		weights[i] = make([]int, m)
		for j, c := range newNodes {
			weights[i][j] = d.similarity(o, c)
		}
	}

	// best[i][j] is the heaviest alignment of oldNodes[i:] and newNodes[j:].
	best := make([][]int, n+1)
	for i := range best {
		best[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			v := max(best[i+1][j], best[i][j+1])
			if w := weights[i][j]; w > 0 {
				v = max(v, w+best[i+1][j+1])
			}
			best[i][j] = v
		}
	}

	i, j := 0, 0
	for i < n && j < m {
		switch w := weights[i][j]; {
		case w > 0 && best[i][j] == w+best[i+1][j+1]:
			d.walk(oldNodes[i], newNodes[j])
			i++
			j++
		case best[i][j] == best[i+1][j]:
			i++
		default:
			d.added = append(d.added, newNodes[j])
			j++
		}
	}
	d.added = append(d.added, newNodes[j:]...)
}

// similarity is zero for nodes of different signatures. Otherwise it is one
// plus the number of visible words the two nodes share.
func (d *treeDiff) similarity(oldNode, newNode *html.Node) int {
	if signature(oldNode) != signature(newNode) {
		return 0
	}
	counts := make(map[string]int)
	for _, w := range d.words(oldNode) {
		counts[w]++
	}
	score := 1
	for _, w := range d.words(newNode) {
		if counts[w] > 0 {
			counts[w]--
			score++
		}
	}
	return score
}

func (d *treeDiff) words(n *html.Node) []string {
	if w, ok := d.text[n]; ok {
		return w
	}
	w := strings.Fields(dom.TextContent(n))
	d.text[n] = w
	return w
}

type match struct {
	old, new int
}

// identical returns the longest common subsequence of children whose
// serializations are equal, as index pairs in increasing order.
func (d *treeDiff) identical(oldNodes, newNodes []*html.Node) []match {
	n, m := len(oldNodes), len(newNodes)
	if n == 0 || m == 0 {
		return nil
	}
	oldKeys := make([]string, n)
	for i, node := range oldNodes {
		oldKeys[i] = d.render(node)
	}
	newKeys := make([]string, m)
	for j, node := range newNodes {
		newKeys[j] = d.render(node)
	}

	// lengths[i][j] is the LCS length of oldKeys[i:] and newKeys[j:].
	lengths := make([][]int, n+1)
	for i := range lengths {
		lengths[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case oldKeys[i] == newKeys[j]:
				lengths[i][j] = lengths[i+1][j+1] + 1
			case lengths[i+1][j] >= lengths[i][j+1]:
				lengths[i][j] = lengths[i+1][j]
			default:
				lengths[i][j] = lengths[i][j+1]
			}
		}
	}

	var out []match
	for i, j := 0, 0; i < n && j < m; {
		switch {
		case oldKeys[i] == newKeys[j]:
			out = append(out, match{old: i, new: j})
			i++
			j++
		case lengths[i+1][j] >= lengths[i][j+1]:
			i++
		default:
			j++
		}
	}
	return out
}

func (d *treeDiff) render(n *html.Node) string {
	if s, ok := d.rendered[n]; ok {
		return s
	}
	s := dom.OuterHTML(n)
	d.rendered[n] = s
	return s
}

// signature identifies "the same element" across fetches: the tag plus its
// id, or its class list when there is no id.
func signature(n *html.Node) string {
	if id := dom.GetAttribute(n, "id"); id != "" {
		return n.Data + "#" + id
	}
	return n.Data + "." + dom.GetAttribute(n, "class")
}
