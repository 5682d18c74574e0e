package screen

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"droid-pilot/internal/config"
)

const (
	// UnavailableListing is emitted when there is no tree to read at all.
	UnavailableListing = "(screen content unavailable)"
	// EmptyListing is emitted when the tree was read but nothing is interactive.
	EmptyListing = "(no interactive elements found)"

	unlabeled = "unlabeled"
)

var ErrReleased = errors.New("screen snapshot already released")

// Element is one interactive node registered in a snapshot.
type Element struct {
	ID            int             `json:"id"`
	Label         string          `json:"label"`
	Bounds        image.Rectangle `json:"bounds"`
	Clickable     bool            `json:"clickable"`
	Editable      bool            `json:"editable"`
	LongClickable bool            `json:"longClickable"`

	node *Node
}

// Node returns the tree node backing the element.
func (e Element) Node() *Node { return e.node }

// Snapshot is the arena for one observe/act cycle. It owns the element side
// table for a single tree dump; element ids are only meaningful against the
// snapshot that issued them.
type Snapshot struct {
	Available bool
	Listing   string
	Truncated bool
	Root      *Node

	elements []Element
	released bool
}

// Lookup resolves an element id issued by this snapshot.
func (s *Snapshot) Lookup(id int) (Element, error) {
	if s == nil || s.released {
		return Element{}, ErrReleased
	}
	if id < 1 || id > len(s.elements) {
		return Element{}, fmt.Errorf("element %d not in current screen (have %d)", id, len(s.elements))
	}
	return s.elements[id-1], nil
}

// Elements returns a copy of the side table.
func (s *Snapshot) Elements() []Element {
	if s == nil || s.released {
		return nil
	}
	out := make([]Element, len(s.elements))
	copy(out, s.elements)
	return out
}

// Len is the number of registered elements, including ones left out of the
// listing by the character budget.
func (s *Snapshot) Len() int {
	if s == nil || s.released {
		return 0
	}
	return len(s.elements)
}

// Release drops every node reference held by the snapshot.
func (s *Snapshot) Release() {
	if s == nil || s.released {
		return
	}
	for i := range s.elements {
		s.elements[i].node = nil
	}
	s.elements = nil
	s.Root = nil
	s.released = true
}

// Released reports whether Release has been called.
func (s *Snapshot) Released() bool { return s == nil || s.released }

// Extractor turns a UI tree into a numbered listing of interactive elements.
type Extractor struct {
	maxDepth   int
	minSize    int
	charBudget int
	labelLimit int
	logger     *zap.Logger

	current *Snapshot
}

func NewExtractor(cfg config.ExtractorConfig, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{
		maxDepth:   cfg.MaxDepth,
		minSize:    cfg.MinSize,
		charBudget: cfg.CharBudget,
		labelLimit: cfg.LabelLimit,
		logger:     logger.Named("extractor"),
	}
	if e.maxDepth <= 0 {
		e.maxDepth = 12
	}
	if e.charBudget <= 0 {
		e.charBudget = 3000
	}
	if e.labelLimit <= 0 {
		e.labelLimit = 30
	}
	return e
}

// MaxDepth is the traversal depth cap, shared with live-tree searches.
func (e *Extractor) MaxDepth() int { return e.maxDepth }

// Extract builds a new snapshot from root. The previous snapshot returned by
// this extractor is released first.
func (e *Extractor) Extract(root *Node) *Snapshot {
	if e.current != nil {
		e.current.Release()
		e.current = nil
	}

	snap := &Snapshot{Root: root}
	e.current = snap
	if root == nil {
		snap.Listing = UnavailableListing
		return snap
	}
	snap.Available = true

	var (
		b       strings.Builder
		hidden  int
		visited int
	)
	Walk(root, e.maxDepth, func(n *Node, _ int) bool {
		visited++
		if !e.include(n) {
			return true
		}
		el := Element{
			ID:            len(snap.elements) + 1,
			Label:         e.label(n),
			Bounds:        n.Bounds,
			Clickable:     n.Clickable,
			Editable:      n.Editable,
			LongClickable: n.LongClickable,
			node:          n,
		}
		snap.elements = append(snap.elements, el)

		line := formatElement(el, n)
		if snap.Truncated || b.Len()+len(line) > e.charBudget {
			snap.Truncated = true
			hidden++
			return true
		}
		b.WriteString(line)
		return true
	})

	switch {
	case len(snap.elements) == 0:
		snap.Listing = EmptyListing
	case hidden > 0:
		fmt.Fprintf(&b, "… %d more elements not shown\n", hidden)
		snap.Listing = b.String()
	default:
		snap.Listing = b.String()
	}

	e.logger.Debug("Extracted screen state",
		zap.Int("visited", visited),
		zap.Int("elements", len(snap.elements)),
		zap.Int("hidden", hidden))
	return snap
}

func (e *Extractor) include(n *Node) bool {
	if !n.Interactive() {
		return false
	}
	if n.Bounds.Dx() <= e.minSize || n.Bounds.Dy() <= e.minSize {
		return false
	}
	return n.Bounds.Min.Y >= 0
}

func (e *Extractor) label(n *Node) string {
	label := strings.TrimSpace(n.Text)
	if label == "" {
		label = strings.TrimSpace(n.Description)
	}
	if label == "" {
		return unlabeled
	}
	label = strings.Join(strings.Fields(label), " ")
	if utf8.RuneCountInString(label) > e.labelLimit {
		runes := []rune(label)
		label = string(runes[:e.labelLimit]) + "…"
	}
	return label
}

func formatElement(el Element, n *Node) string {
	var flags []string
	if el.Clickable {
		flags = append(flags, "tap")
	}
	if el.LongClickable {
		flags = append(flags, "long")
	}
	if el.Editable {
		flags = append(flags, "edit")
	}
	if n.Focused {
		flags = append(flags, "focused")
	}
	kind := shortClass(n.Class)
	if kind != "" {
		kind = " " + kind
	}
	r := el.Bounds
	return fmt.Sprintf("[%d]%s %q [%d,%d][%d,%d] %s\n",
		el.ID, kind, el.Label, r.Min.X, r.Min.Y, r.Max.X, r.Max.Y, strings.Join(flags, ","))
}

// shortClass trims "android.widget.Button" to "Button".
func shortClass(class string) string {
	if i := strings.LastIndex(class, "."); i >= 0 {
		return class[i+1:]
	}
	return class
}
