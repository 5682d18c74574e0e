package screen

import (
	"image"
	"strings"
)

// Node is one element of a UI tree snapshot. Device backends build a fresh tree
// for every dump; nodes are never updated in place, so a tree can be read
// without locking once it has been handed out.
type Node struct {
	Bounds        image.Rectangle
	Text          string
	Description   string
	Class         string
	ResourceID    string
	Package       string
	Clickable     bool
	LongClickable bool
	Editable      bool
	Focused       bool
	Scrollable    bool

	// Handle is backend-private data, e.g. an X11 window id.
	Handle any

	Parent   *Node
	Children []*Node
}

// Append links child under n and returns child.
func (n *Node) Append(child *Node) *Node {
	child.Parent = n
	n.Children = append(n.Children, child)
	return child
}

// Interactive reports whether the node accepts any kind of input.
func (n *Node) Interactive() bool {
	return n.Clickable || n.LongClickable || n.Editable
}

// Center returns the midpoint of the node bounds.
func (n *Node) Center() image.Point {
	return image.Pt((n.Bounds.Min.X+n.Bounds.Max.X)/2, (n.Bounds.Min.Y+n.Bounds.Max.Y)/2)
}

// ClickableAncestor returns the nearest clickable ancestor, or nil. The walk is
// capped so that a malformed parent chain cannot spin forever.
func (n *Node) ClickableAncestor() *Node {
	const maxHops = 64
	p := n.Parent
	for hops := 0; p != nil && hops < maxHops; hops++ {
		if p.Clickable {
			return p
		}
		p = p.Parent
	}
	return nil
}

// Walk visits the tree depth-first, pre-order, down to maxDepth levels (the
// root is depth 0). Returning false from fn stops the walk.
func Walk(root *Node, maxDepth int, fn func(n *Node, depth int) bool) {
	var visit func(n *Node, depth int) bool
	visit = func(n *Node, depth int) bool {
		if n == nil || depth > maxDepth {
			return true
		}
		if !fn(n, depth) {
			return false
		}
		for _, c := range n.Children {
			if !visit(c, depth+1) {
				return false
			}
		}
		return true
	}
	visit(root, 0)
}

// FindByLabel searches for text, first as an exact match on the visible text and
// then as a case-insensitive substring of text or description.
func FindByLabel(root *Node, text string, maxDepth int) *Node {
	text = strings.TrimSpace(text)
	if root == nil || text == "" {
		return nil
	}

	var found *Node
	Walk(root, maxDepth, func(n *Node, _ int) bool {
		if n.Text == text {
			found = n
			return false
		}
		return true
	})
	if found != nil {
		return found
	}

	needle := strings.ToLower(text)
	Walk(root, maxDepth, func(n *Node, _ int) bool {
		if strings.Contains(strings.ToLower(n.Text), needle) ||
			strings.Contains(strings.ToLower(n.Description), needle) {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindEditable returns the focused editable node, else the first editable node
// in traversal order.
func FindEditable(root *Node, maxDepth int) *Node {
	var focused, first *Node
	Walk(root, maxDepth, func(n *Node, _ int) bool {
		if !n.Editable {
			return true
		}
		if first == nil {
			first = n
		}
		if n.Focused {
			focused = n
			return false
		}
		return true
	})
	if focused != nil {
		return focused
	}
	return first
}
