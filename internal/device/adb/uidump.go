package adb

import (
	"fmt"
	"image"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"droid-pilot/internal/screen"
)

var boundsPattern = regexp.MustCompile(`^\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]$`)

// parseBounds reads uiautomator's "[x1,y1][x2,y2]" form.
func parseBounds(s string) (image.Rectangle, error) {
	m := boundsPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return image.Rectangle{}, fmt.Errorf("malformed bounds %q", s)
	}
	var v [4]int
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return image.Rectangle{}, err
		}
		v[i] = n
	}
	return image.Rect(v[0], v[1], v[2], v[3]), nil
}

// ParseDump converts a uiautomator window dump into a node tree. Multiple
// top-level windows are gathered under a synthetic root.
func ParseDump(data []byte) (*screen.Node, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parsing ui dump: %w", err)
	}
	hierarchy := doc.SelectElement("hierarchy")
	if hierarchy == nil {
		return nil, fmt.Errorf("parsing ui dump: no hierarchy element")
	}

	tops := hierarchy.SelectElements("node")
	switch len(tops) {
	case 0:
		return nil, fmt.Errorf("parsing ui dump: empty hierarchy")
	case 1:
		return convert(tops[0], nil), nil
	}

	root := &screen.Node{Class: "hierarchy"}
	for _, el := range tops {
		child := convert(el, root)
		root.Bounds = root.Bounds.Union(child.Bounds)
	}
	return root, nil
}

func convert(el *etree.Element, parent *screen.Node) *screen.Node {
	attr := func(key string) string { return el.SelectAttrValue(key, "") }
	flag := func(key string) bool { return attr(key) == "true" }

	bounds, _ := parseBounds(attr("bounds"))
	class := attr("class")
	n := &screen.Node{
		Bounds:        bounds,
		Text:          attr("text"),
		Description:   attr("content-desc"),
		Class:         class,
		ResourceID:    attr("resource-id"),
		Package:       attr("package"),
		Clickable:     flag("clickable"),
		LongClickable: flag("long-clickable"),
		Focused:       flag("focused"),
		Scrollable:    flag("scrollable"),
		Editable:      strings.HasSuffix(class, "EditText") || strings.Contains(class, "AutoCompleteTextView"),
	}
	if parent != nil {
		parent.Append(n)
	}
	for _, child := range el.SelectElements("node") {
		convert(child, n)
	}
	return n
}
