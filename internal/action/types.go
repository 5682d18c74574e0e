package action

import (
	"fmt"
	"strings"
)

// Kind names one action in the model's vocabulary. The string values are the
// ones the model is asked to emit.
type Kind string

const (
	KindTapElement   Kind = "TAP_ELEMENT"
	KindTapPoint     Kind = "TAP"
	KindTapByLabel   Kind = "TAP_TEXT"
	KindLongPress    Kind = "LONG_PRESS"
	KindTypeText     Kind = "TYPE"
	KindScroll       Kind = "SCROLL"
	KindSwipe        Kind = "SWIPE"
	KindBack         Kind = "BACK"
	KindHome         Kind = "HOME"
	KindRecents      Kind = "RECENTS"
	KindOpenApp      Kind = "OPEN_APP"
	KindWait         Kind = "WAIT"
	KindTaskComplete Kind = "TASK_COMPLETE"
	KindTaskFailed   Kind = "TASK_FAILED"
)

// Kinds lists the vocabulary in the order it is presented to the model.
var Kinds = []Kind{
	KindTapElement, KindTapPoint, KindTapByLabel, KindLongPress, KindTypeText,
	KindScroll, KindSwipe, KindBack, KindHome, KindRecents, KindOpenApp,
	KindWait, KindTaskComplete, KindTaskFailed,
}

// kindAliases are spellings models commonly produce instead of the canonical
// names.
var kindAliases = map[string]Kind{
	"CLICK_ELEMENT":  KindTapElement,
	"TAP_ID":         KindTapElement,
	"ELEMENT":        KindTapElement,
	"CLICK":          KindTapPoint,
	"TAP_POINT":      KindTapPoint,
	"TAP_COORDINATE": KindTapPoint,
	"TAP_LABEL":      KindTapByLabel,
	"CLICK_TEXT":     KindTapByLabel,
	"TAP_BY_TEXT":    KindTapByLabel,
	"LONG_CLICK":     KindLongPress,
	"LONGPRESS":      KindLongPress,
	"TYPE_TEXT":      KindTypeText,
	"INPUT":          KindTypeText,
	"INPUT_TEXT":     KindTypeText,
	"ENTER_TEXT":     KindTypeText,
	"SCROLL_DOWN":    KindScroll,
	"SCROLL_UP":      KindScroll,
	"PRESS_BACK":     KindBack,
	"GO_BACK":        KindBack,
	"PRESS_HOME":     KindHome,
	"GO_HOME":        KindHome,
	"PRESS_RECENTS":  KindRecents,
	"RECENT_APPS":    KindRecents,
	"LAUNCH_APP":     KindOpenApp,
	"OPEN":           KindOpenApp,
	"LAUNCH":         KindOpenApp,
	"SLEEP":          KindWait,
	"NONE":           KindWait,
	"DONE":           KindTaskComplete,
	"COMPLETE":       KindTaskComplete,
	"FINISH":         KindTaskComplete,
	"TASK_DONE":      KindTaskComplete,
	"FAIL":           KindTaskFailed,
	"FAILED":         KindTaskFailed,
	"ABORT":          KindTaskFailed,
}

// ParseKind normalizes a model-supplied action name. Case, surrounding space,
// dashes and inner spaces are ignored.
func ParseKind(s string) (Kind, bool) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for _, k := range Kinds {
		if Kind(norm) == k {
			return k, true
		}
	}
	k, ok := kindAliases[norm]
	return k, ok
}

// Terminal reports whether the kind ends the run instead of being executed.
func (k Kind) Terminal() bool {
	return k == KindTaskComplete || k == KindTaskFailed
}

// Intent is one decision returned by the model. Only the fields relevant to
// Kind are set.
type Intent struct {
	Kind        Kind    `json:"type"`
	ElementID   int     `json:"elementId,omitempty"`
	X           int     `json:"x,omitempty"`
	Y           int     `json:"y,omitempty"`
	Text        string  `json:"text,omitempty"`
	Direction   string  `json:"scrollDirection,omitempty"`
	DurationMs  int     `json:"duration,omitempty"`
	AppName     string  `json:"appName,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
}

// Summary renders the intent for history entries and logs.
func (i Intent) Summary() string {
	desc := i.Description
	if desc == "" {
		desc = i.detail()
	}
	return fmt.Sprintf("%s: %s", i.Kind, desc)
}

func (i Intent) detail() string {
	switch i.Kind {
	case KindTapElement:
		return fmt.Sprintf("element %d", i.ElementID)
	case KindTapPoint, KindLongPress:
		return fmt.Sprintf("(%d,%d)", i.X, i.Y)
	case KindTapByLabel, KindTypeText:
		return fmt.Sprintf("%q", i.Text)
	case KindScroll, KindSwipe:
		return i.Direction
	case KindOpenApp:
		return i.AppName
	case KindTaskComplete, KindTaskFailed:
		return i.Reason
	}
	return ""
}
