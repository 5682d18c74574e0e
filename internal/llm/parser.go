package llm

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"droid-pilot/internal/action"
)

// ErrNoJSON means the reply contained nothing that looks like a JSON object.
var ErrNoJSON = errors.New("no JSON object in model reply")

const (
	defaultConfidence  = 0.5
	defaultDescription = "No description provided"
)

// Parse tiers, reported for logging.
const (
	TierStrict     = 1
	TierPermissive = 2
	TierSalvage    = 3
)

var (
	strictJSON = jsoniter.Config{
		EscapeHTML:             false,
		DisallowUnknownFields:  true,
		ValidateJsonRawMessage: true,
	}.Froze()
	lenientJSON = jsoniter.ConfigCompatibleWithStandardLibrary

	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// Decision is a parsed model reply.
type Decision struct {
	Intent    action.Intent
	Reasoning string
	Tier      int
}

type wireAction struct {
	Type            string   `json:"type"`
	ElementID       *int     `json:"elementId,omitempty"`
	X               *int     `json:"x,omitempty"`
	Y               *int     `json:"y,omitempty"`
	Text            string   `json:"text,omitempty"`
	ScrollDirection string   `json:"scrollDirection,omitempty"`
	Duration        int      `json:"duration,omitempty"`
	AppName         string   `json:"appName,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	Confidence      *float64 `json:"confidence"`
	Description     string   `json:"description"`
}

type wireDecision struct {
	Reasoning string      `json:"reasoning"`
	Action    *wireAction `json:"action"`
}

// ParseDecision turns a model reply into an intent. As long as the reply holds
// something shaped like a JSON object it always succeeds: the strict schema is
// tried first, then a permissive field-by-field read, then regex salvage.
func ParseDecision(raw string) (Decision, error) {
	obj, ok := extractObject(raw)
	if !ok {
		return Decision{}, ErrNoJSON
	}

	if d, ok := parseStrict(obj); ok {
		return d, nil
	}
	if d, ok := parsePermissive(obj); ok {
		return d, nil
	}
	return salvage(raw), nil
}

// extractObject strips markdown fences and returns the outermost {...} span.
func extractObject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		// unterminated object; the salvage tier can still read it
		return s[start:], true
	}
	return s[start : end+1], true
}

func parseStrict(obj string) (Decision, bool) {
	var w wireDecision
	if err := strictJSON.UnmarshalFromString(obj, &w); err != nil || w.Action == nil {
		return Decision{}, false
	}
	kind, ok := action.ParseKind(w.Action.Type)
	if !ok || w.Action.Confidence == nil {
		return Decision{}, false
	}

	in := action.Intent{
		Kind:        kind,
		Text:        w.Action.Text,
		Direction:   w.Action.ScrollDirection,
		DurationMs:  w.Action.Duration,
		AppName:     w.Action.AppName,
		Reason:      w.Action.Reason,
		Confidence:  *w.Action.Confidence,
		Description: w.Action.Description,
	}
	if w.Action.ElementID != nil {
		in.ElementID = *w.Action.ElementID
	}
	if w.Action.X != nil && w.Action.Y != nil {
		in.X, in.Y = *w.Action.X, *w.Action.Y
	}
	return Decision{Intent: normalize(in, w.Action.Type), Reasoning: w.Reasoning, Tier: TierStrict}, true
}

var (
	actionKeys      = []string{"action", "nextAction", "next_action", "decision", "step", "command"}
	typeKeys        = []string{"type", "actionType", "action_type", "kind", "name", "action"}
	elementKeys     = []string{"elementId", "element_id", "elementID", "element", "id", "index"}
	textKeys        = []string{"text", "value", "input", "label", "query"}
	directionKeys   = []string{"scrollDirection", "scroll_direction", "direction"}
	durationKeys    = []string{"duration", "durationMs", "duration_ms"}
	appKeys         = []string{"appName", "app_name", "app", "package", "application"}
	reasonKeys      = []string{"reason", "message", "result"}
	confidenceKeys  = []string{"confidence", "certainty", "score", "probability"}
	descriptionKeys = []string{"description", "desc", "summary", "explanation"}
	reasoningKeys   = []string{"reasoning", "thought", "thoughts", "thinking", "analysis", "rationale"}
	coordinateKeys  = []string{"coordinates", "coordinate", "point", "position", "location"}
)

func parsePermissive(obj string) (Decision, bool) {
	var root map[string]interface{}
	if err := lenientJSON.UnmarshalFromString(obj, &root); err != nil {
		repaired := trailingComma.ReplaceAllString(obj, "$1")
		if err := lenientJSON.UnmarshalFromString(repaired, &root); err != nil {
			return Decision{}, false
		}
	}

	fields := root
	for _, k := range actionKeys {
		if m, ok := root[k].(map[string]interface{}); ok {
			fields = m
			break
		}
	}

	rawType, ok := lookupString(fields, typeKeys)
	if !ok {
		return Decision{}, false
	}
	kind, known := action.ParseKind(rawType)
	if !known {
		kind = action.KindWait
	}

	in := action.Intent{Kind: kind, Confidence: -1}
	if v, ok := lookupNumber(fields, elementKeys); ok {
		in.ElementID = int(v)
	}
	if x, y, ok := lookupPoint(fields); ok {
		in.X, in.Y = x, y
	}
	in.Text, _ = lookupString(fields, textKeys)
	in.Direction, _ = lookupString(fields, directionKeys)
	if v, ok := lookupNumber(fields, durationKeys); ok {
		in.DurationMs = int(v)
	}
	in.AppName, _ = lookupString(fields, appKeys)
	in.Reason, _ = lookupString(fields, reasonKeys)
	in.Description, _ = lookupString(fields, descriptionKeys)
	if v, ok := lookupNumber(fields, confidenceKeys); ok {
		in.Confidence = v
	} else if v, ok := lookupNumber(root, confidenceKeys); ok {
		in.Confidence = v
	}

	reasoning, _ := lookupString(root, reasoningKeys)
	if in.Description == "" {
		in.Description, _ = lookupString(root, descriptionKeys)
	}
	return Decision{Intent: normalize(in, rawType), Reasoning: reasoning, Tier: TierPermissive}, true
}

func lookupString(m map[string]interface{}, keys []string) (string, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s, true
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		}
	}
	return "", false
}

func lookupNumber(m map[string]interface{}, keys []string) (float64, bool) {
	for _, k := range keys {
		if f, ok := toFloat(m[k]); ok {
			return f, true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(n), "%")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		if strings.HasSuffix(strings.TrimSpace(n), "%") {
			f /= 100
		}
		return f, true
	}
	return 0, false
}

func lookupPoint(m map[string]interface{}) (int, int, bool) {
	if x, ok := toFloat(m["x"]); ok {
		if y, ok := toFloat(m["y"]); ok {
			return int(x), int(y), true
		}
	}
	for _, k := range coordinateKeys {
		switch v := m[k].(type) {
		case map[string]interface{}:
			x, okX := toFloat(v["x"])
			y, okY := toFloat(v["y"])
			if okX && okY {
				return int(x), int(y), true
			}
		case []interface{}:
			if len(v) >= 2 {
				x, okX := toFloat(v[0])
				y, okY := toFloat(v[1])
				if okX && okY {
					return int(x), int(y), true
				}
			}
		}
	}
	return 0, 0, false
}

var (
	reType        = regexp.MustCompile(`"(?:type|actionType|action_type)"\s*:\s*"([^"]+)"`)
	reDescription = regexp.MustCompile(`"description"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	reText        = regexp.MustCompile(`"text"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	reDirection   = regexp.MustCompile(`"(?:scrollDirection|scroll_direction|direction)"\s*:\s*"([A-Za-z]+)"`)
	reConfidence  = regexp.MustCompile(`"confidence"\s*:\s*"?(\d*\.?\d+)`)
	reElement     = regexp.MustCompile(`"(?:elementId|element_id|elementID)"\s*:\s*"?(\d+)`)
	reX           = regexp.MustCompile(`"x"\s*:\s*(-?\d+)`)
	reY           = regexp.MustCompile(`"y"\s*:\s*(-?\d+)`)
	reApp         = regexp.MustCompile(`"(?:appName|app_name|app)"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	reReason      = regexp.MustCompile(`"reason"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	reReasoning   = regexp.MustCompile(`"reasoning"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// salvage reads each field independently so that one broken value does not
// take the rest down with it.
func salvage(raw string) Decision {
	find := func(re *regexp.Regexp) string {
		m := re.FindStringSubmatch(raw)
		if len(m) < 2 {
			return ""
		}
		if s, err := strconv.Unquote(`"` + m[1] + `"`); err == nil {
			return s
		}
		return m[1]
	}
	atoi := func(re *regexp.Regexp) (int, bool) {
		n, err := strconv.Atoi(find(re))
		return n, err == nil
	}

	rawType := find(reType)
	kind, ok := action.ParseKind(rawType)
	if !ok {
		kind = action.KindWait
	}

	in := action.Intent{
		Kind:        kind,
		Text:        find(reText),
		Direction:   find(reDirection),
		AppName:     find(reApp),
		Reason:      find(reReason),
		Description: find(reDescription),
		Confidence:  -1,
	}
	if c, err := strconv.ParseFloat(find(reConfidence), 64); err == nil {
		in.Confidence = c
	}
	if id, ok := atoi(reElement); ok {
		in.ElementID = id
	}
	x, okX := atoi(reX)
	y, okY := atoi(reY)
	if okX && okY {
		in.X, in.Y = x, y
	}
	return Decision{Intent: normalize(in, rawType), Reasoning: find(reReasoning), Tier: TierSalvage}
}

// normalize fills defaults and repairs intents whose target fields do not
// match their kind. A negative confidence means it was missing.
func normalize(in action.Intent, rawType string) action.Intent {
	switch {
	case in.Confidence < 0 || math.IsNaN(in.Confidence):
		in.Confidence = defaultConfidence
	case in.Confidence > 1 && in.Confidence <= 100:
		in.Confidence /= 100
	}
	in.Confidence = math.Max(0, math.Min(1, in.Confidence))

	upper := strings.ToUpper(rawType)
	switch in.Kind {
	case action.KindTapElement:
		if in.ElementID <= 0 {
			switch {
			case in.X > 0 || in.Y > 0:
				in.Kind = action.KindTapPoint
			case in.Text != "":
				in.Kind = action.KindTapByLabel
			}
		}
	case action.KindTapByLabel:
		if in.Text == "" && in.ElementID > 0 {
			in.Kind = action.KindTapElement
		}
	case action.KindScroll, action.KindSwipe:
		if in.Direction == "" {
			for _, d := range []string{"UP", "DOWN", "LEFT", "RIGHT"} {
				if strings.HasSuffix(upper, "_"+d) {
					in.Direction = strings.ToLower(d)
				}
			}
		}
	case action.KindOpenApp:
		if in.AppName == "" {
			in.AppName = in.Text
		}
	case action.KindTaskComplete, action.KindTaskFailed:
		if in.Reason == "" {
			in.Reason = in.Description
		}
	}

	if strings.TrimSpace(in.Description) == "" {
		in.Description = defaultDescription
	}
	return in
}
