package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droid-pilot/internal/action"
)

func TestParseDecision_Strict(t *testing.T) {
	raw := `{"reasoning":"search box is visible","action":{"type":"TAP_ELEMENT","elementId":3,"confidence":0.9,"description":"Tap search"}}`

	d, err := ParseDecision(raw)
	require.NoError(t, err)

	assert.Equal(t, TierStrict, d.Tier)
	assert.Equal(t, "search box is visible", d.Reasoning)
	assert.Equal(t, action.KindTapElement, d.Intent.Kind)
	assert.Equal(t, 3, d.Intent.ElementID)
	assert.InDelta(t, 0.9, d.Intent.Confidence, 1e-9)
	assert.Equal(t, "Tap search", d.Intent.Description)
}

func TestParseDecision_MarkdownFence(t *testing.T) {
	raw := "Sure!\n```json\n{\"action\":{\"type\":\"BACK\",\"confidence\":0.8,\"description\":\"Go back\"}}\n```"

	d, err := ParseDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, action.KindBack, d.Intent.Kind)
	assert.Equal(t, TierStrict, d.Tier)
}

func TestParseDecision_MissingConfidenceDefaults(t *testing.T) {
	d, err := ParseDecision(`{"action":{"type":"TASK_COMPLETE"}}`)
	require.NoError(t, err)

	assert.Equal(t, TierPermissive, d.Tier)
	assert.Equal(t, action.KindTaskComplete, d.Intent.Kind)
	assert.InDelta(t, 0.5, d.Intent.Confidence, 1e-9)
	assert.Equal(t, "No description provided", d.Intent.Description)
}

func TestParseDecision_PermissiveAliases(t *testing.T) {
	raw := `{"thought":"open it","next_action":{"action_type":"launch app","app":"Chrome","certainty":"85%","summary":"Launch Chrome",},}`

	d, err := ParseDecision(raw)
	require.NoError(t, err)

	assert.Equal(t, TierPermissive, d.Tier)
	assert.Equal(t, "open it", d.Reasoning)
	assert.Equal(t, action.KindOpenApp, d.Intent.Kind)
	assert.Equal(t, "Chrome", d.Intent.AppName)
	assert.InDelta(t, 0.85, d.Intent.Confidence, 1e-9)
	assert.Equal(t, "Launch Chrome", d.Intent.Description)
}

func TestParseDecision_PermissiveCoordinates(t *testing.T) {
	d, err := ParseDecision(`{"action":{"type":"tap","coordinates":[120,640],"confidence":70}}`)
	require.NoError(t, err)

	assert.Equal(t, action.KindTapPoint, d.Intent.Kind)
	assert.Equal(t, 120, d.Intent.X)
	assert.Equal(t, 640, d.Intent.Y)
	assert.InDelta(t, 0.7, d.Intent.Confidence, 1e-9)
}

func TestParseDecision_UnknownTypeBecomesWait(t *testing.T) {
	d, err := ParseDecision(`{"action":{"type":"DANCE","confidence":0.9}}`)
	require.NoError(t, err)
	assert.Equal(t, action.KindWait, d.Intent.Kind)
}

func TestParseDecision_Salvage(t *testing.T) {
	// truncated mid-object, so neither JSON tier can decode it
	raw := `{"reasoning":"typing the query","action":{"type":"TYPE","text":"weather \"today\"","confidence":0.65,"description":"Type query`

	d, err := ParseDecision(raw)
	require.NoError(t, err)

	assert.Equal(t, TierSalvage, d.Tier)
	assert.Equal(t, action.KindTypeText, d.Intent.Kind)
	assert.Equal(t, `weather "today"`, d.Intent.Text)
	assert.InDelta(t, 0.65, d.Intent.Confidence, 1e-9)
	assert.Equal(t, "typing the query", d.Reasoning)
	assert.Equal(t, "No description provided", d.Intent.Description)
}

func TestParseDecision_SalvageWithoutTypeWaits(t *testing.T) {
	d, err := ParseDecision(`{"confidence": 0.4, "oops`)
	require.NoError(t, err)

	assert.Equal(t, action.KindWait, d.Intent.Kind)
	assert.InDelta(t, 0.4, d.Intent.Confidence, 1e-9)
}

func TestParseDecision_NoJSON(t *testing.T) {
	_, err := ParseDecision("I think you should tap the search button.")
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = ParseDecision("")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      action.Intent
		rawType string
		check   func(t *testing.T, got action.Intent)
	}{
		{
			name:    "tap element without id but with point",
			in:      action.Intent{Kind: action.KindTapElement, X: 10, Y: 20, Confidence: 0.9},
			rawType: "TAP_ELEMENT",
			check: func(t *testing.T, got action.Intent) {
				assert.Equal(t, action.KindTapPoint, got.Kind)
			},
		},
		{
			name:    "tap element without id but with text",
			in:      action.Intent{Kind: action.KindTapElement, Text: "OK", Confidence: 0.9},
			rawType: "TAP_ELEMENT",
			check: func(t *testing.T, got action.Intent) {
				assert.Equal(t, action.KindTapByLabel, got.Kind)
			},
		},
		{
			name:    "scroll direction from type",
			in:      action.Intent{Kind: action.KindScroll, Confidence: 0.9},
			rawType: "scroll_up",
			check: func(t *testing.T, got action.Intent) {
				assert.Equal(t, "up", got.Direction)
			},
		},
		{
			name:    "open app falls back to text",
			in:      action.Intent{Kind: action.KindOpenApp, Text: "Maps", Confidence: 0.9},
			rawType: "OPEN_APP",
			check: func(t *testing.T, got action.Intent) {
				assert.Equal(t, "Maps", got.AppName)
			},
		},
		{
			name:    "terminal reason falls back to description",
			in:      action.Intent{Kind: action.KindTaskFailed, Description: "No network", Confidence: 0.9},
			rawType: "TASK_FAILED",
			check: func(t *testing.T, got action.Intent) {
				assert.Equal(t, "No network", got.Reason)
			},
		},
		{
			name:    "confidence is clamped",
			in:      action.Intent{Kind: action.KindWait, Confidence: 250},
			rawType: "WAIT",
			check: func(t *testing.T, got action.Intent) {
				assert.InDelta(t, 1.0, got.Confidence, 1e-9)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, normalize(tt.in, tt.rawType))
		})
	}
}
