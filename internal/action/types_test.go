package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"TAP_ELEMENT":   KindTapElement,
		" tap_element ": KindTapElement,
		"click":         KindTapPoint,
		"type-text":     KindTypeText,
		"open app":      KindOpenApp,
		"Go Back":       KindBack,
		"done":          KindTaskComplete,
		"TASK_FAILED":   KindTaskFailed,
	}
	for in, want := range tests {
		got, ok := ParseKind(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseKind("juggle")
	assert.False(t, ok)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "TAP_ELEMENT: Open search", Intent{Kind: KindTapElement, ElementID: 3, Description: "Open search"}.Summary())
	assert.Equal(t, "TAP_ELEMENT: element 3", Intent{Kind: KindTapElement, ElementID: 3}.Summary())
	assert.Equal(t, `TYPE: "hello"`, Intent{Kind: KindTypeText, Text: "hello"}.Summary())
	assert.True(t, KindTaskComplete.Terminal())
	assert.False(t, KindWait.Terminal())
}
