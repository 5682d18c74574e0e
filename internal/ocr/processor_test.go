package ocr

import (
	"encoding/json"
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droid-pilot/internal/screen"
)

func TestMergeCloseText(t *testing.T) {
	words := []Word{
		{Text: "in", Confidence: 90, Box: image.Rect(60, 12, 80, 30)},
		{Text: "Sign", Confidence: 80, Box: image.Rect(10, 10, 50, 30)},
		{Text: "Cancel", Confidence: 95, Box: image.Rect(300, 10, 360, 30)},
		{Text: "Help", Confidence: 99, Box: image.Rect(10, 100, 50, 120)},
	}

	got := MergeCloseText(words, 14, 6)

	want := []Word{
		{Text: "Sign in", Confidence: 80, Box: image.Rect(10, 10, 80, 30)},
		{Text: "Cancel", Confidence: 95, Box: image.Rect(300, 10, 360, 30)},
		{Text: "Help", Confidence: 99, Box: image.Rect(10, 100, 50, 120)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MergeCloseText mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, MergeCloseText(nil, 1, 1))
}

func TestNodes(t *testing.T) {
	parent := &screen.Node{Bounds: image.Rect(100, 100, 500, 500)}
	Nodes(parent, []Word{{Text: "OK", Box: image.Rect(5, 5, 25, 20)}}, image.Pt(100, 100))

	require.Len(t, parent.Children, 1)
	leaf := parent.Children[0]
	assert.Equal(t, "OK", leaf.Text)
	assert.Equal(t, image.Rect(105, 105, 125, 120), leaf.Bounds)
	assert.True(t, leaf.Clickable)
	assert.Same(t, parent, leaf.Parent)
}

func TestBinarize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.White)
	img.Set(1, 0, color.RGBA{R: 40, G: 40, B: 40, A: 255})

	bin := BinarizeImage(ConvertToGrayscale(img), binarizeThreshold)
	assert.Equal(t, uint8(255), bin.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), bin.GrayAt(1, 0).Y)
}

func TestWordJSONRoundsConfidence(t *testing.T) {
	data, err := json.Marshal(Word{Text: "x", Confidence: 91.23456})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"confidence":91.23`)
}
