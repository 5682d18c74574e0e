// Package ocr finds text on screen images so that surfaces without an
// accessibility tree still expose tappable labels.
package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"droid-pilot/internal/screen"
)

const (
	// MinConfidence drops words tesseract is mostly guessing at.
	MinConfidence = 55

	binarizeThreshold = 150
	mergeGapX         = 14
	mergeGapY         = 6
)

// Recognizer wraps a tesseract client. It is not safe for concurrent use.
type Recognizer struct {
	client *gosseract.Client
}

func NewRecognizer(language string) (*Recognizer, error) {
	client := gosseract.NewClient()
	if language == "" {
		language = "eng"
	}
	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("ocr: setting language %q: %w", language, err)
	}
	return &Recognizer{client: client}, nil
}

func (r *Recognizer) Close() error {
	return r.client.Close()
}

// Words recognizes individual words in img. Boxes are relative to img's
// bounds origin.
func (r *Recognizer) Words(img image.Image) ([]Word, error) {
	data, err := imageToBytes(BinarizeImage(ConvertToGrayscale(img), binarizeThreshold))
	if err != nil {
		return nil, err
	}
	if err := r.client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("ocr: loading image: %w", err)
	}
	boxes, err := r.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("ocr: recognizing words: %w", err)
	}

	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" || b.Confidence < MinConfidence {
			continue
		}
		words = append(words, Word{Text: text, Confidence: Float64WithPrecision(b.Confidence), Box: b.Box})
	}
	return words, nil
}

// MergeCloseText joins words on the same line whose gap is small enough to be
// one label, e.g. "Sign" "in" becomes "Sign in".
func MergeCloseText(words []Word, xThreshold, yThreshold int) []Word {
	if len(words) == 0 {
		return nil
	}
	sorted := append([]Word(nil), words...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if abs(sorted[i].Box.Min.Y-sorted[j].Box.Min.Y) > yThreshold {
			return sorted[i].Box.Min.Y < sorted[j].Box.Min.Y
		}
		return sorted[i].Box.Min.X < sorted[j].Box.Min.X
	})

	var merged []Word
	current := sorted[0]
	for _, next := range sorted[1:] {
		sameLine := abs(current.Box.Min.Y-next.Box.Min.Y) <= yThreshold
		if sameLine && next.Box.Min.X-current.Box.Max.X <= xThreshold {
			current.Text += " " + next.Text
			current.Box = current.Box.Union(next.Box)
			current.Confidence = min(current.Confidence, next.Confidence)
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}

// Nodes turns recognized text into clickable leaf nodes appended to parent.
// offset translates word boxes into screen coordinates.
func Nodes(parent *screen.Node, words []Word, offset image.Point) {
	for _, w := range MergeCloseText(words, mergeGapX, mergeGapY) {
		parent.Append(&screen.Node{
			Bounds:    w.Box.Add(offset),
			Text:      w.Text,
			Class:     "ocr.Text",
			Clickable: true,
		})
	}
}

// ConvertToGrayscale converts an image to grayscale
func ConvertToGrayscale(img image.Image) *image.Gray {
	bounds := img.Bounds()
	grayImg := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			gray := uint8((r*299 + g*587 + b*114) / 1000 >> 8)
			grayImg.SetGray(x, y, color.Gray{Y: gray})
		}
	}
	return grayImg
}

// BinarizeImage converts a grayscale image into a binary image
func BinarizeImage(img *image.Gray, threshold uint8) *image.Gray {
	bounds := img.Bounds()
	binaryImg := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if img.GrayAt(x, y).Y > threshold {
				binaryImg.SetGray(x, y, color.Gray{Y: 255})
			} else {
				binaryImg.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return binaryImg
}

func imageToBytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("ocr: encoding image: %w", err)
	}
	return buf.Bytes(), nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
