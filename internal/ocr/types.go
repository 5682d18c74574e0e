package ocr

import (
	"encoding/json"
	"image"
	"math"
)

// Float64WithPrecision is a custom type to round float64 values to 2 decimal places
type Float64WithPrecision float64

// MarshalJSON implements the json.Marshaler interface
func (f Float64WithPrecision) MarshalJSON() ([]byte, error) {
	rounded := math.Round(float64(f)*100) / 100
	return json.Marshal(rounded)
}

// Word is a run of recognized text and where it sits on the image.
type Word struct {
	Text       string               `json:"text"`
	Confidence Float64WithPrecision `json:"confidence"`
	Box        image.Rectangle      `json:"bb"`
}
