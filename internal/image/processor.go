package imagepkg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"image/jpeg"
	"image/png"
	"strconv"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	labelFontSize = 14
	labelDPI      = 72
)

var (
	borderColor = color.RGBA{R: 255, G: 0, B: 132, A: 255}
	badgeColor  = color.RGBA{R: 12, G: 160, B: 28, A: 255}
	textColor   = color.White

	fontOnce sync.Once
	labelFnt *truetype.Font
	fontErr  error
)

// Box is an element rectangle tagged with the id drawn next to it.
type Box struct {
	ID     int
	Bounds image.Rectangle
}

// Downscale shrinks img so that its longest side is at most maxSide pixels.
// Images already small enough are returned unchanged.
func Downscale(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if maxSide <= 0 || longest <= maxSide {
		return img
	}
	nw := w * maxSide / longest
	nh := h * maxSide / longest
	dst := image.NewRGBA(image.Rect(0, 0, max(nw, 1), max(nh, 1)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Annotate returns a copy of img with every box outlined and numbered.
// Box coordinates are in screen space (screenW x screenH) and are mapped onto
// the frame, which may have a different resolution.
func Annotate(img image.Image, boxes []Box, screenW, screenH int) (*image.RGBA, error) {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	stddraw.Draw(dst, dst.Bounds(), img, b.Min, stddraw.Src)

	if len(boxes) == 0 {
		return dst, nil
	}

	sx, sy := 1.0, 1.0
	if screenW > 0 && screenH > 0 {
		sx = float64(b.Dx()) / float64(screenW)
		sy = float64(b.Dy()) / float64(screenH)
	}

	ctx, err := newLabelContext(dst)
	if err != nil {
		return nil, err
	}

	for _, box := range boxes {
		r := image.Rect(
			int(float64(box.Bounds.Min.X)*sx), int(float64(box.Bounds.Min.Y)*sy),
			int(float64(box.Bounds.Max.X)*sx), int(float64(box.Bounds.Max.Y)*sy),
		).Intersect(dst.Bounds())
		if r.Empty() {
			continue
		}
		DrawBoundingBox(dst, r.Min.X, r.Min.Y, r.Max.X-1, r.Max.Y-1, borderColor)
		if err := drawBadge(ctx, dst, r.Min, strconv.Itoa(box.ID)); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// DrawBoundingBox outlines a rectangle on RGBA images; other image types are
// left untouched.
func DrawBoundingBox(img image.Image, x1, y1, x2, y2 int, c color.Color) {
	if rgba, ok := img.(*image.RGBA); ok {
		drawBorder(rgba, x1, y1, x2, y2, c)
	}
}

func drawBorder(img *image.RGBA, x1, y1, x2, y2 int, c color.Color) {
	for x := x1; x <= x2; x++ {
		img.Set(x, y1, c)
		img.Set(x, y2, c)
	}
	for y := y1; y <= y2; y++ {
		img.Set(x1, y, c)
		img.Set(x2, y, c)
	}
}

func loadFont() (*truetype.Font, error) {
	fontOnce.Do(func() {
		labelFnt, fontErr = freetype.ParseFont(goregular.TTF)
	})
	return labelFnt, fontErr
}

func newLabelContext(dst *image.RGBA) (*freetype.Context, error) {
	f, err := loadFont()
	if err != nil {
		return nil, fmt.Errorf("failed to parse label font: %w", err)
	}
	c := freetype.NewContext()
	c.SetDPI(labelDPI)
	c.SetFont(f)
	c.SetFontSize(labelFontSize)
	c.SetClip(dst.Bounds())
	c.SetDst(dst)
	c.SetSrc(image.NewUniform(textColor))
	c.SetHinting(font.HintingNone)
	return c, nil
}

// drawBadge paints a filled tag at the top-left corner of an element and writes
// the id into it.
func drawBadge(c *freetype.Context, dst *image.RGBA, at image.Point, text string) error {
	w := 4 + len(text)*8
	h := labelFontSize + 4
	badge := image.Rect(at.X, at.Y, at.X+w, at.Y+h).Intersect(dst.Bounds())
	stddraw.Draw(dst, badge, image.NewUniform(badgeColor), image.Point{}, stddraw.Src)

	pt := freetype.Pt(at.X+2, at.Y+labelFontSize)
	if _, err := c.DrawString(text, pt); err != nil {
		return fmt.Errorf("failed to draw label %s: %w", text, err)
	}
	return nil
}

// EncodeToPNG encodes img as PNG.
func EncodeToPNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeToJPEG encodes img as JPEG with the given quality.
func EncodeToJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
