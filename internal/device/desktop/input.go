package desktop

import (
	"context"
	"image"
	"time"

	"github.com/go-vgo/robotgo"

	"droid-pilot/internal/device"
)

// moveSteps is how many intermediate points a drag passes through.
const moveSteps = 20

// globalKeys maps phone-style global actions onto desktop shortcuts.
var globalKeys = map[device.GlobalAction][]string{
	device.GlobalBack:    {"left", "alt"},
	device.GlobalHome:    {"d", "cmd"},
	device.GlobalRecents: {"tab", "alt"},
}

func keyTap(keys []string) error {
	args := make([]interface{}, 0, len(keys)-1)
	for _, k := range keys[1:] {
		args = append(args, k)
	}
	return robotgo.KeyTap(keys[0], args...)
}

func click(p image.Point) {
	robotgo.Move(p.X, p.Y)
	robotgo.Click("left", false)
}

// press holds the left button at p for d.
func press(ctx context.Context, p image.Point, d time.Duration) error {
	robotgo.Move(p.X, p.Y)
	if err := robotgo.Toggle("left"); err != nil {
		return err
	}
	defer robotgo.Toggle("left", "up")
	return sleep(ctx, d)
}

// drag moves the pressed pointer along the straight path of g.
func drag(ctx context.Context, g device.Gesture) error {
	robotgo.Move(g.Start.X, g.Start.Y)
	if err := robotgo.Toggle("left"); err != nil {
		return err
	}
	defer robotgo.Toggle("left", "up")

	step := g.Duration / moveSteps
	for _, p := range path(g.Start, g.End, moveSteps) {
		robotgo.Move(p.X, p.Y)
		if err := sleep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// path returns n evenly spaced points from a (exclusive) to b (inclusive).
func path(a, b image.Point, n int) []image.Point {
	pts := make([]image.Point, 0, n)
	for i := 1; i <= n; i++ {
		pts = append(pts, image.Pt(
			a.X+(b.X-a.X)*i/n,
			a.Y+(b.Y-a.Y)*i/n,
		))
	}
	return pts
}

func typeText(text string) {
	robotgo.TypeStr(text)
}

func selectAll() error {
	return robotgo.KeyTap("a", "ctrl")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
