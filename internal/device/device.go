// Package device defines the capabilities the agent needs from a phone (or any
// other screen it drives): frame capture, UI tree introspection and input.
package device

import (
	"context"
	"errors"
	"image"
	"time"

	"droid-pilot/internal/screen"
)

var (
	// ErrUnavailable means the capability is not connected at all.
	ErrUnavailable = errors.New("device capability unavailable")
	// ErrNoFrame means capture is ready but produced nothing this time.
	ErrNoFrame = errors.New("no frame captured")
)

// Capturer produces screen frames on demand.
type Capturer interface {
	Available() bool
	CaptureFrame(ctx context.Context) (image.Image, error)
	ScreenSize() (width, height int)
}

// Accessibility exposes the live UI tree and the primitive input operations.
// Every method blocks until the device has acknowledged the operation.
type Accessibility interface {
	Available() bool
	Root(ctx context.Context) (*screen.Node, error)
	Click(ctx context.Context, node *screen.Node) error
	Dispatch(ctx context.Context, g Gesture) error
	SetText(ctx context.Context, node *screen.Node, text string) error
	GlobalAction(ctx context.Context, action GlobalAction) error
	LaunchPackage(ctx context.Context, pkg string) error
	InstalledApps(ctx context.Context) ([]App, error)
}

// Device is a backend providing both capabilities.
type Device interface {
	Capturer
	Accessibility
	Close() error
}

// Gesture is a straight-line stroke. A gesture whose Start equals End is a tap
// (or a long press, depending on Duration).
type Gesture struct {
	Start    image.Point
	End      image.Point
	Duration time.Duration
}

func Tap(p image.Point, d time.Duration) Gesture {
	return Gesture{Start: p, End: p, Duration: d}
}

// IsTap reports whether the gesture does not move.
func (g Gesture) IsTap() bool { return g.Start == g.End }

type GlobalAction int

const (
	GlobalBack GlobalAction = iota + 1
	GlobalHome
	GlobalRecents
)

func (a GlobalAction) String() string {
	switch a {
	case GlobalBack:
		return "back"
	case GlobalHome:
		return "home"
	case GlobalRecents:
		return "recents"
	}
	return "unknown"
}

// App is an installed, launchable application.
type App struct {
	Package string `json:"package"`
	Label   string `json:"label"`
}
