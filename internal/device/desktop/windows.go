package desktop

import (
	"fmt"
	"image"
	"strings"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/xwindow"
	"go.uber.org/zap"

	"droid-pilot/internal/screen"
)

// Window is a top-level X11 client window.
type Window struct {
	ID      xproto.Window
	Title   string
	Class   string
	Bounds  image.Rectangle
	Visible bool
	Active  bool
	State   []string
	PID     int
}

// Hidden reports whether the window manager keeps the window off screen.
func (w Window) Hidden() bool {
	for _, s := range w.State {
		if s == "_NET_WM_STATE_HIDDEN" {
			return true
		}
	}
	return !w.Visible
}

// listWindows returns managed client windows bottom to top.
func listWindows(xu *xgbutil.XUtil, logger *zap.Logger) ([]Window, error) {
	ids, err := ewmh.ClientListStackingGet(xu)
	if err != nil {
		ids, err = ewmh.ClientListGet(xu)
		if err != nil {
			return nil, fmt.Errorf("failed to list client windows: %w", err)
		}
	}
	active, _ := ewmh.ActiveWindowGet(xu)

	windows := make([]Window, 0, len(ids))
	for _, id := range ids {
		w, err := windowInfo(xu, id)
		if err != nil {
			logger.Debug("Skipping window", zap.Uint32("id", uint32(id)), zap.Error(err))
			continue
		}
		w.Active = id == active
		windows = append(windows, w)
	}
	return windows, nil
}

func windowInfo(xu *xgbutil.XUtil, id xproto.Window) (Window, error) {
	w := Window{ID: id}

	geom, err := xwindow.New(xu, id).DecorGeometry()
	if err != nil {
		return w, fmt.Errorf("failed to get window geometry: %w", err)
	}
	w.Bounds = image.Rect(geom.X(), geom.Y(), geom.X()+geom.Width(), geom.Y()+geom.Height())

	attr, err := xproto.GetWindowAttributes(xu.Conn(), id).Reply()
	if err != nil {
		return w, fmt.Errorf("failed to get window attributes: %w", err)
	}
	w.Visible = attr.MapState == xproto.MapStateViewable

	if name, err := ewmh.WmNameGet(xu, id); err == nil && name != "" {
		w.Title = name
	} else if name, err := icccm.WmNameGet(xu, id); err == nil {
		w.Title = name
	}
	if class, err := icccm.WmClassGet(xu, id); err == nil {
		w.Class = class.Class
	}
	if states, err := ewmh.WmStateGet(xu, id); err == nil {
		w.State = states
	}
	if pid, err := ewmh.WmPidGet(xu, id); err == nil {
		w.PID = int(pid)
	}
	return w, nil
}

// Title bar controls are not exposed by X11, so their positions are
// approximated from the window frame.
const (
	buttonSize    = 24
	buttonSpacing = 8
	headerHeight  = 32
)

// titleBarButtons approximates close, maximize and minimize, right-aligned.
func titleBarButtons(frame image.Rectangle) map[string]image.Rectangle {
	if frame.Dy() < headerHeight+50 || frame.Dx() < buttonSize*4 {
		return nil
	}
	buttons := make(map[string]image.Rectangle, 3)
	right := frame.Max.X - 8
	top := frame.Min.Y + (headerHeight-buttonSize)/2
	for _, name := range []string{"close", "maximize", "minimize"} {
		buttons[name] = image.Rect(right-buttonSize, top, right, top+buttonSize)
		right -= buttonSize + buttonSpacing
	}
	return buttons
}

func windowLabel(w Window) string {
	if t := strings.TrimSpace(w.Title); t != "" {
		return t
	}
	return w.Class
}

// windowNode builds the tree node of a top-level window with its title-bar
// buttons. The active window holds keyboard focus, so it is the target for
// typed text.
func windowNode(w Window) *screen.Node {
	node := &screen.Node{
		Bounds:    w.Bounds,
		Text:      windowLabel(w),
		Class:     "x11.Window",
		Package:   w.Class,
		Clickable: true,
		Editable:  w.Active,
		Focused:   w.Active,
		Handle:    w.ID,
	}
	buttons := titleBarButtons(w.Bounds)
	for _, name := range []string{"close", "maximize", "minimize"} {
		if r, ok := buttons[name]; ok {
			node.Append(&screen.Node{Bounds: r, Description: name, Class: "x11.Button", Clickable: true})
		}
	}
	return node
}
