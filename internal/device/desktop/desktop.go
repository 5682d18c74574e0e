// Package desktop drives an X11 desktop as if it were a phone: windows and
// on-screen text form the UI tree, and robotgo synthesizes input.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/kbinani/screenshot"
	"go.uber.org/zap"

	"droid-pilot/internal/config"
	"droid-pilot/internal/device"
	"droid-pilot/internal/ocr"
	"droid-pilot/internal/screen"
)

const display = 0

// Desktop implements device.Device on the local X11 session.
type Desktop struct {
	xu     *xgbutil.XUtil
	ocr    *ocr.Recognizer
	logger *zap.Logger

	// serializes tesseract, which is not thread safe
	ocrMu sync.Mutex
}

var _ device.Device = (*Desktop)(nil)

// New connects to $DISPLAY. OCR is optional: when tesseract cannot be set up
// the tree only carries windows.
func New(cfg config.DeviceConfig, logger *zap.Logger) (*Desktop, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("desktop")

	if devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0); err == nil {
		xgb.Logger.SetOutput(devNull)
	}

	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to X11: %v", device.ErrUnavailable, err)
	}
	d := &Desktop{xu: xu, logger: logger}

	if rec, err := ocr.NewRecognizer(cfg.OCRLanguage); err != nil {
		logger.Warn("OCR disabled", zap.Error(err))
	} else {
		d.ocr = rec
	}
	return d, nil
}

func (d *Desktop) Available() bool {
	return d.xu != nil && screenshot.NumActiveDisplays() > 0
}

func (d *Desktop) CaptureFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if screenshot.NumActiveDisplays() == 0 {
		return nil, device.ErrUnavailable
	}
	img, err := screenshot.CaptureDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrNoFrame, err)
	}
	return img, nil
}

func (d *Desktop) ScreenSize() (int, int) {
	b := screenshot.GetDisplayBounds(display)
	return b.Dx(), b.Dy()
}

// Root builds the tree: one clickable node per visible window, its title bar
// buttons, and OCR text leaves. Handles hold the X11 window id.
func (d *Desktop) Root(ctx context.Context) (*screen.Node, error) {
	windows, err := listWindows(d.xu, d.logger)
	if err != nil {
		return nil, err
	}
	root := &screen.Node{Bounds: screenshot.GetDisplayBounds(display), Class: "x11.Root"}

	var frame image.Image
	if d.ocr != nil {
		if img, err := d.CaptureFrame(ctx); err == nil {
			frame = img
		} else {
			d.logger.Debug("Frame for OCR unavailable", zap.Error(err))
		}
	}

	// stacking order is bottom to top; list the top window first
	for i := len(windows) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := windows[i]
		if w.Hidden() {
			continue
		}
		node := root.Append(windowNode(w))
		if frame != nil && w.Active {
			d.addText(node, frame, w.Bounds)
		}
	}
	return root, nil
}

// addText recognizes text inside bounds of frame and hangs it under node.
func (d *Desktop) addText(node *screen.Node, frame image.Image, bounds image.Rectangle) {
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	si, ok := frame.(subImager)
	if !ok {
		return
	}
	crop := bounds.Intersect(frame.Bounds())
	if crop.Empty() {
		return
	}

	d.ocrMu.Lock()
	words, err := d.ocr.Words(si.SubImage(crop))
	d.ocrMu.Unlock()
	if err != nil {
		d.logger.Debug("OCR failed", zap.Error(err))
		return
	}
	ocr.Nodes(node, words, crop.Min)
}

// Click raises the window a node belongs to and clicks its center.
func (d *Desktop) Click(ctx context.Context, node *screen.Node) error {
	if node == nil {
		return errors.New("desktop: nil node")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for n := node; n != nil; n = n.Parent {
		if id, ok := n.Handle.(xproto.Window); ok {
			if err := ewmh.ActiveWindowReq(d.xu, id); err != nil {
				d.logger.Debug("Failed to activate window", zap.Error(err))
			}
			break
		}
	}
	click(node.Center())
	return nil
}

func (d *Desktop) Dispatch(ctx context.Context, g device.Gesture) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.IsTap() {
		if g.Duration <= 100*time.Millisecond {
			click(g.Start)
			return nil
		}
		return press(ctx, g.Start, g.Duration)
	}
	return drag(ctx, g)
}

func (d *Desktop) SetText(ctx context.Context, node *screen.Node, text string) error {
	if node != nil && !node.Focused {
		if err := d.Click(ctx, node); err != nil {
			return err
		}
	}
	if err := selectAll(); err != nil {
		return err
	}
	typeText(text)
	return nil
}

func (d *Desktop) GlobalAction(ctx context.Context, a device.GlobalAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	keys, ok := globalKeys[a]
	if !ok {
		return fmt.Errorf("desktop: unsupported global action %s", a)
	}
	return keyTap(keys)
}

// LaunchPackage starts the desktop entry with the given id.
func (d *Desktop) LaunchPackage(ctx context.Context, pkg string) error {
	cmd := exec.CommandContext(ctx, "gtk-launch", pkg)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("desktop: launching %s: %w", pkg, err)
	}
	return nil
}

func (d *Desktop) InstalledApps(ctx context.Context) ([]device.App, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return scanApplications(applicationDirs()), nil
}

func (d *Desktop) Close() error {
	if d.ocr != nil {
		d.ocr.Close()
	}
	if d.xu != nil {
		d.xu.Conn().Close()
	}
	return nil
}
