// Package adb drives an Android device over the Android Debug Bridge.
package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"droid-pilot/internal/config"
	"droid-pilot/internal/device"
	"droid-pilot/internal/screen"
)

const dumpPath = "/sdcard/window_dump.xml"

const (
	keyBack    = 4
	keyHome    = 3
	keyRecents = 187
	keyMoveEnd = 123
	keyDelete  = 67
)

var sizePattern = regexp.MustCompile(`(Physical|Override) size:\s*(\d+)x(\d+)`)

// Device implements device.Device for one adb-connected phone.
type Device struct {
	run    Runner
	logger *zap.Logger

	mu     sync.Mutex
	width  int
	height int
}

var _ device.Device = (*Device)(nil)

// New returns a device that shells out to the adb binary.
func New(cfg config.DeviceConfig, logger *zap.Logger) *Device {
	path := cfg.ADBPath
	if path == "" {
		path = "adb"
	}
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return NewWithRunner(&execRunner{path: path, serial: cfg.Serial, timeout: timeout}, logger)
}

// NewWithRunner uses r for every adb invocation.
func NewWithRunner(r Runner, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Device{run: r, logger: logger.Named("adb")}
}

func (d *Device) shell(ctx context.Context, args ...string) ([]byte, error) {
	return d.run.Run(ctx, append([]string{"shell"}, args...)...)
}

// Available reports whether adb sees the device as online.
func (d *Device) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := d.run.Run(ctx, "get-state")
	if err != nil {
		d.logger.Debug("Device not reachable", zap.Error(err))
		return false
	}
	return strings.TrimSpace(string(out)) == "device"
}

func (d *Device) CaptureFrame(ctx context.Context) (image.Image, error) {
	out, err := d.run.Run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, device.ErrNoFrame
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding screencap: %v", device.ErrNoFrame, err)
	}

	d.mu.Lock()
	if d.width == 0 {
		d.width, d.height = img.Bounds().Dx(), img.Bounds().Dy()
	}
	d.mu.Unlock()
	return img, nil
}

// ScreenSize returns the display size, preferring an override set with
// "wm size". The value is cached after the first successful query.
func (d *Device) ScreenSize() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.width > 0 {
		return d.width, d.height
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := d.shell(ctx, "wm", "size")
	if err != nil {
		d.logger.Warn("Failed to query screen size", zap.Error(err))
		return 0, 0
	}
	w, h, ok := parseWMSize(string(out))
	if ok {
		d.width, d.height = w, h
	}
	return w, h
}

func parseWMSize(out string) (int, int, bool) {
	var w, h int
	found := false
	for _, m := range sizePattern.FindAllStringSubmatch(out, -1) {
		mw, _ := strconv.Atoi(m[2])
		mh, _ := strconv.Atoi(m[3])
		if !found || m[1] == "Override" {
			w, h, found = mw, mh, true
		}
	}
	return w, h, found
}

func (d *Device) Root(ctx context.Context) (*screen.Node, error) {
	if _, err := d.shell(ctx, "uiautomator", "dump", dumpPath); err != nil {
		return nil, err
	}
	out, err := d.run.Run(ctx, "exec-out", "cat", dumpPath)
	if err != nil {
		return nil, err
	}
	return ParseDump(out)
}

// Click taps the center of node; adb has no way to fire a native click.
func (d *Device) Click(ctx context.Context, node *screen.Node) error {
	if node == nil {
		return errors.New("adb: nil node")
	}
	c := node.Center()
	_, err := d.shell(ctx, "input", "tap", strconv.Itoa(c.X), strconv.Itoa(c.Y))
	return err
}

func (d *Device) Dispatch(ctx context.Context, g device.Gesture) error {
	ms := strconv.FormatInt(g.Duration.Milliseconds(), 10)
	if g.IsTap() && g.Duration <= 100*time.Millisecond {
		_, err := d.shell(ctx, "input", "tap", strconv.Itoa(g.Start.X), strconv.Itoa(g.Start.Y))
		return err
	}
	_, err := d.shell(ctx, "input", "swipe",
		strconv.Itoa(g.Start.X), strconv.Itoa(g.Start.Y),
		strconv.Itoa(g.End.X), strconv.Itoa(g.End.Y), ms)
	return err
}

// SetText focuses node, clears what it shows and types text.
func (d *Device) SetText(ctx context.Context, node *screen.Node, text string) error {
	if node != nil && !node.Focused {
		if err := d.Click(ctx, node); err != nil {
			return err
		}
	}
	if node != nil && node.Text != "" {
		args := []string{"input", "keyevent", strconv.Itoa(keyMoveEnd)}
		for range []rune(node.Text) {
			args = append(args, strconv.Itoa(keyDelete))
		}
		if _, err := d.shell(ctx, args...); err != nil {
			return err
		}
	}
	if text == "" {
		return nil
	}
	_, err := d.shell(ctx, "input", "text", escapeInputText(text))
	return err
}

// escapeInputText quotes text for "input text", which runs through the
// device shell and treats %s as a space.
func escapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case ' ':
			b.WriteString("%s")
		case '\\', '"', '\'', '`', '$', '&', '|', ';', '<', '>', '(', ')', '*', '~', '#', '!', '?', '%', '[', ']', '{', '}':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (d *Device) GlobalAction(ctx context.Context, a device.GlobalAction) error {
	var code int
	switch a {
	case device.GlobalBack:
		code = keyBack
	case device.GlobalHome:
		code = keyHome
	case device.GlobalRecents:
		code = keyRecents
	default:
		return fmt.Errorf("adb: unsupported global action %s", a)
	}
	_, err := d.shell(ctx, "input", "keyevent", strconv.Itoa(code))
	return err
}

func (d *Device) LaunchPackage(ctx context.Context, pkg string) error {
	out, err := d.shell(ctx, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return err
	}
	if strings.Contains(string(out), "No activities found") {
		return fmt.Errorf("adb: %s has no launcher activity", pkg)
	}
	return nil
}

// InstalledApps lists packages. pm does not expose display labels, so the
// last package segment stands in for one.
func (d *Device) InstalledApps(ctx context.Context) ([]device.App, error) {
	out, err := d.shell(ctx, "pm", "list", "packages")
	if err != nil {
		return nil, err
	}
	var apps []device.App
	for _, line := range strings.Split(string(out), "\n") {
		pkg, ok := strings.CutPrefix(strings.TrimSpace(line), "package:")
		if !ok || pkg == "" {
			continue
		}
		label := pkg
		if i := strings.LastIndex(pkg, "."); i >= 0 {
			label = pkg[i+1:]
		}
		apps = append(apps, device.App{Package: pkg, Label: label})
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Package < apps[j].Package })
	return apps, nil
}

func (d *Device) Close() error { return nil }
