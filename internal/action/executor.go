package action

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"droid-pilot/internal/device"
	"droid-pilot/internal/screen"
)

const (
	tapDuration       = 100 * time.Millisecond
	longPressDuration = 1000 * time.Millisecond
	scrollDuration    = 300 * time.Millisecond
	swipeDuration     = 500 * time.Millisecond

	// fraction of the screen axis a stroke covers
	scrollSpan = 0.25
	swipeSpan  = 0.5
)

var (
	ErrUnknownElement = errors.New("unknown element id")
	ErrNoMatch        = errors.New("no element matches label")
	ErrNoEditable     = errors.New("no editable field on screen")
	ErrUnresolvedApp  = errors.New("app could not be resolved")
	ErrTerminalIntent = errors.New("terminal intents are not executable")
	ErrUnsupported    = errors.New("unsupported action")
)

// ScreenSizer reports the current screen dimensions in device pixels.
type ScreenSizer interface {
	ScreenSize() (width, height int)
}

type Options struct {
	// Aliases maps lower-case app names to package identifiers.
	Aliases map[string]string
	// WaitDuration is how long a Wait intent pauses.
	WaitDuration time.Duration
	// MaxDepth caps live-tree searches.
	MaxDepth int
}

type handlerFunc func(e *Executor, ctx context.Context, snap *screen.Snapshot, in Intent) error

var handlers = map[Kind]handlerFunc{
	KindTapElement: (*Executor).tapElement,
	KindTapPoint:   (*Executor).tapPoint,
	KindTapByLabel: (*Executor).tapByLabel,
	KindLongPress:  (*Executor).longPress,
	KindTypeText:   (*Executor).typeText,
	KindScroll:     (*Executor).scroll,
	KindSwipe:      (*Executor).swipe,
	KindBack:       (*Executor).back,
	KindHome:       (*Executor).home,
	KindRecents:    (*Executor).recents,
	KindOpenApp:    (*Executor).openApp,
	KindWait:       (*Executor).wait,
}

// Executor turns intents into device input. It never retries; callers decide
// what a failure means.
type Executor struct {
	acc      device.Accessibility
	screen   ScreenSizer
	aliases  map[string]string
	waitFor  time.Duration
	maxDepth int
	logger   *zap.Logger

	// one gesture in flight at a time
	mu sync.Mutex
}

func NewExecutor(acc device.Accessibility, sizer ScreenSizer, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WaitDuration <= 0 {
		opts.WaitDuration = 1500 * time.Millisecond
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 12
	}
	aliases := make(map[string]string, len(opts.Aliases))
	for k, v := range opts.Aliases {
		aliases[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Executor{
		acc:      acc,
		screen:   sizer,
		aliases:  aliases,
		waitFor:  opts.WaitDuration,
		maxDepth: opts.MaxDepth,
		logger:   logger.Named("executor"),
	}
}

// Execute performs in against the device. snap must be the snapshot the
// intent's element ids were issued from. A nil error means success.
func (e *Executor) Execute(ctx context.Context, snap *screen.Snapshot, in Intent) error {
	if in.Kind.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalIntent, in.Kind)
	}
	handler, ok := handlers[in.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupported, in.Kind)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	err := handler(e, ctx, snap, in)
	e.logger.Debug("Executed action",
		zap.String("kind", string(in.Kind)),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))
	return err
}

func (e *Executor) tapElement(ctx context.Context, snap *screen.Snapshot, in Intent) error {
	el, err := snap.Lookup(in.ElementID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownElement, err)
	}
	return e.activate(ctx, el.Node(), el.Bounds)
}

func (e *Executor) tapByLabel(ctx context.Context, _ *screen.Snapshot, in Intent) error {
	root, err := e.acc.Root(ctx)
	if err != nil {
		return fmt.Errorf("reading ui tree: %w", err)
	}
	node := screen.FindByLabel(root, in.Text, e.maxDepth)
	if node == nil {
		return fmt.Errorf("%w: %q", ErrNoMatch, in.Text)
	}
	return e.activate(ctx, node, node.Bounds)
}

// activate runs the fallback chain: native click on the node, then on its
// nearest clickable ancestor, then a synthetic tap at the center of bounds.
func (e *Executor) activate(ctx context.Context, node *screen.Node, bounds image.Rectangle) error {
	if node != nil && node.Clickable {
		err := e.acc.Click(ctx, node)
		if err == nil {
			return nil
		}
		e.logger.Debug("Native click failed, trying ancestor", zap.Error(err))
	}

	if node != nil {
		if anc := node.ClickableAncestor(); anc != nil {
			err := e.acc.Click(ctx, anc)
			if err == nil {
				return nil
			}
			e.logger.Debug("Ancestor click failed, tapping center", zap.Error(err))
		}
	}

	center := image.Pt((bounds.Min.X+bounds.Max.X)/2, (bounds.Min.Y+bounds.Max.Y)/2)
	return e.acc.Dispatch(ctx, device.Tap(center, tapDuration))
}

func (e *Executor) tapPoint(ctx context.Context, _ *screen.Snapshot, in Intent) error {
	return e.acc.Dispatch(ctx, device.Tap(image.Pt(in.X, in.Y), tapDuration))
}

func (e *Executor) longPress(ctx context.Context, _ *screen.Snapshot, in Intent) error {
	return e.acc.Dispatch(ctx, device.Tap(image.Pt(in.X, in.Y), longPressDuration))
}

func (e *Executor) typeText(ctx context.Context, _ *screen.Snapshot, in Intent) error {
	root, err := e.acc.Root(ctx)
	if err != nil {
		return fmt.Errorf("reading ui tree: %w", err)
	}
	field := screen.FindEditable(root, e.maxDepth)
	if field == nil {
		return ErrNoEditable
	}
	return e.acc.SetText(ctx, field, in.Text)
}

func (e *Executor) scroll(ctx context.Context, _ *screen.Snapshot, in Intent) error {
	// Scrolling toward content below means dragging the finger up.
	finger := map[string]string{"down": "up", "up": "down", "left": "right", "right": "left"}
	dir := normalizeDirection(in.Direction, "down")
	return e.acc.Dispatch(ctx, e.stroke(finger[dir], scrollSpan, scrollDuration))
}

func (e *Executor) swipe(ctx context.Context, _ *screen.Snapshot, in Intent) error {
	d := swipeDuration
	if in.DurationMs > 0 {
		d = time.Duration(in.DurationMs) * time.Millisecond
	}
	return e.acc.Dispatch(ctx, e.stroke(normalizeDirection(in.Direction, "up"), swipeSpan, d))
}

// stroke builds a straight finger movement through the screen center in the
// given direction, covering span of the axis.
func (e *Executor) stroke(direction string, span float64, d time.Duration) device.Gesture {
	w, h := e.screen.ScreenSize()
	cx, cy := w/2, h/2
	dx := int(float64(w) * span / 2)
	dy := int(float64(h) * span / 2)

	g := device.Gesture{Duration: d}
	switch direction {
	case "up":
		g.Start, g.End = image.Pt(cx, cy+dy), image.Pt(cx, cy-dy)
	case "down":
		g.Start, g.End = image.Pt(cx, cy-dy), image.Pt(cx, cy+dy)
	case "left":
		g.Start, g.End = image.Pt(cx+dx, cy), image.Pt(cx-dx, cy)
	case "right":
		g.Start, g.End = image.Pt(cx-dx, cy), image.Pt(cx+dx, cy)
	}
	return g
}

func normalizeDirection(dir, fallback string) string {
	switch d := strings.ToLower(strings.TrimSpace(dir)); d {
	case "up", "down", "left", "right":
		return d
	}
	return fallback
}

func (e *Executor) back(ctx context.Context, _ *screen.Snapshot, _ Intent) error {
	return e.acc.GlobalAction(ctx, device.GlobalBack)
}

func (e *Executor) home(ctx context.Context, _ *screen.Snapshot, _ Intent) error {
	return e.acc.GlobalAction(ctx, device.GlobalHome)
}

func (e *Executor) recents(ctx context.Context, _ *screen.Snapshot, _ Intent) error {
	return e.acc.GlobalAction(ctx, device.GlobalRecents)
}

func (e *Executor) openApp(ctx context.Context, _ *screen.Snapshot, in Intent) error {
	name := in.AppName
	if name == "" {
		name = in.Text
	}
	pkg, err := e.ResolvePackage(ctx, name)
	if err != nil {
		return err
	}
	e.logger.Info("Launching app", zap.String("name", name), zap.String("package", pkg))
	return e.acc.LaunchPackage(ctx, pkg)
}

// ResolvePackage maps an app name to a package via the alias table, then the
// installed apps' labels, then their package ids or last package segment,
// and only then a label substring.
func (e *Executor) ResolvePackage(ctx context.Context, name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnresolvedApp)
	}
	if pkg, ok := e.aliases[key]; ok {
		return pkg, nil
	}

	apps, err := e.acc.InstalledApps(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: listing installed apps: %v", ErrUnresolvedApp, err)
	}
	for _, app := range apps {
		if strings.EqualFold(app.Label, key) {
			return app.Package, nil
		}
	}
	for _, app := range apps {
		pkg := strings.ToLower(app.Package)
		if pkg == key || strings.HasSuffix(pkg, "."+key) {
			return app.Package, nil
		}
	}
	for _, app := range apps {
		if app.Label != "" && strings.Contains(strings.ToLower(app.Label), key) {
			return app.Package, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnresolvedApp, name)
}

func (e *Executor) wait(ctx context.Context, _ *screen.Snapshot, _ Intent) error {
	t := time.NewTimer(e.waitFor)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
