package action_test

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"droid-pilot/internal/action"
	"droid-pilot/internal/config"
	"droid-pilot/internal/device"
	"droid-pilot/internal/mocks"
	"droid-pilot/internal/screen"
)

type fixedSize struct{ w, h int }

func (f fixedSize) ScreenSize() (int, int) { return f.w, f.h }

func newExecutor(acc *mocks.MockAccessibility) *action.Executor {
	return action.NewExecutor(acc, fixedSize{1000, 2000}, action.Options{
		Aliases:      map[string]string{"Uber": "com.ubercab"},
		WaitDuration: 10 * time.Millisecond,
	}, nil)
}

func snapshotOf(root *screen.Node) *screen.Snapshot {
	ex := screen.NewExtractor(config.ExtractorConfig{MaxDepth: 12, MinSize: 5, CharBudget: 3000, LabelLimit: 30}, nil)
	return ex.Extract(root)
}

func TestExecute_TapElementNativeClick(t *testing.T) {
	acc := new(mocks.MockAccessibility)
	root := &screen.Node{Bounds: image.Rect(0, 0, 1000, 2000)}
	btn := root.Append(&screen.Node{Text: "OK", Bounds: image.Rect(100, 100, 300, 200), Clickable: true})
	acc.On("Click", mock.Anything, btn).Return(nil).Once()

	err := newExecutor(acc).Execute(context.Background(), snapshotOf(root), action.Intent{Kind: action.KindTapElement, ElementID: 1})

	require.NoError(t, err)
	acc.AssertExpectations(t)
	acc.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestExecute_TapElementFallsBackToAncestor(t *testing.T) {
	acc := new(mocks.MockAccessibility)
	root := &screen.Node{Bounds: image.Rect(0, 0, 1000, 2000)}
	row := root.Append(&screen.Node{Bounds: image.Rect(0, 100, 1000, 300), Clickable: true})
	// the row is element 1, the icon inside it element 2
	icon := row.Append(&screen.Node{Description: "Star", Bounds: image.Rect(10, 110, 90, 190), Clickable: true})
	acc.On("Click", mock.Anything, icon).Return(errors.New("not clickable right now")).Once()
	acc.On("Click", mock.Anything, row).Return(nil).Once()

	err := newExecutor(acc).Execute(context.Background(), snapshotOf(root), action.Intent{Kind: action.KindTapElement, ElementID: 2})

	require.NoError(t, err)
	acc.AssertExpectations(t)
}

func TestExecute_TapElementFallsBackToCenterTap(t *testing.T) {
	acc := new(mocks.MockAccessibility)
	root := &screen.Node{Bounds: image.Rect(0, 0, 1000, 2000)}
	field := root.Append(&screen.Node{Bounds: image.Rect(100, 400, 500, 500), LongClickable: true})
	_ = field
	acc.On("Dispatch", mock.Anything, device.Tap(image.Pt(300, 450), 100*time.Millisecond)).Return(nil).Once()

	err := newExecutor(acc).Execute(context.Background(), snapshotOf(root), action.Intent{Kind: action.KindTapElement, ElementID: 1})

	require.NoError(t, err)
	acc.AssertExpectations(t)
	acc.AssertNotCalled(t, "Click", mock.Anything, mock.Anything)
}

func TestExecute_TapElementUnknownIDFails(t *testing.T) {
	acc := new(mocks.MockAccessibility)
	root := &screen.Node{Bounds: image.Rect(0, 0, 1000, 2000)}
	root.Append(&screen.Node{Text: "OK", Bounds: image.Rect(100, 100, 300, 200), Clickable: true})
	snap := snapshotOf(root)
	ex := newExecutor(acc)

	for _, id := range []int{0, 2, 42} {
		err := ex.Execute(context.Background(), snap, action.Intent{Kind: action.KindTapElement, ElementID: id})
		assert.ErrorIs(t, err, action.ErrUnknownElement, "id %d", id)
	}

	snap.Release()
	err := ex.Execute(context.Background(), snap, action.Intent{Kind: action.KindTapElement, ElementID: 1})
	assert.ErrorIs(t, err, action.ErrUnknownElement, "ids from a released snapshot are stale")

	acc.AssertNotCalled(t, "Click", mock.Anything, mock.Anything)
	acc.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestExecute_TapByLabel(t *testing.T) {
	acc := new(mocks.MockAccessibility)
	root := &screen.Node{Bounds: image.Rect(0, 0, 1000, 2000)}
	row := root.Append(&screen.Node{Bounds: image.Rect(0, 0, 1000, 200), Clickable: true})
	label := row.Append(&screen.Node{Text: "Wi-Fi settings", Bounds: image.Rect(10, 10, 400, 90)})
	_ = label
	acc.On("Root", mock.Anything).Return(root, nil)
	acc.On("Click", mock.Anything, row).Return(nil).Once()

	err := newExecutor(acc).Execute(context.Background(), nil, action.Intent{Kind: action.KindTapByLabel, Text: "wi-fi"})

	require.NoError(t, err)
	acc.AssertExpectations(t)
}

func TestExecute_TapByLabelNoMatch(t *testing.T) {
	acc := new(mocks.MockAccessibility)
	acc.On("Root", mock.Anything).Return(&screen.Node{}, nil)

	err := newExecutor(acc).Execute(context.Background(), nil, action.Intent{Kind: action.KindTapByLabel, Text: "Checkout"})

	assert.ErrorIs(t, err, action.ErrNoMatch)
}

func TestExecute_PointGestures(t *testing.T) {
	acc := new(mocks.MockAccessibility)
	acc.On("Dispatch", mock.Anything, device.Tap(image.Pt(10, 20), 100*time.Millisecond)).Return(nil).Once()
	acc.On("Dispatch", mock.Anything, device.Tap(image.Pt(30, 40), time.Second)).Return(nil).Once()
	ex := newExecutor(acc)

	require.NoError(t, ex.Execute(context.Background(), nil, action.Intent{Kind: action.KindTapPoint, X: 10, Y: 20}))
	require.NoError(t, ex.Execute(context.Background(), nil, action.Intent{Kind: action.KindLongPress, X: 30, Y: 40}))
	acc.AssertExpectations(t)
}

func TestExecute_DispatchRejected(t *testing.T) {
	acc := new(mocks.MockAccessibility)
	acc.On("Dispatch", mock.Anything, mock.Anything).Return(device.ErrUnavailable)

	err := newExecutor(acc).Execute(context.Background(), nil, action.Intent{Kind: action.KindTapPoint, X: 1, Y: 1})

	assert.ErrorIs(t, err, device.ErrUnavailable)
}

func TestExecute_TypeText(t *testing.T) {
	acc := new(mocks.MockAccessibility)
	root := &screen.Node{}
	root.Append(&screen.Node{Editable: true})
	focused := root.Append(&screen.Node{Editable: true, Focused: true})
	acc.On("Root", mock.Anything).Return(root, nil)
	acc.On("SetText", mock.Anything, focused, "pizza near me").Return(nil).Once()

	err := newExecutor(acc).Execute(context.Background(), nil, action.Intent{Kind: action.KindTypeText, Text: "pizza near me"})

	require.NoError(t, err)
	acc.AssertExpectations(t)
}

func TestExecute_TypeTextWithoutField(t *testing.T) {
	acc := new(mocks.MockAccessibility)
	acc.On("Root", mock.Anything).Return(&screen.Node{Text: "static"}, nil)

	err := newExecutor(acc).Execute(context.Background(), nil, action.Intent{Kind: action.KindTypeText, Text: "x"})

	assert.ErrorIs(t, err, action.ErrNoEditable)
}

func TestExecute_ScrollAndSwipe(t *testing.T) {
	tests := []struct {
		name   string
		intent action.Intent
		want   device.Gesture
	}{
		{
			name:   "scroll down drags finger up",
			intent: action.Intent{Kind: action.KindScroll, Direction: "down"},
			want:   device.Gesture{Start: image.Pt(500, 1250), End: image.Pt(500, 750), Duration: 300 * time.Millisecond},
		},
		{
			name:   "unknown scroll direction defaults to down",
			intent: action.Intent{Kind: action.KindScroll, Direction: "sideways"},
			want:   device.Gesture{Start: image.Pt(500, 1250), End: image.Pt(500, 750), Duration: 300 * time.Millisecond},
		},
		{
			name:   "scroll right drags finger left",
			intent: action.Intent{Kind: action.KindScroll, Direction: "RIGHT"},
			want:   device.Gesture{Start: image.Pt(625, 1000), End: image.Pt(375, 1000), Duration: 300 * time.Millisecond},
		},
		{
			name:   "unknown swipe direction defaults to up",
			intent: action.Intent{Kind: action.KindSwipe},
			want:   device.Gesture{Start: image.Pt(500, 1500), End: image.Pt(500, 500), Duration: 500 * time.Millisecond},
		},
		{
			name:   "swipe honours duration",
			intent: action.Intent{Kind: action.KindSwipe, Direction: "left", DurationMs: 800},
			want:   device.Gesture{Start: image.Pt(750, 1000), End: image.Pt(250, 1000), Duration: 800 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := new(mocks.MockAccessibility)
			acc.On("Dispatch", mock.Anything, tt.want).Return(nil).Once()

			require.NoError(t, newExecutor(acc).Execute(context.Background(), nil, tt.intent))
			acc.AssertExpectations(t)
		})
	}
}

func TestExecute_GlobalActions(t *testing.T) {
	acc := new(mocks.MockAccessibility)
	acc.On("GlobalAction", mock.Anything, device.GlobalBack).Return(nil).Once()
	acc.On("GlobalAction", mock.Anything, device.GlobalHome).Return(nil).Once()
	acc.On("GlobalAction", mock.Anything, device.GlobalRecents).Return(nil).Once()
	ex := newExecutor(acc)

	for _, k := range []action.Kind{action.KindBack, action.KindHome, action.KindRecents} {
		require.NoError(t, ex.Execute(context.Background(), nil, action.Intent{Kind: k}))
	}
	acc.AssertExpectations(t)
}

func TestExecute_OpenApp(t *testing.T) {
	apps := []device.App{
		{Package: "com.spotify.music", Label: "Spotify"},
		{Package: "com.example.notes", Label: "My Notes"},
		{Package: "com.example.headphones", Label: "Headphones"},
		{Package: "com.android.phone", Label: "Phone Services"},
	}

	tests := []struct {
		name    string
		app     string
		wantPkg string
		wantErr error
	}{
		{name: "alias table", app: "uber", wantPkg: "com.ubercab"},
		{name: "label exact", app: "spotify", wantPkg: "com.spotify.music"},
		{name: "label substring", app: "my", wantPkg: "com.example.notes"},
		{name: "package id", app: "com.example.notes", wantPkg: "com.example.notes"},
		{name: "package segment before label substring", app: "phone", wantPkg: "com.android.phone"},
		{name: "unresolved", app: "Nonexistent", wantErr: action.ErrUnresolvedApp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := new(mocks.MockAccessibility)
			acc.On("InstalledApps", mock.Anything).Return(apps, nil).Maybe()
			if tt.wantPkg != "" {
				acc.On("LaunchPackage", mock.Anything, tt.wantPkg).Return(nil).Once()
			}

			err := newExecutor(acc).Execute(context.Background(), nil, action.Intent{Kind: action.KindOpenApp, AppName: tt.app})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				acc.AssertNotCalled(t, "LaunchPackage", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			acc.AssertExpectations(t)
		})
	}
}

func TestExecute_WaitHonoursCancellation(t *testing.T) {
	acc := new(mocks.MockAccessibility)
	ex := action.NewExecutor(acc, fixedSize{1000, 2000}, action.Options{WaitDuration: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ex.Execute(ctx, nil, action.Intent{Kind: action.KindWait})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_RejectsTerminalAndUnknownKinds(t *testing.T) {
	acc := new(mocks.MockAccessibility)
	ex := newExecutor(acc)

	assert.ErrorIs(t, ex.Execute(context.Background(), nil, action.Intent{Kind: action.KindTaskComplete}), action.ErrTerminalIntent)
	assert.ErrorIs(t, ex.Execute(context.Background(), nil, action.Intent{Kind: action.KindTaskFailed}), action.ErrTerminalIntent)
	assert.ErrorIs(t, ex.Execute(context.Background(), nil, action.Intent{Kind: "DANCE"}), action.ErrUnsupported)
}
