package mocks

import (
	"context"
	"image"

	"github.com/stretchr/testify/mock"

	"droid-pilot/internal/action"
	"droid-pilot/internal/device"
	"droid-pilot/internal/llm"
	"droid-pilot/internal/screen"
)

// -- Device Mocks --

// MockCapturer mocks device.Capturer.
type MockCapturer struct {
	mock.Mock
}

func (m *MockCapturer) Available() bool {
	return m.Called().Bool(0)
}

func (m *MockCapturer) CaptureFrame(ctx context.Context) (image.Image, error) {
	args := m.Called(ctx)
	img, _ := args.Get(0).(image.Image)
	return img, args.Error(1)
}

func (m *MockCapturer) ScreenSize() (int, int) {
	args := m.Called()
	return args.Int(0), args.Int(1)
}

// MockAccessibility mocks device.Accessibility.
type MockAccessibility struct {
	mock.Mock
}

func (m *MockAccessibility) Available() bool {
	return m.Called().Bool(0)
}

func (m *MockAccessibility) Root(ctx context.Context) (*screen.Node, error) {
	args := m.Called(ctx)
	node, _ := args.Get(0).(*screen.Node)
	return node, args.Error(1)
}

func (m *MockAccessibility) Click(ctx context.Context, node *screen.Node) error {
	return m.Called(ctx, node).Error(0)
}

func (m *MockAccessibility) Dispatch(ctx context.Context, g device.Gesture) error {
	return m.Called(ctx, g).Error(0)
}

func (m *MockAccessibility) SetText(ctx context.Context, node *screen.Node, text string) error {
	return m.Called(ctx, node, text).Error(0)
}

func (m *MockAccessibility) GlobalAction(ctx context.Context, a device.GlobalAction) error {
	return m.Called(ctx, a).Error(0)
}

func (m *MockAccessibility) LaunchPackage(ctx context.Context, pkg string) error {
	return m.Called(ctx, pkg).Error(0)
}

func (m *MockAccessibility) InstalledApps(ctx context.Context) ([]device.App, error) {
	args := m.Called(ctx)
	apps, _ := args.Get(0).([]device.App)
	return apps, args.Error(1)
}

// -- Agent Mocks --

// MockDecider mocks agent.Decider.
type MockDecider struct {
	mock.Mock
}

func (m *MockDecider) Decide(ctx context.Context, in llm.DecisionInput) (llm.Decision, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(llm.Decision), args.Error(1)
}

// MockExecutor mocks agent.Executor.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, snap *screen.Snapshot, in action.Intent) error {
	return m.Called(ctx, snap, in).Error(0)
}
