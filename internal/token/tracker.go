package token

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Usage is a point-in-time view of the tracker.
type Usage struct {
	Prompt     int            `json:"prompt"`
	Completion int            `json:"completion"`
	Total      int            `json:"total"`
	PerSecond  float64        `json:"perSecond"`
	ByModel    map[string]int `json:"byModel,omitempty"`
}

// Tracker accumulates token usage for the lifetime of the process.
type Tracker struct {
	mu         sync.Mutex
	prompt     int
	completion int
	byModel    map[string]int
	since      time.Time
	now        func() time.Time
	onUpdate   []func(Usage)
	logger     *zap.Logger
}

func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		byModel: make(map[string]int),
		now:     time.Now,
		logger:  logger.Named("tokens"),
	}
	t.since = t.now()
	return t
}

// OnUpdate registers fn to be called, outside the lock, after every change.
func (t *Tracker) OnUpdate(fn func(Usage)) {
	t.mu.Lock()
	t.onUpdate = append(t.onUpdate, fn)
	t.mu.Unlock()
}

// Record adds the usage of one model call.
func (t *Tracker) Record(model string, promptTokens, completionTokens int) {
	t.mu.Lock()
	t.prompt += max(promptTokens, 0)
	t.completion += max(completionTokens, 0)
	t.byModel[model] += max(promptTokens, 0) + max(completionTokens, 0)
	usage := t.snapshotLocked()
	hooks := slices.Clone(t.onUpdate)
	t.mu.Unlock()

	t.logger.Debug("Token usage updated",
		zap.String("model", model),
		zap.Int("added", promptTokens+completionTokens),
		zap.Int("total", usage.Total))
	for _, fn := range hooks {
		fn(usage)
	}
}

// Reset zeroes the counters and restarts the rate window.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.prompt, t.completion = 0, 0
	t.byModel = make(map[string]int)
	t.since = t.now()
	usage := t.snapshotLocked()
	hooks := slices.Clone(t.onUpdate)
	t.mu.Unlock()

	t.logger.Debug("Token counter reset")
	for _, fn := range hooks {
		fn(usage)
	}
}

func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prompt + t.completion
}

func (t *Tracker) Snapshot() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Usage {
	u := Usage{
		Prompt:     t.prompt,
		Completion: t.completion,
		Total:      t.prompt + t.completion,
		ByModel:    make(map[string]int, len(t.byModel)),
	}
	for k, v := range t.byModel {
		u.ByModel[k] = v
	}
	if elapsed := t.now().Sub(t.since).Seconds(); elapsed > 0 {
		u.PerSecond = float64(u.Total) / elapsed
	}
	return u
}

// CreateTokenUpdateJSON creates the websocket message announcing usage.
func CreateTokenUpdateJSON(u Usage) ([]byte, error) {
	update := map[string]interface{}{
		"type":       "tokenUpdate",
		"total":      u.Total,
		"prompt":     u.Prompt,
		"completion": u.Completion,
		"perSecond":  u.PerSecond,
	}
	return json.Marshal(update)
}
