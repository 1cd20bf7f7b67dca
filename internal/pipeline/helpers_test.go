package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ShayCichocki/stagehand/internal/detect"
	"github.com/ShayCichocki/stagehand/internal/selector"
	"github.com/ShayCichocki/stagehand/internal/state"
	"github.com/ShayCichocki/stagehand/pkg/models"
)

// stubConfigs serves one default config per listed stage.
type stubConfigs map[models.Stage]*models.AgentConfig

func newStubConfigs(stages ...models.Stage) stubConfigs {
	s := stubConfigs{}
	for _, st := range stages {
		s[st] = &models.AgentConfig{
			ID:     string(st) + "-agent",
			Name:   st.DisplayName() + " Agent",
			State:  st,
			Prompt: "Work on {task.title} in " + string(st),
		}
	}
	return s
}

func (s stubConfigs) HasDefault(stage models.Stage) bool {
	_, ok := s[stage]
	return ok
}

func (s stubConfigs) Select(ctx context.Context, stage models.Stage, repoPath string, cached detect.Context) (*models.ResolvedAgentConfig, detect.Context, error) {
	cfg, ok := s[stage]
	if !ok {
		return nil, cached, fmt.Errorf("%w: %s", selector.ErrNoDefaultConfig, stage)
	}
	found := cached
	if found.Language == "" {
		found.Language = "go"
	}
	return &models.ResolvedAgentConfig{
		Config:       cfg,
		Prompt:       cfg.Prompt,
		MaxTurns:     cfg.EffectiveMaxTurns(),
		ArtifactType: cfg.ExpectedArtifactType(),
	}, found, nil
}

// fakeRunner answers runs with respond and records every request.
type fakeRunner struct {
	mu       sync.Mutex
	requests []RunRequest
	respond  func(ctx context.Context, req RunRequest) (RunResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return RunResult{Output: "done"}, nil
	}
	return respond(ctx, req)
}

func (f *fakeRunner) Requests() []RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RunRequest(nil), f.requests...)
}

func outputRunner(output string) *fakeRunner {
	return &fakeRunner{respond: func(context.Context, RunRequest) (RunResult, error) {
		return RunResult{Output: output}, nil
	}}
}

// blockingRunner runs until its context is cancelled or release is closed.
func blockingRunner(release <-chan struct{}) *fakeRunner {
	return &fakeRunner{respond: func(ctx context.Context, _ RunRequest) (RunResult, error) {
		select {
		case <-ctx.Done():
			return RunResult{}, ctx.Err()
		case <-release:
			return RunResult{Output: "## Plan\nfinished"}, nil
		}
	}}
}

// recorder collects events and optionally reacts to them.
type recorder struct {
	mu     sync.Mutex
	events []Event
	hook   func(Event)
}

func (r *recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return nil
}

func (r *recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) Count(t EventType) int {
	n := 0
	for _, got := range r.Types() {
		if got == t {
			n++
		}
	}
	return n
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// steppingClock returns a clock that advances one second per call so that
// creation order is always observable.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type harness struct {
	engine *Engine
	db     *state.DB
	events *recorder
	runner *fakeRunner
}

func newHarness(t *testing.T, runner *fakeRunner, configs stubConfigs, opts ...Option) *harness {
	t.Helper()

	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	events := &recorder{}
	base := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithNotifier(events),
		WithClock(steppingClock(time.Now())),
		WithRepoPath(t.TempDir()),
	}
	e := New(db, configs, configs, runner, append(base, opts...)...)
	t.Cleanup(e.Shutdown)

	return &harness{engine: e, db: db, events: events, runner: runner}
}

func (h *harness) task(t *testing.T, title string, stage models.Stage, priority int) *models.Task {
	t.Helper()
	task := &models.Task{Title: title, State: stage, Priority: priority}
	require.NoError(t, h.engine.CreateTask(context.Background(), task))
	return task
}

func (h *harness) reload(t *testing.T, ref models.ItemRef) models.Item {
	t.Helper()
	item, err := h.engine.Item(context.Background(), ref)
	require.NoError(t, err)
	return item
}

func (h *harness) runToCompletion(t *testing.T, ref models.ItemRef) string {
	t.Helper()
	runID, err := h.engine.StartAgent(context.Background(), ref)
	require.NoError(t, err)
	h.engine.Wait()
	return runID
}
