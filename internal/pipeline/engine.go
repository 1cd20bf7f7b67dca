// Package pipeline drives work items and backlog items through their stage
// pipelines, dispatching one agent run at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/stagehand/internal/detect"
	"github.com/ShayCichocki/stagehand/internal/git"
	"github.com/ShayCichocki/stagehand/internal/selector"
	"github.com/ShayCichocki/stagehand/internal/state"
	"github.com/ShayCichocki/stagehand/pkg/models"
)

// DefaultConfidenceThreshold gates artifacts scoring below it.
const DefaultConfidenceThreshold = 0.7

// DefaultQuestionTimeout bounds how long a question stays pending when the
// caller gives no timeout.
const DefaultQuestionTimeout = 30 * time.Minute

// AgentSelector resolves the agent config for a stage.
type AgentSelector interface {
	Select(ctx context.Context, stage models.Stage, repoPath string, cached detect.Context) (*models.ResolvedAgentConfig, detect.Context, error)
}

// StageConfigs reports which stages have a default agent.
type StageConfigs interface {
	HasDefault(stage models.Stage) bool
}

// LeaseRecoverer finds and clears a lease left by a dead process.
type LeaseRecoverer interface {
	CheckForStale() (*state.StaleLease, error)
	Recover(stale *state.StaleLease, now time.Time) error
}

// RepoInspector snapshots the working tree so a rollback can record what
// the agent left behind.
type RepoInspector interface {
	Inspect(ctx context.Context, repoPath string) (*git.RepoState, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithConfidenceThreshold sets the gating threshold.
func WithConfidenceThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// WithQuestionTimeout sets the default question timeout.
func WithQuestionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.questionTimeout = d
		}
	}
}

// WithRepoPath sets the repository agents work in.
func WithRepoPath(path string) Option {
	return func(e *Engine) { e.repoPath = path }
}

// WithRecoverer sets the stale-lease recoverer used by Start.
func WithRecoverer(r LeaseRecoverer) Option {
	return func(e *Engine) { e.recoverer = r }
}

// WithRepoInspector records repository state on rollback.
func WithRepoInspector(i RepoInspector) Option {
	return func(e *Engine) { e.inspector = i }
}

// WithClock replaces time.Now (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine owns item state transitions and the single agent slot.
type Engine struct {
	store    state.Store
	selector AgentSelector
	stages   StageConfigs
	runner   AgentRunner
	notifier Notifier
	metrics  *Metrics
	logger   *zap.Logger

	threshold       float64
	questionTimeout time.Duration
	repoPath        string
	recoverer       LeaseRecoverer
	inspector       RepoInspector
	now             func() time.Time
	pid             int

	// mu serializes read-modify-write cycles on items and the run table.
	mu   sync.Mutex
	runs map[string]*activeRun

	waitMu  sync.Mutex
	waiters map[string]chan struct{}

	// wake nudges the scheduler after a run finishes.
	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates an engine.
func New(store state.Store, sel AgentSelector, stages StageConfigs, runner AgentRunner, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		selector:        sel,
		stages:          stages,
		runner:          runner,
		notifier:        nopNotifier{},
		logger:          zap.NewNop(),
		threshold:       DefaultConfidenceThreshold,
		questionTimeout: DefaultQuestionTimeout,
		now:             time.Now,
		pid:             os.Getpid(),
		runs:            make(map[string]*activeRun),
		waiters:         make(map[string]chan struct{}),
		wake:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	e.logger = e.logger.Named("pipeline")
	return e
}

// Start recovers a lease left behind by a process that died mid-run.
func (e *Engine) Start(ctx context.Context) error {
	if e.recoverer == nil {
		return nil
	}
	stale, err := e.recoverer.CheckForStale()
	if err != nil {
		return fmt.Errorf("check stale lease: %w", err)
	}
	if stale == nil {
		return nil
	}
	e.logger.Warn("recovering stale agent lease",
		zap.String("owner", stale.Lease.Owner.String()),
		zap.String("holder", stale.Lease.HolderID),
		zap.Int("pid", stale.Lease.PID),
		zap.Bool("item_found", stale.ItemFound))
	if err := e.recoverer.Recover(stale, e.now()); err != nil {
		return fmt.Errorf("recover stale lease: %w", err)
	}
	return nil
}

// Wait blocks until every dispatched run has finished its completion handling.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown cancels running agents and waits for their completion handling.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, r := range e.runs {
		r.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Wake returns a channel that receives after a run finishes.
func (e *Engine) Wake() <-chan struct{} {
	return e.wake
}

// CreateTask persists a new task in the backlog stage.
func (e *Engine) CreateTask(ctx context.Context, t *models.Task) error {
	if t.Title == "" {
		return validationError("create task", models.ItemRef{Kind: models.KindTask}, "title is required")
	}
	now := e.now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.State == "" {
		t.State = models.TaskPipeline[0]
	}
	if !models.TaskPipeline.Contains(t.State) {
		return validationError("create task", t.Ref(), "%q is not a task stage", t.State)
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = models.DefaultMaxRetries
	}
	t.CreatedAt, t.UpdatedAt = now, now
	if err := e.store.CreateTask(t); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// CreateBacklogItem persists a new backlog item in the new stage.
func (e *Engine) CreateBacklogItem(ctx context.Context, b *models.BacklogItem) error {
	if b.Title == "" {
		return validationError("create backlog item", models.ItemRef{Kind: models.KindBacklog}, "title is required")
	}
	now := e.now()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.State == "" {
		b.State = models.BacklogPipeline[0]
	}
	if !models.BacklogPipeline.Contains(b.State) {
		return validationError("create backlog item", b.Ref(), "%q is not a backlog stage", b.State)
	}
	if b.MaxRetries == 0 {
		b.MaxRetries = models.DefaultMaxRetries
	}
	b.CreatedAt, b.UpdatedAt = now, now
	if err := e.store.CreateBacklogItem(b); err != nil {
		return fmt.Errorf("create backlog item: %w", err)
	}
	return nil
}

// Item loads a task or backlog item.
func (e *Engine) Item(ctx context.Context, ref models.ItemRef) (models.Item, error) {
	return e.loadItem("get item", ref)
}

func (e *Engine) loadItem(op string, ref models.ItemRef) (models.Item, error) {
	var item models.Item
	switch ref.Kind {
	case models.KindTask:
		t, err := e.store.GetTask(ref.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: load task: %w", op, err)
		}
		if t != nil {
			item = t
		}
	case models.KindBacklog:
		b, err := e.store.GetBacklogItem(ref.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: load backlog item: %w", op, err)
		}
		if b != nil {
			item = b
		}
	default:
		return nil, validationError(op, ref, "unknown item kind %q", ref.Kind)
	}
	if item == nil {
		return nil, notFoundError(op, ref, "%s not found", ref)
	}
	return item, nil
}

func (e *Engine) saveItem(item models.Item) error {
	switch v := item.(type) {
	case *models.Task:
		return e.store.UpdateTask(v)
	case *models.BacklogItem:
		return e.store.UpdateBacklogItem(v)
	}
	return fmt.Errorf("unsupported item type %T", item)
}

func (e *Engine) notify(ctx context.Context, typ EventType, owner models.ItemRef, payload any) {
	ev := Event{Type: typ, Owner: owner, Timestamp: e.now(), Payload: payload}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.Warn("notify failed", zap.String("event", string(typ)), zap.String("owner", owner.String()), zap.Error(err))
	}
}

func detected(item models.Item) detect.Context {
	switch v := item.(type) {
	case *models.Task:
		return detect.Context{Language: v.DetectedLanguage, Framework: v.DetectedFramework}
	case *models.BacklogItem:
		return detect.Context{Language: v.DetectedLanguage, Framework: v.DetectedFramework}
	}
	return detect.Context{}
}

func setDetected(item models.Item, c detect.Context) {
	switch v := item.(type) {
	case *models.Task:
		v.DetectedLanguage, v.DetectedFramework = c.Language, c.Framework
	case *models.BacklogItem:
		v.DetectedLanguage, v.DetectedFramework = c.Language, c.Framework
	}
}

// SelectAgent resolves the agent config for the item's current stage and
// caches the detected language and framework on the item.
func (e *Engine) SelectAgent(ctx context.Context, ref models.ItemRef, repoPath string) (*models.ResolvedAgentConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, err := e.loadItem("select agent", ref)
	if err != nil {
		return nil, err
	}
	return e.selectLocked(ctx, item, repoPath)
}

func (e *Engine) selectLocked(ctx context.Context, item models.Item, repoPath string) (*models.ResolvedAgentConfig, error) {
	if repoPath == "" {
		repoPath = e.repoPath
	}
	cached := detected(item)
	resolved, found, err := e.selector.Select(ctx, item.CurrentStage(), repoPath, cached)
	if err != nil {
		if errors.Is(err, selector.ErrNoDefaultConfig) {
			return nil, configError("select agent", item.Ref(), err)
		}
		return nil, fmt.Errorf("select agent: %w", err)
	}
	if found != cached {
		setDetected(item, found)
		item.Touch(e.now())
		if err := e.saveItem(item); err != nil {
			return nil, fmt.Errorf("select agent: cache detected context: %w", err)
		}
	}
	return resolved, nil
}
