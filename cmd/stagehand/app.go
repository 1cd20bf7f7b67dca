package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ShayCichocki/stagehand/internal/agentconfig"
	"github.com/ShayCichocki/stagehand/internal/config"
	"github.com/ShayCichocki/stagehand/internal/detect"
	"github.com/ShayCichocki/stagehand/internal/git"
	"github.com/ShayCichocki/stagehand/internal/logging"
	"github.com/ShayCichocki/stagehand/internal/notify"
	"github.com/ShayCichocki/stagehand/internal/pipeline"
	"github.com/ShayCichocki/stagehand/internal/runner"
	"github.com/ShayCichocki/stagehand/internal/selector"
	"github.com/ShayCichocki/stagehand/internal/state"
)

// eventBuffer is the Emitter capacity used by long-running commands.
const eventBuffer = 256

// errNoRunner is returned when a command that cannot dispatch agents tries to.
var errNoRunner = errors.New("agent runner not available for this command")

// appOptions says which optional parts of the stack a command needs.
type appOptions struct {
	// runner builds the configured agent runner.
	runner bool
	// events buffers engine events on an Emitter for the caller to drain
	// instead of publishing straight to NATS.
	events bool
	// registry registers engine metrics. Nil keeps them unregistered.
	registry prometheus.Registerer
}

// app is the wired engine stack shared by every command.
type app struct {
	cfg      *config.Config
	repoPath string
	logger   *zap.Logger
	db       *state.DB
	agents   *agentconfig.Store
	selector *selector.Selector
	engine   *pipeline.Engine
	nats     *nats.Conn
	// events is set when appOptions.events was requested.
	events *notify.Emitter
	// publisher publishes to NATS, or is nil when no URL is configured.
	publisher pipeline.Notifier

	closers []func() error
}

// loadConfig loads configuration honouring the --config and --repo flags.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if repoFlag != "" {
		cfg.Pipeline.RepoPath = repoFlag
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// inRepo resolves path against the repository root unless it is absolute.
func inRepo(repoPath, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(repoPath, path)
}

// newApp wires config, logging, storage, agent configs and the engine.
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &app{cfg: cfg}
	a.repoPath, err = filepath.Abs(cfg.ResolvedRepoPath())
	if err != nil {
		return nil, fmt.Errorf("resolve repo path: %w", err)
	}

	logCfg := logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}
	if cfg.Log.File != "" {
		logCfg.File = inRepo(a.repoPath, cfg.Log.File)
	}
	logger, closeLog, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	a.logger = logger
	a.closers = append(a.closers, closeLog)

	db, err := state.Open(inRepo(a.repoPath, cfg.Database.Path))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open state: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	if err := db.Migrate(); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate state: %w", err)
	}

	agentsDir := config.AgentsConfig{Dir: inRepo(a.repoPath, cfg.Agents.Dir)}
	a.agents = agentconfig.NewStore(agentsDir.DefaultsDir(), agentsDir.VariantsDir(), logger)
	a.selector = selector.New(a.agents, detect.New(logger), logger)

	agentRunner := pipeline.AgentRunner(unavailableRunner{})
	if opts.runner {
		agentRunner, err = runner.FromConfig(ctx, cfg.Runner, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	var notifier pipeline.Notifier
	if cfg.NATS.URL != "" {
		if err := a.connectNATS(); err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = notify.NewNATSNotifier(a.nats, cfg.NATS.SubjectPrefix)
		notifier = a.publisher
	}
	if opts.events {
		a.events = notify.NewEmitter(eventBuffer, logger)
		notifier = a.events
	}

	a.engine = pipeline.New(db, a.selector, a.agents, agentRunner,
		pipeline.WithLogger(logger),
		pipeline.WithNotifier(notifier),
		pipeline.WithMetrics(pipeline.NewMetrics(opts.registry)),
		pipeline.WithConfidenceThreshold(cfg.Pipeline.ConfidenceThreshold),
		pipeline.WithQuestionTimeout(cfg.Pipeline.QuestionTimeout),
		pipeline.WithRepoPath(a.repoPath),
		pipeline.WithRecoverer(state.NewRecoveryManager(db)),
		pipeline.WithRepoInspector(git.NewInspector()),
	)
	return a, nil
}

// connectNATS opens the event connection once.
func (a *app) connectNATS() error {
	if a.nats != nil {
		return nil
	}
	conn, err := notify.Connect(a.cfg.NATS.URL, a.logger)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	a.nats = conn
	a.closers = append(a.closers, func() error {
		return conn.Drain()
	})
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

// unavailableRunner backs engines built for commands that never dispatch agents.
type unavailableRunner struct{}

func (unavailableRunner) Run(context.Context, pipeline.RunRequest) (pipeline.RunResult, error) {
	return pipeline.RunResult{}, errNoRunner
}
