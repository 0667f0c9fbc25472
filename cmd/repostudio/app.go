package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/config"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/infra"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/policy"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/usecase"
)

// app holds the components wired for one invocation.
type app struct {
	layout   *infra.Layout
	cfg      config.Config
	logger   *zap.Logger
	policies *policy.Registry
	state    *infra.StateFiles
	journal  domain.ReclaimJournal
	reclaim  *usecase.ReclaimService
	runtime  *usecase.RuntimeService
}

func newApp(workspace string, verbose bool) (*app, error) {
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		workspace = wd
	}
	layout, err := infra.NewLayout(workspace)
	if err != nil {
		return nil, err
	}

	loaded, err := config.LoadFrom(layout.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg := loaded.Config

	logger := createLogger(cfg.Log.Level, verbose)
	for _, w := range loaded.Warnings {
		logger.Warn("config warning", zap.String("file", layout.ConfigFile), zap.String("warning", w))
	}

	pm := infra.NewProcessManager()
	runner := infra.NewExecCommandRunner(cfg.CommandTimeout())
	platform := infra.NewHostPlatform(runner, pm, cfg, logger)
	control := infra.NewProcessControl(platform, pm)
	store := infra.NewFileRuntimeStore(layout, cfg)
	state := infra.NewStateFiles(layout, store, logger)

	journal, err := infra.OpenJournal(layout, cfg, logger)
	if err != nil {
		logger.Warn("reclaim journal unavailable", zap.Error(err))
		journal = infra.NopJournal{}
	}

	policies := policy.NewRegistry(cfg)
	collector := infra.NewCollector(platform, logger)
	inventory := usecase.NewInventoryBuilder(collector, control, cfg.Reclaim.StudioMarkers, logger)
	planner := usecase.NewPlanner(cfg, policies, inventory, state, pm, logger)
	executor := usecase.NewExecutor(control, state, journal, logger)

	return &app{
		layout:   layout,
		cfg:      cfg,
		logger:   logger,
		policies: policies,
		state:    state,
		journal:  journal,
		reclaim:  usecase.NewReclaimService(planner, executor, logger),
		runtime:  usecase.NewRuntimeService(store, control, executor, pm, cfg, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.journal.Close(); err != nil {
		a.logger.Debug("journal close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *app) scopeName(scope domain.Scope) string {
	p, err := a.policies.Get(scope)
	if err != nil {
		return string(scope)
	}
	return p.Name()
}

// statusReport is what `status` prints.
type statusReport struct {
	Workspace string                   `json:"workspace"`
	Running   bool                     `json:"running"`
	Source    usecase.LocateSource     `json:"source"`
	Cleared   bool                     `json:"clearedStale"`
	State     *domain.RuntimeState     `json:"state,omitempty"`
	URL       string                   `json:"url,omitempty"`
	Health    *domain.RuntimeHealth    `json:"health,omitempty"`
	Companion *domain.CompanionRuntime `json:"companion,omitempty"`
}

func (a *app) status(ctx context.Context, mode string) (*statusReport, error) {
	report := &statusReport{Workspace: a.layout.WorkspaceRoot, Source: usecase.LocateNone}

	active, err := a.runtime.LoadActive(ctx, true)
	if err != nil {
		return nil, err
	}
	report.Cleared = active.Stale

	if active.Running {
		report.Running = true
		report.Source = usecase.LocatePersisted
		report.State = active.State
		report.URL = active.State.LocalURL()
		report.Health = &active.Health
	} else {
		modes := []domain.RuntimeMode{domain.ModeApp, domain.ModePackage, domain.ModeDesktop}
		if mode != "" {
			modes = []domain.RuntimeMode{domain.RuntimeMode(mode)}
		}
		for _, m := range modes {
			if detected := a.runtime.DetectByPort(ctx, m, 0); detected != nil {
				report.Running = true
				report.Source = usecase.LocateDetected
				report.State = detected
				report.URL = detected.LocalURL()
				break
			}
		}
	}

	companion, err := a.state.ReadCompanion()
	if err != nil {
		a.logger.Debug("companion runtime unreadable", zap.Error(err))
	}
	report.Companion = companion
	return report, nil
}

func createLogger(level string, verbose bool) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.Sampling = nil

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// startedAgo renders an ISO-8601 start time relative to now.
func startedAgo(startedAt string) string {
	if startedAt == "" {
		return "unknown"
	}
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return startedAt
	}
	return humanize.Time(t)
}
