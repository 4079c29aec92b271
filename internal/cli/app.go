// Package cli assembles the engines from configuration and provides the
// testable command implementations behind the cobra entry point. The
// commands take an io.Writer so tests can capture output directly.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sentinelops/autonomic/internal/authz"
	"github.com/sentinelops/autonomic/internal/config"
	"github.com/sentinelops/autonomic/internal/diag"
	"github.com/sentinelops/autonomic/internal/dockerx"
	"github.com/sentinelops/autonomic/internal/learning"
	"github.com/sentinelops/autonomic/internal/metrics"
	"github.com/sentinelops/autonomic/internal/orchestrator"
	"github.com/sentinelops/autonomic/internal/policy"
	"github.com/sentinelops/autonomic/internal/predict"
	"github.com/sentinelops/autonomic/internal/repair"
)

// Runtime is the assembled control loop plus everything the commands need
// to drive it.
type Runtime struct {
	Config   *config.Config
	Log      *zap.Logger
	Orch     *orchestrator.Orchestrator
	Diag     *diag.Engine
	Repairs  *repair.Engine
	Learning *learning.Engine
	Predict  *predict.Engine
	Registry *prometheus.Registry

	docker *dockerx.Client
}

// NewLogger builds a zap logger at the configured level.
func NewLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zcfg.Level = parsed
	}
	return zcfg.Build()
}

// Build wires every engine from the configuration. The caller owns the
// returned Runtime and must Close it.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Runtime, error) {
	gate := authz.AllowAll{}

	handlers := repair.BuiltinHandlers(cfg.HandlerWait)

	var docker *dockerx.Client
	if cfg.Docker.Enabled {
		c, err := dockerx.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("docker integration: %w", err)
		}
		docker = c
		handlers = append(handlers, &dockerx.RestartHandler{API: c})
	}

	repairs, err := repair.NewEngine(gate, log, repair.Config{
		MaxConcurrent: cfg.MaxConcurrentRepairs,
		DispatchRate:  cfg.RepairDispatchRate,
	}, handlers...)
	if err != nil {
		closeQuietly(docker)
		return nil, err
	}

	learn := learning.NewEngine(log, learning.Config{
		MinSamples:          cfg.Learning.MinSamples,
		ConfidenceThreshold: cfg.Learning.ConfidenceThreshold,
		RetentionDays:       cfg.Learning.RetentionDays,
	})

	pred, err := predict.NewEngine(log, repairs, learn, predict.Config{
		PreventionThreshold: cfg.Predict.PreventionThreshold,
		DefaultActions:      cfg.Predict.DefaultActions,
		FallbackAction:      cfg.Predict.FallbackAction,
	})
	if err != nil {
		closeQuietly(docker)
		return nil, err
	}

	diagEngine := diag.NewEngine(gate, log, diag.Config{
		ProbeWorkers: cfg.ProbeWorkers,
		ProbeTimeout: cfg.ProbeTimeout,
	})
	diagEngine.Register("runtime", diag.RuntimeProbe(diag.RuntimeProbeConfig{}))
	if docker != nil {
		diagEngine.Register("containers", dockerx.Probe(docker, cfg.Docker.Containers))
	}

	registry := prometheus.NewRegistry()

	orch, err := orchestrator.New(orchestrator.Config{
		Mode:               policy.Mode(cfg.Mode),
		DiagnosticInterval: cfg.DiagnosticInterval,
		PredictiveInterval: cfg.PredictiveInterval,
		ErrorBackoff:       cfg.ErrorBackoff,
	}, orchestrator.Deps{
		Gate:     gate,
		Diag:     diagEngine,
		Policies: policy.DefaultTable(),
		Repairs:  repairs,
		Learning: learn,
		Predict:  pred,
		Metrics:  metrics.New(registry),
		Log:      log,
	})
	if err != nil {
		closeQuietly(docker)
		return nil, err
	}

	return &Runtime{
		Config:   cfg,
		Log:      log,
		Orch:     orch,
		Diag:     diagEngine,
		Repairs:  repairs,
		Learning: learn,
		Predict:  pred,
		Registry: registry,
		docker:   docker,
	}, nil
}

// Close releases external resources held by the runtime.
func (r *Runtime) Close() error {
	if r.docker != nil {
		return r.docker.Close()
	}
	return nil
}

// RestoreSnapshot loads the learning snapshot from the configured path, if
// any. A missing file is not an error: the engine starts cold.
func (r *Runtime) RestoreSnapshot() error {
	path := r.Config.Learning.SnapshotPath
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read learning snapshot: %w", err)
	}
	snap, err := learning.UnmarshalSnapshot(data)
	if err != nil {
		return fmt.Errorf("parse learning snapshot %s: %w", path, err)
	}
	r.Learning.Restore(snap)
	r.Log.Info("learning snapshot restored",
		zap.String("path", path), zap.Int("patterns", len(snap.Patterns)))
	return nil
}

// SaveSnapshot writes the learning snapshot to the configured path, if any.
func (r *Runtime) SaveSnapshot() error {
	path := r.Config.Learning.SnapshotPath
	if path == "" {
		return nil
	}
	data, err := learning.MarshalSnapshot(r.Learning.Snapshot())
	if err != nil {
		return fmt.Errorf("encode learning snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write learning snapshot: %w", err)
	}
	return nil
}

func closeQuietly(c *dockerx.Client) {
	if c != nil {
		_ = c.Close()
	}
}
