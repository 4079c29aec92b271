package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Diagnose runs one diagnostic cycle through the orchestrator and writes the
// result in the requested format. Repairs and escalations the cycle proposes
// are applied, same as one tick of the running loop.
func Diagnose(ctx context.Context, rt *Runtime, format string, verbose bool, w io.Writer) error {
	result, err := rt.Orch.RunDiagnosticCycle(ctx)
	if err != nil {
		return fmt.Errorf("diagnostic cycle: %w", err)
	}
	return OutputResult(result, rt.Repairs.History(), format, verbose, w)
}

// ShowStatus writes a point-in-time orchestrator summary.
func ShowStatus(rt *Runtime, format string, w io.Writer) error {
	return OutputStatus(rt.Orch.Status(), format, w)
}

// RunDaemon starts the control loops and blocks until ctx is cancelled. It
// restores the learning snapshot before starting and saves it on the way
// out. When metrics are enabled it also serves the Prometheus endpoint.
func RunDaemon(ctx context.Context, rt *Runtime) error {
	if err := rt.RestoreSnapshot(); err != nil {
		return err
	}
	if err := rt.Orch.Start(ctx); err != nil {
		return err
	}

	var metricsSrv *http.Server
	if rt.Config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: rt.Config.Metrics.Listen, Handler: mux}
		go func() {
			rt.Log.Info("serving metrics", zap.String("listen", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.Log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	rt.Log.Info("shutting down")

	rt.Orch.Stop()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			rt.Log.Warn("metrics server shutdown", zap.Error(err))
		}
	}
	if err := rt.SaveSnapshot(); err != nil {
		rt.Log.Error("saving learning snapshot failed", zap.Error(err))
		return err
	}
	return nil
}
