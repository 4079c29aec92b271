package diag

import (
	"context"
	"fmt"
	"runtime"
)

// RuntimeProbeConfig bounds the daemon's own process health. Zero values
// select the defaults.
type RuntimeProbeConfig struct {
	// MaxHeapBytes flags memory pressure above this heap-in-use size.
	MaxHeapBytes uint64

	// MaxGoroutines flags a goroutine leak above this count.
	MaxGoroutines int
}

const (
	defaultMaxHeapBytes  = 512 << 20
	defaultMaxGoroutines = 5000
)

// RuntimeProbe observes the daemon process itself: heap usage and goroutine
// count. It gives the control loop at least one live component to watch even
// when no external probes are registered.
func RuntimeProbe(config RuntimeProbeConfig) ProbeFunc {
	if config.MaxHeapBytes == 0 {
		config.MaxHeapBytes = defaultMaxHeapBytes
	}
	if config.MaxGoroutines <= 0 {
		config.MaxGoroutines = defaultMaxGoroutines
	}

	return func(ctx context.Context) (Report, error) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		goroutines := runtime.NumGoroutine()

		report := Report{
			Score: 100,
			Metrics: map[string]float64{
				"heap_bytes": float64(mem.HeapInuse),
				"goroutines": float64(goroutines),
			},
		}

		if mem.HeapInuse > config.MaxHeapBytes {
			report.Score -= 30
			report.Issues = append(report.Issues, Issue{
				Type:     "memory_pressure",
				Severity: SeverityMedium,
				Description: fmt.Sprintf("heap in use %d bytes exceeds limit %d",
					mem.HeapInuse, config.MaxHeapBytes),
				RecommendedAction: "clear_cache",
			})
		}
		if goroutines > config.MaxGoroutines {
			report.Score -= 40
			report.Issues = append(report.Issues, Issue{
				Type:     "goroutine_leak",
				Severity: SeverityHigh,
				Description: fmt.Sprintf("%d goroutines exceeds limit %d",
					goroutines, config.MaxGoroutines),
				RecommendedAction: "restart",
			})
		}
		if report.Score < 0 {
			report.Score = 0
		}
		return report, nil
	}
}
