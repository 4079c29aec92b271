package dockerx

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinelops/autonomic/internal/diag"
	"github.com/sentinelops/autonomic/internal/repair"
)

// ContainerAPI is the slice of the client the probe and handler need;
// tests substitute a fake.
type ContainerAPI interface {
	ListContainers(ctx context.Context) ([]ContainerState, error)
	RestartContainer(ctx context.Context, nameOrID string, stopTimeout time.Duration) error
}

// Probe returns a diag.ProbeFunc reporting the health of the watched
// containers. An empty watch list covers every container. Each stopped
// container costs 30 points off the component score and raises a
// container_down issue.
func Probe(api ContainerAPI, watch []string) diag.ProbeFunc {
	watched := make(map[string]bool, len(watch))
	for _, name := range watch {
		watched[name] = true
	}

	return func(ctx context.Context) (diag.Report, error) {
		states, err := api.ListContainers(ctx)
		if err != nil {
			return diag.Report{}, err
		}

		score := 100
		var issues []diag.Issue
		seen := make(map[string]bool, len(states))

		for _, ct := range states {
			if len(watched) > 0 && !watched[ct.Name] {
				continue
			}
			seen[ct.Name] = true
			if ct.Running {
				continue
			}
			score -= 30
			issues = append(issues, diag.Issue{
				Type:              "container_down",
				Severity:          diag.SeverityHigh,
				Description:       fmt.Sprintf("container %s is %s (%s)", ct.Name, ct.State, ct.Status),
				RecommendedAction: "container_restart",
			})
		}

		// Watched names with no matching container at all.
		for name := range watched {
			if seen[name] {
				continue
			}
			score -= 30
			issues = append(issues, diag.Issue{
				Type:              "container_missing",
				Severity:          diag.SeverityCritical,
				Description:       fmt.Sprintf("watched container %s not found", name),
				RecommendedAction: "container_restart",
			})
		}

		if score < 0 {
			score = 0
		}
		return diag.Report{Score: score, Issues: issues}, nil
	}
}

// RestartHandler is a repair handler that restarts the action's target
// container through the Docker API.
type RestartHandler struct {
	API         ContainerAPI
	StopTimeout time.Duration
}

func (h *RestartHandler) Type() string { return "container_restart" }

func (h *RestartHandler) Execute(ctx context.Context, action *repair.Action) (string, error) {
	stopTimeout := h.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	if err := h.API.RestartContainer(ctx, action.Component, stopTimeout); err != nil {
		return "", err
	}
	return fmt.Sprintf("restarted container %s", action.Component), nil
}
