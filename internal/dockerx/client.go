// Package dockerx wraps the Docker SDK for the container-backed health
// probe and the container restart handler. The control loop never imports
// the SDK directly; everything flows through this wrapper so the Docker
// integration stays optional.
package dockerx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

// Client is a thin wrapper over the Docker API client.
type Client struct {
	docker *client.Client
}

// NewClient connects to the Docker daemon using the environment settings
// and verifies connectivity with a ping.
func NewClient(ctx context.Context) (*Client, error) {
	dockerClient, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := dockerClient.Ping(ctx); err != nil {
		return nil, fmt.Errorf("cannot connect to docker daemon: %w", err)
	}
	return &Client{docker: dockerClient}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c.docker != nil {
		return c.docker.Close()
	}
	return nil
}

// ContainerState summarizes one container for the probe.
type ContainerState struct {
	ID      string
	Name    string
	State   string // running, exited, restarting, ...
	Status  string // human-readable, e.g. "Up 3 hours"
	Running bool
}

// ListContainers returns the states of all containers, stopped included.
func (c *Client) ListContainers(ctx context.Context) ([]ContainerState, error) {
	containers, err := c.docker.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	states := make([]ContainerState, 0, len(containers))
	for _, ct := range containers {
		name := ct.ID[:12]
		if len(ct.Names) > 0 {
			name = strings.TrimPrefix(ct.Names[0], "/")
		}
		states = append(states, ContainerState{
			ID:      ct.ID,
			Name:    name,
			State:   ct.State,
			Status:  ct.Status,
			Running: ct.State == "running",
		})
	}
	return states, nil
}

// RestartContainer restarts a container by name or ID with the given
// stop timeout.
func (c *Client) RestartContainer(ctx context.Context, nameOrID string, stopTimeout time.Duration) error {
	if err := c.docker.ContainerRestart(ctx, nameOrID, &stopTimeout); err != nil {
		return fmt.Errorf("restart container %s: %w", nameOrID, err)
	}
	return nil
}
