package dockerx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/autonomic/internal/diag"
	"github.com/sentinelops/autonomic/internal/repair"
)

type fakeAPI struct {
	states    []ContainerState
	listErr   error
	restarted []string
}

func (f *fakeAPI) ListContainers(context.Context) ([]ContainerState, error) {
	return f.states, f.listErr
}

func (f *fakeAPI) RestartContainer(_ context.Context, nameOrID string, _ time.Duration) error {
	f.restarted = append(f.restarted, nameOrID)
	return nil
}

func TestProbeAllRunning(t *testing.T) {
	api := &fakeAPI{states: []ContainerState{
		{Name: "ledger", State: "running", Running: true},
		{Name: "gateway", State: "running", Running: true},
	}}

	report, err := Probe(api, nil)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, report.Score)
	assert.Empty(t, report.Issues)
}

func TestProbeStoppedAndMissing(t *testing.T) {
	api := &fakeAPI{states: []ContainerState{
		{Name: "ledger", State: "exited", Status: "Exited (1) 2 minutes ago"},
		{Name: "gateway", State: "running", Running: true},
	}}

	report, err := Probe(api, []string{"ledger", "gateway", "voice"})(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, report.Score)
	require.Len(t, report.Issues, 2)

	types := []string{report.Issues[0].Type, report.Issues[1].Type}
	assert.Contains(t, types, "container_down")
	assert.Contains(t, types, "container_missing")
}

func TestProbeListError(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("daemon unreachable")}
	_, err := Probe(api, nil)(context.Background())
	assert.Error(t, err)
}

func TestProbeIgnoresUnwatched(t *testing.T) {
	api := &fakeAPI{states: []ContainerState{
		{Name: "noise", State: "exited"},
		{Name: "ledger", State: "running", Running: true},
	}}

	report, err := Probe(api, []string{"ledger"})(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, report.Score)
	assert.Empty(t, report.Issues)
}

func TestRestartHandler(t *testing.T) {
	api := &fakeAPI{}
	h := &RestartHandler{API: api}
	assert.Equal(t, "container_restart", h.Type())

	action := repair.NewAction("ledger", "container_restart", "high")
	result, err := h.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.Contains(t, result, "ledger")
	assert.Equal(t, []string{"ledger"}, api.restarted)
}

// The probe satisfies the diagnostic engine's probe contract.
var _ diag.ProbeFunc = Probe(&fakeAPI{}, nil)
