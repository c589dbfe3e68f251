// internal/poller/builder_test.go
package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/config"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/simulator"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/store"
)

func loadConfig(t *testing.T, doc string) *cfg.Config {
	t.Helper()
	c, err := cfg.Parse([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate(c))
	cfg.Normalize(c)
	return c
}

func TestBuild_MapsConfig(t *testing.T) {
	c := loadConfig(t, `
bus: {endpoint: "127.0.0.1:502"}
poll: {retry_delay_ms: 0, min_controller_interval_ms: 0}
controllers:
  - {id: fndh, kind: fndh}
  - {id: sb01, kind: smartbox, station: 1, port: 1}
`)
	arb, err := Build(c, catalog(t), store.New(), nil, simulator.New().Dial)
	require.NoError(t, err)

	assert.Equal(t, []string{"fndh", "sb01"}, arb.Controllers())
	assert.Zero(t, arb.cfg.RetryDelay)
	assert.Zero(t, arb.cfg.MinControllerInterval)
	assert.Equal(t, 5*time.Second, arb.cfg.ReconnectDelay)
	assert.Equal(t, uint8(101), arb.byID["fndh"].cfg.Station)
}

func TestBuild_RejectsDefaultStationClash(t *testing.T) {
	// fndh keeps the map's default station 101
	c := loadConfig(t, `
bus: {endpoint: "127.0.0.1:502"}
controllers:
  - {id: fndh, kind: fndh}
  - {id: sb01, kind: smartbox, station: 101}
`)
	_, err := Build(c, catalog(t), store.New(), nil, simulator.New().Dial)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "station 101 already used")
}
