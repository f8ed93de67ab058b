package main

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/serverdate/core/client"
	"example.com/serverdate/core/estimate"
	"example.com/serverdate/core/measurements"
)

const testConfig = `
local_address = "127.0.0.1:8123"
remote_url = "https://example.com/"
format = "millis"
estimator = "tick"
samples = 50
server_resolution = "1s"
poll_interval = "50ms"
tick_timeout = "5s"
sync_interval = "30m"
amortization_rate = "10ms"
interval_change_rate = 0.25
reuse_port = true
`

func TestDecodeConfig(t *testing.T) {
	cfg, err := decodeConfig(strings.NewReader(testConfig))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8123", cfg.LocalAddr)
	assert.Equal(t, "millis", cfg.Format)
	assert.Equal(t, 50, cfg.Samples)
	assert.True(t, cfg.ReusePort)

	_, err = decodeConfig(strings.NewReader("remote_address = \"x\"\n"))
	assert.Error(t, err)
}

func TestNewEstimator(t *testing.T) {
	cfg, err := decodeConfig(strings.NewReader(testConfig))
	require.NoError(t, err)
	clk := clockwork.NewFakeClock()

	est, err := newEstimator(cfg, clk, true)
	require.NoError(t, err)
	tb, ok := est.(*estimate.TickBoundary)
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, tb.PollInterval)
	assert.Equal(t, 5*time.Second, tb.Timeout)
	assert.Equal(t, 50, tb.MaxSamples)
	assert.Equal(t, time.Second, tb.ServerResolution)
	assert.True(t, tb.Strict)

	est, err = newEstimator(svcConfig{}, clk, false)
	require.NoError(t, err)
	assert.IsType(t, &estimate.MultiSample{}, est)

	_, err = newEstimator(svcConfig{Estimator: "median"}, clk, false)
	assert.Error(t, err)
	_, err = newEstimator(svcConfig{ServerResolution: "soon"}, clk, false)
	assert.Error(t, err)
	_, err = newEstimator(svcConfig{Estimator: estimatorModeTick, PollInterval: "-1s"}, clk, false)
	assert.Error(t, err)
}

func TestNewSampler(t *testing.T) {
	clk := clockwork.NewFakeClock()

	_, _, err := newSampler(svcConfig{}, clk)
	assert.ErrorIs(t, err, errNoRemote)
	_, _, err = newSampler(svcConfig{RemoteURL: "http://localhost/", Format: "xml"}, clk)
	assert.Error(t, err)

	s, release, err := newSampler(svcConfig{RemoteURL: "http://localhost/", Format: "millis"}, clk)
	require.NoError(t, err)
	defer release()
	hc, ok := s.(*client.HTTPClient)
	require.True(t, ok)
	assert.Equal(t, client.FormatMillis, hc.Format)

	s, release, err = newSampler(svcConfig{RemoteURL: "http://localhost/", NTPServer: "pool.ntp.org"}, clk)
	require.NoError(t, err)
	defer release()
	assert.IsType(t, &client.NTPClient{}, s)
}

func TestNewSynchronizerConfig(t *testing.T) {
	cfg, err := decodeConfig(strings.NewReader(testConfig))
	require.NoError(t, err)

	c, err := newSynchronizerConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, c.SyncInterval)
	assert.Equal(t, 10*time.Millisecond, c.AmortizationRate)
	assert.Equal(t, time.Duration(0), c.SyncTimeout)
	assert.Equal(t, 0.25, c.IntervalChangeRate)

	_, err = newSynchronizerConfig(svcConfig{SyncTimeout: "10"}, nil)
	assert.Error(t, err)
}

func TestSyncTimeoutExceedsTickTimeout(t *testing.T) {
	clk := clockwork.NewFakeClock()

	tests := []struct {
		name        string
		cfg         svcConfig
		want        time.Duration
		expectError bool
	}{
		{"default", svcConfig{Estimator: estimatorModeTick}, 20 * time.Second, false},
		{"tick timeout", svcConfig{Estimator: estimatorModeTick, TickTimeout: "5s"}, 15 * time.Second, false},
		{"longer", svcConfig{Estimator: estimatorModeTick, SyncTimeout: "11s"}, 11 * time.Second, false},
		{"equal", svcConfig{Estimator: estimatorModeTick, SyncTimeout: "10s"}, 0, true},
		{"shorter", svcConfig{Estimator: estimatorModeTick, TickTimeout: "30s", SyncTimeout: "20s"}, 0, true},
		{"multi", svcConfig{Estimator: estimatorModeMulti, SyncTimeout: "1s"}, time.Second, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			est, err := newEstimator(tc.cfg, clk, false)
			require.NoError(t, err)
			c, err := newSynchronizerConfig(tc.cfg, est)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.SyncTimeout)
		})
	}
}

func TestToolResult(t *testing.T) {
	now := time.Date(2021, 2, 2, 23, 43, 32, 500e6, time.UTC)
	r := newToolResult(measurements.Estimate{
		Date:        now,
		Offset:      -135 * time.Millisecond,
		Uncertainty: 177500 * time.Microsecond,
	})
	assert.Equal(t, "2021-02-02T23:43:32.500Z", r.Date)
	assert.Equal(t, now.UnixMilli(), r.UnixMilli)
	assert.Equal(t, -135.0, r.Offset)
	assert.Equal(t, 177.5, r.Uncertainty)
	assert.False(t, r.Failed)

	r = newToolResult(measurements.FailedEstimate(now))
	assert.True(t, r.Failed)
	assert.Equal(t, 0.0, r.Uncertainty)
}
