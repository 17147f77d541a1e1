package telemetry_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/framealign/internal/concentrator"
	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/frame"
	"codeberg.org/mutker/framealign/internal/measurement"
	"codeberg.org/mutker/framealign/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	wall = time.Date(2024, 6, 1, 12, 0, 1, 0, time.UTC)
	t0   = measurement.FromTime(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	key  = measurement.Key{ID: 1, Source: "PMU1"}
)

type fixedStats concentrator.Stats

func (s fixedStats) Stats() concentrator.Stats {
	return concentrator.Stats(s)
}

func newCollector(t *testing.T, opts ...telemetry.Option) (telemetry.Collector, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	opts = append(opts,
		telemetry.WithRegistry(reg),
		telemetry.WithNow(func() time.Time { return wall }),
	)
	c, err := telemetry.NewService(telemetry.DefaultConfig(), opts...)
	require.NoError(t, err)

	return c, reg
}

func TestValidate(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Listen = "not an address"
	assert.True(t, errors.HasCode(cfg.Validate(), telemetry.ErrInvalidListenAddress))

	cfg.Listen = ":9464"
	cfg.Path = "metrics"
	assert.True(t, errors.HasCode(cfg.Validate(), telemetry.ErrInvalidPath))

	cfg.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestDisabledCollectorIsNoop(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.Enabled = false
	c, err := telemetry.NewService(cfg)
	require.NoError(t, err)

	assert.NoError(t, c.FramePublished(frame.New(t0)))
	assert.NoError(t, c.Serve(context.Background()))
}

func TestFrameMetrics(t *testing.T) {
	c, reg := newCollector(t)

	f := frame.New(t0)
	f.Assign(measurement.New(key, t0, 1), frame.Nearest)
	f.Substitute(measurement.New(measurement.Key{ID: 2, Source: "PMU1"}, t0, 2))
	require.NoError(t, c.FramePublished(f))
	require.NoError(t, c.FramePublished(frame.New(t0+measurement.TicksPerSecond/30)))

	expected := `
# HELP framealign_frames_published_total Total number of published frames
# TYPE framealign_frames_published_total counter
framealign_frames_published_total 2
# HELP framealign_frames_empty_total Total number of frames published without any measurement
# TYPE framealign_frames_empty_total counter
framealign_frames_empty_total 1
# HELP framealign_substituted_slots_total Total number of frame slots filled from the latest-value cache
# TYPE framealign_substituted_slots_total counter
framealign_substituted_slots_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"framealign_frames_published_total",
		"framealign_frames_empty_total",
		"framealign_substituted_slots_total",
	))

	count, err := testutil.GatherAndCount(reg, "framealign_frame_publish_delay_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMeasurementMetrics(t *testing.T) {
	c, reg := newCollector(t)

	ms := []measurement.Measurement{measurement.New(key, t0, 1), measurement.New(key, t0, 2)}
	c.NewMeasurements(ms)
	c.DiscardingMeasurements(concentrator.DiscardedLate, ms)
	c.DiscardingMeasurements(concentrator.DiscardedInvalid, ms[:1])
	c.UnpublishedSamples(7)

	expected := `
# HELP framealign_measurements_received_total Total number of measurements handed to the concentrator
# TYPE framealign_measurements_received_total counter
framealign_measurements_received_total 2
# HELP framealign_measurements_discarded_total Total number of discarded measurements by reason
# TYPE framealign_measurements_discarded_total counter
framealign_measurements_discarded_total{reason="invalid"} 1
framealign_measurements_discarded_total{reason="late"} 2
# HELP framealign_unpublished_frames Frames waiting for publication after the last tick
# TYPE framealign_unpublished_frames gauge
framealign_unpublished_frames 7
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"framealign_measurements_received_total",
		"framealign_measurements_discarded_total",
		"framealign_unpublished_frames",
	))
}

func TestStatsSourceMetrics(t *testing.T) {
	stats := fixedStats{
		ListenerFailures: 3,
		SkippedFrames:    12,
		RealTime:         measurement.FromTime(wall.Add(-250 * time.Millisecond)),
	}
	_, reg := newCollector(t, telemetry.WithStatsSource(stats))

	expected := `
# HELP framealign_listener_failures_total Total number of listener calls that failed or panicked
# TYPE framealign_listener_failures_total counter
framealign_listener_failures_total 3
# HELP framealign_frames_skipped_total Total number of frames skipped after real time jumped ahead
# TYPE framealign_frames_skipped_total counter
framealign_frames_skipped_total 12
# HELP framealign_real_time_lag_seconds Wall clock minus the concentrator's real time estimate
# TYPE framealign_real_time_lag_seconds gauge
framealign_real_time_lag_seconds 0.25
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"framealign_listener_failures_total",
		"framealign_frames_skipped_total",
		"framealign_real_time_lag_seconds",
	))
}

func TestHandler(t *testing.T) {
	c, _ := newCollector(t)
	c.NewMeasurements([]measurement.Measurement{measurement.New(key, t0, 1)})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "framealign_measurements_received_total 1")
}

func TestServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := telemetry.DefaultConfig()
	cfg.Listen = addr
	c, err := telemetry.NewService(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Serve(ctx)
	}()

	client := &http.Client{Timeout: time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && strings.Contains(string(body), "framealign_frames_published_total")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestServeWithoutAddressReturns(t *testing.T) {
	c, _ := newCollector(t)
	assert.NoError(t, c.Serve(context.Background()))
}
