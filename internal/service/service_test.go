package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/causalprof/profilomatic/pkg/config"
	"github.com/causalprof/profilomatic/pkg/utils"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Profiler: config.ProfilerConfig{
			SourceName:                "service-test",
			SimultaneousTasksProfiled: 4,
			MaxOverhead:               0.02,
			TimeGranularity:           5 * time.Millisecond,
			CodeGranularity:           "line",
		},
		Destinations: config.DestinationsConfig{
			File: config.FileDestinationConfig{
				Enabled:   true,
				Path:      dir,
				MaxSizeMB: 10,
			},
		},
		Database: config.DatabaseConfig{
			Type:     "sqlite",
			Database: "file::memory:?cache=shared&_busy_timeout=5000",
		},
		ControlAPI: config.ControlAPIConfig{
			Enabled: false,
		},
	}
}

func TestService_New(t *testing.T) {
	cfg := testConfig(t)

	t.Run("WithLogger", func(t *testing.T) {
		logger := utils.NewDefaultLogger(utils.LevelInfo, nil)
		svc, err := New(cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, svc)
		assert.False(t, svc.IsRunning())
	})

	t.Run("WithoutLogger", func(t *testing.T) {
		svc, err := New(cfg, nil)
		require.NoError(t, err)
		require.NotNil(t, svc)
	})
}

func TestService_Lifecycle(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg, &utils.NullLogger{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx))
	require.NoError(t, svc.Start(ctx))
	assert.True(t, svc.IsRunning())

	assert.NoError(t, svc.HealthCheck(ctx))

	stats := svc.Stats()
	assert.True(t, stats.Running)

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
}

func TestService_Stats_BeforeInitialize(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg, nil)
	require.NoError(t, err)

	stats := svc.Stats()
	assert.False(t, stats.Running)
}

func TestServiceStats_JSON(t *testing.T) {
	stats := ServiceStats{
		Running: true,
	}
	assert.True(t, stats.Running)
}

func TestService_HealthCheck_NoComponents(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg, nil)
	require.NoError(t, err)

	// HealthCheck should not fail when components are not initialized.
	err = svc.HealthCheck(context.Background())
	assert.NoError(t, err)
}
