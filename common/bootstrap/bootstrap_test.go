package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/casemirror/dataflow/common/config"
	"github.com/casemirror/dataflow/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineOptions(cfg *config.Config) []Option {
	return []Option{
		WithCustomConfig(cfg),
		WithCustomLogger(logger.Discard()),
		WithoutDB(),
		WithoutSources(),
		WithoutRedis(),
		WithoutTelemetry(),
	}
}

func TestSetupWithoutExternalServices(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Load("dataflow-test")
	require.NoError(t, err)

	components, err := Setup(ctx, "dataflow-test", offlineOptions(cfg)...)
	require.NoError(t, err)

	assert.Nil(t, components.DB)
	assert.Nil(t, components.Sources)
	assert.Nil(t, components.Redis)
	assert.NotNil(t, components.Cache)
	assert.NotNil(t, components.Metrics)
	assert.NoError(t, components.Health(ctx))
	assert.NoError(t, components.Shutdown(ctx))
}

func TestShutdownRunsCleanupInReverseOrder(t *testing.T) {
	components := &Components{Logger: logger.Discard()}

	var order []int
	components.addCleanup(func() error { order = append(order, 1); return nil })
	components.addCleanup(func() error { order = append(order, 2); return errors.New("boom") })
	components.addCleanup(func() error { order = append(order, 3); return nil })

	err := components.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []int{3, 2, 1}, order)

	// a second shutdown has nothing left to run
	assert.NoError(t, components.Shutdown(context.Background()))
}

func TestSetupTagsLogsWithService(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Load("dataflow-test")
	require.NoError(t, err)

	var buf bytes.Buffer
	opts := append(offlineOptions(cfg), WithCustomLogger(logger.NewWithWriter(&buf, "info", "json")))
	components, err := Setup(ctx, "dataflow-test", opts...)
	require.NoError(t, err)
	defer components.Shutdown(ctx)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "dataflow-test", entry["service"], line)
		assert.Equal(t, cfg.Service.Environment, entry["environment"], line)
	}
}
