package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENGINE_SYMBOL", "AAPL")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "AAPL", cfg.Engine.Symbol)
	assert.Equal(t, time.Minute, cfg.Engine.BaseTimeframe)
	assert.Equal(t, 5000, cfg.Engine.MaxBars)
	assert.Equal(t, 1000, cfg.Channel.Capacity)
	assert.Equal(t, 5000, cfg.Channel.MaxSeriesPoints)
	assert.Equal(t, "candles.aapl", cfg.Feed.StreamName)
	assert.Equal(t, "ind:", cfg.Publisher.KeyPrefix)
	assert.Equal(t, "indicators.updated", cfg.Publisher.UpdateChannel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENGINE_SYMBOL", "MSFT")
	t.Setenv("ENGINE_BASE_TIMEFRAME", "5m")
	t.Setenv("CHANNEL_CAPACITY", "64")
	t.Setenv("FEED_STREAM_NAME", "bars.finalized")
	t.Setenv("PUBLISHER_TTL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Engine.BaseTimeframe)
	assert.Equal(t, 64, cfg.Channel.Capacity)
	assert.Equal(t, "bars.finalized", cfg.Feed.StreamName)
	assert.Equal(t, 30*time.Second, cfg.Publisher.TTL)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("ENGINE_SYMBOL", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("ENGINE_SYMBOL", "AAPL")
	t.Setenv("ENGINE_BASE_TIMEFRAME", "often")
	_, err = Load()
	assert.ErrorIs(t, err, models.ErrInvalidTimeframe)

	t.Setenv("ENGINE_BASE_TIMEFRAME", "1m")
	t.Setenv("ENGINE_BACKFILL_BARS", "9000")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadIndicatorSpecs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "indicators.json")
	body := `[
		{"id": "rsi14", "name": "rsi", "params": {"length": 14}},
		{"id": "ema_of_rsi", "name": "ema", "params": {"length": 5}, "source": {"indicatorId": "rsi14", "output": "value"}},
		{"id": "sma_1h", "name": "sma", "timeframe": "1h", "confirmOnClose": false}
	]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	specs, err := LoadIndicatorSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 3)
	assert.Equal(t, 14.0, specs[0].Params["length"])
	assert.Equal(t, "rsi14", specs[1].Source.IndicatorID)
	assert.False(t, specs[2].Confirm())

	specs, err = LoadIndicatorSpecs(filepath.Join(dir, "missing.json"))
	assert.NoError(t, err)
	assert.Empty(t, specs)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = LoadIndicatorSpecs(path)
	assert.Error(t, err)
}
