package indicator

import (
	"testing"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
	indicatorpkg "github.com/mohamedkhairy/indicator-engine/pkg/indicator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAllIndicators(t *testing.T) {
	registry := NewIndicatorRegistry()
	require.NoError(t, RegisterAllIndicators(registry))

	assert.Equal(t, []string{"adx", "atr", "bollinger", "ema", "macd", "rsi", "sma", "stochastic", "williams_r"}, registry.ListAvailable())

	meta, ok := registry.GetMetadata("macd")
	require.True(t, ok)
	assert.Equal(t, "trend", meta.Category)
	assert.Equal(t, "source", meta.Input)
	assert.Equal(t, map[string]float64{"fast": 12, "slow": 26, "signal": 9}, meta.Parameters)
	assert.Equal(t, []string{"macd", "signal", "histogram"}, meta.Outputs)

	_, ok = registry.GetMetadata("vwap")
	assert.False(t, ok)
}

func TestRegistry_RegisterRejectsBadDefinitions(t *testing.T) {
	registry := NewIndicatorRegistry()
	require.NoError(t, RegisterAllIndicators(registry))

	newSMA := func(p Params) (indicatorpkg.Calculator, error) { return indicatorpkg.NewSMA(3) }
	batchSMA := func(p Params, in BatchInput) ([]models.Values, error) { return indicatorpkg.SMASeries(in.Source, 3) }

	err := registry.Register(Definition{Name: "sma", Outputs: []string{"value"}, New: newSMA, Batch: batchSMA})
	assert.ErrorIs(t, err, models.ErrDuplicateIndicator)

	assert.Error(t, registry.Register(Definition{Outputs: []string{"value"}, New: newSMA, Batch: batchSMA}))
	assert.Error(t, registry.Register(Definition{Name: "half", Outputs: []string{"value"}, New: newSMA}))
	assert.Error(t, registry.Register(Definition{Name: "mute", New: newSMA, Batch: batchSMA}))
}

func TestRegistry_Resolve(t *testing.T) {
	registry := NewIndicatorRegistry()
	require.NoError(t, RegisterAllIndicators(registry))

	r, err := registry.Resolve(models.IndicatorSpec{ID: "m", Name: "macd", Params: map[string]float64{"fast": 5}, Timeframe: "15m"})
	require.NoError(t, err)
	assert.Equal(t, Params{"fast": 5, "slow": 26, "signal": 9}, r.Params)
	assert.Equal(t, "15m0s", r.Timeframe.String())

	r, err = registry.Resolve(models.IndicatorSpec{ID: "s", Name: "sma", Params: map[string]float64{"length": MaxPeriod}})
	require.NoError(t, err)
	assert.Equal(t, MaxPeriod, r.Params.Int("length"))

	tests := []struct {
		name string
		spec models.IndicatorSpec
		want error
	}{
		{"unknown name", models.IndicatorSpec{ID: "x", Name: "vwap"}, models.ErrUnknownIndicator},
		{"unknown param", models.IndicatorSpec{ID: "x", Name: "rsi", Params: map[string]float64{"period": 3}}, models.ErrValidation},
		{"fractional period", models.IndicatorSpec{ID: "x", Name: "rsi", Params: map[string]float64{"length": 2.5}}, models.ErrValidation},
		{"huge period", models.IndicatorSpec{ID: "x", Name: "sma", Params: map[string]float64{"length": 4e12}}, models.ErrValidation},
		{"period above ceiling", models.IndicatorSpec{ID: "x", Name: "macd", Params: map[string]float64{"slow": MaxPeriod + 1}}, models.ErrValidation},
		{"negative multiplier", models.IndicatorSpec{ID: "x", Name: "bollinger", Params: map[string]float64{"multiplier": -1}}, models.ErrValidation},
		{"source on candle indicator", models.IndicatorSpec{ID: "x", Name: "atr", Source: models.Source{Field: "close"}}, models.ErrValidation},
		{"composite without output", models.IndicatorSpec{ID: "x", Name: "ema", Source: models.Source{IndicatorID: "y"}}, models.ErrValidation},
		{"bad timeframe", models.IndicatorSpec{ID: "x", Name: "ema", Timeframe: "5 minutes"}, models.ErrValidation},
		{"missing id", models.IndicatorSpec{Name: "ema"}, models.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Resolve(tt.spec)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestComputeOrder(t *testing.T) {
	specs := []models.IndicatorSpec{
		{ID: "signal", Name: "ema", Source: models.Source{IndicatorID: "base", Output: "value"}},
		{ID: "other", Name: "rsi"},
		{ID: "base", Name: "sma"},
		{ID: "deep", Name: "rsi", Source: models.Source{IndicatorID: "signal", Output: "value"}},
	}

	order, err := ComputeOrder(specs)
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "base", "signal", "deep"}, order)
}

func TestComputeOrder_Errors(t *testing.T) {
	_, err := ComputeOrder([]models.IndicatorSpec{
		{ID: "a", Name: "ema", Source: models.Source{IndicatorID: "b", Output: "value"}},
		{ID: "b", Name: "ema", Source: models.Source{IndicatorID: "a", Output: "value"}},
	})
	assert.ErrorIs(t, err, models.ErrDependencyCycle)

	_, err = ComputeOrder([]models.IndicatorSpec{
		{ID: "a", Name: "ema", Source: models.Source{IndicatorID: "ghost", Output: "value"}},
	})
	assert.ErrorIs(t, err, models.ErrUnknownDependency)

	_, err = ComputeOrder([]models.IndicatorSpec{{ID: "a", Name: "ema"}, {ID: "a", Name: "sma"}})
	assert.ErrorIs(t, err, models.ErrValidation)
}
