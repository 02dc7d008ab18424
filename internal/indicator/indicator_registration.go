package indicator

import (
	"github.com/mohamedkhairy/indicator-engine/internal/models"
	indicatorpkg "github.com/mohamedkhairy/indicator-engine/pkg/indicator"
)

// MaxPeriod caps every lookback parameter.
const MaxPeriod = 10000

func period(name string, def float64) ParamDef {
	return ParamDef{Name: name, Default: def, Min: 1, Max: MaxPeriod, Integer: true}
}

// RegisterAllIndicators registers every built-in indicator
func RegisterAllIndicators(registry *IndicatorRegistry) error {
	defs := []Definition{
		{
			Name:        "sma",
			Description: "Simple Moving Average",
			Category:    "trend",
			Input:       InputSource,
			Params:      []ParamDef{period("length", 20)},
			Outputs:     []string{indicatorpkg.OutputValue},
			New: func(p Params) (indicatorpkg.Calculator, error) {
				return indicatorpkg.NewSMA(p.Int("length"))
			},
			Batch: func(p Params, in BatchInput) ([]models.Values, error) {
				return indicatorpkg.SMASeries(in.Source, p.Int("length"))
			},
		},
		{
			Name:        "ema",
			Description: "Exponential Moving Average",
			Category:    "trend",
			Input:       InputSource,
			Params:      []ParamDef{period("length", 20)},
			Outputs:     []string{indicatorpkg.OutputValue},
			New: func(p Params) (indicatorpkg.Calculator, error) {
				return indicatorpkg.NewEMA(p.Int("length"))
			},
			Batch: func(p Params, in BatchInput) ([]models.Values, error) {
				return indicatorpkg.EMASeries(in.Source, p.Int("length"))
			},
		},
		{
			Name:        "rsi",
			Description: "Relative Strength Index (Wilder)",
			Category:    "momentum",
			Input:       InputSource,
			Params:      []ParamDef{period("length", 14)},
			Outputs:     []string{indicatorpkg.OutputValue},
			New: func(p Params) (indicatorpkg.Calculator, error) {
				return indicatorpkg.NewRSI(p.Int("length"))
			},
			Batch: func(p Params, in BatchInput) ([]models.Values, error) {
				return indicatorpkg.RSISeries(in.Source, p.Int("length"))
			},
		},
		{
			Name:        "macd",
			Description: "Moving Average Convergence Divergence",
			Category:    "trend",
			Input:       InputSource,
			Params:      []ParamDef{period("fast", 12), period("slow", 26), period("signal", 9)},
			Outputs:     []string{indicatorpkg.OutputMACD, indicatorpkg.OutputSignal, indicatorpkg.OutputHistogram},
			New: func(p Params) (indicatorpkg.Calculator, error) {
				return indicatorpkg.NewMACD(p.Int("fast"), p.Int("slow"), p.Int("signal"))
			},
			Batch: func(p Params, in BatchInput) ([]models.Values, error) {
				return indicatorpkg.MACDSeries(in.Source, p.Int("fast"), p.Int("slow"), p.Int("signal"))
			},
		},
		{
			Name:        "bollinger",
			Description: "Bollinger Bands",
			Category:    "volatility",
			Input:       InputSource,
			Params:      []ParamDef{period("period", 20), {Name: "multiplier", Default: 2, Min: 0}},
			Outputs:     []string{indicatorpkg.OutputUpper, indicatorpkg.OutputMiddle, indicatorpkg.OutputLower},
			New: func(p Params) (indicatorpkg.Calculator, error) {
				return indicatorpkg.NewBollinger(p.Int("period"), p.Float("multiplier"))
			},
			Batch: func(p Params, in BatchInput) ([]models.Values, error) {
				return indicatorpkg.BollingerSeries(in.Source, p.Int("period"), p.Float("multiplier"))
			},
		},
		{
			Name:        "stochastic",
			Description: "Stochastic Oscillator",
			Category:    "momentum",
			Input:       InputCandles,
			Params:      []ParamDef{period("kPeriod", 14), period("dPeriod", 3), period("smoothK", 3)},
			Outputs:     []string{indicatorpkg.OutputK, indicatorpkg.OutputD},
			New: func(p Params) (indicatorpkg.Calculator, error) {
				return indicatorpkg.NewStochastic(p.Int("kPeriod"), p.Int("dPeriod"), p.Int("smoothK"))
			},
			Batch: func(p Params, in BatchInput) ([]models.Values, error) {
				return indicatorpkg.StochasticSeries(in.Candles, p.Int("kPeriod"), p.Int("dPeriod"), p.Int("smoothK"))
			},
		},
		{
			Name:        "williams_r",
			Description: "Williams %R",
			Category:    "momentum",
			Input:       InputCandles,
			Params:      []ParamDef{period("period", 14)},
			Outputs:     []string{indicatorpkg.OutputValue},
			New: func(p Params) (indicatorpkg.Calculator, error) {
				return indicatorpkg.NewWilliamsR(p.Int("period"))
			},
			Batch: func(p Params, in BatchInput) ([]models.Values, error) {
				return indicatorpkg.WilliamsRSeries(in.Candles, p.Int("period"))
			},
		},
		{
			Name:        "atr",
			Description: "Average True Range",
			Category:    "volatility",
			Input:       InputCandles,
			Params:      []ParamDef{period("period", 14)},
			Outputs:     []string{indicatorpkg.OutputValue},
			New: func(p Params) (indicatorpkg.Calculator, error) {
				return indicatorpkg.NewATR(p.Int("period"))
			},
			Batch: func(p Params, in BatchInput) ([]models.Values, error) {
				return indicatorpkg.ATRSeries(in.Candles, p.Int("period"))
			},
		},
		{
			Name:        "adx",
			Description: "Average Directional Index",
			Category:    "trend",
			Input:       InputCandles,
			Params:      []ParamDef{period("period", 14)},
			Outputs:     []string{indicatorpkg.OutputADX, indicatorpkg.OutputPlusDI, indicatorpkg.OutputMinusDI},
			New: func(p Params) (indicatorpkg.Calculator, error) {
				return indicatorpkg.NewADX(p.Int("period"))
			},
			Batch: func(p Params, in BatchInput) ([]models.Values, error) {
				return indicatorpkg.ADXSeries(in.Candles, p.Int("period"))
			},
		},
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
