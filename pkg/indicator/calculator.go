package indicator

import (
	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

// Output names shared by every indicator. A single-series indicator emits
// OutputValue; the others emit a record of named outputs.
const (
	OutputValue     = "value"
	OutputMACD      = "macd"
	OutputSignal    = "signal"
	OutputHistogram = "histogram"
	OutputUpper     = "upper"
	OutputMiddle    = "middle"
	OutputLower     = "lower"
	OutputK         = "k"
	OutputD         = "d"
	OutputADX       = "adx"
	OutputPlusDI    = "plus_di"
	OutputMinusDI   = "minus_di"
)

// Input is one bar presented to a Calculator.
// Source-based indicators read Source; candle-based indicators read Candle.
type Input struct {
	Candle models.Candle
	Source models.Value
}

// CandleInput builds an Input whose source is the candle's close.
func CandleInput(c models.Candle) Input {
	return Input{Candle: c, Source: models.Number(c.Close)}
}

// SourceInput builds an Input carrying only a source value.
func SourceInput(v models.Value) Input {
	return Input{Source: v}
}

// Calculator is the interface for incremental indicator computation.
// Each indicator type implements this interface.
type Calculator interface {
	// Name returns the parameterised name (e.g., "rsi_14", "macd_12_26_9")
	Name() string

	// Outputs returns the names of the values every point carries
	Outputs() []string

	// Update commits one closed bar and returns its outputs
	Update(in Input) models.Values

	// Peek returns the outputs Update would return for in, without mutating state
	Peek(in Input) models.Values

	// Value returns the outputs of the last committed bar
	Value() models.Values

	// Snapshot returns the carry-over state. It is never mutated afterwards.
	Snapshot() any

	// Clone returns an independent calculator with the same state
	Clone() Calculator

	// IsReady returns true once every output of the last committed bar is defined
	IsReady() bool

	// WindowSize returns the number of bars before the first fully defined point
	WindowSize() int

	// BarsProcessed returns the number of bars committed so far
	BarsProcessed() int
}

type stepFunc[S any] func(s S, in Input) (S, models.Values)

// stateful holds the bookkeeping shared by every calculator. The step
// function receives the state by value and must never write into slices it
// did not allocate, so snapshots and peeks stay independent.
type stateful[S any] struct {
	name      string
	outputs   []string
	window    int
	state     S
	last      models.Values
	processed int
	step      stepFunc[S]
}

func newStateful[S any](name string, outputs []string, window int, step stepFunc[S]) stateful[S] {
	return stateful[S]{
		name:    name,
		outputs: outputs,
		window:  window,
		step:    step,
	}
}

func (c *stateful[S]) Name() string {
	return c.name
}

func (c *stateful[S]) Outputs() []string {
	return append([]string(nil), c.outputs...)
}

func (c *stateful[S]) Update(in Input) models.Values {
	next, out := c.step(c.state, in)
	c.state = next
	c.last = out
	c.processed++
	return out.Clone()
}

func (c *stateful[S]) Peek(in Input) models.Values {
	_, out := c.step(c.state, in)
	return out
}

func (c *stateful[S]) Value() models.Values {
	if c.last == nil {
		return models.Undefined(c.outputs)
	}
	return c.last.Clone()
}

func (c *stateful[S]) Snapshot() any {
	return c.state
}

func (c *stateful[S]) IsReady() bool {
	return c.last.AllDefined()
}

func (c *stateful[S]) WindowSize() int {
	return c.window
}

func (c *stateful[S]) BarsProcessed() int {
	return c.processed
}

// undefinedOf returns a Values with all names undefined.
func undefinedOf(names ...string) models.Values {
	return models.Undefined(names)
}
