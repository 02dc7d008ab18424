package indicator

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
	indicatorpkg "github.com/mohamedkhairy/indicator-engine/pkg/indicator"
)

// InputKind says what an indicator consumes.
type InputKind int

const (
	// InputSource indicators read one value per bar (a candle field or another indicator's output)
	InputSource InputKind = iota
	// InputCandles indicators read full OHLC candles
	InputCandles
)

func (k InputKind) String() string {
	if k == InputCandles {
		return "candles"
	}
	return "source"
}

// ParamDef describes one numeric parameter of an indicator.
// A zero Max leaves the parameter unbounded above.
type ParamDef struct {
	Name    string
	Default float64
	Min     float64
	Max     float64
	Integer bool
}

// Params holds resolved parameter values.
type Params map[string]float64

// Int returns an integer parameter
func (p Params) Int(name string) int {
	return int(p[name])
}

// Float returns a float parameter
func (p Params) Float(name string) float64 {
	return p[name]
}

// BatchInput is the full history handed to a batch function.
type BatchInput struct {
	Candles []models.Candle
	Source  []models.Value
}

// Definition is the compute adapter registered for one indicator name.
type Definition struct {
	Name        string
	Description string
	Category    string // "momentum", "trend", "volatility"
	Input       InputKind
	Params      []ParamDef
	Outputs     []string

	// New builds an incremental calculator
	New func(p Params) (indicatorpkg.Calculator, error)

	// Batch computes the whole series in one pass
	Batch func(p Params, in BatchInput) ([]models.Values, error)
}

// IndicatorMetadata contains information about an indicator
type IndicatorMetadata struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Category    string             `json:"category"`
	Input       string             `json:"input"`
	Parameters  map[string]float64 `json:"parameters"`
	Outputs     []string           `json:"outputs"`
}

// Resolved is a spec bound to its definition with defaults applied.
type Resolved struct {
	Spec      models.IndicatorSpec
	Def       *Definition
	Params    Params
	Timeframe time.Duration // 0 means the engine's base timeframe
}

// IndicatorRegistry maps indicator names to compute adapters. It is owned by
// one engine and populated once at startup.
type IndicatorRegistry struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
}

// NewIndicatorRegistry creates a new indicator registry
func NewIndicatorRegistry() *IndicatorRegistry {
	return &IndicatorRegistry{
		definitions: make(map[string]*Definition),
	}
}

// Register registers an indicator definition
func (r *IndicatorRegistry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("indicator name cannot be empty")
	}
	if def.New == nil || def.Batch == nil {
		return fmt.Errorf("indicator %q must provide both batch and incremental functions", def.Name)
	}
	if len(def.Outputs) == 0 {
		return fmt.Errorf("indicator %q must declare at least one output", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.definitions[def.Name]; exists {
		return fmt.Errorf("%w: %q", models.ErrDuplicateIndicator, def.Name)
	}

	d := def
	r.definitions[def.Name] = &d
	return nil
}

// Get returns the definition for an indicator name
func (r *IndicatorRegistry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, exists := r.definitions[name]
	return def, exists
}

// ListAvailable returns all registered indicator names, sorted
func (r *IndicatorRegistry) ListAvailable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetMetadata returns metadata for an indicator
func (r *IndicatorRegistry) GetMetadata(name string) (IndicatorMetadata, bool) {
	def, ok := r.Get(name)
	if !ok {
		return IndicatorMetadata{}, false
	}

	params := make(map[string]float64, len(def.Params))
	for _, p := range def.Params {
		params[p.Name] = p.Default
	}
	return IndicatorMetadata{
		Name:        def.Name,
		Description: def.Description,
		Category:    def.Category,
		Input:       def.Input.String(),
		Parameters:  params,
		Outputs:     append([]string(nil), def.Outputs...),
	}, true
}

// Resolve validates a spec against the registry. Unknown names fail here,
// never at compute time.
func (r *IndicatorRegistry) Resolve(spec models.IndicatorSpec) (*Resolved, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	def, ok := r.Get(spec.Name)
	if !ok {
		return nil, &models.UnknownIndicatorError{Name: spec.Name}
	}

	params, err := resolveParams(def, spec.Params)
	if err != nil {
		return nil, err
	}

	if def.Input == InputCandles && (spec.Source.IsComposite() || spec.Source.Field != "") {
		return nil, models.NewValidationError("source", fmt.Sprintf("%s reads candles and takes no source", def.Name))
	}
	if spec.Source.IsComposite() && spec.Source.Output == "" {
		return nil, models.NewValidationError("source.output", "required when reading another indicator")
	}

	var tf time.Duration
	if spec.Timeframe != "" {
		tf, err = models.ParseTimeframe(spec.Timeframe)
		if err != nil {
			return nil, &models.ValidationError{Field: "timeframe", Err: err}
		}
	}

	return &Resolved{Spec: spec, Def: def, Params: params, Timeframe: tf}, nil
}

func resolveParams(def *Definition, given map[string]float64) (Params, error) {
	known := make(map[string]ParamDef, len(def.Params))
	params := make(Params, len(def.Params))
	for _, p := range def.Params {
		known[p.Name] = p
		params[p.Name] = p.Default
	}

	for name, v := range given {
		p, ok := known[name]
		if !ok {
			return nil, models.NewValidationError("params."+name, fmt.Sprintf("unknown parameter for %s", def.Name))
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, models.NewValidationError("params."+name, "must be finite")
		}
		if p.Integer && v != math.Trunc(v) {
			return nil, models.NewValidationError("params."+name, "must be an integer")
		}
		if v < p.Min {
			return nil, models.NewValidationError("params."+name, fmt.Sprintf("must be at least %g", p.Min))
		}
		if p.Max > 0 && v > p.Max {
			return nil, models.NewValidationError("params."+name, fmt.Sprintf("must be at most %g", p.Max))
		}
		params[name] = v
	}
	return params, nil
}

// ComputeOrder returns spec IDs ordered so every composite indicator comes
// after the indicator it reads. Ties keep the input order. Unknown
// dependencies and cycles are rejected.
func ComputeOrder(specs []models.IndicatorSpec) ([]string, error) {
	position := make(map[string]int, len(specs))
	for i, s := range specs {
		if _, dup := position[s.ID]; dup {
			return nil, models.NewValidationError("id", fmt.Sprintf("duplicate indicator id %q", s.ID))
		}
		position[s.ID] = i
	}

	indegree := make([]int, len(specs))
	dependents := make([][]int, len(specs))
	for i, s := range specs {
		if !s.Source.IsComposite() {
			continue
		}
		dep, ok := position[s.Source.IndicatorID]
		if !ok {
			return nil, fmt.Errorf("%w: %q reads %q", models.ErrUnknownDependency, s.ID, s.Source.IndicatorID)
		}
		indegree[i]++
		dependents[dep] = append(dependents[dep], i)
	}

	// Kahn's algorithm, always taking the lowest ready position
	ready := make([]int, 0, len(specs))
	for i := range specs {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]string, 0, len(specs))
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, specs[next].ID)
		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(specs) {
		return nil, models.ErrDependencyCycle
	}
	return order, nil
}
