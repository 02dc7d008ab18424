package models

import (
	"time"
)

// Source selects the input series of a source-based indicator: either a
// candle field or one output of another registered indicator.
type Source struct {
	Field       string `json:"field,omitempty"`
	IndicatorID string `json:"indicatorId,omitempty"`
	Output      string `json:"output,omitempty"`
}

// IsComposite reports whether the source reads another indicator's output.
func (s Source) IsComposite() bool {
	return s.IndicatorID != ""
}

// IndicatorSpec describes one active indicator. It is immutable once
// registered; changing parameters requires removing and re-adding it.
type IndicatorSpec struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Params         map[string]float64 `json:"params,omitempty"`
	Source         Source             `json:"source,omitempty"`
	Timeframe      string             `json:"timeframe,omitempty"`
	ConfirmOnClose *bool              `json:"confirmOnClose,omitempty"`
}

// Confirm returns the effective confirm-on-close flag (default true).
func (s *IndicatorSpec) Confirm() bool {
	if s.ConfirmOnClose == nil {
		return true
	}
	return *s.ConfirmOnClose
}

// Validate checks the fields that do not depend on the registry.
func (s *IndicatorSpec) Validate() error {
	if s.ID == "" {
		return NewValidationError("id", "must not be empty")
	}
	if s.Name == "" {
		return NewValidationError("name", "must not be empty")
	}
	if s.Source.IsComposite() {
		if s.Source.Field != "" {
			return NewValidationError("source", "field and indicatorId are mutually exclusive")
		}
		if s.Source.IndicatorID == s.ID {
			return NewValidationError("source", "indicator cannot read its own output")
		}
	} else if s.Source.Field != "" && !IsCandleField(s.Source.Field) {
		return NewValidationError("source.field", "unknown candle field "+s.Source.Field)
	}
	if s.Timeframe != "" {
		if _, err := ParseTimeframe(s.Timeframe); err != nil {
			return &ValidationError{Field: "timeframe", Err: err}
		}
	}
	return nil
}

// IndicatorPoint is one time-keyed set of named outputs.
type IndicatorPoint struct {
	Time   time.Time `json:"time"`
	Values Values    `json:"values"`
}

// IndicatorUpdate is a message on the distribution channel.
type IndicatorUpdate struct {
	IndicatorID string           `json:"indicatorId"`
	Points      []IndicatorPoint `json:"points"`
	Partial     bool             `json:"partial,omitempty"`
}

// ComputeState is the carry-over state the engine keeps per indicator.
// Carry is the calculator snapshot; Forming and LastClosed are only set for
// indicators running on a coarser timeframe than the feed. Bars counts the
// bars the calculator committed on its own timeframe.
type ComputeState struct {
	SpecID     string    `json:"specId"`
	LastIndex  int       `json:"lastIndex"`
	LastTime   time.Time `json:"lastTime"`
	Carry      any       `json:"-"`
	Warmup     int       `json:"warmup"`
	Bars       int       `json:"bars"`
	Ready      bool      `json:"ready"`
	Forming    *Candle   `json:"forming,omitempty"`
	LastClosed Values    `json:"lastClosed,omitempty"`
}

// Envelope types sent to downstream consumers.
const (
	MessageTypeSnapshot = "snapshot"
	MessageTypeUpdate   = "update"
	MessageTypeError    = "error"
)

// SnapshotMessage carries candles and full indicator history, sent on connect.
type SnapshotMessage struct {
	Type       string                      `json:"type"`
	Symbol     string                      `json:"symbol,omitempty"`
	Timeframe  string                      `json:"timeframe,omitempty"`
	Candles    []Candle                    `json:"candles"`
	Indicators map[string][]IndicatorPoint `json:"indicators"`
}

// NewSnapshotMessage builds a snapshot envelope.
func NewSnapshotMessage(symbol, timeframe string, candles []Candle, indicators map[string][]IndicatorPoint) SnapshotMessage {
	if candles == nil {
		candles = []Candle{}
	}
	if indicators == nil {
		indicators = map[string][]IndicatorPoint{}
	}
	return SnapshotMessage{
		Type:       MessageTypeSnapshot,
		Symbol:     symbol,
		Timeframe:  timeframe,
		Candles:    candles,
		Indicators: indicators,
	}
}

// UpdateMessage carries only the latest point(s) of one indicator.
type UpdateMessage struct {
	Type        string           `json:"type"`
	IndicatorID string           `json:"indicatorId"`
	Partial     bool             `json:"partial"`
	Points      []IndicatorPoint `json:"points"`
}

// NewUpdateMessage converts a channel update into its wire envelope.
func NewUpdateMessage(u IndicatorUpdate) UpdateMessage {
	return UpdateMessage{
		Type:        MessageTypeUpdate,
		IndicatorID: u.IndicatorID,
		Partial:     u.Partial,
		Points:      u.Points,
	}
}

// ErrorMessage reports a typed error to a consumer.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
