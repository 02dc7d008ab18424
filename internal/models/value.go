package models

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
)

// Value is an indicator output: a finite number, or undefined during warm-up.
// The zero Value is undefined.
type Value struct {
	Float   float64
	Defined bool
}

// Number returns a defined Value. NaN and infinities come back undefined.
func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{Float: f, Defined: true}
}

// MarshalJSON encodes an undefined value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(v.Float)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Number(f)
	return nil
}

// Values holds the named outputs of one indicator at one point in time.
type Values map[string]Value

// Undefined returns Values with every named output undefined.
func Undefined(names []string) Values {
	v := make(Values, len(names))
	for _, n := range names {
		v[n] = Value{}
	}
	return v
}

// AllDefined reports whether every output is defined.
func (v Values) AllDefined() bool {
	if len(v) == 0 {
		return false
	}
	for _, x := range v {
		if !x.Defined {
			return false
		}
	}
	return true
}

func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

// Names returns the output names in sorted order.
func (v Values) Names() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
