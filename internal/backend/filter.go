package backend

import (
	"encoding/json"
	"fmt"
)

// Op is a filter comparison.
type Op string

const (
	OpEqual          Op = "eq"
	OpGreaterOrEqual Op = "gte"
)

// Filter is a predicate on one top-level document field.
type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

func Equal(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

func GreaterOrEqual(field string, value any) Filter {
	return Filter{Field: field, Op: OpGreaterOrEqual, Value: value}
}

// Validate rejects unknown operators, unsafe field names and non-scalar values.
func (f Filter) Validate() error {
	if f.Op != OpEqual && f.Op != OpGreaterOrEqual {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, f.Op)
	}
	if f.Field == "" {
		return fmt.Errorf("%w: empty field", ErrInvalidFilter)
	}
	for i, r := range f.Field {
		ok := r == '_' || r >= 'a' && r <= 'z' || (i > 0 && r >= '0' && r <= '9')
		if !ok {
			return fmt.Errorf("%w: field %q", ErrInvalidFilter, f.Field)
		}
	}
	switch f.Value.(type) {
	case string, bool, int, int64, float64, json.Number:
	default:
		return fmt.Errorf("%w: value of %s has type %T", ErrInvalidFilter, f.Field, f.Value)
	}
	if _, ok := f.Value.(bool); ok && f.Op != OpEqual {
		return fmt.Errorf("%w: %s on a boolean", ErrInvalidFilter, f.Op)
	}
	return nil
}

// Matches evaluates the filter against document data. A missing field never matches.
// Strings compare lexically, numbers numerically; mixed types never match.
func (f Filter) Matches(data map[string]any) bool {
	got, ok := data[f.Field]
	if !ok || got == nil {
		return false
	}

	if gs, ok := got.(string); ok {
		ws, ok := f.Value.(string)
		if !ok {
			return false
		}
		if f.Op == OpEqual {
			return gs == ws
		}
		return gs >= ws
	}
	if gb, ok := got.(bool); ok {
		wb, ok := f.Value.(bool)
		return ok && f.Op == OpEqual && gb == wb
	}

	gn, ok := toFloat(got)
	if !ok {
		return false
	}
	wn, ok := toFloat(f.Value)
	if !ok {
		return false
	}
	if f.Op == OpEqual {
		return gn == wn
	}
	return gn >= wn
}

// MatchAll reports whether data satisfies every filter.
func MatchAll(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !f.Matches(data) {
			return false
		}
	}
	return true
}

// ValidateFilters validates each filter in order.
func ValidateFilters(filters []Filter) error {
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Kind classifies a filter value for backends that compile filters to SQL.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
)

// Kind returns the kind of f.Value. It assumes f has been validated.
func (f Filter) Kind() Kind {
	switch f.Value.(type) {
	case string:
		return KindString
	case bool:
		return KindBool
	default:
		return KindNumber
	}
}

// Number returns a numeric filter value as float64.
func (f Filter) Number() float64 {
	n, _ := toFloat(f.Value)
	return n
}
