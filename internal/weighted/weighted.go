// Package weighted implements the validated weighted linear combination shared
// by mood scoring, confidence assessment and similarity.
package weighted

import (
	"fmt"
	"math"
	"strings"

	"github.com/rcliao/agent-mood/internal/model"
)

// Tolerance is the allowed deviation of a weight set's sum from 1.0.
const Tolerance = 1e-6

// Factor is one named weight.
type Factor struct {
	Name   string  `json:"name" mapstructure:"name" yaml:"name"`
	Weight float64 `json:"weight" mapstructure:"weight" yaml:"weight"`
}

// Set is an immutable, validated weight set. The zero value is unusable; build with New.
type Set struct {
	factors []Factor
	index   map[string]int
}

// New validates the factors and returns a Set. Weights must be finite,
// non-negative, uniquely named and sum to 1.0 within Tolerance.
func New(factors ...Factor) (Set, error) {
	if len(factors) == 0 {
		return Set{}, &model.InvalidInputError{Field: "weights", Reason: "empty weight set"}
	}

	s := Set{
		factors: make([]Factor, len(factors)),
		index:   make(map[string]int, len(factors)),
	}
	sum := 0.0
	for i, f := range factors {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return Set{}, &model.InvalidInputError{Field: "weights", Reason: fmt.Sprintf("factor %d has no name", i)}
		}
		if math.IsNaN(f.Weight) || math.IsInf(f.Weight, 0) || f.Weight < 0 {
			return Set{}, &model.InvalidInputError{Field: "weights." + name, Reason: fmt.Sprintf("weight %g must be finite and non-negative", f.Weight)}
		}
		if _, dup := s.index[name]; dup {
			return Set{}, &model.InvalidInputError{Field: "weights." + name, Reason: "duplicate factor"}
		}
		s.factors[i] = Factor{Name: name, Weight: f.Weight}
		s.index[name] = i
		sum += f.Weight
	}
	if math.Abs(sum-1.0) > Tolerance {
		return Set{}, &model.InvalidInputError{Field: "weights", Reason: fmt.Sprintf("weights sum to %.9f, want 1.0", sum)}
	}
	return s, nil
}

// MustNew is New for package-level defaults; it panics on an invalid set.
func MustNew(factors ...Factor) Set {
	s, err := New(factors...)
	if err != nil {
		panic(err)
	}
	return s
}

// FromMap builds a Set from name→weight pairs, ordering factors by the given names.
// Every name must be present in weights and no extra keys are allowed.
func FromMap(order []string, weights map[string]float64) (Set, error) {
	if len(weights) != len(order) {
		return Set{}, &model.InvalidInputError{Field: "weights", Reason: fmt.Sprintf("expected %d factors, got %d", len(order), len(weights))}
	}
	factors := make([]Factor, 0, len(order))
	for _, name := range order {
		w, ok := weights[name]
		if !ok {
			return Set{}, &model.InvalidInputError{Field: "weights." + name, Reason: "missing factor"}
		}
		factors = append(factors, Factor{Name: name, Weight: w})
	}
	return New(factors...)
}

// Replace returns a new Set built from factors. The receiver is untouched, so
// a retune swaps the whole set or nothing.
func (s Set) Replace(factors ...Factor) (Set, error) {
	return New(factors...)
}

// Len returns the number of factors.
func (s Set) Len() int { return len(s.factors) }

// Factors returns a copy of the factors in declaration order.
func (s Set) Factors() []Factor {
	out := make([]Factor, len(s.factors))
	copy(out, s.factors)
	return out
}

// Names returns factor names in declaration order.
func (s Set) Names() []string {
	out := make([]string, len(s.factors))
	for i, f := range s.factors {
		out[i] = f.Name
	}
	return out
}

// Weight returns the weight for name and whether it exists.
func (s Set) Weight(name string) (float64, bool) {
	i, ok := s.index[name]
	if !ok {
		return 0, false
	}
	return s.factors[i].Weight, true
}

// Has reports whether the set names exactly the given factors, in any order.
func (s Set) Has(names ...string) bool {
	if len(names) != len(s.factors) {
		return false
	}
	for _, n := range names {
		if _, ok := s.index[n]; !ok {
			return false
		}
	}
	return true
}

// Combine returns Σ value×weight. Every factor must have a finite value and
// no unknown names may be supplied.
func (s Set) Combine(values map[string]float64) (float64, error) {
	if len(s.factors) == 0 {
		return 0, &model.InvalidInputError{Field: "weights", Reason: "weight set not initialized"}
	}
	for name := range values {
		if _, ok := s.index[name]; !ok {
			return 0, &model.InvalidInputError{Field: name, Reason: "unknown factor"}
		}
	}
	total := 0.0
	for _, f := range s.factors {
		v, ok := values[f.Name]
		if !ok {
			return 0, &model.InvalidInputError{Field: f.Name, Reason: "missing value"}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, &model.InvalidInputError{Field: f.Name, Reason: "value is not finite"}
		}
		total += v * f.Weight
	}
	return total, nil
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

// Round rounds half away from zero to the given decimal places. A 1e-9 guard
// keeps binary representation error (6.7499999…) from flipping a half up.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	if v < 0 {
		return -math.Round(-v*p+1e-9) / p
	}
	return math.Round(v*p+1e-9) / p
}
