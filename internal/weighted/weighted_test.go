package weighted

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-mood/internal/model"
)

func TestNewValidatesSum(t *testing.T) {
	tests := []struct {
		name    string
		factors []Factor
		wantErr bool
	}{
		{"exact", []Factor{{"a", 0.5}, {"b", 0.5}}, false},
		{"within tolerance", []Factor{{"a", 0.3333333}, {"b", 0.3333333}, {"c", 0.3333334}}, false},
		{"short", []Factor{{"a", 0.5}, {"b", 0.4}}, true},
		{"over", []Factor{{"a", 0.7}, {"b", 0.4}}, true},
		{"negative", []Factor{{"a", 1.2}, {"b", -0.2}}, true},
		{"duplicate", []Factor{{"a", 0.5}, {"a", 0.5}}, true},
		{"unnamed", []Factor{{"", 1.0}}, true},
		{"empty", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.factors...)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, model.ErrInvalidInput))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCombineIsOrderIndependent(t *testing.T) {
	s := MustNew(Factor{"x", 0.6}, Factor{"y", 0.4})

	got, err := s.Combine(map[string]float64{"y": 5, "x": 10})
	require.NoError(t, err)
	assert.InDelta(t, 8.0, got, 1e-12)

	_, err = s.Combine(map[string]float64{"x": 1})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = s.Combine(map[string]float64{"x": 1, "y": 1, "z": 1})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestReplaceLeavesOriginal(t *testing.T) {
	s := MustNew(Factor{"x", 0.6}, Factor{"y", 0.4})

	_, err := s.Replace(Factor{"x", 0.9}, Factor{"y", 0.4})
	require.Error(t, err)

	w, _ := s.Weight("x")
	assert.Equal(t, 0.6, w)

	r, err := s.Replace(Factor{"x", 0.1}, Factor{"y", 0.9})
	require.NoError(t, err)
	w, _ = r.Weight("x")
	assert.Equal(t, 0.1, w)
}

func TestFromMap(t *testing.T) {
	s, err := FromMap([]string{"b", "a"}, map[string]float64{"a": 0.25, "b": 0.75})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, s.Names())
	assert.True(t, s.Has("a", "b"))

	_, err = FromMap([]string{"a", "b"}, map[string]float64{"a": 1.0})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 6.8, Round(6.75, 1))
	assert.Equal(t, 6.8, Round(6.749999999999999, 1))
	assert.Equal(t, 6.7, Round(6.74, 1))
	assert.Equal(t, -1.3, Round(-1.25, 1))
	assert.Equal(t, 10.0, Clamp(12, 0, 10))
	assert.Equal(t, 0.0, Clamp(-1, 0, 10))
}
