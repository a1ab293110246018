package similarity

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/agent-mood/internal/features"
	"github.com/rcliao/agent-mood/internal/model"
)

// symmetryTolerance bounds |m[i][j] - m[j][i]| for supplied matrices.
const symmetryTolerance = 1e-9

// Matrix is a dense symmetric similarity matrix. Row i belongs to IDs()[i].
// A Matrix is read-only after construction.
type Matrix struct {
	ids    []string
	index  map[string]int
	values []float64
}

func newMatrix(ids []string) (*Matrix, error) {
	m := &Matrix{
		ids:    append([]string(nil), ids...),
		index:  make(map[string]int, len(ids)),
		values: make([]float64, len(ids)*len(ids)),
	}
	for i, id := range ids {
		if id == "" {
			return nil, &model.InvalidInputError{Field: "ids", Reason: fmt.Sprintf("empty id at %d", i)}
		}
		if _, dup := m.index[id]; dup {
			return nil, &model.InvalidInputError{ItemID: id, Field: "ids", Reason: "duplicate id"}
		}
		m.index[id] = i
		m.values[i*len(ids)+i] = 1
	}
	return m, nil
}

// NewMatrix validates an externally computed matrix. It must be square,
// symmetric, bounded to [0,1] and have a unit diagonal.
func NewMatrix(ids []string, values [][]float64) (*Matrix, error) {
	if len(values) != len(ids) {
		return nil, &model.InvalidInputError{Field: "matrix", Reason: fmt.Sprintf("%d rows for %d ids", len(values), len(ids))}
	}
	m, err := newMatrix(ids)
	if err != nil {
		return nil, err
	}
	n := len(ids)
	for i, row := range values {
		if len(row) != n {
			return nil, &model.InvalidInputError{ItemID: ids[i], Field: "matrix", Reason: fmt.Sprintf("row has %d columns, want %d", len(row), n)}
		}
	}
	for i, row := range values {
		for j, v := range row {
			if math.IsNaN(v) || v < 0 || v > 1 {
				return nil, &model.InvalidInputError{ItemID: ids[i], Field: "matrix", Reason: fmt.Sprintf("value %g at (%d,%d) outside [0,1]", v, i, j)}
			}
			if i == j && v != 1 {
				return nil, &model.InvalidInputError{ItemID: ids[i], Field: "matrix", Reason: "diagonal must be 1"}
			}
			if math.Abs(v-values[j][i]) > symmetryTolerance {
				return nil, &model.InvalidInputError{ItemID: ids[i], Field: "matrix", Reason: fmt.Sprintf("asymmetric at (%d,%d)", i, j)}
			}
			m.values[i*n+j] = v
		}
	}
	return m, nil
}

// BuildMatrix computes all pairwise similarities. Work is spread across rows;
// each pair is computed once and mirrored. Feature vectors are validated
// first and an invalid one fails the whole build.
func BuildMatrix(ctx context.Context, c *Calculator, fs []model.ClusteringFeatures, workers int) (*Matrix, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	ids := make([]string, len(fs))
	for i, f := range fs {
		if err := features.Validate(f); err != nil {
			return nil, err
		}
		ids[i] = f.MemoryID
	}
	m, err := newMatrix(ids)
	if err != nil {
		return nil, err
	}

	n := len(fs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for j := i + 1; j < n; j++ {
				v := c.Similarity(fs[i], fs[j])
				m.values[i*n+j] = v
				m.values[j*n+i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Debug().Int("items", n).Int("pairs", n*(n-1)/2).Msg("similarity matrix built")
	return m, nil
}

// Len returns the number of items.
func (m *Matrix) Len() int { return len(m.ids) }

// IDs returns the item IDs in row order.
func (m *Matrix) IDs() []string { return append([]string(nil), m.ids...) }

// ID returns the item ID of row i.
func (m *Matrix) ID(i int) string { return m.ids[i] }

// Index returns the row of id.
func (m *Matrix) Index(id string) (int, bool) {
	i, ok := m.index[id]
	return i, ok
}

// At returns the similarity of rows i and j.
func (m *Matrix) At(i, j int) float64 { return m.values[i*len(m.ids)+j] }

// Get returns the similarity of two items by ID.
func (m *Matrix) Get(a, b string) (float64, bool) {
	i, ok := m.index[a]
	if !ok {
		return 0, false
	}
	j, ok := m.index[b]
	if !ok {
		return 0, false
	}
	return m.At(i, j), true
}

// Rows returns the matrix as nested slices.
func (m *Matrix) Rows() [][]float64 {
	n := len(m.ids)
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = append([]float64(nil), m.values[i*n:(i+1)*n]...)
	}
	return rows
}

type matrixJSON struct {
	IDs    []string    `json:"ids"`
	Values [][]float64 `json:"values"`
}

func (m *Matrix) MarshalJSON() ([]byte, error) {
	return json.Marshal(matrixJSON{IDs: m.ids, Values: m.Rows()})
}

func (m *Matrix) UnmarshalJSON(data []byte) error {
	var raw matrixJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewMatrix(raw.IDs, raw.Values)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}
