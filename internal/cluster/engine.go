package cluster

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/similarity"
	"github.com/rcliao/agent-mood/internal/weighted"
)

// Outlier reasons.
const (
	ReasonNoQualifyingMerge = "no_qualifying_merge"
	ReasonInsufficientData  = "insufficient_data"
)

// Warning codes attached to clusters.
const (
	WarningNotMeaningful = "not_meaningful"
	WarningProvisional   = "provisional"
)

const eps = 1e-9

// clusterNamespace seeds name-based cluster IDs.
var clusterNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("agent-mood/cluster"))

// ClusterID returns the stable ID of a membership set.
func ClusterID(members []string) string {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	return uuid.NewSHA1(clusterNamespace, []byte(strings.Join(sorted, "\x00"))).String()
}

// Outlier is a group that could not reach the minimum cluster size. It is
// reported for review rather than dropped.
type Outlier struct {
	Members     []string `json:"members"`
	Reason      string   `json:"reason"`
	BestLinkage float64  `json:"best_linkage"`
}

// Result is the output of one clustering run.
type Result struct {
	Clusters []model.Cluster `json:"clusters"`
	Outliers []Outlier       `json:"outliers,omitempty"`
	// Diagnostic is set when the run had too few items to cluster.
	Diagnostic *model.InsufficientDataError `json:"-"`
}

// Engine runs constrained agglomerative clustering over a similarity matrix.
type Engine struct {
	c Constraints
}

// NewEngine returns an Engine.
func NewEngine(c Constraints) (*Engine, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Engine{c: c}, nil
}

// Constraints returns the engine's constraints.
func (e *Engine) Constraints() Constraints { return e.c }

// Cluster partitions the items of m. fs supplies the features used for themes
// and centroids; items without features still cluster but carry no theme
// contribution. The same matrix and constraints always produce the same result.
//
// Cancellation returns a *model.ClusteringTimeoutError listing every item and
// no partial result.
func (e *Engine) Cluster(ctx context.Context, m *similarity.Matrix, fs []model.ClusteringFeatures) (Result, error) {
	ids := m.IDs()
	if len(ids) < e.c.MinClusterSize {
		res := Result{Diagnostic: &model.InsufficientDataError{Have: len(ids), Need: e.c.MinClusterSize}}
		for _, id := range ids {
			res.Outliers = append(res.Outliers, Outlier{Members: []string{id}, Reason: ReasonInsufficientData})
		}
		return res, nil
	}

	a := newAgglomeration(m)
	merges := 0
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, timeoutError(ids, err)
		}
		g, h, ok := a.best(e.c)
		if !ok {
			break
		}
		a.merge(g, h)
		merges++
	}
	if err := ctx.Err(); err != nil {
		return Result{}, timeoutError(ids, err)
	}

	byID := make(map[string]model.ClusteringFeatures, len(fs))
	for _, f := range fs {
		byID[f.MemoryID] = f
	}

	// Merging halts only once no pair passes the constraints, so a group still
	// below the minimum has no neighbour it could join.
	var res Result
	for _, g := range a.active() {
		members := a.ids(g)
		if len(members) < e.c.MinClusterSize {
			res.Outliers = append(res.Outliers, Outlier{
				Members:     members,
				Reason:      ReasonNoQualifyingMerge,
				BestLinkage: weighted.Round(a.bestLinkage(g), 4),
			})
			continue
		}
		res.Clusters = append(res.Clusters, e.build(members, a.coherence(g), byID))
	}

	zerolog.Ctx(ctx).Debug().
		Int("items", len(ids)).
		Int("merges", merges).
		Int("clusters", len(res.Clusters)).
		Int("outliers", len(res.Outliers)).
		Msg("clustering complete")
	return res, nil
}

func timeoutError(ids []string, cause error) *model.ClusteringTimeoutError {
	unprocessed := append([]string(nil), ids...)
	sort.Strings(unprocessed)
	return &model.ClusteringTimeoutError{Unprocessed: unprocessed, Cause: cause}
}

// build assembles a committed cluster from its members.
func (e *Engine) build(members []string, coherence float64, byID map[string]model.ClusteringFeatures) model.Cluster {
	sort.Strings(members)
	var fs []model.ClusteringFeatures
	for _, id := range members {
		if f, ok := byID[id]; ok {
			fs = append(fs, f)
		}
	}
	c := model.Cluster{
		ID:        ClusterID(members),
		Members:   members,
		Coherence: weighted.Round(coherence, 4),
		Revision:  1,
	}
	describe(&c, fs, e.c)
	return c
}

// agglomeration tracks groups by the index of their lowest member. Sums of
// pairwise similarity are kept incrementally so average linkage and merged
// coherence are O(1) per pair.
type agglomeration struct {
	m       *similarity.Matrix
	members [][]int // nil once merged away
	intra   []float64
	cross   [][]float64
}

func newAgglomeration(m *similarity.Matrix) *agglomeration {
	n := m.Len()
	a := &agglomeration{
		m:       m,
		members: make([][]int, n),
		intra:   make([]float64, n),
		cross:   make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		a.members[i] = []int{i}
		a.cross[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i != j {
				a.cross[i][j] = m.At(i, j)
			}
		}
	}
	return a
}

func (a *agglomeration) active() []int {
	var out []int
	for g, ms := range a.members {
		if ms != nil {
			out = append(out, g)
		}
	}
	return out
}

func (a *agglomeration) ids(g int) []string {
	out := make([]string, len(a.members[g]))
	for i, idx := range a.members[g] {
		out[i] = a.m.ID(idx)
	}
	return out
}

func (a *agglomeration) size(g int) int { return len(a.members[g]) }

func (a *agglomeration) linkage(g, h int) float64 {
	return a.cross[g][h] / float64(a.size(g)*a.size(h))
}

func pairs(k int) float64 { return float64(k*(k-1)) / 2 }

func (a *agglomeration) coherence(g int) float64 {
	if a.size(g) < 2 {
		return 1
	}
	return a.intra[g] / pairs(a.size(g))
}

func (a *agglomeration) mergedCoherence(g, h int) float64 {
	return (a.intra[g] + a.intra[h] + a.cross[g][h]) / pairs(a.size(g)+a.size(h))
}

// best returns the pair with the highest average linkage whose merge keeps
// coherence at or above the threshold and size within the maximum. Ties go to
// the lowest group indices.
func (a *agglomeration) best(c Constraints) (int, int, bool) {
	active := a.active()
	bestG, bestH, bestLink := -1, -1, -1.0
	for x, g := range active {
		for _, h := range active[x+1:] {
			if a.size(g)+a.size(h) > c.MaxClusterSize {
				continue
			}
			if a.mergedCoherence(g, h) < c.CoherenceThreshold-eps {
				continue
			}
			if l := a.linkage(g, h); l > bestLink+eps {
				bestG, bestH, bestLink = g, h, l
			}
		}
	}
	return bestG, bestH, bestG >= 0
}

// merge folds the higher-indexed group into the lower one.
func (a *agglomeration) merge(g, h int) {
	if h < g {
		g, h = h, g
	}
	a.intra[g] += a.intra[h] + a.cross[g][h]
	for x := range a.members {
		if a.members[x] == nil || x == g || x == h {
			continue
		}
		a.cross[g][x] += a.cross[h][x]
		a.cross[x][g] = a.cross[g][x]
	}
	merged := append(a.members[g], a.members[h]...)
	sort.Ints(merged)
	a.members[g] = merged
	a.members[h] = nil
}

func (a *agglomeration) bestLinkage(g int) float64 {
	best := 0.0
	for _, h := range a.active() {
		if h != g {
			if l := a.linkage(g, h); l > best {
				best = l
			}
		}
	}
	return best
}
