package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/rcliao/agent-mood/internal/features"
	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/weighted"
)

// ManagerConfig tunes incremental placement.
type ManagerConfig struct {
	// IntegrateThreshold is the centroid similarity a cluster must exceed.
	IntegrateThreshold float64 `json:"integrate_threshold" mapstructure:"integrate_threshold" yaml:"integrate_threshold"`
	// SpawnThreshold is the density among unclustered memories needed to spawn.
	SpawnThreshold float64 `json:"spawn_threshold" mapstructure:"spawn_threshold" yaml:"spawn_threshold"`
	// SpawnNeighbors is how many nearest unclustered memories define density.
	SpawnNeighbors int `json:"spawn_neighbors" mapstructure:"spawn_neighbors" yaml:"spawn_neighbors"`
	// MaxAttempts bounds re-evaluation when a cluster changes mid-placement.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts"`
}

// DefaultManagerConfig returns the standard placement thresholds.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		IntegrateThreshold: 0.7,
		SpawnThreshold:     0.75,
		SpawnNeighbors:     2,
		MaxAttempts:        3,
	}
}

// Validate checks the thresholds.
func (c ManagerConfig) Validate() error {
	switch {
	case !unitInterval(c.IntegrateThreshold):
		return &model.InvalidInputError{Field: "placement.integrate_threshold", Reason: "must be in [0,1]"}
	case !unitInterval(c.SpawnThreshold):
		return &model.InvalidInputError{Field: "placement.spawn_threshold", Reason: "must be in [0,1]"}
	case c.SpawnNeighbors < 1:
		return &model.InvalidInputError{Field: "placement.spawn_neighbors", Reason: "must be at least 1"}
	case c.MaxAttempts < 1:
		return &model.InvalidInputError{Field: "placement.max_attempts", Reason: "must be at least 1"}
	}
	return nil
}

// Outcome names a placement result.
type Outcome string

const (
	OutcomeIntegrate Outcome = "integrate"
	OutcomeSpawn     Outcome = "spawn"
	OutcomeReview    Outcome = "review"
)

// Placement is the result of placing one memory: exactly one of Integrated,
// Spawned or FlaggedForReview.
//
//	switch p := p.(type) {
//	case cluster.Integrated:
//	case cluster.Spawned:
//	case cluster.FlaggedForReview:
//	}
type Placement interface {
	Memory() string
	Outcome() Outcome
	isPlacement()
}

// Integrated means the memory joined an existing cluster.
type Integrated struct {
	MemoryID   string  `json:"memory_id"`
	ClusterID  string  `json:"cluster_id"`
	Similarity float64 `json:"similarity"`
	Coherence  float64 `json:"coherence"`
	Generation int     `json:"generation"`
}

// Spawned means the memory seeded a new provisional cluster.
type Spawned struct {
	MemoryID   string  `json:"memory_id"`
	ClusterID  string  `json:"cluster_id"`
	Density    float64 `json:"density"`
	Generation int     `json:"generation"`
}

// FlaggedForReview means no cluster qualified and the memory waits for review
// or the next full re-cluster.
type FlaggedForReview struct {
	MemoryID       string  `json:"memory_id"`
	BestClusterID  string  `json:"best_cluster_id,omitempty"`
	BestSimilarity float64 `json:"best_similarity"`
	Density        float64 `json:"density"`
	Reason         string  `json:"reason"`
	Generation     int     `json:"generation"`
}

func (p Integrated) Memory() string       { return p.MemoryID }
func (p Spawned) Memory() string          { return p.MemoryID }
func (p FlaggedForReview) Memory() string { return p.MemoryID }

func (Integrated) Outcome() Outcome       { return OutcomeIntegrate }
func (Spawned) Outcome() Outcome          { return OutcomeSpawn }
func (FlaggedForReview) Outcome() Outcome { return OutcomeReview }

func (Integrated) isPlacement()       {}
func (Spawned) isPlacement()          {}
func (FlaggedForReview) isPlacement() {}

// Manager places new memories against the registry's current snapshot
// without re-evaluating other clusters' memberships.
type Manager struct {
	reg *Registry
	cfg ManagerConfig
}

// NewManager returns a Manager over reg.
func NewManager(reg *Registry, cfg ManagerConfig) (*Manager, error) {
	if reg == nil {
		return nil, &model.InvalidInputError{Field: "registry", Reason: "registry is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{reg: reg, cfg: cfg}, nil
}

type candidate struct {
	cluster    model.Cluster
	similarity float64
}

// Place evaluates f against every cluster and integrates, spawns or flags it.
// A memory already in a cluster is rejected. When the chosen cluster changes
// before the update commits, placement is re-evaluated up to MaxAttempts.
func (m *Manager) Place(ctx context.Context, f model.ClusteringFeatures) (Placement, error) {
	if err := features.Validate(f); err != nil {
		return nil, err
	}
	if f.MemoryID == "" {
		return nil, &model.InvalidInputError{Field: "memory_id", Reason: "required"}
	}

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap := m.reg.Current()
		if id, ok := snap.Assigned(f.MemoryID); ok {
			return nil, &model.InvalidInputError{ItemID: f.MemoryID, Field: "memory_id", Reason: fmt.Sprintf("already a member of cluster %s", id)}
		}

		p, err := m.place(snap, f)
		if errors.Is(err, model.ErrSnapshotChanged) {
			zerolog.Ctx(ctx).Debug().Str("memory_id", f.MemoryID).Int("attempt", attempt).Msg("cluster changed during placement, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		zerolog.Ctx(ctx).Debug().Str("memory_id", f.MemoryID).Str("outcome", string(p.Outcome())).Msg("memory placed")
		return p, nil
	}
	return nil, fmt.Errorf("place %s after %d attempts: %w", f.MemoryID, m.cfg.MaxAttempts, model.ErrSnapshotChanged)
}

func (m *Manager) place(snap *Snapshot, f model.ClusteringFeatures) (Placement, error) {
	cons := m.reg.Constraints()
	candidates := m.rank(snap, f)

	for _, cand := range candidates {
		if cand.similarity <= m.cfg.IntegrateThreshold {
			break
		}
		if cand.cluster.Size() >= cons.MaxClusterSize {
			continue
		}
		predicted := m.predictCoherence(cand.cluster, f)
		if predicted < cons.CoherenceThreshold-eps {
			continue
		}
		return m.integrate(cand, f, predicted)
	}

	density := m.density(snap, f)
	if density >= m.cfg.SpawnThreshold-eps {
		return m.spawn(f, density)
	}

	flagged := FlaggedForReview{MemoryID: f.MemoryID, Density: density, Reason: ReasonNoQualifyingCluster}
	if len(candidates) > 0 {
		flagged.BestClusterID = candidates[0].cluster.ID
		flagged.BestSimilarity = candidates[0].similarity
	}
	next, err := m.reg.commit(func(next *Snapshot, _ map[string]model.ClusteringFeatures) error {
		next.flag(f.MemoryID, ReasonNoQualifyingCluster, next.CreatedAt)
		return nil
	}, f)
	if err != nil {
		return nil, err
	}
	flagged.Generation = next.Generation
	return flagged, nil
}

// rank orders clusters by similarity of f to their centroid, best first,
// ties by cluster ID.
func (m *Manager) rank(snap *Snapshot, f model.ClusteringFeatures) []candidate {
	out := make([]candidate, 0, len(snap.Clusters))
	for _, c := range snap.Clusters {
		centroid := c.Centroid
		if centroid == nil {
			fs := m.reg.Features(c.Members...)
			if len(fs) == 0 {
				continue
			}
			computed := features.Centroid(fs)
			centroid = &computed
		}
		out = append(out, candidate{cluster: c, similarity: m.reg.sim.Similarity(f, *centroid)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].similarity != out[j].similarity {
			return out[i].similarity > out[j].similarity
		}
		return out[i].cluster.ID < out[j].cluster.ID
	})
	return out
}

// predictCoherence returns the cluster's mean pairwise similarity after
// adding f, updated from its current coherence.
func (m *Manager) predictCoherence(c model.Cluster, f model.ClusteringFeatures) float64 {
	k := c.Size()
	sum := c.Coherence * pairs(k)
	for _, member := range m.reg.Features(c.Members...) {
		sum += m.reg.sim.Similarity(f, member)
	}
	return sum / pairs(k+1)
}

// density is the mean similarity of f to its nearest unclustered memories.
func (m *Manager) density(snap *Snapshot, f model.ClusteringFeatures) float64 {
	var sims []float64
	for _, other := range m.reg.Features(snap.Unclustered()...) {
		if other.MemoryID == f.MemoryID {
			continue
		}
		sims = append(sims, m.reg.sim.Similarity(f, other))
	}
	if len(sims) == 0 {
		return 0
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sims)))
	if len(sims) > m.cfg.SpawnNeighbors {
		sims = sims[:m.cfg.SpawnNeighbors]
	}
	sum := 0.0
	for _, s := range sims {
		sum += s
	}
	return weighted.Round(sum/float64(len(sims)), 6)
}

func (m *Manager) integrate(cand candidate, f model.ClusteringFeatures, predicted float64) (Placement, error) {
	unlock := m.reg.lockCluster(cand.cluster.ID)
	defer unlock()

	cons := m.reg.Constraints()
	var joined model.Cluster
	next, err := m.reg.commit(func(next *Snapshot, known map[string]model.ClusteringFeatures) error {
		i := next.clusterIndex(cand.cluster.ID)
		if i < 0 || next.Clusters[i].Revision != cand.cluster.Revision {
			return model.ErrSnapshotChanged
		}
		c := next.Clusters[i]
		c.Members = append(c.Members, f.MemoryID)
		sort.Strings(c.Members)
		c.Coherence = weighted.Round(predicted, 4)
		c.Revision++
		if c.Provisional && c.Size() >= cons.MinClusterSize {
			c.Provisional = false
		}
		describe(&c, lookup(known, c.Members), cons)
		next.Clusters[i] = c
		next.removeReview(f.MemoryID)
		joined = c
		return nil
	}, f)
	if err != nil {
		return nil, err
	}
	return Integrated{
		MemoryID:   f.MemoryID,
		ClusterID:  joined.ID,
		Similarity: cand.similarity,
		Coherence:  joined.Coherence,
		Generation: next.Generation,
	}, nil
}

func (m *Manager) spawn(f model.ClusteringFeatures, density float64) (Placement, error) {
	cons := m.reg.Constraints()
	c := model.Cluster{
		ID:          ClusterID([]string{f.MemoryID}),
		Members:     []string{f.MemoryID},
		Coherence:   1,
		Revision:    1,
		Provisional: true,
	}
	describe(&c, []model.ClusteringFeatures{f}, cons)

	next, err := m.reg.commit(func(next *Snapshot, _ map[string]model.ClusteringFeatures) error {
		if next.clusterIndex(c.ID) >= 0 {
			return model.ErrSnapshotChanged
		}
		next.Clusters = append(next.Clusters, c)
		next.removeReview(f.MemoryID)
		return nil
	}, f)
	if err != nil {
		return nil, err
	}
	return Spawned{MemoryID: f.MemoryID, ClusterID: c.ID, Density: density, Generation: next.Generation}, nil
}
