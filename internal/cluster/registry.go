package cluster

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/similarity"
	"github.com/rcliao/agent-mood/internal/weighted"
)

// ReviewPolicy decides whether memories flagged for review rejoin the next
// full re-cluster on their own.
type ReviewPolicy string

const (
	// ReviewManual keeps flagged memories out of re-clusters until Release.
	ReviewManual ReviewPolicy = "manual"
	// ReviewAuto feeds flagged memories back into the next re-cluster.
	ReviewAuto ReviewPolicy = "auto"
)

// ParseReviewPolicy parses a policy name.
func ParseReviewPolicy(s string) (ReviewPolicy, error) {
	switch p := ReviewPolicy(s); p {
	case ReviewManual, ReviewAuto:
		return p, nil
	case "":
		return ReviewManual, nil
	default:
		return "", &model.InvalidInputError{Field: "cluster.review_policy", Reason: fmt.Sprintf("unknown policy %q", s)}
	}
}

// Review reasons beyond the outlier reasons.
const (
	ReasonNoQualifyingCluster = "no_qualifying_cluster"
	ReasonIncoherentMember    = "incoherent_member"
)

// Warning codes set by quality feedback.
const (
	WarningSplitRecommended = "split_recommended"
	WarningReviewMembers    = "review_members"
)

// ReviewItem is a memory waiting for manual review.
type ReviewItem struct {
	MemoryID   string    `json:"memory_id"`
	Reason     string    `json:"reason"`
	Generation int       `json:"generation"`
	FlaggedAt  time.Time `json:"flagged_at"`
}

// Snapshot is an immutable committed cluster set. Callers must not modify it;
// every change produces a new Snapshot with the next generation.
type Snapshot struct {
	Generation int             `json:"generation"`
	Clusters   []model.Cluster `json:"clusters"`
	Outliers   []Outlier       `json:"outliers,omitempty"`
	Review     []ReviewItem    `json:"review,omitempty"`
	Diagnostic string          `json:"diagnostic,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Cluster returns the cluster with id.
func (s *Snapshot) Cluster(id string) (model.Cluster, bool) {
	if i := s.clusterIndex(id); i >= 0 {
		return s.Clusters[i], true
	}
	return model.Cluster{}, false
}

// Assigned returns the cluster holding memoryID.
func (s *Snapshot) Assigned(memoryID string) (string, bool) {
	for _, c := range s.Clusters {
		if c.HasMember(memoryID) {
			return c.ID, true
		}
	}
	return "", false
}

// InReview reports whether memoryID is flagged for review.
func (s *Snapshot) InReview(memoryID string) bool {
	return s.reviewIndex(memoryID) >= 0
}

// Unclustered returns the IDs of memories in review or outlier groups, sorted.
func (s *Snapshot) Unclustered() []string {
	seen := map[string]bool{}
	for _, r := range s.Review {
		seen[r.MemoryID] = true
	}
	for _, o := range s.Outliers {
		for _, id := range o.Members {
			seen[id] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Snapshot) clusterIndex(id string) int {
	for i, c := range s.Clusters {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Snapshot) reviewIndex(memoryID string) int {
	for i, r := range s.Review {
		if r.MemoryID == memoryID {
			return i
		}
	}
	return -1
}

func (s *Snapshot) removeReview(memoryID string) {
	if i := s.reviewIndex(memoryID); i >= 0 {
		s.Review = append(s.Review[:i], s.Review[i+1:]...)
	}
}

func (s *Snapshot) flag(memoryID, reason string, at time.Time) {
	if s.InReview(memoryID) {
		return
	}
	s.Review = append(s.Review, ReviewItem{MemoryID: memoryID, Reason: reason, Generation: s.Generation, FlaggedAt: at})
	sort.Slice(s.Review, func(i, j int) bool { return s.Review[i].MemoryID < s.Review[j].MemoryID })
}

func (s *Snapshot) clone() *Snapshot {
	next := *s
	next.Clusters = make([]model.Cluster, len(s.Clusters))
	for i, c := range s.Clusters {
		c.Members = append([]string(nil), c.Members...)
		c.Warnings = append([]model.Warning(nil), c.Warnings...)
		if c.Centroid != nil {
			centroid := *c.Centroid
			c.Centroid = &centroid
		}
		c.Theme.Descriptors = append([]string(nil), c.Theme.Descriptors...)
		next.Clusters[i] = c
	}
	next.Outliers = make([]Outlier, len(s.Outliers))
	for i, o := range s.Outliers {
		o.Members = append([]string(nil), o.Members...)
		next.Outliers[i] = o
	}
	next.Review = append([]ReviewItem(nil), s.Review...)
	return &next
}

// Registry holds the current Snapshot and the features of every known memory.
// Readers get the committed snapshot without blocking writers' computation;
// commits are serialized and integrations into one cluster are single-writer.
type Registry struct {
	engine  *Engine
	sim     *similarity.Calculator
	policy  ReviewPolicy
	workers int
	now     func() time.Time

	mu       sync.RWMutex
	current  *Snapshot
	features map[string]model.ClusteringFeatures

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithReviewPolicy sets the review retry policy. The default is ReviewManual.
func WithReviewPolicy(p ReviewPolicy) RegistryOption {
	return func(r *Registry) { r.policy = p }
}

// WithWorkers bounds the goroutines used to build similarity matrices.
func WithWorkers(n int) RegistryOption {
	return func(r *Registry) { r.workers = n }
}

// WithRegistryClock sets the clock used for snapshot timestamps.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry returns a Registry at generation 0 with no clusters.
func NewRegistry(engine *Engine, sim *similarity.Calculator, opts ...RegistryOption) (*Registry, error) {
	if engine == nil || sim == nil {
		return nil, &model.InvalidInputError{Field: "registry", Reason: "engine and similarity calculator are required"}
	}
	r := &Registry{
		engine:   engine,
		sim:      sim,
		policy:   ReviewManual,
		workers:  runtime.GOMAXPROCS(0),
		now:      time.Now,
		features: map[string]model.ClusteringFeatures{},
		locks:    map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if _, err := ParseReviewPolicy(string(r.policy)); err != nil {
		return nil, err
	}
	r.current = &Snapshot{CreatedAt: r.now().UTC()}
	return r, nil
}

// Current returns the committed snapshot.
func (r *Registry) Current() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Policy returns the review retry policy.
func (r *Registry) Policy() ReviewPolicy { return r.policy }

// Constraints returns the clustering constraints.
func (r *Registry) Constraints() Constraints { return r.engine.Constraints() }

// Restore replaces the current snapshot and known features, e.g. after
// loading them from storage.
func (r *Registry) Restore(s *Snapshot, fs []model.ClusteringFeatures) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = s.clone()
	for _, f := range fs {
		r.features[f.MemoryID] = f
	}
}

// Features returns the known features of ids in the given order; unknown IDs
// are skipped.
func (r *Registry) Features(ids ...string) []model.ClusteringFeatures {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.features, ids)
}

func lookup(known map[string]model.ClusteringFeatures, ids []string) []model.ClusteringFeatures {
	out := make([]model.ClusteringFeatures, 0, len(ids))
	for _, id := range ids {
		if f, ok := known[id]; ok {
			out = append(out, f)
		}
	}
	return out
}

// reclusterAttempts bounds recomputation when another commit lands while a
// re-cluster is computing.
const reclusterAttempts = 3

// Recluster runs a full clustering over every known memory plus fs and
// commits the result as a new generation. Under ReviewManual, memories in
// review are held out and stay flagged. Memories left over for lack of data
// are reported as outliers but not flagged, so later batches pick them up.
//
// When the snapshot changes during the computation, for example because a
// placement committed, the re-cluster starts over from the new snapshot.
//
// When budget elapses or ctx ends first, the current snapshot is left
// untouched and a *model.ClusteringTimeoutError names the items that were
// not reprocessed.
func (r *Registry) Recluster(ctx context.Context, fs []model.ClusteringFeatures, budget time.Duration) (*Snapshot, error) {
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	logger := zerolog.Ctx(ctx)

	for attempt := 1; ; attempt++ {
		next, err := r.recluster(ctx, fs, budget)
		if !errors.Is(err, model.ErrSnapshotChanged) {
			return next, err
		}
		if attempt == reclusterAttempts {
			return nil, fmt.Errorf("re-cluster after %d attempts: %w", attempt, err)
		}
		logger.Debug().Int("attempt", attempt).Msg("snapshot changed during re-cluster, retrying")
	}
}

func (r *Registry) recluster(ctx context.Context, fs []model.ClusteringFeatures, budget time.Duration) (*Snapshot, error) {
	logger := zerolog.Ctx(ctx)

	r.mu.RLock()
	base := r.current
	pool := make(map[string]model.ClusteringFeatures, len(r.features)+len(fs))
	for id, f := range r.features {
		pool[id] = f
	}
	r.mu.RUnlock()
	for _, f := range fs {
		pool[f.MemoryID] = f
	}

	held := map[string]bool{}
	if r.policy == ReviewManual {
		for _, item := range base.Review {
			if item.Reason == ReasonInsufficientData {
				continue
			}
			if _, ok := pool[item.MemoryID]; ok {
				held[item.MemoryID] = true
				delete(pool, item.MemoryID)
			}
		}
	}

	ids := make([]string, 0, len(pool))
	for id := range pool {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	items := lookup(pool, ids)

	res, err := r.cluster(ctx, items)
	if err != nil {
		var te *model.ClusteringTimeoutError
		if errors.As(err, &te) {
			te.Budget = budget
			logger.Warn().Err(err).Int("generation", base.Generation).Msg("re-cluster abandoned, keeping committed snapshot")
		}
		return nil, err
	}

	next, err := r.commit(func(next *Snapshot, _ map[string]model.ClusteringFeatures) error {
		// commit holds r.mu, so r.current is stable here.
		if r.current != base {
			return model.ErrSnapshotChanged
		}
		now := r.now().UTC()
		next.Clusters = res.Clusters
		next.Outliers = res.Outliers
		next.Diagnostic = ""
		if res.Diagnostic != nil {
			next.Diagnostic = res.Diagnostic.Error()
		}
		kept := next.Review[:0]
		for _, item := range next.Review {
			if held[item.MemoryID] {
				kept = append(kept, item)
			}
		}
		next.Review = kept
		for _, o := range res.Outliers {
			if o.Reason == ReasonInsufficientData {
				continue
			}
			for _, id := range o.Members {
				next.flag(id, o.Reason, now)
			}
		}
		return nil
	}, fs...)
	if err != nil {
		return nil, err
	}

	evt := logger.Info()
	if res.Diagnostic != nil {
		evt = logger.Warn().Str("diagnostic", next.Diagnostic)
	}
	evt.Int("generation", next.Generation).
		Int("items", len(items)).
		Int("clusters", len(next.Clusters)).
		Int("review", len(next.Review)).
		Msg("re-cluster committed")
	return next, nil
}

func (r *Registry) cluster(ctx context.Context, items []model.ClusteringFeatures) (Result, error) {
	ids := make([]string, len(items))
	for i, f := range items {
		ids[i] = f.MemoryID
	}
	m, err := similarity.BuildMatrix(ctx, r.sim, items, r.workers)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, timeoutError(ids, ctx.Err())
		}
		return Result{}, err
	}
	return r.engine.Cluster(ctx, m, items)
}

// Release clears memories from review so the next re-cluster includes them.
func (r *Registry) Release(ids ...string) (*Snapshot, error) {
	return r.commit(func(next *Snapshot, _ map[string]model.ClusteringFeatures) error {
		for _, id := range ids {
			if !next.InReview(id) {
				return &model.InvalidInputError{ItemID: id, Field: "review", Reason: "not flagged for review"}
			}
			next.removeReview(id)
		}
		return nil
	})
}

// ApplyFeedback acts on quality recommendations. Incoherent members of
// review_members clusters move to review as long as the cluster keeps its
// minimum size; split clusters are marked for the next re-cluster. Unknown
// cluster IDs are ignored.
func (r *Registry) ApplyFeedback(qs []Quality) (*Snapshot, error) {
	cons := r.engine.Constraints()
	return r.commit(func(next *Snapshot, known map[string]model.ClusteringFeatures) error {
		now := r.now().UTC()
		for _, q := range qs {
			i := next.clusterIndex(q.ClusterID)
			if i < 0 || q.Recommendation == RecommendKeep {
				continue
			}
			c := next.Clusters[i]
			switch q.Recommendation {
			case RecommendSplit:
				c.Warnings = appendWarning(c.Warnings, model.Warning{Code: WarningSplitRecommended, Message: "cluster quality below coherence threshold", Subject: c.ID})
			case RecommendReviewMembers:
				drop := map[string]bool{}
				for _, m := range q.Incoherent {
					if c.Size()-len(drop) <= cons.MinClusterSize {
						break
					}
					drop[m.MemoryID] = true
				}
				if len(drop) == 0 {
					c.Warnings = appendWarning(c.Warnings, model.Warning{Code: WarningReviewMembers, Message: "incoherent members kept to preserve minimum size", Subject: c.ID})
					break
				}
				var kept []string
				for _, id := range c.Members {
					if drop[id] {
						next.flag(id, ReasonIncoherentMember, now)
						continue
					}
					kept = append(kept, id)
				}
				c.Members = kept
				c.Coherence = weighted.Round(r.coherence(kept, known), 4)
				describe(&c, lookup(known, kept), cons)
			}
			c.Revision++
			next.Clusters[i] = c
		}
		return nil
	})
}

func appendWarning(ws []model.Warning, w model.Warning) []model.Warning {
	for _, x := range ws {
		if x.Code == w.Code {
			return ws
		}
	}
	return append(ws, w)
}

// coherence is the mean pairwise similarity of members with known features.
func (r *Registry) coherence(members []string, known map[string]model.ClusteringFeatures) float64 {
	fs := lookup(known, members)
	if len(fs) < 2 {
		return 1
	}
	sum := 0.0
	for i := range fs {
		for j := i + 1; j < len(fs); j++ {
			sum += r.sim.Similarity(fs[i], fs[j])
		}
	}
	return sum / pairs(len(fs))
}

// commit applies fn to a copy of the current snapshot and publishes it as the
// next generation. fs are recorded as known features. If fn fails nothing
// changes.
func (r *Registry) commit(fn func(next *Snapshot, known map[string]model.ClusteringFeatures) error, fs ...model.ClusteringFeatures) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	known := r.features
	if len(fs) > 0 {
		known = make(map[string]model.ClusteringFeatures, len(r.features)+len(fs))
		for id, f := range r.features {
			known[id] = f
		}
		for _, f := range fs {
			known[f.MemoryID] = f
		}
	}

	next := r.current.clone()
	next.Generation = r.current.Generation + 1
	next.CreatedAt = r.now().UTC()
	if err := fn(next, known); err != nil {
		return nil, err
	}
	r.current = next
	r.features = known
	return next, nil
}

// lockCluster serializes writers of one cluster and returns the unlock func.
func (r *Registry) lockCluster(id string) func() {
	r.lockMu.Lock()
	mu, ok := r.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[id] = mu
	}
	r.lockMu.Unlock()
	mu.Lock()
	return mu.Unlock
}
