// Package pipeline runs the full downstream flow over a batch of memories:
// mood scores, deltas, features, clusters, quality and patterns.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/agent-mood/internal/cluster"
	"github.com/rcliao/agent-mood/internal/config"
	"github.com/rcliao/agent-mood/internal/delta"
	"github.com/rcliao/agent-mood/internal/features"
	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/pattern"
	"github.com/rcliao/agent-mood/internal/scoring"
	"github.com/rcliao/agent-mood/internal/similarity"
	"github.com/rcliao/agent-mood/internal/timeline"
)

// Stage names used in StageError.
const (
	StageScore    = scoring.StageScore
	StageDelta    = delta.StageDelta
	StageTimeline = "timeline"
	StageFeatures = features.StageFeatures
	StageCluster  = "cluster"
	StageQuality  = "quality"
)

// StageError is a structural failure that stopped one stage. Upstream results
// in the same Report are still valid.
type StageError struct {
	Stage string `json:"stage"`
	Err   error  `json:"-"`
}

func (e StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e StageError) Unwrap() error { return e.Err }

// MarshalJSON keeps the error message.
func (e StageError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Stage string `json:"stage"`
		Error string `json:"error"`
	}{e.Stage, msg})
}

// Report is everything one run produced.
type Report struct {
	Scores   []model.MoodScore            `json:"scores"`
	Deltas   map[string][]model.MoodDelta `json:"deltas"`
	Timeline *delta.TimelineAnalysis      `json:"timeline,omitempty"`
	Features []model.ClusteringFeatures   `json:"features"`
	Snapshot *cluster.Snapshot            `json:"snapshot,omitempty"`
	Quality  []cluster.Quality            `json:"quality,omitempty"`
	Patterns []model.Pattern              `json:"patterns"`

	Errors      []model.ItemError `json:"errors,omitempty"`
	StageErrors []StageError      `json:"stage_errors,omitempty"`
}

// Failed reports whether stage hit a structural error.
func (r *Report) Failed(stage string) bool {
	for _, e := range r.StageErrors {
		if e.Stage == stage {
			return true
		}
	}
	return false
}

func (r *Report) fail(ctx context.Context, stage string, err error) {
	r.StageErrors = append(r.StageErrors, StageError{Stage: stage, Err: err})
	zerolog.Ctx(ctx).Warn().Err(err).Str("stage", stage).Msg("stage failed")
}

// Analyzer wires the core components together.
type Analyzer struct {
	scorer   *scoring.Calculator
	detector *delta.Detector
	windows  timeline.Options
	registry *cluster.Registry
	assessor *cluster.Assessor
	manager  *cluster.Manager
	patterns *pattern.Analyzer

	workers  int
	budget   time.Duration
	feedback bool
	now      func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithFeedback applies quality recommendations to the registry after each run.
func WithFeedback(on bool) Option {
	return func(a *Analyzer) { a.feedback = on }
}

// WithClock sets the clock stamped on mood scores and snapshots.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// FromConfig builds an Analyzer from cfg.
func FromConfig(cfg config.Config, opts ...Option) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Analyzer{workers: cfg.Workers, feedback: true, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	moodWeights, _ := cfg.MoodWeights()
	confWeights, _ := cfg.ConfidenceWeights()
	simWeights, _ := cfg.SimilarityWeights()
	windows, _ := cfg.TimelineOptions()
	policy, _ := cfg.ReviewPolicy()
	budget, _ := cfg.Budget()

	confidence, err := scoring.NewConfidenceAssessor(confWeights)
	if err != nil {
		return nil, err
	}
	scorer, err := scoring.NewCalculator(moodWeights, confidence, scoring.WithClock(a.now))
	if err != nil {
		return nil, err
	}
	detector, err := delta.NewDetector(cfg.Delta)
	if err != nil {
		return nil, err
	}
	sim, err := similarity.NewCalculator(simWeights, similarity.Metric(cfg.Similarity.Metric))
	if err != nil {
		return nil, err
	}
	engine, err := cluster.NewEngine(cfg.Cluster.Constraints)
	if err != nil {
		return nil, err
	}
	regOpts := []cluster.RegistryOption{cluster.WithReviewPolicy(policy), cluster.WithRegistryClock(a.now)}
	if cfg.Workers > 0 {
		regOpts = append(regOpts, cluster.WithWorkers(cfg.Workers))
	}
	registry, err := cluster.NewRegistry(engine, sim, regOpts...)
	if err != nil {
		return nil, err
	}
	assessor, err := cluster.NewAssessor(cfg.Cluster.Constraints, sim)
	if err != nil {
		return nil, err
	}
	manager, err := cluster.NewManager(registry, cfg.Placement)
	if err != nil {
		return nil, err
	}
	patterns, err := pattern.NewAnalyzer(cfg.Pattern)
	if err != nil {
		return nil, err
	}

	a.scorer = scorer
	a.detector = detector
	a.windows = windows
	a.registry = registry
	a.assessor = assessor
	a.manager = manager
	a.patterns = patterns
	a.budget = budget
	return a, nil
}

// Registry returns the cluster registry so callers can restore or persist it.
func (a *Analyzer) Registry() *cluster.Registry { return a.registry }

// Run executes every stage over memories. Item failures are collected in
// Report.Errors; a structural failure ends only its own stage and the stages
// that depend on it. Only context cancellation of the caller fails the call.
func (a *Analyzer) Run(ctx context.Context, memories []model.Memory) (*Report, error) {
	logger := zerolog.Ctx(ctx)
	rep, err := a.Deltas(ctx, memories)
	if err != nil {
		return rep, err
	}

	moods := make(map[string]model.MoodScore, len(rep.Scores))
	for _, s := range rep.Scores {
		moods[s.MemoryID] = s
	}
	scoredMemories := make([]model.Memory, 0, len(moods))
	for _, m := range memories {
		if _, ok := moods[m.ID]; ok {
			scoredMemories = append(scoredMemories, m)
		}
	}
	extracted, err := features.ExtractBatch(ctx, scoredMemories, moods, a.workers)
	if err != nil {
		return rep, err
	}
	rep.Features = extracted.Features
	rep.Errors = append(rep.Errors, extracted.Errors...)

	snap, err := a.registry.Recluster(ctx, rep.Features, a.budget)
	switch {
	case err != nil && ctx.Err() != nil:
		return rep, ctx.Err()
	case err != nil:
		rep.fail(ctx, StageCluster, err)
		snap = a.registry.Current()
	case snap.Diagnostic != "":
		rep.fail(ctx, StageCluster, shortfall(snap, a.registry.Constraints()))
	}
	rep.Snapshot = snap

	rep.Quality = make([]cluster.Quality, 0, len(snap.Clusters))
	for _, c := range snap.Clusters {
		rep.Quality = append(rep.Quality, a.assessor.Assess(c, a.registry.Features(c.Members...)))
	}
	if a.feedback && needsFeedback(rep.Quality) {
		next, err := a.registry.ApplyFeedback(rep.Quality)
		if err != nil {
			rep.fail(ctx, StageQuality, err)
		} else {
			rep.Snapshot = next
		}
	}

	rep.Patterns = a.patterns.Analyze(ctx, rep.Snapshot.Clusters)

	logger.Info().
		Int("memories", len(memories)).
		Int("scores", len(rep.Scores)).
		Int("clusters", len(rep.Snapshot.Clusters)).
		Int("patterns", len(rep.Patterns)).
		Int("item_errors", len(rep.Errors)).
		Int("stage_errors", len(rep.StageErrors)).
		Msg("analysis complete")
	return rep, nil
}

// Score runs only the scoring stage.
func (a *Analyzer) Score(ctx context.Context, memories []model.Memory) (*Report, error) {
	rep := &Report{Deltas: map[string][]model.MoodDelta{}, Patterns: []model.Pattern{}}
	scored, err := scoring.ScoreBatch(ctx, a.scorer, memories, a.workers)
	if err != nil {
		return rep, err
	}
	rep.Scores = scored.Scores
	rep.Errors = append(rep.Errors, scored.Errors...)
	return rep, nil
}

// Deltas runs scoring, per-conversation delta detection and the timeline.
func (a *Analyzer) Deltas(ctx context.Context, memories []model.Memory) (*Report, error) {
	rep, err := a.Score(ctx, memories)
	if err != nil {
		return rep, err
	}
	if err := a.deltas(ctx, rep, memories); err != nil {
		return rep, err
	}
	return rep, nil
}

// deltas runs per-conversation detection and the cross-conversation timeline.
func (a *Analyzer) deltas(ctx context.Context, rep *Report, memories []model.Memory) error {
	conversationOf := make(map[string]string, len(memories))
	for _, m := range memories {
		conversationOf[m.ID] = m.ConversationID
	}
	conversations := map[string][]model.ScorePoint{}
	points := make([]model.ScorePoint, 0, len(rep.Scores))
	for _, s := range rep.Scores {
		p := s.Point()
		points = append(points, p)
		if id := conversationOf[s.MemoryID]; id != "" {
			conversations[id] = append(conversations[id], p)
		}
	}

	found, err := a.detector.DetectConversations(ctx, conversations, a.workers)
	if err != nil {
		return err
	}
	rep.Deltas = found.Deltas
	rep.Errors = append(rep.Errors, found.Errors...)

	analysis, err := a.detector.AnalyzeTimeline(points, a.windows)
	if err != nil {
		rep.fail(ctx, StageTimeline, err)
		return nil
	}
	rep.Timeline = &analysis
	return nil
}

// Place scores m, extracts its features and places it against the current
// cluster set.
func (a *Analyzer) Place(ctx context.Context, m model.Memory) (cluster.Placement, model.MoodScore, error) {
	score, err := a.scorer.Analyze(m)
	if err != nil {
		return nil, model.MoodScore{}, model.ItemError{ItemID: m.ID, Stage: StageScore, Err: err}
	}
	f, err := features.Extract(m, score)
	if err != nil {
		return nil, score, model.ItemError{ItemID: m.ID, Stage: StageFeatures, Err: err}
	}
	p, err := a.manager.Place(ctx, f)
	if err != nil {
		return nil, score, err
	}
	return p, score, nil
}

// Patterns analyzes the registry's current clusters.
func (a *Analyzer) Patterns(ctx context.Context) []model.Pattern {
	return a.patterns.Analyze(ctx, a.registry.Current().Clusters)
}

func needsFeedback(qs []cluster.Quality) bool {
	for _, q := range qs {
		if q.Recommendation != cluster.RecommendKeep {
			return true
		}
	}
	return false
}

// shortfall rebuilds the insufficient-data diagnostic from a snapshot.
func shortfall(s *cluster.Snapshot, c cluster.Constraints) error {
	have := 0
	for _, o := range s.Outliers {
		if o.Reason == cluster.ReasonInsufficientData {
			have += len(o.Members)
		}
	}
	return &model.InsufficientDataError{Have: have, Need: c.MinClusterSize}
}

// ConversationIDs returns the conversation IDs with deltas, sorted.
func (r *Report) ConversationIDs() []string {
	ids := make([]string, 0, len(r.Deltas))
	for id := range r.Deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
