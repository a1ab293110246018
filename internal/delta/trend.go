package delta

import (
	"context"
	"math"
	"runtime"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/timeline"
)

// StageDelta names the delta stage in item errors.
const StageDelta = "delta"

// Trend classifies the overall direction of points from the sign and variance
// of successive steps. When positive and negative movement cancel within
// TrendTieTolerance the trend is stable, however large the swings.
func (d *Detector) Trend(points []model.ScorePoint) model.Trend {
	if len(points) < 2 {
		return model.TrendStable
	}
	ordered := timeline.Order(points)

	steps := make([]float64, len(ordered)-1)
	var pos, neg, mean float64
	for i := range steps {
		steps[i] = ordered[i+1].Score - ordered[i].Score
		if steps[i] > 0 {
			pos += steps[i]
		} else {
			neg -= steps[i]
		}
		mean += steps[i]
	}
	mean /= float64(len(steps))

	net := pos - neg
	if math.Abs(net) <= d.cfg.TrendTieTolerance+eps {
		return model.TrendStable
	}

	variance := 0.0
	for _, s := range steps {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(steps))
	if variance > d.cfg.VolatilityVariance {
		return model.TrendVolatile
	}

	switch {
	case net > d.cfg.StableBand:
		return model.TrendImproving
	case net < -d.cfg.StableBand:
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

// TimelineAnalysis is the result of analyzing a multi-week series.
type TimelineAnalysis struct {
	Windows []timeline.Window `json:"windows"`
	Deltas  []model.MoodDelta `json:"deltas"`
	Trend   model.Trend       `json:"trend"`
}

// AnalyzeTimeline buckets points into windows, detects deltas between window
// means and classifies the trend. With a single window the trend is taken
// from the raw points.
func (d *Detector) AnalyzeTimeline(points []model.ScorePoint, opts timeline.Options) (TimelineAnalysis, error) {
	for _, p := range points {
		if err := validatePoint(p); err != nil {
			return TimelineAnalysis{}, err
		}
	}
	windows := timeline.Split(points, opts)
	means := timeline.Points(windows)

	deltas, err := d.Detect(means)
	if err != nil {
		return TimelineAnalysis{}, err
	}

	trend := d.Trend(means)
	if len(windows) < 2 {
		trend = d.Trend(points)
	}
	return TimelineAnalysis{Windows: windows, Deltas: deltas, Trend: trend}, nil
}

// ConversationDeltas holds per-conversation results with failures isolated.
type ConversationDeltas struct {
	Deltas map[string][]model.MoodDelta `json:"deltas"`
	Errors []model.ItemError            `json:"errors,omitempty"`
}

// DetectConversations runs Detect over each conversation concurrently. Each
// conversation is ordered independently. Errors are reported per conversation
// in conversation ID order; only context cancellation fails the call.
func (d *Detector) DetectConversations(ctx context.Context, conversations map[string][]model.ScorePoint, workers int) (ConversationDeltas, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	ids := make([]string, 0, len(conversations))
	for id := range conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([][]model.MoodDelta, len(ids))
	errs := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = d.Detect(conversations[id])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ConversationDeltas{}, err
	}

	logger := zerolog.Ctx(ctx)
	out := ConversationDeltas{Deltas: make(map[string][]model.MoodDelta, len(ids))}
	total := 0
	for i, id := range ids {
		if errs[i] != nil {
			out.Errors = append(out.Errors, model.ItemError{ItemID: id, Stage: StageDelta, Err: errs[i]})
			logger.Warn().Err(errs[i]).Str("conversation_id", id).Msg("conversation rejected")
			continue
		}
		out.Deltas[id] = results[i]
		total += len(results[i])
	}
	logger.Debug().Int("conversations", len(ids)).Int("deltas", total).Msg("delta detection complete")
	return out, nil
}
