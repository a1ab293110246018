package scoring

import (
	"context"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/agent-mood/internal/model"
)

// StageScore names the scoring stage in item errors.
const StageScore = "score"

// BatchResult holds the scores that succeeded and the items that did not,
// both in input order.
type BatchResult struct {
	Scores []model.MoodScore `json:"scores"`
	Errors []model.ItemError `json:"errors,omitempty"`
}

// ScoreBatch analyzes memories concurrently with at most workers goroutines.
// A failing memory is reported in Errors and does not abort the batch. Only
// context cancellation fails the call.
func ScoreBatch(ctx context.Context, c *Calculator, memories []model.Memory, workers int) (BatchResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger := zerolog.Ctx(ctx)

	scores := make([]model.MoodScore, len(memories))
	errs := make([]error, len(memories))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range memories {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[i], errs[i] = c.Analyze(memories[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Scores: make([]model.MoodScore, 0, len(memories))}
	for i, err := range errs {
		if err != nil {
			res.Errors = append(res.Errors, model.ItemError{ItemID: memories[i].ID, Stage: StageScore, Err: err})
			logger.Warn().Err(err).Str("memory_id", memories[i].ID).Msg("memory rejected")
			continue
		}
		res.Scores = append(res.Scores, scores[i])
	}

	logger.Debug().
		Int("memories", len(memories)).
		Int("scored", len(res.Scores)).
		Int("rejected", len(res.Errors)).
		Msg("mood scoring complete")
	return res, nil
}
