package features

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/agent-mood/internal/model"
)

// StageFeatures names the feature extraction stage in item errors.
const StageFeatures = "features"

// BatchResult holds extracted features and rejected memories, both in input order.
type BatchResult struct {
	Features []model.ClusteringFeatures `json:"features"`
	Errors   []model.ItemError          `json:"errors,omitempty"`
}

// ExtractBatch extracts features concurrently. moods is keyed by memory ID; a
// memory without a mood score is rejected.
func ExtractBatch(ctx context.Context, memories []model.Memory, moods map[string]model.MoodScore, workers int) (BatchResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]model.ClusteringFeatures, len(memories))
	errs := make([]error, len(memories))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range memories {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m := memories[i]
			mood, ok := moods[m.ID]
			if !ok {
				errs[i] = &model.InvalidInputError{ItemID: m.ID, Field: "mood_score", Reason: "no mood score for memory"}
				return nil
			}
			out[i], errs[i] = Extract(m, mood)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	logger := zerolog.Ctx(ctx)
	res := BatchResult{Features: make([]model.ClusteringFeatures, 0, len(memories))}
	for i, err := range errs {
		if err != nil {
			res.Errors = append(res.Errors, model.ItemError{ItemID: memories[i].ID, Stage: StageFeatures, Err: err})
			logger.Warn().Err(err).Str("memory_id", memories[i].ID).Msg("features rejected")
			continue
		}
		res.Features = append(res.Features, out[i])
	}
	return res, nil
}

// Centroid returns the mean of fs: numeric fields are averaged and categorical
// fields take their most frequent value, ties broken alphabetically. The
// centroid has no memory ID.
func Centroid(fs []model.ClusteringFeatures) model.ClusteringFeatures {
	if len(fs) == 0 {
		return model.ClusteringFeatures{}
	}
	n := float64(len(fs))
	var c model.ClusteringFeatures
	var participants float64
	var nanos int64
	cats := map[string]map[string]int{}
	tally := func(field, v string) {
		if cats[field] == nil {
			cats[field] = map[string]int{}
		}
		cats[field][v]++
	}

	base := fs[0].Temporal.Timestamp
	for _, f := range fs {
		c.Tone.Valence += f.Tone.Valence / n
		c.Tone.Arousal += f.Tone.Arousal / n
		c.Tone.Intensity += f.Tone.Intensity / n
		c.Tone.Mood += f.Tone.Mood / n
		c.Style.Formality += f.Style.Formality / n
		c.Style.Directness += f.Style.Directness / n
		c.Style.Expressiveness += f.Style.Expressiveness / n
		c.Style.Supportiveness += f.Style.Supportiveness / n
		c.Relationship.Closeness += f.Relationship.Closeness / n
		c.Relationship.Conflict += f.Relationship.Conflict / n
		c.Relationship.Support += f.Relationship.Support / n
		c.Psychological.Resilience += f.Psychological.Resilience / n
		c.Psychological.Vulnerability += f.Psychological.Vulnerability / n
		c.Psychological.Growth += f.Psychological.Growth / n
		c.Psychological.SelfReflection += f.Psychological.SelfReflection / n
		c.Temporal.HourSin += f.Temporal.HourSin / n
		c.Temporal.HourCos += f.Temporal.HourCos / n
		c.Temporal.WeekdaySin += f.Temporal.WeekdaySin / n
		c.Temporal.WeekdayCos += f.Temporal.WeekdayCos / n
		participants += float64(f.Relationship.Participants)
		nanos += int64(f.Temporal.Timestamp.Sub(base) / time.Duration(len(fs)))

		tally("tone", f.Tone.Dominant)
		tally("style", f.Style.Label)
		tally("relationship", f.Relationship.Context)
		tally("coping", f.Psychological.Coping)
		tally("tendency", f.Psychological.Tendency)
		tally("day_part", f.Temporal.DayPart)
	}

	c.Relationship.Participants = int(math.Round(participants / n))
	c.Temporal.Timestamp = base.Add(time.Duration(nanos))
	c.Tone.Dominant = Mode(cats["tone"])
	c.Style.Label = Mode(cats["style"])
	c.Relationship.Context = Mode(cats["relationship"])
	c.Psychological.Coping = Mode(cats["coping"])
	c.Psychological.Tendency = Mode(cats["tendency"])
	c.Temporal.DayPart = Mode(cats["day_part"])
	return clampCentroid(c)
}

// Mode returns the most frequent key, ties broken alphabetically.
func Mode(counts map[string]int) string {
	best, bestN := "", 0
	for _, k := range sortedKeys(counts) {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}

// clampCentroid pins averaged fields back into range against float drift.
func clampCentroid(c model.ClusteringFeatures) model.ClusteringFeatures {
	unit := func(v *float64, lo float64) { *v = math.Max(lo, math.Min(1, *v)) }
	for _, v := range []*float64{
		&c.Tone.Arousal, &c.Tone.Intensity, &c.Tone.Mood,
		&c.Style.Formality, &c.Style.Directness, &c.Style.Expressiveness, &c.Style.Supportiveness,
		&c.Relationship.Closeness, &c.Relationship.Conflict, &c.Relationship.Support,
		&c.Psychological.Resilience, &c.Psychological.Vulnerability, &c.Psychological.Growth, &c.Psychological.SelfReflection,
	} {
		unit(v, 0)
	}
	for _, v := range []*float64{
		&c.Tone.Valence, &c.Temporal.HourSin, &c.Temporal.HourCos, &c.Temporal.WeekdaySin, &c.Temporal.WeekdayCos,
	} {
		unit(v, -1)
	}
	return c
}
