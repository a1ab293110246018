// Package timeline splits a time-ordered mood series into fixed-span windows
// for multi-week trend analysis.
package timeline

import (
	"sort"
	"time"

	"github.com/rcliao/agent-mood/internal/model"
)

const (
	DefaultSpan      = 7 * 24 * time.Hour
	DefaultMinPoints = 2
)

// Options configures windowing behavior.
type Options struct {
	Span      time.Duration
	MinPoints int
}

// DefaultOptions returns weekly windows of at least two points.
func DefaultOptions() Options {
	return Options{
		Span:      DefaultSpan,
		MinPoints: DefaultMinPoints,
	}
}

// Window is a contiguous slice of the timeline with its mean score.
type Window struct {
	Start     time.Time          `json:"start"`
	End       time.Time          `json:"end"`
	Points    []model.ScorePoint `json:"points"`
	MeanScore float64            `json:"mean_score"`
}

// Order returns a copy of points sorted by timestamp. Equal timestamps keep
// their input order.
func Order(points []model.ScorePoint) []model.ScorePoint {
	out := make([]model.ScorePoint, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Split groups points into windows of opts.Span starting at the earliest
// point. Empty spans are skipped. A window with fewer than opts.MinPoints
// points is folded into its predecessor, or into its successor when it is first.
func Split(points []model.ScorePoint, opts Options) []Window {
	if opts.Span <= 0 {
		opts = DefaultOptions()
	}
	if len(points) == 0 {
		return nil
	}

	ordered := Order(points)
	return mergeWindows(splitWindows(ordered, opts.Span), opts.MinPoints)
}

// splitWindows assigns each point to the span it falls in.
func splitWindows(points []model.ScorePoint, span time.Duration) []Window {
	origin := points[0].Timestamp
	var windows []Window
	var current *Window
	currentIdx := int64(-1)

	for _, p := range points {
		idx := int64(p.Timestamp.Sub(origin) / span)
		if current == nil || idx != currentIdx {
			if current != nil {
				windows = append(windows, *current)
			}
			start := origin.Add(time.Duration(idx) * span)
			current = &Window{Start: start, End: start.Add(span)}
			currentIdx = idx
		}
		current.Points = append(current.Points, p)
	}
	if current != nil {
		windows = append(windows, *current)
	}
	return windows
}

// mergeWindows folds undersized windows into a neighbor and computes means.
func mergeWindows(windows []Window, minPoints int) []Window {
	var results []Window
	for _, w := range windows {
		if len(results) > 0 && len(w.Points) < minPoints {
			last := &results[len(results)-1]
			last.Points = append(last.Points, w.Points...)
			last.End = w.End
			continue
		}
		if len(results) == 1 && len(results[0].Points) < minPoints {
			// Undersized first window waits for its successor.
			results[0].Points = append(results[0].Points, w.Points...)
			results[0].End = w.End
			continue
		}
		results = append(results, w)
	}

	for i := range results {
		sum := 0.0
		for _, p := range results[i].Points {
			sum += p.Score
		}
		results[i].MeanScore = sum / float64(len(results[i].Points))
	}
	return results
}

// Points returns one point per window positioned at the window start and
// carrying the window mean, for delta detection across windows.
func Points(windows []Window) []model.ScorePoint {
	out := make([]model.ScorePoint, len(windows))
	for i, w := range windows {
		conf := 0.0
		for _, p := range w.Points {
			conf += p.Confidence
		}
		out[i] = model.ScorePoint{
			MemoryID:   w.Points[len(w.Points)-1].MemoryID,
			Timestamp:  w.Start,
			Score:      w.MeanScore,
			Confidence: conf / float64(len(w.Points)),
		}
	}
	return out
}
