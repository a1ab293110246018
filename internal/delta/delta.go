// Package delta detects significant mood transitions in a time-ordered score
// sequence and classifies multi-week trends.
package delta

import (
	"fmt"
	"math"
	"sort"

	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/timeline"
	"github.com/rcliao/agent-mood/internal/weighted"
)

// eps absorbs float subtraction error at threshold boundaries.
const eps = 1e-9

// Config holds the detection thresholds.
type Config struct {
	SuddenThreshold    float64 `json:"sudden_threshold" mapstructure:"sudden_threshold" yaml:"sudden_threshold"`
	GradualThreshold   float64 `json:"gradual_threshold" mapstructure:"gradual_threshold" yaml:"gradual_threshold"`
	RepairThreshold    float64 `json:"repair_threshold" mapstructure:"repair_threshold" yaml:"repair_threshold"`
	RepairLookback     int     `json:"repair_lookback" mapstructure:"repair_lookback" yaml:"repair_lookback"`
	SustainedSteps     int     `json:"sustained_steps" mapstructure:"sustained_steps" yaml:"sustained_steps"`
	CelebrationFloor   float64 `json:"celebration_floor" mapstructure:"celebration_floor" yaml:"celebration_floor"`
	PlateauSteps       int     `json:"plateau_steps" mapstructure:"plateau_steps" yaml:"plateau_steps"`
	PlateauBand        float64 `json:"plateau_band" mapstructure:"plateau_band" yaml:"plateau_band"`
	TrendTieTolerance  float64 `json:"trend_tie_tolerance" mapstructure:"trend_tie_tolerance" yaml:"trend_tie_tolerance"`
	StableBand         float64 `json:"stable_band" mapstructure:"stable_band" yaml:"stable_band"`
	VolatilityVariance float64 `json:"volatility_variance" mapstructure:"volatility_variance" yaml:"volatility_variance"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		SuddenThreshold:    2.0,
		GradualThreshold:   1.5,
		RepairThreshold:    1.0,
		RepairLookback:     3,
		SustainedSteps:     2,
		CelebrationFloor:   8.0,
		PlateauSteps:       3,
		PlateauBand:        0.5,
		TrendTieTolerance:  0.1,
		StableBand:         0.5,
		VolatilityVariance: 1.0,
	}
}

// Validate checks the thresholds are usable together.
func (c Config) Validate() error {
	switch {
	case c.GradualThreshold <= 0:
		return &model.InvalidInputError{Field: "delta.gradual_threshold", Reason: "must be positive"}
	case c.SuddenThreshold <= c.GradualThreshold:
		return &model.InvalidInputError{Field: "delta.sudden_threshold", Reason: fmt.Sprintf("must exceed gradual threshold %g", c.GradualThreshold)}
	case c.RepairThreshold <= 0:
		return &model.InvalidInputError{Field: "delta.repair_threshold", Reason: "must be positive"}
	case c.RepairLookback < 1:
		return &model.InvalidInputError{Field: "delta.repair_lookback", Reason: "must be at least 1"}
	case c.SustainedSteps < 1:
		return &model.InvalidInputError{Field: "delta.sustained_steps", Reason: "must be at least 1"}
	case c.PlateauSteps < 1:
		return &model.InvalidInputError{Field: "delta.plateau_steps", Reason: "must be at least 1"}
	case c.PlateauBand < 0, c.TrendTieTolerance < 0, c.StableBand < 0, c.VolatilityVariance < 0:
		return &model.InvalidInputError{Field: "delta", Reason: "bands and tolerances must be non-negative"}
	}
	return nil
}

// Significance multipliers per trigger type.
var multipliers = map[model.DeltaType]float64{
	model.DeltaMoodRepair:  1.5,
	model.DeltaSudden:      1.3,
	model.DeltaCelebration: 1.2,
	model.DeltaDecline:     1.1,
	model.DeltaGradual:     0.9,
}

// Detector finds mood deltas. It holds only configuration and is safe for
// concurrent use.
type Detector struct {
	cfg Config
}

// NewDetector returns a Detector for cfg.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// NewDefaultDetector returns a Detector with DefaultConfig.
func NewDefaultDetector() *Detector {
	return &Detector{cfg: DefaultConfig()}
}

// Config returns the detector's thresholds.
func (d *Detector) Config() Config { return d.cfg }

// Detect returns the significant transitions in points. Points are ordered by
// timestamp before processing; the input slice is not modified. Fewer than two
// points yield an empty list and no error.
func (d *Detector) Detect(points []model.ScorePoint) ([]model.MoodDelta, error) {
	for _, p := range points {
		if err := validatePoint(p); err != nil {
			return nil, err
		}
	}
	if len(points) < 2 {
		return []model.MoodDelta{}, nil
	}

	s := newSeries(timeline.Order(points))
	found := map[[2]int]model.MoodDelta{}
	add := func(md model.MoodDelta) {
		key := [2]int{md.Window.FromIndex, md.Window.ToIndex}
		if prev, ok := found[key]; ok && prev.Significance >= md.Significance {
			return
		}
		found[key] = md
	}

	d.detectSteps(s, add)
	d.detectRepairs(s, add)
	d.detectDeclines(s, add)
	d.detectPlateaus(s, add)

	out := make([]model.MoodDelta, 0, len(found))
	for _, md := range found {
		out = append(out, md)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Window, out[j].Window
		if a.FromIndex != b.FromIndex {
			return a.FromIndex < b.FromIndex
		}
		if a.ToIndex != b.ToIndex {
			return a.ToIndex < b.ToIndex
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func validatePoint(p model.ScorePoint) error {
	if math.IsNaN(p.Score) || p.Score < 0 || p.Score > 10 {
		return &model.InvalidInputError{ItemID: p.MemoryID, Field: "score", Reason: fmt.Sprintf("%g outside [0,10]", p.Score)}
	}
	if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
		return &model.InvalidInputError{ItemID: p.MemoryID, Field: "confidence", Reason: fmt.Sprintf("%g outside [0,1]", p.Confidence)}
	}
	return nil
}

// series is an ordered sequence with its step differences and same-direction
// run lengths precomputed.
type series struct {
	points []model.ScorePoint
	steps  []float64
	runs   []int
}

func newSeries(points []model.ScorePoint) series {
	s := series{points: points, steps: make([]float64, len(points)-1)}
	for i := range s.steps {
		s.steps[i] = points[i+1].Score - points[i].Score
	}
	s.runs = make([]int, len(s.steps))
	for i := 0; i < len(s.steps); {
		j := i + 1
		for j < len(s.steps) && sign(s.steps[j]) == sign(s.steps[i]) && sign(s.steps[i]) != 0 {
			j++
		}
		for k := i; k < j; k++ {
			s.runs[k] = j - i
		}
		i = j
	}
	return s
}

func sign(v float64) int {
	switch {
	case v > eps:
		return 1
	case v < -eps:
		return -1
	default:
		return 0
	}
}

func (s series) last() int { return len(s.points) - 1 }

func (d *Detector) detectSteps(s series, add func(model.MoodDelta)) {
	for i, step := range s.steps {
		mag := math.Abs(step)
		var typ model.DeltaType
		switch {
		case mag >= d.cfg.SuddenThreshold-eps:
			typ = model.DeltaSudden
		case mag >= d.cfg.GradualThreshold-eps && s.runs[i] >= d.cfg.SustainedSteps:
			typ = model.DeltaGradual
		default:
			continue
		}
		if step > 0 && s.points[i+1].Score >= d.cfg.CelebrationFloor-eps {
			typ = model.DeltaCelebration
		}
		add(d.build(s, i, i+1, typ))
	}
}

// detectRepairs finds troughs reached by a decline and followed within the
// lookback by a recovery of at least RepairThreshold.
func (d *Detector) detectRepairs(s series, add func(model.MoodDelta)) {
	for t := 1; t < s.last(); t++ {
		if sign(s.steps[t-1]) >= 0 || sign(s.steps[t]) <= 0 {
			continue
		}
		peak := t
		for j := t + 1; j <= s.last() && j <= t+d.cfg.RepairLookback; j++ {
			if s.points[j].Score > s.points[peak].Score {
				peak = j
			}
		}
		if s.points[peak].Score-s.points[t].Score >= d.cfg.RepairThreshold-eps {
			add(d.build(s, t, peak, model.DeltaMoodRepair))
		}
	}
}

// detectDeclines finds sustained negative runs whose total drop reaches the
// gradual threshold.
func (d *Detector) detectDeclines(s series, add func(model.MoodDelta)) {
	for i := 0; i < len(s.steps); i += s.runs[i] {
		n := s.runs[i]
		if sign(s.steps[i]) >= 0 || n < d.cfg.SustainedSteps {
			continue
		}
		if s.points[i].Score-s.points[i+n].Score >= d.cfg.GradualThreshold-eps {
			add(d.build(s, i, i+n, model.DeltaDecline))
		}
	}
}

// detectPlateaus finds stretches of at least PlateauSteps steps whose scores
// stay within PlateauBand of each other.
func (d *Detector) detectPlateaus(s series, add func(model.MoodDelta)) {
	for i := 0; i < s.last(); {
		lo, hi := s.points[i].Score, s.points[i].Score
		j := i
		for j+1 <= s.last() {
			v := s.points[j+1].Score
			if math.Max(hi, v)-math.Min(lo, v) > d.cfg.PlateauBand+eps {
				break
			}
			lo, hi = math.Min(lo, v), math.Max(hi, v)
			j++
		}
		if j-i >= d.cfg.PlateauSteps {
			add(d.build(s, i, j, model.DeltaPlateau))
			i = j
			continue
		}
		i++
	}
}

// build assembles a delta between two indices of the ordered series.
func (d *Detector) build(s series, from, to int, typ model.DeltaType) model.MoodDelta {
	a, b := s.points[from], s.points[to]
	mag := math.Abs(b.Score - a.Score)
	position := 0.8 + 0.2*float64(to)/float64(s.last())

	var sig, margin float64
	if typ == model.DeltaPlateau {
		steps := float64(to - from)
		sig = 0.5 * steps * position
		margin = math.Min(1, steps/float64(2*d.cfg.PlateauSteps))
	} else {
		sig = mag * multipliers[typ] * position
		margin = math.Min(1, mag/(2*d.cfg.SuddenThreshold))
	}

	dir := model.DirectionNeutral
	if typ != model.DeltaPlateau {
		switch sign(b.Score - a.Score) {
		case 1:
			dir = model.DirectionPositive
		case -1:
			dir = model.DirectionNegative
		}
	}

	return model.MoodDelta{
		FromScore:    a.Score,
		ToScore:      b.Score,
		Magnitude:    mag,
		Direction:    dir,
		Type:         typ,
		Significance: weighted.Round(weighted.Clamp(sig, 0, 10), 2),
		Confidence:   weighted.Round(endpointConfidence(a, b)*(0.6+0.4*margin), 3),
		Window: model.TimeWindow{
			FromIndex:    from,
			ToIndex:      to,
			FromMemoryID: a.MemoryID,
			ToMemoryID:   b.MemoryID,
			Start:        a.Timestamp,
			End:          b.Timestamp,
		},
	}
}

func endpointConfidence(a, b model.ScorePoint) float64 {
	ca, cb := a.Confidence, b.Confidence
	if ca == 0 {
		ca = 1
	}
	if cb == 0 {
		cb = 1
	}
	return (ca + cb) / 2
}
