// Package pattern finds themes that recur across clusters.
package pattern

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/weighted"
)

// Config tunes pattern promotion.
type Config struct {
	// MinClusters is how many distinct clusters must share a facet.
	MinClusters int `json:"min_clusters" mapstructure:"min_clusters" yaml:"min_clusters"`
	// EvolutionTolerance is the intensity change between the earliest and
	// latest contributing clusters that still counts as steady.
	EvolutionTolerance float64 `json:"evolution_tolerance" mapstructure:"evolution_tolerance" yaml:"evolution_tolerance"`
	// IncludeProvisional counts clusters spawned outside a clustering run.
	IncludeProvisional bool `json:"include_provisional" mapstructure:"include_provisional" yaml:"include_provisional"`
}

// DefaultConfig returns the standard promotion rules.
func DefaultConfig() Config {
	return Config{MinClusters: 2, EvolutionTolerance: 0.1}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.MinClusters < 2 {
		return &model.InvalidInputError{Field: "pattern.min_clusters", Reason: "must be at least 2"}
	}
	if c.EvolutionTolerance < 0 || c.EvolutionTolerance > 1 {
		return &model.InvalidInputError{Field: "pattern.evolution_tolerance", Reason: "must be in [0,1]"}
	}
	return nil
}

var patternNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("agent-mood/pattern"))

// ID returns the stable ID of a pattern facet.
func ID(t model.PatternType, value string) string {
	return uuid.NewSHA1(patternNamespace, []byte(string(t)+"\x00"+value)).String()
}

// Analyzer promotes recurring cluster facets to patterns. It keeps no state
// between calls.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer returns an Analyzer.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{cfg: cfg}, nil
}

// NewDefaultAnalyzer returns an Analyzer with DefaultConfig.
func NewDefaultAnalyzer() *Analyzer { return &Analyzer{cfg: DefaultConfig()} }

type facet struct {
	typ   model.PatternType
	value string
}

func facets(t model.Theme) []facet {
	out := make([]facet, 0, 4)
	for _, f := range []facet{
		{model.PatternEmotionalTheme, t.Tone},
		{model.PatternCopingStyle, t.Coping},
		{model.PatternRelationshipDynamic, t.Relationship},
		{model.PatternPsychologicalTendency, t.Tendency},
	} {
		if f.value != "" {
			out = append(out, f)
		}
	}
	return out
}

// Analyze tallies theme facets across clusters and returns those shared by
// at least MinClusters distinct clusters, strongest first.
func (a *Analyzer) Analyze(ctx context.Context, clusters []model.Cluster) []model.Pattern {
	groups := map[facet][]model.Cluster{}
	seen := map[string]bool{}
	for _, c := range clusters {
		if seen[c.ID] || (c.Provisional && !a.cfg.IncludeProvisional) {
			continue
		}
		seen[c.ID] = true
		for _, f := range facets(c.Theme) {
			groups[f] = append(groups[f], c)
		}
	}

	out := []model.Pattern{}
	for f, cs := range groups {
		if len(cs) < a.cfg.MinClusters {
			continue
		}
		out = append(out, a.build(f, cs))
	}
	sort.Slice(out, func(i, j int) bool {
		x, y := out[i], out[j]
		if x.Frequency != y.Frequency {
			return x.Frequency > y.Frequency
		}
		if x.Strength != y.Strength {
			return x.Strength > y.Strength
		}
		if x.Type != y.Type {
			return x.Type < y.Type
		}
		return x.Value < y.Value
	})

	zerolog.Ctx(ctx).Debug().Int("clusters", len(seen)).Int("patterns", len(out)).Msg("patterns analyzed")
	return out
}

func (a *Analyzer) build(f facet, cs []model.Cluster) model.Pattern {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].Span.Start.Equal(cs[j].Span.Start) {
			return cs[i].Span.Start.Before(cs[j].Span.Start)
		}
		return cs[i].ID < cs[j].ID
	})

	p := model.Pattern{
		ID:        ID(f.typ, f.value),
		Type:      f.typ,
		Value:     f.value,
		Frequency: len(cs),
		Evolution: a.evolution(cs[0].Intensity, cs[len(cs)-1].Intensity),
	}

	var members, intensity, coherence float64
	for _, c := range cs {
		n := float64(c.Size())
		members += n
		intensity += n * c.Intensity
		coherence += c.Coherence
		p.ClusterIDs = append(p.ClusterIDs, c.ID)
		p.FirstSeen, p.LastSeen = widen(p.FirstSeen, p.LastSeen, c.Span)
	}
	sort.Strings(p.ClusterIDs)
	if members > 0 {
		p.Strength = weighted.Round(weighted.Clamp(intensity/members, 0, 1), 4)
	}
	freq := float64(p.Frequency)
	p.Confidence = weighted.Round(weighted.Clamp(freq/(freq+1)*coherence/freq, 0, 1), 4)
	return p
}

// evolution compares the intensity of the earliest and latest contributing
// clusters.
func (a *Analyzer) evolution(first, last float64) model.Evolution {
	switch d := last - first; {
	case d > a.cfg.EvolutionTolerance+1e-9:
		return model.EvolutionEmerging
	case d < -a.cfg.EvolutionTolerance-1e-9:
		return model.EvolutionFading
	default:
		return model.EvolutionSteady
	}
}

func widen(first, last time.Time, s model.Span) (time.Time, time.Time) {
	if !s.Start.IsZero() && (first.IsZero() || s.Start.Before(first)) {
		first = s.Start
	}
	if !s.End.IsZero() && (last.IsZero() || s.End.After(last)) {
		last = s.End
	}
	return first, last
}
