// Package config loads the agent-mood configuration from YAML with
// AGENT_MOOD_* environment overrides and converts it into the explicit
// parameters the core packages take.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/agent-mood/internal/cluster"
	"github.com/rcliao/agent-mood/internal/delta"
	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/pattern"
	"github.com/rcliao/agent-mood/internal/scoring"
	"github.com/rcliao/agent-mood/internal/similarity"
	"github.com/rcliao/agent-mood/internal/timeline"
	"github.com/rcliao/agent-mood/internal/weighted"
)

// EnvPrefix prefixes environment overrides, e.g. AGENT_MOOD_LOG_LEVEL.
const EnvPrefix = "AGENT_MOOD"

// Config is the complete configuration surface.
type Config struct {
	Log        LogConfig             `mapstructure:"log" yaml:"log"`
	Store      StoreConfig           `mapstructure:"store" yaml:"store"`
	Workers    int                   `mapstructure:"workers" yaml:"workers"`
	Scoring    ScoringConfig         `mapstructure:"scoring" yaml:"scoring"`
	Delta      delta.Config          `mapstructure:"delta" yaml:"delta"`
	Timeline   TimelineConfig        `mapstructure:"timeline" yaml:"timeline"`
	Similarity SimilarityConfig      `mapstructure:"similarity" yaml:"similarity"`
	Cluster    ClusterConfig         `mapstructure:"cluster" yaml:"cluster"`
	Placement  cluster.ManagerConfig `mapstructure:"placement" yaml:"placement"`
	Pattern    pattern.Config        `mapstructure:"pattern" yaml:"pattern"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // console or json
}

// StoreConfig locates the SQLite result store.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ScoringConfig holds the mood and confidence weight sets.
type ScoringConfig struct {
	Weights           map[string]float64 `mapstructure:"weights" yaml:"weights"`
	ConfidenceWeights map[string]float64 `mapstructure:"confidence_weights" yaml:"confidence_weights"`
}

// TimelineConfig controls multi-week windowing. Span is a Go duration string.
type TimelineConfig struct {
	Span      string `mapstructure:"span" yaml:"span"`
	MinPoints int    `mapstructure:"min_points" yaml:"min_points"`
}

// SimilarityConfig holds the dimension weights and comparison metric.
type SimilarityConfig struct {
	Weights map[string]float64 `mapstructure:"weights" yaml:"weights"`
	Metric  string             `mapstructure:"metric" yaml:"metric"`
}

// ClusterConfig holds clustering constraints, the re-cluster budget and the
// review retry policy.
type ClusterConfig struct {
	cluster.Constraints `mapstructure:",squash" yaml:",inline"`
	ReviewPolicy        string `mapstructure:"review_policy" yaml:"review_policy"`
	Budget              string `mapstructure:"budget" yaml:"budget"`
}

// Default returns the standard configuration.
func Default() Config {
	return Config{
		Log:     LogConfig{Level: "info", Format: "console"},
		Store:   StoreConfig{Path: DefaultStorePath()},
		Workers: 0,
		Scoring: ScoringConfig{
			Weights:           toMap(scoring.DefaultMoodWeights()),
			ConfidenceWeights: toMap(scoring.DefaultConfidenceWeights()),
		},
		Delta: delta.DefaultConfig(),
		Timeline: TimelineConfig{
			Span:      timeline.DefaultSpan.String(),
			MinPoints: timeline.DefaultMinPoints,
		},
		Similarity: SimilarityConfig{
			Weights: toMap(similarity.DefaultWeights()),
			Metric:  string(similarity.MetricDistance),
		},
		Cluster: ClusterConfig{
			Constraints:  cluster.DefaultConstraints(),
			ReviewPolicy: string(cluster.ReviewManual),
			Budget:       "30s",
		},
		Placement: cluster.DefaultManagerConfig(),
		Pattern:   pattern.DefaultConfig(),
	}
}

// DefaultStorePath is ~/.agent-mood/mood.db.
func DefaultStorePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agent-mood", "mood.db")
}

// DefaultPath is ~/.agent-mood/config.yaml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agent-mood", "config.yaml")
}

// Load reads path over the defaults and applies AGENT_MOOD_* overrides. A
// missing file at the default location is not an error; an explicit path
// must exist.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return Config{}, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, fmt.Errorf("read defaults: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		if _, err := os.Stat(DefaultPath()); err == nil {
			path = DefaultPath()
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Store.Path = expandHome(cfg.Store.Path)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes c to path as YAML, creating the directory.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks every section converts into a usable core parameter.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return &model.InvalidInputError{Field: "workers", Reason: "must not be negative"}
	}
	if _, err := c.MoodWeights(); err != nil {
		return err
	}
	if _, err := c.ConfidenceWeights(); err != nil {
		return err
	}
	if err := c.Delta.Validate(); err != nil {
		return err
	}
	if _, err := c.TimelineOptions(); err != nil {
		return err
	}
	if _, err := c.SimilarityWeights(); err != nil {
		return err
	}
	if err := c.Cluster.Constraints.Validate(); err != nil {
		return err
	}
	if _, err := c.ReviewPolicy(); err != nil {
		return err
	}
	if _, err := c.Budget(); err != nil {
		return err
	}
	if err := c.Placement.Validate(); err != nil {
		return err
	}
	return c.Pattern.Validate()
}

// MoodWeights returns the sub-score weight set.
func (c Config) MoodWeights() (weighted.Set, error) {
	names := make([]string, len(model.SubScoreTypes))
	for i, t := range model.SubScoreTypes {
		names[i] = string(t)
	}
	return weighted.FromMap(names, c.Scoring.Weights)
}

// ConfidenceWeights returns the confidence factor weight set.
func (c Config) ConfidenceWeights() (weighted.Set, error) {
	return weighted.FromMap(scoring.FactorNames, c.Scoring.ConfidenceWeights)
}

// SimilarityWeights returns the feature dimension weight set.
func (c Config) SimilarityWeights() (weighted.Set, error) {
	return weighted.FromMap(similarity.Dimensions, c.Similarity.Weights)
}

// TimelineOptions returns the windowing options.
func (c Config) TimelineOptions() (timeline.Options, error) {
	span, err := time.ParseDuration(c.Timeline.Span)
	if err != nil || span <= 0 {
		return timeline.Options{}, &model.InvalidInputError{Field: "timeline.span", Reason: fmt.Sprintf("invalid duration %q", c.Timeline.Span)}
	}
	if c.Timeline.MinPoints < 1 {
		return timeline.Options{}, &model.InvalidInputError{Field: "timeline.min_points", Reason: "must be at least 1"}
	}
	return timeline.Options{Span: span, MinPoints: c.Timeline.MinPoints}, nil
}

// ReviewPolicy returns the review retry policy.
func (c Config) ReviewPolicy() (cluster.ReviewPolicy, error) {
	return cluster.ParseReviewPolicy(c.Cluster.ReviewPolicy)
}

// Budget returns the re-cluster time budget; zero means unbounded.
func (c Config) Budget() (time.Duration, error) {
	if c.Cluster.Budget == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Cluster.Budget)
	if err != nil || d < 0 {
		return 0, &model.InvalidInputError{Field: "cluster.budget", Reason: fmt.Sprintf("invalid duration %q", c.Cluster.Budget)}
	}
	return d, nil
}

func toMap(s weighted.Set) map[string]float64 {
	out := make(map[string]float64, s.Len())
	for _, f := range s.Factors() {
		out[f.Name] = f.Weight
	}
	return out
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
