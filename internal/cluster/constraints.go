// Package cluster groups memories into thematically coherent clusters, keeps
// the committed cluster set as versioned snapshots and places new memories
// incrementally.
package cluster

import (
	"fmt"

	"github.com/rcliao/agent-mood/internal/model"
)

// Constraints bound a clustering run.
type Constraints struct {
	MinClusterSize          int     `json:"min_cluster_size" mapstructure:"min_cluster_size" yaml:"min_cluster_size"`
	MaxClusterSize          int     `json:"max_cluster_size" mapstructure:"max_cluster_size" yaml:"max_cluster_size"`
	CoherenceThreshold      float64 `json:"coherence_threshold" mapstructure:"coherence_threshold" yaml:"coherence_threshold"`
	MeaningfulnessThreshold float64 `json:"meaningfulness_threshold" mapstructure:"meaningfulness_threshold" yaml:"meaningfulness_threshold"`
}

// DefaultConstraints returns the standard clustering constraints.
func DefaultConstraints() Constraints {
	return Constraints{
		MinClusterSize:          3,
		MaxClusterSize:          15,
		CoherenceThreshold:      0.6,
		MeaningfulnessThreshold: 0.7,
	}
}

// Validate checks the constraints are consistent.
func (c Constraints) Validate() error {
	switch {
	case c.MinClusterSize < 1:
		return &model.InvalidInputError{Field: "cluster.min_cluster_size", Reason: "must be at least 1"}
	case c.MaxClusterSize < c.MinClusterSize:
		return &model.InvalidInputError{Field: "cluster.max_cluster_size", Reason: fmt.Sprintf("must be at least min_cluster_size %d", c.MinClusterSize)}
	case !unitInterval(c.CoherenceThreshold):
		return &model.InvalidInputError{Field: "cluster.coherence_threshold", Reason: "must be in [0,1]"}
	case !unitInterval(c.MeaningfulnessThreshold):
		return &model.InvalidInputError{Field: "cluster.meaningfulness_threshold", Reason: "must be in [0,1]"}
	}
	return nil
}

func unitInterval(v float64) bool { return v >= 0 && v <= 1 }
