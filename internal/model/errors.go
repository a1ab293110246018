package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidInput matches every malformed sub-score, weight set or feature vector.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientData is carried when too few memories exist to cluster.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrClusteringTimeout matches a re-cluster that exceeded its budget.
	ErrClusteringTimeout = errors.New("clustering timeout")
	// ErrSnapshotChanged is returned when a cluster moved under a pending update.
	ErrSnapshotChanged = errors.New("cluster snapshot changed")
)

// InvalidInputError rejects a single offending item.
type InvalidInputError struct {
	ItemID string
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	var b strings.Builder
	b.WriteString("invalid input")
	if e.ItemID != "" {
		fmt.Fprintf(&b, " %s", e.ItemID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// InvalidSubScoreError reports a sub-score outside [0,10] or a malformed sub-score set.
type InvalidSubScoreError struct {
	Type   SubScoreType
	Value  float64
	Reason string
}

func (e *InvalidSubScoreError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("invalid sub-score: %s", e.Reason)
	}
	return fmt.Sprintf("invalid sub-score %s=%g: %s", e.Type, e.Value, e.Reason)
}

func (e *InvalidSubScoreError) Is(target error) bool { return target == ErrInvalidInput }

// InsufficientDataError is the diagnostic for a clustering step with too few items.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d memories, need at least %d", e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// ClusteringTimeoutError reports a re-cluster that did not finish within its budget.
// The previously committed cluster set is untouched.
type ClusteringTimeoutError struct {
	Budget      time.Duration
	Unprocessed []string
	Cause       error
}

func (e *ClusteringTimeoutError) Error() string {
	return fmt.Sprintf("clustering timeout after %s: %d items not reprocessed", e.Budget, len(e.Unprocessed))
}

func (e *ClusteringTimeoutError) Is(target error) bool { return target == ErrClusteringTimeout }

func (e *ClusteringTimeoutError) Unwrap() error { return e.Cause }

// ItemError is a per-item failure reported next to the batch's successes.
type ItemError struct {
	ItemID string `json:"item_id"`
	Stage  string `json:"stage"`
	Err    error  `json:"-"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.ItemID, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// MarshalJSON keeps the error message when the item is serialized.
func (e ItemError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		ItemID string `json:"item_id"`
		Stage  string `json:"stage"`
		Error  string `json:"error"`
	}{e.ItemID, e.Stage, msg})
}
