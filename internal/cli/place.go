package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rcliao/agent-mood/internal/cluster"
	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/pipeline"
)

// placementResult is one line of place output.
type placementResult struct {
	MemoryID  string            `json:"memory_id"`
	Outcome   cluster.Outcome   `json:"outcome,omitempty"`
	Placement cluster.Placement `json:"placement,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func init() {
	cmd := &cobra.Command{
		Use:   "place [file]",
		Short: "Place new memories into existing clusters",
		Long: "Score each new memory and integrate it into the closest stored cluster, spawn a provisional cluster, " +
			"or flag it for review, without re-clustering the rest.",
		Args: cobra.MaximumNArgs(1),
		Run:  runPlace,
	}

	RootCmd.AddCommand(cmd)
}

func runPlace(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	logger := zerolog.Ctx(ctx)

	memories, err := readMemories(cmd, inputArg(args))
	if err != nil {
		exitErr("read memories", err)
	}
	a, err := newAnalyzer()
	if err != nil {
		exitErr("configure", err)
	}
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()
	if err := restore(ctx, s, a); err != nil {
		exitErr("restore", err)
	}

	rep := &pipeline.Report{Deltas: map[string][]model.MoodDelta{}}
	results := make([]placementResult, 0, len(memories))
	var placed []string
	for _, m := range memories {
		p, score, err := a.Place(ctx, m)
		if err != nil {
			if ctx.Err() != nil {
				exitErr("place", err)
			}
			logger.Warn().Err(err).Str("memory_id", m.ID).Msg("memory not placed")
			results = append(results, placementResult{MemoryID: m.ID, Error: err.Error()})
			continue
		}
		rep.Scores = append(rep.Scores, score)
		placed = append(placed, m.ID)
		results = append(results, placementResult{MemoryID: m.ID, Outcome: p.Outcome(), Placement: p})
	}

	rep.Features = a.Registry().Features(placed...)
	rep.Snapshot = a.Registry().Current()
	rep.Patterns = a.Patterns(ctx)
	if err := save(ctx, s, rep); err != nil {
		exitErr("save", err)
	}

	output(results)
}
