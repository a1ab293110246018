package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <memory-id>",
		Short: "Show the stored mood score and cluster of a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("history", false, "Return all score versions (newest first)")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	history, _ := cmd.Flags().GetBool("history")
	ctx := cmd.Context()
	id := args[0]

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	scores, err := s.Score(ctx, id, history)
	if err != nil {
		exitErr("get", err)
	}

	out := struct {
		MemoryID  string            `json:"memory_id"`
		Scores    []model.MoodScore `json:"scores"`
		ClusterID string            `json:"cluster_id,omitempty"`
		InReview  bool              `json:"in_review,omitempty"`
	}{MemoryID: id, Scores: scores}

	snap, err := s.LatestSnapshot(ctx)
	switch {
	case err == nil:
		out.ClusterID, _ = snap.Assigned(id)
		out.InReview = snap.InReview(id)
	case !errors.Is(err, store.ErrNotFound):
		exitErr("load snapshot", err)
	}

	output(out)
}
