package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and release memories flagged for review",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List memories waiting for review",
		Run:   runReviewList,
	}

	release := &cobra.Command{
		Use:   "release <memory-id>...",
		Short: "Return reviewed memories to the next re-cluster",
		Args:  cobra.MinimumNArgs(1),
		Run:   runReviewRelease,
	}

	cmd.AddCommand(list, release)
	RootCmd.AddCommand(cmd)
}

func runReviewList(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	a, err := newAnalyzer()
	if err != nil {
		exitErr("configure", err)
	}
	if err := restore(ctx, s, a); err != nil {
		exitErr("restore", err)
	}
	snap := a.Registry().Current()
	output(map[string]any{
		"generation": snap.Generation,
		"policy":     a.Registry().Policy(),
		"review":     snap.Review,
	})
}

func runReviewRelease(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	a, err := newAnalyzer()
	if err != nil {
		exitErr("configure", err)
	}
	if err := restore(ctx, s, a); err != nil {
		exitErr("restore", err)
	}
	snap, err := a.Registry().Release(args...)
	if err != nil {
		exitErr("release", err)
	}
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		exitErr("save snapshot", err)
	}
	output(map[string]any{
		"generation": snap.Generation,
		"released":   args,
		"review":     snap.Review,
	})
}
