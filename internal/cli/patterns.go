package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List recurring patterns",
		Run:   runPatterns,
	}

	cmd.Flags().Bool("recompute", false, "Recognize patterns again from the latest cluster generation")
	cmd.Flags().StringP("type", "t", "", "Filter by pattern type (emotional_theme, coping_style, relationship_dynamic, psychological_tendency)")

	RootCmd.AddCommand(cmd)
}

func runPatterns(cmd *cobra.Command, args []string) {
	recompute, _ := cmd.Flags().GetBool("recompute")
	typ, _ := cmd.Flags().GetString("type")
	ctx := cmd.Context()

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if recompute {
		a, err := newAnalyzer()
		if err != nil {
			exitErr("configure", err)
		}
		if err := restore(ctx, s, a); err != nil {
			exitErr("restore", err)
		}
		snap := a.Registry().Current()
		if err := s.SavePatterns(ctx, snap.Generation, a.Patterns(ctx)); err != nil {
			exitErr("save patterns", err)
		}
	}

	ps, err := s.Patterns(ctx)
	if err != nil {
		exitErr("patterns", err)
	}
	if typ != "" {
		filtered := ps[:0]
		for _, p := range ps {
			if string(p.Type) == typ {
				filtered = append(filtered, p)
			}
		}
		ps = filtered
	}
	output(ps)
}
