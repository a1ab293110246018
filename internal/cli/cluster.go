package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/agent-mood/internal/pipeline"
)

func init() {
	cmd := &cobra.Command{
		Use:     "cluster [file]",
		Aliases: []string{"analyze"},
		Short:   "Run the full analysis and re-cluster",
		Long: "Score, detect deltas, extract features and re-cluster the given memories together with every memory already stored, " +
			"then assess cluster quality and recognize patterns. Results are saved as the next cluster generation.",
		Args: cobra.MaximumNArgs(1),
		Run:  runCluster,
	}

	cmd.Flags().Bool("dry-run", false, "Analyze without storing anything")
	cmd.Flags().Bool("no-feedback", false, "Do not apply quality recommendations to the clusters")

	RootCmd.AddCommand(cmd)
}

func runCluster(cmd *cobra.Command, args []string) {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noFeedback, _ := cmd.Flags().GetBool("no-feedback")
	ctx := cmd.Context()

	memories, err := readMemories(cmd, inputArg(args))
	if err != nil {
		exitErr("read memories", err)
	}
	a, err := pipeline.FromConfig(cfg, pipeline.WithFeedback(!noFeedback))
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

	rep, err := a.Run(ctx, memories)
	if err != nil {
		exitErr("analyze", err)
	}
	if !dryRun {
		if err := save(ctx, s, rep); err != nil {
			exitErr("save", err)
		}
	}

	output(rep)
}
