package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "score [file]",
		Short: "Compute mood scores",
		Long:  "Score a JSON array of classified memories read from file or stdin. Memories that fail validation are reported and skipped.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runScore,
	}

	cmd.Flags().Bool("save", false, "Store the scores as new versions")

	RootCmd.AddCommand(cmd)
}

func runScore(cmd *cobra.Command, args []string) {
	saveFlag, _ := cmd.Flags().GetBool("save")

	memories, err := readMemories(cmd, inputArg(args))
	if err != nil {
		exitErr("read memories", err)
	}
	a, err := newAnalyzer()
	if err != nil {
		exitErr("configure", err)
	}
	rep, err := a.Score(cmd.Context(), memories)
	if err != nil {
		exitErr("score", err)
	}

	if saveFlag {
		s, err := openStore()
		if err != nil {
			exitErr("open store", err)
		}
		defer s.Close()
		if err := save(cmd.Context(), s, rep); err != nil {
			exitErr("save", err)
		}
	}

	output(map[string]any{"scores": rep.Scores, "errors": rep.Errors})
}
