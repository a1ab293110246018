package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "deltas [file]",
		Short: "Detect mood transitions",
		Long:  "Score memories, then detect transitions within each conversation and classify the multi-week trend across all of them.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runDeltas,
	}

	cmd.Flags().Bool("save", false, "Store scores and deltas")

	RootCmd.AddCommand(cmd)
}

func runDeltas(cmd *cobra.Command, args []string) {
	saveFlag, _ := cmd.Flags().GetBool("save")

	memories, err := readMemories(cmd, inputArg(args))
	if err != nil {
		exitErr("read memories", err)
	}
	a, err := newAnalyzer()
	if err != nil {
		exitErr("configure", err)
	}
	rep, err := a.Deltas(cmd.Context(), memories)
	if err != nil {
		exitErr("deltas", err)
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

	output(map[string]any{
		"deltas":       rep.Deltas,
		"timeline":     rep.Timeline,
		"errors":       rep.Errors,
		"stage_errors": rep.StageErrors,
	})
}
