package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored results",
		Long:  "Export every score version, the deltas per conversation, the latest cluster generation, features and patterns.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	all, err := s.ExportAll(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}
	output(all)
}
