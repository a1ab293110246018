// Package cli implements the agent-mood CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/agent-mood/internal/config"
	"github.com/rcliao/agent-mood/internal/logging"
	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/pipeline"
	"github.com/rcliao/agent-mood/internal/store"
)

var (
	dbPath     string
	configPath string
	formatFlag string
	logLevel   string

	cfg config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "agent-mood",
	Short: "Mood scoring and tone clustering for conversational memories",
	Long: "Scores pre-classified conversational memories, detects mood transitions, " +
		"clusters memories by emotional tone and surfaces recurring patterns. SQLite-backed, single binary.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: store.path from config, ~/.agent-mood/mood.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.agent-mood/config.yaml if present)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or yaml")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override: debug, info, warn, error")
}

// setup loads the configuration and attaches the logger to the command
// context.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if formatFlag != "json" && formatFlag != "yaml" {
		return fmt.Errorf("unknown format %q (want json or yaml)", formatFlag)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	cmd.SetContext(logger.WithContext(cmd.Context()))
	return nil
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return cfg.Store.Path
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath())
}

func newAnalyzer() (*pipeline.Analyzer, error) {
	return pipeline.FromConfig(cfg)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

// output writes v to stdout in the selected format.
func output(v any) {
	var b []byte
	var err error
	if formatFlag == "yaml" {
		b, err = yaml.Marshal(toPlain(v))
	} else {
		b, err = json.MarshalIndent(v, "", "  ")
		b = append(b, '\n')
	}
	if err != nil {
		exitErr("encode output", err)
	}
	os.Stdout.Write(b)
}

// toPlain round-trips v through JSON so YAML output uses the JSON field names.
func toPlain(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var plain any
	if err := json.Unmarshal(b, &plain); err != nil {
		return v
	}
	return plain
}

// readMemories decodes a JSON array of memories from path, or stdin when
// path is empty or "-".
func readMemories(cmd *cobra.Command, path string) ([]model.Memory, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var memories []model.Memory
	if err := json.NewDecoder(r).Decode(&memories); err != nil {
		return nil, fmt.Errorf("decode memories: %w", err)
	}
	zerolog.Ctx(cmd.Context()).Debug().Int("memories", len(memories)).Str("source", sourceName(path)).Msg("memories read")
	return memories, nil
}

func sourceName(path string) string {
	if path == "" || path == "-" {
		return "stdin"
	}
	return path
}

func inputArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
