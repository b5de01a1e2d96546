// Package cli implements the agriplan CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/agriplan/internal/config"
)

var (
	cfgPath    string
	dbPath     string
	sessionID  string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "agriplan",
	Short: "Staged planting plans, schedules and daily Q&A from an LLM",
	Long: "agriplan gathers plot, weather, crop and goal context, composes a prompt per stage " +
		"and carries each stage's result into the next: strategic plan, daily schedule, then Q&A.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file (default: agriplan.yaml in ., ./config or ~/.agriplan)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite path (default: $AGRIPLAN_MEMORY_SQLITE_PATH or ~/.agriplan/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "default", "Session id")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text", "Output format: text, json or yaml")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.Memory.SQLite.Path = dbPath
	}
	return cfg
}

var (
	exit     = os.Exit
	cleanups []func()
)

// onExit registers fn to run when exitErr ends the process. os.Exit skips
// deferred calls, so anything holding a store or an exporter goes here.
func onExit(fn func()) { cleanups = append(cleanups, fn) }

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	cleanups = nil
	exit(1)
}

// emit prints v in the selected format. text renders the text form; when
// nil, text falls back to JSON.
func emit(v interface{}, text func() string) {
	switch strings.ToLower(formatFlag) {
	case "yaml", "yml":
		b, err := yaml.Marshal(v)
		if err != nil {
			exitErr("encode yaml", err)
		}
		fmt.Print(string(b))
	case "text":
		if text != nil {
			fmt.Println(text())
			return
		}
		fallthrough
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			exitErr("encode json", err)
		}
		fmt.Println(string(b))
	}
}
