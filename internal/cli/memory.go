package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agriplan/internal/model"
	"github.com/rcliao/agriplan/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Show the stage results carried by a session",
		Run:   runMemory,
	}

	cmd.Flags().String("stage", "", "Only this stage: part1, part2 or part3")
	cmd.Flags().Bool("raw", false, "Print the full model output instead of the summary")

	RootCmd.AddCommand(cmd)
}

func runMemory(cmd *cobra.Command, args []string) {
	stageStr, _ := cmd.Flags().GetString("stage")
	raw, _ := cmd.Flags().GetBool("raw")

	ctx := cmd.Context()
	a := mustApp(ctx)
	defer a.Close()

	var entries []model.MemoryEntry
	if stageStr != "" {
		stage, err := model.ParseStage(stageStr)
		if err != nil {
			exitErr("memory", err)
		}
		e, err := a.store.Get(ctx, store.GetParams{Session: sessionID, Stage: stage})
		if err != nil {
			exitErr("memory", err)
		}
		entries = []model.MemoryEntry{*e}
	} else {
		var err error
		entries, err = a.store.List(ctx, store.ListParams{Session: sessionID})
		if err != nil {
			exitErr("memory", err)
		}
	}

	emit(store.ToExport(entries), func() string {
		if len(entries) == 0 {
			return fmt.Sprintf("session %s has no stage results", sessionID)
		}
		var sb strings.Builder
		for i, e := range entries {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "## %s (%s, v%d, %s)\n", e.Stage.Title(), e.Stage, e.Version, e.CreatedAt.Format("2006-01-02 15:04"))
			if raw {
				sb.WriteString(e.Raw)
			} else {
				sb.WriteString(e.Summary)
			}
		}
		return sb.String()
	})
}
