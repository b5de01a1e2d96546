package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/agriplan/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions with stored stage results",
		Run:   runSessions,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max sessions (0 = all)")

	RootCmd.AddCommand(cmd)
}

type sessionRow struct {
	Session   string    `json:"session" yaml:"session"`
	Stages    []string  `json:"stages" yaml:"stages"`
	LastWrite time.Time `json:"last_write" yaml:"last_write"`
}

func runSessions(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	ctx := cmd.Context()
	a := mustApp(ctx)
	defer a.Close()

	entries, err := a.store.List(ctx, store.ListParams{})
	if err != nil {
		exitErr("sessions", err)
	}

	bySession := map[string]*sessionRow{}
	for _, e := range entries {
		row, ok := bySession[e.Session]
		if !ok {
			row = &sessionRow{Session: e.Session}
			bySession[e.Session] = row
		}
		row.Stages = append(row.Stages, e.Stage.String())
		if e.CreatedAt.After(row.LastWrite) {
			row.LastWrite = e.CreatedAt
		}
	}
	rows := make([]sessionRow, 0, len(bySession))
	for _, r := range bySession {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].LastWrite.After(rows[j].LastWrite) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	emit(rows, func() string {
		var sb strings.Builder
		for _, r := range rows {
			fmt.Fprintf(&sb, "%s\t%s\t%s\n", r.Session, strings.Join(r.Stages, ","), r.LastWrite.Format(time.RFC3339))
		}
		return strings.TrimRight(sb.String(), "\n")
	})
}
