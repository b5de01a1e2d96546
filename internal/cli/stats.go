package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agriplan/internal/store"
)

type statser interface {
	Stats(ctx context.Context, dbPath string) (*store.Stats, error)
}

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	a := mustApp(ctx)
	defer a.Close()

	s, ok := a.store.(statser)
	if !ok {
		exitErr("stats", fmt.Errorf("memory backend %q has no stats", a.cfg.Memory.Backend))
	}
	stats, err := s.Stats(ctx, a.cfg.Memory.SQLite.Path)
	if err != nil {
		exitErr("stats", err)
	}

	emit(stats, nil)
}
