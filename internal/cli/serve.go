package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/agriplan/internal/orchestrator"
	"github.com/rcliao/agriplan/internal/server"
	"github.com/rcliao/agriplan/internal/session"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session HTTP API",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default: server.address)")
	cmd.Flags().String("backend", "", "Memory backend: memory, sqlite or redis (default: memory.backend)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")
	backend, _ := cmd.Flags().GetString("backend")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()
	if addr == "" {
		addr = cfg.Server.Address
	}
	a, err := newApp(ctx, cfg, backend)
	if err != nil {
		exitErr("init", err)
	}
	onExit(a.Close)
	defer a.Close()

	opts := []session.Option{session.WithLogger(a.log), session.WithMetrics(a.metrics)}
	if a.backend == "memory" {
		opts = append(opts, session.WithClearOnExpire())
	}
	mgr := session.NewManager(
		func(id string) *orchestrator.Orchestrator { return a.orchestrator(id) },
		cfg.Session.IdleTTL,
		opts...,
	)
	srv := server.New(mgr, a.metrics, a.log, server.Options{BodyLimit: cfg.Server.BodyLimit})
	if err := srv.Run(ctx, addr, cfg.Session.SweepInterval, cfg.Server.ShutdownTimeout); err != nil {
		exitErr("serve", err)
	}
}
