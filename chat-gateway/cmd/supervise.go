package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/supervisor"
	pkglog "github.com/weiawesome/wes-io-chat/pkg/log"
)

func newSuperviseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run a pool of gateway workers sharing one port",
		Long:  "supervise re-executes this binary as `serve` once per worker with SO_REUSEPORT listeners and restarts any worker that exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			workers, _ := cmd.Flags().GetInt("workers")
			return runSupervise(cmd.Context(), configPath, workers)
		},
	}
	cmd.Flags().Int("workers", 0, "number of worker processes (default worker.count, then NumCPU)")
	return cmd
}

func runSupervise(parent context.Context, configPath string, workers int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if workers > 0 {
		cfg.Worker.Count = workers
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "chat-gateway-supervisor",
	})

	args := []string{"serve"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	sup := supervisor.New(&supervisor.ExecSpawner{
		Args: args,
		Env:  []string{"SERVER_REUSE_PORT=true"},
	}, supervisor.Config{
		Workers:      cfg.Worker.Count,
		RestartDelay: cfg.Worker.RestartDelay,
		Policy:       supervisor.AlwaysRestart{},
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return sup.Run(ctx)
}
