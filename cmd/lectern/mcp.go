package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xiaot623/lectern/internal/transport/mcp"
)

func newMCPCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tutor as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := ctx.openService(runCtx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.service.Warm(runCtx); err != nil {
				rt.logger.Warn("index warm-up failed", "error", err)
			}
			go rt.service.RunIdleSweeper(runCtx, idleSweepFrequency)

			return mcp.NewServer(rt.service, version, rt.logger).Serve(runCtx, os.Stdin, os.Stdout)
		},
	}
}
