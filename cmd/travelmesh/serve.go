package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/travelmesh"
	"github.com/hupe1980/travelmesh/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP chat endpoint",
		Long:  "Serves session creation, chat turns, streamed chat turns (server-sent events) and a health probe.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to travelmesh config file (defaults apply when empty)")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address, overrides server.addr")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, addr string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	mesh, err := travelmesh.New(cfg)
	if err != nil {
		return err
	}
	defer mesh.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go mesh.RunSweeper(ctx)

	srv := server.New(mesh.Router, func(o *server.Options) {
		o.Addr = cfg.Server.Addr
		o.ShutdownTimeout = cfg.Server.ShutdownTimeout
		o.Logger = mesh.Logger()
	})
	return srv.Run(ctx)
}
