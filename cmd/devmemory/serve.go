package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/devmemory-mcp/internal/backfill"
	"github.com/dshills/devmemory-mcp/internal/config"
	"github.com/dshills/devmemory-mcp/internal/logging"
	"github.com/dshills/devmemory-mcp/internal/mcp"
)

var (
	serveTransport string
	serveAddr      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tools over stdio or streamable HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveTransport != "" {
			cfg.Transport = serveTransport
		}
		if serveAddr != "" {
			cfg.HTTPAddr = serveAddr
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		scheduler, err := backfill.NewScheduler(a.backfill, cfg.BackfillSchedule, logging.Component(a.logger, "scheduler"))
		if err != nil {
			return err
		}
		a.withContextStore(scheduler)

		server, err := mcp.NewServer(mcp.Services{
			Storage:   a.storage,
			Contexts:  a.contexts,
			Searcher:  a.searcher,
			Naming:    a.naming,
			Decisions: a.decisions,
			Backfill:  a.backfill,
		},
			mcp.WithLogger(logging.Component(a.logger, "mcp")),
			mcp.WithVersion(version),
			mcp.WithIncludeUnembedded(cfg.IncludeUnembedded),
		)
		if err != nil {
			return fmt.Errorf("create MCP server: %w", err)
		}

		scheduler.Start(ctx)
		defer scheduler.Stop()
		// rows left unembedded by a previous process
		scheduler.Notify()

		switch cfg.Transport {
		case config.TransportHTTP:
			err = server.ServeHTTP(ctx, cfg.HTTPAddr)
		default:
			err = server.ServeStdio(ctx)
		}
		if err != nil && ctx.Err() == nil {
			return err
		}
		a.logger.Info().Msg("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "transport: stdio or http")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address for the http transport")
}
