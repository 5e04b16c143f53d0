package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/tally/internal/api"
	"github.com/MikeSquared-Agency/tally/internal/hermes"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the NATS ingest subscriber",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.NATS != nil {
			if err := env.NATS.Subscribe(hermes.SubjectMessagesSubmitted, env.Processor.HandleMessagesSubmitted); err != nil {
				return err
			}
		}

		port := servePort
		if port == 0 {
			port = cfg.Port
		}
		srv := api.NewServer(port, cfg.API, api.Deps{
			Processor:    env.Processor,
			Registry:     env.Registry,
			Participants: env.Store.Participants(),
			Activity:     env.Store.Activity(),
			Settings:     env.Store.Settings(),
			SettingsKey:  cfg.Settings.Key,
			Logger:       logger,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})

		logger.Info("tally ready", zap.Int("port", port), zap.Bool("nats", env.NATS != nil))
		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info("tally stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
