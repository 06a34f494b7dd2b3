package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/checker-lobby/internal/config"
	"github.com/DoyleJ11/checker-lobby/internal/httpapi"
	"github.com/DoyleJ11/checker-lobby/internal/hub"
	"github.com/DoyleJ11/checker-lobby/internal/logging"
)

const releaseVersion = "0.1.0"

func main() {
	cfg := config.Default()
	cobra.CheckErr(newCmd(&cfg).Execute())
}

func newCmd(cfg *config.Config) *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:     "lobby-server",
		Short:   "Session and player-slot coordination for two-player games.",
		Args:    cobra.NoArgs,
		Version: releaseVersion,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.ApplyEnv(cmd.Flags(), envFiles...); err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, *cfg, logger)
		},
	}

	flags := cmd.Flags()
	cfg.RegisterFlags(flags)
	flags.StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading LOBBY_* variables")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	h := hub.NewHub(ctx, hub.WithLogger(logger))
	defer h.Shutdown()

	srv := &http.Server{
		Addr:    cfg.Address(),
		Handler: httpapi.SetupRoutes(h, cfg, logger),
		// No read/write timeouts: presence connections are long-lived.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("version", releaseVersion))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
