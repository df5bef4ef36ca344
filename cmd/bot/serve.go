package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/circle-bot/internal/bot"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve Slack webhooks and run the event scheduler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		b := bot.New(a.store, a.tracker, a.scheduler, a.announcer, a.messenger, bot.Config{
			SigningSecret:        cfg.Slack.SigningSecret,
			AdminUserIDs:         cfg.Slack.AdminUserIDs,
			BotUserID:            cfg.Slack.BotUserID,
			DefaultEventDuration: cfg.Events.DefaultDuration,
			WorkTimeout:          cfg.Server.WorkTimeout,
		}, logger.Named("bot"))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, a, b)
	},
}

func serve(ctx context.Context, a *app, b *bot.Bot) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           b.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		a.scheduler.Stop()
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
		b.Wait()
		return nil
	})

	return g.Wait()
}
