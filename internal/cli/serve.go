package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/fallback-engine/internal/handler"
	"github.com/kursadbilgin/fallback-engine/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake and admin API",
	Long: `Start the HTTP API. Intake routes accept queue items and conversation
state while Redis is down, plus failed first deliveries and payouts. Operator
routes cover unresolved notifications, dead-letter queues, payment requeue,
stats, health and Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (defaults to API_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	admin, err := a.adminService()
	if err != nil {
		return err
	}
	writer, err := a.fallbackWriter()
	if err != nil {
		return err
	}
	recorder, err := a.failureRecorder()
	if err != nil {
		return err
	}

	server := fiber.New(fiber.Config{
		AppName:               "fallback-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(a.logger),
	})
	server.Use(a.metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(server, a.sqlDB, a.cache)
	handler.RegisterMetricsRoute(server, a.metrics.Handler())
	if err := handler.RegisterAdminRoutes(server, admin); err != nil {
		return err
	}
	if err := handler.RegisterIntakeRoutes(server, writer, recorder); err != nil {
		return err
	}

	port := a.cfg.APIPort
	if servePort > 0 {
		port = servePort
	}
	addr := fmt.Sprintf(":%d", port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("admin api started", zap.String("addr", addr))
		return server.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("admin api stopped", zap.Error(err))
		return err
	}
	a.logger.Info("admin api stopped")
	return nil
}
