// Package fleetmock is an in-memory stand-in for the fleet REST API. It
// serves the collections the client syncs and backs up, plus a gRPC
// health service, for local development and end-to-end tests.
package fleetmock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/fleetmock/config"
	"github.com/dmitrijs2005/fleetsync/internal/logging"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	handler *Handler
}

func NewApp(c *config.Config) (*App, error) {
	logger, err := logging.New(c.LogFormat, c.LogLevel, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	handler := NewHandler(NewStore(), []byte(c.SecretKey), logger.With("module", "http"))
	return &App{config: c, logger: logger, handler: handler}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           NewRouter(app.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc, s *HealthServer) {
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// printToken logs a device token when authentication is enabled so a
// client can be pointed at the server straight away.
func (app *App) printToken(ctx context.Context) {
	if app.config.SecretKey == "" {
		return
	}
	token, err := GenerateToken("dev-device", []byte(app.config.SecretKey), app.config.TokenValidity)
	if err != nil {
		app.logger.Error(ctx, "token generation failed", "error", err)
		return
	}
	app.logger.Info(ctx, "Device token issued", "token", token, "valid_for", app.config.TokenValidity.String())
}

// Run serves until SIGINT/SIGTERM/SIGQUIT or a listener failure.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting fleetmock...")

	app.initSignalHandler(cancelFunc)
	app.printToken(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.config.GRPCAddr != "" {
		s := NewHealthServer(app.config.GRPCAddr, app.handler, app.logger)
		app.handler.OnAvailability(s.SetServing)

		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startGRPCServer(ctx, cancelFunc, s)
		}()
	}

	wg.Wait()
}
