package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-mailer/internal/common/logging"
	"crm-mailer/internal/server"
)

// Run starts the HTTP server and blocks until a shutdown signal arrives or
// the server fails to start.
func (a *App) Run() error {
	a.states.StartCleanup(time.Minute, a.stopCleanup)

	srv := server.New(a.Router(), a.cfg.Port)
	errCh := srv.Start()
	a.logger.Info("Server started", logging.String("port", a.cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		a.logger.Info("Shutting down", logging.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return err
	}

	a.logger.Info("Server exited")
	return nil
}
