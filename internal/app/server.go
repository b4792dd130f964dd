// server.go - HTTP server lifecycle

package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stakbuild/docmatch/internal/api"
)

const shutdownTimeout = 30 * time.Second

// Serve runs the HTTP API on cfg.Port until ctx is cancelled, then drains
// in-flight requests.
func (a *App) Serve(ctx context.Context) error {
	if a.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(a.Handler(), a.Config.AllowedOrigins)

	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second, // uploads
		WriteTimeout:      3 * time.Minute,  // extraction plus prediction
		MaxHeaderBytes:    1 << 20,
	}

	errc := make(chan error, 1)
	go func() {
		a.Logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.Logger.Info("server exited")
	return nil
}
