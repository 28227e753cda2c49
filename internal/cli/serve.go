package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/rental-ledger-go/internal/bootstrap"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/httpapi"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				opts.cfg.HTTP.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withRuntime(cmd, opts, func(ctx context.Context, rt *bootstrap.Runtime) error {
				router, err := newRouter(rt)
				if err != nil {
					return commandError("create router", err)
				}

				return serve(ctx, rt, router)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides http.addr")

	return cmd
}

// newRouter builds the gin engine with recovery, request logging, optional CORS, /healthz and the API.
func newRouter(rt *bootstrap.Runtime) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(rt))
	_ = r.SetTrustedProxies(nil)

	if origins := rt.Config.HTTP.CORSOrigins; len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowHeaders:  []string{"Origin", "Content-Type"},
			ExposeHeaders: []string{"Content-Length", "Location"},
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		if err := rt.Ping(c.Request.Context()); err != nil {
			c.String(http.StatusServiceUnavailable, "unavailable")
			return
		}

		c.String(http.StatusOK, "ok")
	})

	if err := httpapi.RegisterRoutes(r, rt.Engine); err != nil {
		return nil, err
	}

	return r, nil
}

func requestLogger(rt *bootstrap.Runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		rt.Logger.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
		)
	}
}

// serve runs the server until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, rt *bootstrap.Runtime, handler http.Handler) error {
	server := &http.Server{
		Addr:              rt.Config.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.Logger.Info("http server listening", "addr", server.Addr, "store", rt.Config.Store)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return commandError("http server", err)

	case <-ctx.Done():
		rt.Logger.Info("shutting down http server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return commandError("http server shutdown", err)
		}

		return nil
	}
}
