package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"localchat/internal/config"
	"localchat/internal/httpapi"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(o *options) *cobra.Command {
	var (
		addr string
		cors []string
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API",
		Example: "  localchat serve --addr :8080 --models-dir ~/models/llm",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := o.cfg
			if addr != "" {
				cfg.Addr = addr
			}
			if len(cors) > 0 {
				cfg.CORSOrigins = cors
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := o.newApp(ctx, cfg, o.log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					o.log.Warn().Err(err).Msg("serve event=close_error")
				}
			}()
			return serve(ctx, a, cfg, o.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8080 (defaults LOCALCHAT_ADDR or :8080)")
	cmd.Flags().StringSliceVar(&cors, "cors-origin", nil, "Allowed CORS origin; repeat to allow several")
	return cmd
}

// serve runs the HTTP server for svc until ctx is canceled, then shuts it
// down, ending open event streams first.
func serve(ctx context.Context, svc httpapi.Service, cfg config.Config, log zerolog.Logger) error {
	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetDefaultLogLevel(httpLogLevel(cfg.LogLevel))
	httpapi.SetEventBuffer(cfg.EventBuffer)
	if len(cfg.CORSOrigins) > 0 {
		httpapi.SetCORSOptions(true, cfg.CORSOrigins,
			[]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			[]string{"Content-Type", "X-Log-Level"})
	}
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(base)

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(svc), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Msg("serve event=listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	cancelBase()
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Warn().Err(err).Msg("serve event=shutdown_error")
		return err
	}
	log.Info().Msg("serve event=stopped")
	return nil
}
