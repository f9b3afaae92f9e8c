package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"allinone/internal/server"
	"allinone/internal/staged"
	"allinone/internal/usage"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tools over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		// Runs are counted locally unless a remote endpoint is configured.
		counter := usage.NewCounter()
		var tr staged.Tracker = counter
		if cfg.Usage.Enabled {
			remote, err := tracker()
			if err != nil {
				return err
			}
			tr = remote
		}

		s := server.New(server.Options{
			Registry: registry,
			Env:      toolEnv(),
			Admit:    cfg.AdmitConfig(true),
			Jobs:     int64(cfg.Processing.Jobs),
			Locale:   cfg.Usage.Locale,
			Tracker:  tr,
			Counter:  counter,
			Log:      logger,
		})

		srv := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      s.Handler(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", cfg.Server.Addr).Int("tools", len(registry.All())).Msg("HTTP server listening")
			serverErrors <- srv.ListenAndServe()
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
