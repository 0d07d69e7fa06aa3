package cmd

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

	"github.com/cmstate/cmstate/internal/api"
	"github.com/cmstate/cmstate/internal/engine"
	"github.com/cmstate/cmstate/internal/ws"
)

var (
	servePort    int
	serveDevMode bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local HTTP API server",
	Long: `Serve the engine over a local HTTP API with a WebSocket stream of
reconciliation progress. Ensure runs started through the API are
serialized the same way CLI runs are.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		eng, err := engine.New(cfg, logger)
		if err != nil {
			return err
		}

		addr := cfg.API.Listen
		if servePort != 0 {
			addr = fmt.Sprintf("127.0.0.1:%d", servePort)
		}

		hub := ws.NewHub(logger)
		go hub.Run()

		srv := api.New(eng, logger, addr,
			api.WithHub(hub),
			api.WithDevMode(serveDevMode),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		fmt.Fprintf(os.Stderr, "cmstate API: http://%s\n", addr)

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			logger.Info("shutting down api server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("stopping api server: %w", err)
			}
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen on 127.0.0.1:<port> (default: api.listen from config)")
	serveCmd.Flags().BoolVar(&serveDevMode, "dev", false, "allow cross-origin requests from a dev frontend")
	rootCmd.AddCommand(serveCmd)
}
