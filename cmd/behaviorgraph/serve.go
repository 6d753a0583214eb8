package behaviorgraph

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/go-behaviorgraph/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the behaviorgraph HTTP server",
	Long: `Start an HTTP facade over the train/infer/embed operations for callers
that prefer a long-lived process to one-shot CLI invocations.

Endpoints: POST /api/v1/train, /api/v1/infer, /api/v1/embed; GET /health,
/ready. Request bodies match the CLI JSON blobs.`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Server host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Server port (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	detector, cfg, err := newDetector(cmd, "")
	if err != nil {
		return fail(err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fail(fmt.Errorf("invalid port: %d", cfg.Server.Port))
	}

	srv := server.New(cfg, detector)
	srv.Setup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fail(fmt.Errorf("server error: %w", err))
	case <-sigChan:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fail(fmt.Errorf("server shutdown error: %w", err))
		}
		return nil
	}
}
