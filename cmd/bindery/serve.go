package main

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/config"
	"github.com/jackzampolin/bindery/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Bindery server",
	Long: `Start the Bindery HTTP server and conversion workers.

On first run a default config is written to ~/.bindery/config.yaml.
Config changes are picked up without a restart: provider settings and the
analysis retry policy apply to the next job.

Jobs that were mid-conversion when the previous server stopped are marked
failed; jobs still waiting in the queue are picked up again.

The server provides:
  - /health               - Basic server health check
  - /ready                - Readiness check (includes job store)
  - /api/conversions      - Submit, list, cancel and download conversions
  - /swagger              - API documentation

Examples:
  bindery serve                    # Start on the configured port (8080)
  bindery serve --port 3000        # Start on custom port
  bindery serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger()
		if err != nil {
			return err
		}

		h, err := getHome()
		if err != nil {
			return err
		}

		// One server per home directory
		lock := flock.New(h.LockPath())
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another bindery server is using %s", h.Path())
		}
		defer lock.Unlock()

		if cfgFile == "" && !h.ConfigExists() {
			if err := config.WriteDefault(h.ConfigPath()); err != nil {
				return err
			}
			logger.Info("wrote default config", "path", h.ConfigPath())
		}

		cfgMgr, err := loadConfig(h, logger)
		if err != nil {
			return err
		}
		if cfgMgr.ConfigFile() != "" {
			cfgMgr.WatchConfig()
			logger.Info("watching config", "path", cfgMgr.ConfigFile())
		}

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			Home:          h,
			ConfigManager: cfgMgr,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		if err := srv.Start(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "server error:", err)
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config)")

	rootCmd.AddCommand(serveCmd)
}
