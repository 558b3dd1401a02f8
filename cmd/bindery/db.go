package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/pgdocker"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage a local PostgreSQL container for the job store",
	Long: `Manage a local PostgreSQL container for the job store.

The default store is SQLite in ~/.bindery/bindery.db. To use PostgreSQL
instead, start the container and point the config at it:

  store:
    driver: postgres
    url: <printed by 'bindery db start'>

Data is persisted to ~/.bindery/postgres/.

Examples:
  bindery db start   # Start the PostgreSQL container
  bindery db stop    # Stop the container (data preserved)
  bindery db status  # Check container status
  bindery db logs    # View container logs`,
}

var dbStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the PostgreSQL container",
	Long: `Start the PostgreSQL container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		if err := mgr.ValidateExisting(ctx); err != nil {
			return err
		}

		fmt.Println("Starting PostgreSQL...")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start PostgreSQL: %w", err)
		}

		fmt.Printf("PostgreSQL is running at %s\n", mgr.URL())
		return nil
	},
}

var dbStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the PostgreSQL container",
	Long: `Stop the PostgreSQL container.

This stops the container but preserves data. Use 'bindery db start'
to restart it later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping PostgreSQL...")
		if err := mgr.Stop(cmd.Context()); err != nil {
			return fmt.Errorf("failed to stop PostgreSQL: %w", err)
		}

		fmt.Println("PostgreSQL stopped")
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show PostgreSQL container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case pgdocker.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("URL: %s\n", mgr.URL())
			if err := mgr.WaitReady(ctx, 2*time.Second); err != nil {
				fmt.Printf("Health: unhealthy (%v)\n", err)
			} else {
				fmt.Println("Health: healthy")
			}
		case pgdocker.StatusStopped:
			fmt.Printf("Status: %s (use 'bindery db start' to start)\n", status)
		case pgdocker.StatusNotFound:
			fmt.Printf("Status: %s (use 'bindery db start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}

		return nil
	},
}

var logsTail string

var dbLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show PostgreSQL container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(cmd.Context(), logsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

var dbRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the PostgreSQL container",
	Long: `Remove the PostgreSQL container.

This stops and removes the container. Data in ~/.bindery/postgres/
is NOT deleted - only the container is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing PostgreSQL container...")
		if err := mgr.Remove(cmd.Context()); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}

		fmt.Println("PostgreSQL container removed (data preserved)")
		return nil
	},
}

var dbWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for PostgreSQL to accept connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		fmt.Printf("Waiting for PostgreSQL (timeout: %s)...\n", timeout)

		if err := mgr.WaitReady(cmd.Context(), timeout); err != nil {
			return fmt.Errorf("PostgreSQL not ready: %w", err)
		}

		fmt.Println("PostgreSQL is ready")
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbStartCmd)
	dbCmd.AddCommand(dbStopCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbLogsCmd)
	dbCmd.AddCommand(dbRemoveCmd)
	dbCmd.AddCommand(dbWaitCmd)

	dbLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")
	dbWaitCmd.Flags().Duration("timeout", 30*time.Second, "Timeout waiting for PostgreSQL")

	rootCmd.AddCommand(dbCmd)
}

// getDockerManager builds a container manager from the postgres section of
// the config.
func getDockerManager() (*pgdocker.Manager, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	cfgMgr, err := loadConfig(h, logger)
	if err != nil {
		return nil, err
	}
	pg := cfgMgr.Get().Postgres

	dataPath := filepath.Join(h.Path(), "postgres")
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, err
	}

	return pgdocker.NewManager(pgdocker.Config{
		ContainerName: pg.ContainerName,
		HomePath:      h.Path(),
		Image:         pg.Image,
		DataPath:      dataPath,
		HostPort:      pg.Port,
		User:          pg.User,
		Password:      pg.Password,
		Database:      pg.Database,
	})
}
