package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// RunCmd starts the runtime in the foreground.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the runtime",
	Long: `Start the runtime in foreground mode.

The runtime will:
- Open and migrate the database
- Restore enabled schedules into the live engine
- Create declarative schedules that have no row yet
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := a.scheduler.Startup(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		fmt.Println("Zhenxun runtime started")
		fmt.Printf("  Database: %s\n", a.cfg.Database.Path)
		fmt.Printf("  Cache mode: %s\n", a.cfg.Cache.Mode)
		fmt.Printf("  Fan-out concurrency: %d\n", a.cfg.Scheduler.AllGroupsConcurrencyLimit)
		fmt.Println("\nPress Ctrl+C to shut down")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Println("\nShutting down...")
		a.scheduler.Shutdown()
		cancel()

		fmt.Println("Runtime stopped")
		return nil
	},
}
