package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhenxun-org/zhenxun-core/cmd/zhenxun/commands"
	"github.com/zhenxun-org/zhenxun-core/logger"
)

var rootCmd = &cobra.Command{
	Use:   "zhenxun",
	Short: "Zhenxun core runtime - authorization, scheduling, and group targeting",
	Long: `Zhenxun core runtime.

The runtime hosts the chat-bot platform core: the authorization pipeline,
the durable targetable scheduler, the tag resolver, and the group settings
service.

Available commands:
  run      - Start the runtime (scheduler + authorization services)
  schedule - Inspect and manage persistent schedules

Examples:
  zhenxun run                          # Start the runtime in foreground
  zhenxun schedule view -p greet       # List schedules for a plugin
  zhenxun schedule trigger 12          # Run schedule 12 immediately`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-log")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-log", false, "Emit JSON log output instead of console format")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
