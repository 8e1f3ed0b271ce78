package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillnotes/quill/cmd/quill/commands"
	"github.com/quillnotes/quill/logger"
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "quill - Offline-first note taking with background sync",
	Long: `quill - Offline-first notes with a durable sync queue.

Every mutation is applied locally first and queued for upload. The sync
engine drains the queue whenever the server is reachable, preserving
per-note ordering and surfacing conflicts instead of silently dropping
edits.

Available commands:
  notes  - Create, edit, list, and delete notes
  sync   - Run and inspect the sync queue
  config - Manage quill configuration
  db     - Manage the local database

Examples:
  quill notes add "Groceries" --content "milk, eggs"
  quill notes ls --status pending
  quill sync run           # Drain the queue now
  quill sync status        # Show queue statistics
  quill sync conflicts     # List operations waiting on manual merge`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs")

	rootCmd.AddCommand(commands.NotesCmd)
	rootCmd.AddCommand(commands.SyncCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
