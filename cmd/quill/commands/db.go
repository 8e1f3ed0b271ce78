package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillnotes/quill/config"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the quill database",
	Long: `db — Local database operations

Examples:
  quill db stats      # Show note and queue statistics
  quill db migrate    # Apply pending migrations`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

func init() {
	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbMigrateCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var totalNotes, tempNotes int
	err = a.db.QueryRow(`
		SELECT COUNT(*), COUNT(temp_id)
		FROM notes
	`).Scan(&totalNotes, &tempNotes)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query note stats: %w", err)
	}

	byStatus := map[string]int{}
	rows, err := a.db.Query(`SELECT sync_status, COUNT(*) FROM notes GROUP BY sync_status`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var status string
			var count int
			if err := rows.Scan(&status, &count); err == nil {
				byStatus[status] = count
			}
		}
	}

	stats, err := a.queue.GetStats()
	if err != nil {
		return err
	}

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:   %s\n", cfg.GetDatabasePath())
	fmt.Printf("Total Notes:     %d\n", totalNotes)
	fmt.Printf("Awaiting Sync:   %d (with temp identity: %d)\n",
		byStatus["pending"]+byStatus["syncing"], tempNotes)
	fmt.Printf("Failed:          %d\n", byStatus["failed"])
	fmt.Println()
	fmt.Printf("Sync Queue:      %s\n", stats)
	return nil
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Println("Migrations applied.")
	return nil
}
