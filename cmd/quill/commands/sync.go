package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quillnotes/quill/engine"
	"github.com/quillnotes/quill/logger"
	"github.com/quillnotes/quill/queue"
)

// SyncCmd represents the sync command
var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run and inspect the sync queue",
	Long: `sync — Drain and manage the offline sync queue

Examples:
  quill sync run                      # Upload everything pending
  quill sync watch                    # Keep draining whenever the server is up
  quill sync status                   # Queue statistics
  quill sync ls --status failed       # Inspect parked operations
  quill sync retry <operation-id>     # Give a parked operation a fresh start
  quill sync discard <operation-id>   # Abandon a parked operation
  quill sync conflicts                # Operations waiting on manual merge
  quill sync resolve <operation-id> --payload '{"title":"merged"}'`,
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Drain the sync queue now",
	RunE:  runSyncRun,
}

var syncWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Probe connectivity and drain the queue whenever the server is reachable",
	RunE:  runSyncWatch,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync queue statistics",
	RunE:  runSyncStatus,
}

var syncLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List queued operations",
	RunE:  runSyncLs,
}

var syncRetryCmd = &cobra.Command{
	Use:   "retry <operation-id>",
	Short: "Return a parked operation to the queue with a fresh retry budget",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncRetry,
}

var syncDiscardCmd = &cobra.Command{
	Use:   "discard <operation-id>",
	Short: "Abandon a parked operation without applying it",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncDiscard,
}

var syncConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List operations suspended for manual merge",
	RunE:  runSyncConflicts,
}

var syncResolveCmd = &cobra.Command{
	Use:   "resolve <operation-id>",
	Short: "Supply a merged payload for a suspended operation",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncResolve,
}

var (
	syncStatusFlagValue string
	syncLimitFlag       int
	syncPayloadFlag     string
)

func init() {
	SyncCmd.AddCommand(syncRunCmd)
	SyncCmd.AddCommand(syncWatchCmd)
	SyncCmd.AddCommand(syncStatusCmd)
	SyncCmd.AddCommand(syncLsCmd)
	SyncCmd.AddCommand(syncRetryCmd)
	SyncCmd.AddCommand(syncDiscardCmd)
	SyncCmd.AddCommand(syncConflictsCmd)
	SyncCmd.AddCommand(syncResolveCmd)

	syncLsCmd.Flags().StringVar(&syncStatusFlagValue, "status", "pending", "Operation status to list (pending, syncing, failed, suspended)")
	syncLsCmd.Flags().IntVar(&syncLimitFlag, "limit", 50, "Maximum operations to list")
	syncResolveCmd.Flags().StringVar(&syncPayloadFlag, "payload", "", "Merged JSON payload to upload (required)")
	syncResolveCmd.MarkFlagRequired("payload")
}

func runSyncRun(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := a.engine.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			fmt.Printf("\r[%d/%d] %.0f%% %s", p.Current, p.Total, p.Percentage, p.CurrentOperation)
		}
	}()

	result, err := a.engine.Sync(ctx)

	// Detach before closing so the engine cannot send on a closed channel
	a.engine.Unsubscribe(progress)
	close(progress)
	<-done
	fmt.Println()
	if err != nil {
		return err
	}

	fmt.Printf("Synced:    %d\n", result.Synced)
	if result.Retrying > 0 {
		fmt.Printf("Retrying:  %d (will back off and retry)\n", result.Retrying)
	}
	if result.Failed > 0 {
		fmt.Printf("Failed:    %d (see 'quill sync ls --status failed')\n", result.Failed)
	}
	if result.Suspended > 0 {
		fmt.Printf("Conflicts: %d (see 'quill sync conflicts')\n", result.Suspended)
	}
	if result.Cancelled {
		fmt.Println("Session cancelled; remaining operations stay queued.")
	}
	return nil
}

func runSyncWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config edits take effect without restarting the watch: backoff,
	// retry ceiling, and conflict policy apply from the next session
	if w := a.watchConfig(); w != nil {
		defer w.Stop()
	}

	monitor := engine.NewMonitor(a.remote, a.cfg.ProbeInterval(), logger.Logger)
	monitor.OnOnline(func() {
		if a.engine.StartSync() {
			fmt.Println("Server reachable; sync started.")
		}
	})
	monitor.Start()

	fmt.Printf("Watching connectivity every %s. Ctrl-C to stop.\n", a.cfg.ProbeInterval())
	<-ctx.Done()

	monitor.Stop()
	a.engine.StopSync()
	fmt.Println("\nStopped.")
	return nil
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.queue.GetStats()
	if err != nil {
		return err
	}

	fmt.Printf("Sync queue\n")
	fmt.Printf("  Pending:   %d\n", stats.Pending)
	fmt.Printf("  Syncing:   %d\n", stats.Syncing)
	fmt.Printf("  Failed:    %d\n", stats.Failed)
	fmt.Printf("  Suspended: %d\n", stats.Suspended)
	fmt.Printf("  Total:     %d\n", stats.Total)
	return nil
}

func runSyncLs(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !queue.IsValidStatus(syncStatusFlagValue) {
		return fmt.Errorf("invalid status %q", syncStatusFlagValue)
	}

	ops, err := a.queue.List(queue.Status(syncStatusFlagValue), syncLimitFlag)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Printf("No %s operations.\n", syncStatusFlagValue)
		return nil
	}

	printOperations(ops)
	return nil
}

func runSyncRetry(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.queue.Retry(args[0]); err != nil {
		return err
	}
	fmt.Printf("Operation %s returned to the queue.\n", args[0])
	return nil
}

func runSyncDiscard(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.queue.Discard(args[0]); err != nil {
		return err
	}
	fmt.Printf("Operation %s discarded.\n", args[0])
	return nil
}

func runSyncConflicts(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ops, err := a.queue.List(queue.StatusSuspended, 100)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Println("No conflicts waiting on manual merge.")
		return nil
	}

	printOperations(ops)
	fmt.Println("\nResolve with: quill sync resolve <operation-id> --payload '<merged json>'")
	return nil
}

func runSyncResolve(cmd *cobra.Command, args []string) error {
	if !json.Valid([]byte(syncPayloadFlag)) {
		return fmt.Errorf("--payload is not valid JSON")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.queue.Resolve(args[0], json.RawMessage(syncPayloadFlag)); err != nil {
		return err
	}
	fmt.Printf("Operation %s resolved; merged version will upload on the next sync.\n", args[0])
	return nil
}

func printOperations(ops []*queue.Operation) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OPERATION\tTYPE\tNOTE\tSTATUS\tRETRIES\tERROR")
	for _, op := range ops {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			op.ID, op.Type, op.NoteID, op.Status, op.RetryCount, truncate(op.Error, 50))
	}
	w.Flush()
}
