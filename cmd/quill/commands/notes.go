package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillnotes/quill/note"
)

// NotesCmd represents the notes command
var NotesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Create, edit, list, and delete notes",
	Long: `notes — Work with local notes

All changes are applied locally first and queued for upload; run
"quill sync run" (or let the background engine catch up) to push them.

Examples:
  quill notes add "Groceries" --content "milk, eggs" --tags home,errands
  quill notes ls --status pending
  quill notes edit <id> --title "New title"
  quill notes rm <id>`,
}

var notesAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a note",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotesAdd,
}

var notesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List notes",
	RunE:  runNotesLs,
}

var notesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one note",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotesShow,
}

var notesEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a note",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotesEdit,
}

var notesRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a note",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotesRm,
}

var (
	notesUserFlag    string
	notesContentFlag string
	notesTagsFlag    string
	notesStatusFlag  string
	notesTitleFlag   string
)

func init() {
	NotesCmd.AddCommand(notesAddCmd)
	NotesCmd.AddCommand(notesLsCmd)
	NotesCmd.AddCommand(notesShowCmd)
	NotesCmd.AddCommand(notesEditCmd)
	NotesCmd.AddCommand(notesRmCmd)

	NotesCmd.PersistentFlags().StringVar(&notesUserFlag, "user", defaultUser(), "User the notes belong to")

	notesAddCmd.Flags().StringVar(&notesContentFlag, "content", "", "Note body")
	notesAddCmd.Flags().StringVar(&notesTagsFlag, "tags", "", "Comma-separated tags")

	notesLsCmd.Flags().StringVar(&notesStatusFlag, "status", "", "Filter by sync status (pending, syncing, synced, failed)")

	notesEditCmd.Flags().StringVar(&notesTitleFlag, "title", "", "New title")
	notesEditCmd.Flags().StringVar(&notesContentFlag, "content", "", "New body")
	notesEditCmd.Flags().StringVar(&notesTagsFlag, "tags", "", "New comma-separated tag set")
}

func defaultUser() string {
	if u := os.Getenv("QUILL_USER"); u != "" {
		return u
	}
	return "local"
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func runNotesAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.svc.Create(notesUserFlag, args[0], notesContentFlag, splitTags(notesTagsFlag))
	if err != nil {
		return err
	}

	fmt.Printf("Created %s (%s)\n", n.ID, n.Title)
	fmt.Println("Queued for sync; run 'quill sync run' to upload now.")
	return nil
}

func runNotesLs(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	filter := note.Filter{UserID: notesUserFlag}
	if notesStatusFlag != "" {
		if !note.IsValidStatus(notesStatusFlag) {
			return fmt.Errorf("invalid status %q", notesStatusFlag)
		}
		filter.SyncStatus = note.SyncStatus(notesStatusFlag)
	}

	notes, err := a.svc.List(filter)
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		fmt.Println("No notes.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tTAGS\tUPDATED")
	for _, n := range notes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			n.ID,
			truncate(n.Title, 40),
			n.SyncStatus,
			strings.Join(n.Tags, ","),
			formatMillis(n.UpdatedAt))
	}
	return w.Flush()
}

func runNotesShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.svc.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:      %s\n", n.ID)
	if n.TempID != "" {
		fmt.Printf("Temp ID: %s (not yet synced)\n", n.TempID)
	}
	fmt.Printf("Title:   %s\n", n.Title)
	fmt.Printf("Status:  %s\n", n.SyncStatus)
	if len(n.Tags) > 0 {
		fmt.Printf("Tags:    %s\n", strings.Join(n.Tags, ", "))
	}
	fmt.Printf("Created: %s\n", formatMillis(n.CreatedAt))
	fmt.Printf("Updated: %s\n", formatMillis(n.UpdatedAt))
	if n.Content != "" {
		fmt.Printf("\n%s\n", n.Content)
	}

	ops, err := a.queue.ListForNote(n.ID)
	if err == nil && len(ops) > 0 {
		fmt.Printf("\nQueued operations: %d\n", len(ops))
		for _, op := range ops {
			fmt.Printf("  %s %s (%s", op.ID, op.Type, op.Status)
			if op.RetryCount > 0 {
				fmt.Printf(", %d retries", op.RetryCount)
			}
			fmt.Println(")")
		}
	}
	return nil
}

func runNotesEdit(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var patch note.Patch
	if cmd.Flags().Changed("title") {
		patch.Title = &notesTitleFlag
	}
	if cmd.Flags().Changed("content") {
		patch.Content = &notesContentFlag
	}
	if cmd.Flags().Changed("tags") {
		tags := splitTags(notesTagsFlag)
		patch.Tags = &tags
	}

	n, err := a.svc.Update(args[0], patch)
	if err != nil {
		return err
	}

	fmt.Printf("Updated %s, change queued for sync.\n", n.ID)
	return nil
}

func runNotesRm(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.Delete(args[0]); err != nil {
		return err
	}

	fmt.Printf("Deleted %s.\n", args[0])
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}
