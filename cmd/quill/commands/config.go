package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillnotes/quill/config"
	"github.com/quillnotes/quill/resolver"
)

// ConfigCmd represents the config command
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage quill configuration",
	Long: `config — Inspect and update quill configuration

Configuration merges /etc/quill/config.toml, ~/.quill/config.toml, a
project-local quill.toml, and QUILL_* environment variables, in that
precedence order. Writes go to the user config with rotating backups.

Examples:
  quill config show
  quill config set-policy use-remote
  quill config set-remote https://sync.example.com`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configSetPolicyCmd = &cobra.Command{
	Use:   "set-policy <use-local|use-remote|manual-merge>",
	Short: "Set the conflict resolution policy",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigSetPolicy,
}

var configSetRemoteCmd = &cobra.Command{
	Use:   "set-remote <base-url>",
	Short: "Set the sync server base URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigSetRemote,
}

func init() {
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configSetPolicyCmd)
	ConfigCmd.AddCommand(configSetRemoteCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Printf("Database:\n")
	fmt.Printf("  path:                 %s\n", cfg.GetDatabasePath())
	fmt.Printf("Remote:\n")
	fmt.Printf("  base_url:             %s\n", cfg.Remote.BaseURL)
	if cfg.Remote.AuthToken != "" {
		fmt.Printf("  auth_token:           (set)\n")
	} else {
		fmt.Printf("  auth_token:           (not set)\n")
	}
	fmt.Printf("Sync:\n")
	fmt.Printf("  conflict_policy:      %s\n", cfg.Sync.ConflictPolicy)
	fmt.Printf("  batch_size:           %d\n", cfg.Sync.BatchSize)
	fmt.Printf("  queue_cap:            %d\n", cfg.Sync.QueueCap)
	fmt.Printf("  retry_ceiling:        %d (retries after the first attempt)\n", cfg.Sync.RetryCeiling)
	fmt.Printf("  backoff:              %s base, %s cap\n", cfg.BackoffBase(), cfg.BackoffCap())
	fmt.Printf("  request_timeout:      %s\n", cfg.RequestTimeout())
	fmt.Printf("  requests_per_minute:  %d\n", cfg.Sync.RequestsPerMinute)
	fmt.Printf("Connectivity:\n")
	fmt.Printf("  probe_interval:       %s\n", cfg.ProbeInterval())
	return nil
}

func runConfigSetPolicy(cmd *cobra.Command, args []string) error {
	policy, err := resolver.ParsePolicy(args[0])
	if err != nil {
		return err
	}

	if err := config.UpdateConflictPolicy(string(policy)); err != nil {
		return err
	}
	fmt.Printf("Conflict policy set to %s.\n", policy)
	return nil
}

func runConfigSetRemote(cmd *cobra.Command, args []string) error {
	if err := config.UpdateRemoteBaseURL(args[0]); err != nil {
		return err
	}
	fmt.Printf("Sync server set to %s.\n", args[0])
	return nil
}
