package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// newHostsCmd creates the command reporting per-host capacity usage, with an
// optional credential preflight via --validate.
func newHostsCmd() *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Show fleet hosts and their capacity usage",
		Long: `Show every configured host with its assigned workload count and
capacity usage.

Examples:
  fleet hosts

  # Also check that every host's SSH credential is readable
  fleet hosts --validate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			usage, err := a.sched.Snapshot(ctx)
			if err != nil {
				return fmt.Errorf("snapshot fleet usage: %w", err)
			}

			if jsonOutput {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(usage); err != nil {
					return err
				}
			} else {
				fmt.Printf("%-20s %-24s %-10s %s\n", "HOST", "ADDRESS", "ASSIGNED", "USAGE")
				for _, u := range usage {
					fmt.Printf("%-20s %-24s %-10s %.0f%%\n",
						u.Name, u.Address,
						fmt.Sprintf("%d/%d", u.Assigned, u.Capacity),
						u.UsagePercent())
				}
			}

			if !validate {
				return nil
			}
			errs := a.registry.ValidateHosts()
			if len(errs) == 0 {
				fmt.Println("\nAll host credentials OK")
				return nil
			}
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "credential check failed: %v\n", e)
			}
			return fmt.Errorf("%d host(s) failed credential validation", len(errs))
		},
	}

	cmd.Flags().BoolVar(&validate, "validate", false, "Verify each host's SSH credential is readable")

	return cmd
}
