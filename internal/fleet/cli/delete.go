package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haxhost/fleet/pkg/errors"
)

// newDeleteCmd creates the command that tears a workload down: supervisor
// process removed from the host, record removed from the registry.
func newDeleteCmd() *cobra.Command {
	var keepRemote bool

	cmd := &cobra.Command{
		Use:   "delete <workload-id>",
		Short: "Remove a workload and its supervisor process",
		Long: `Delete a workload. The supervisor process is removed from the assigned
host first; pass --keep-remote to drop only the registry record.

Examples:
  fleet delete 4f6b1c2d-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			if !keepRemote {
				_, err := a.prov.Control(ctx, args[0], "stop", false)
				switch {
				case err == nil:
				case errors.Is(err, errors.ErrProcessNotRunning),
					errors.Is(err, errors.ErrProcessNotFound),
					errors.Is(err, errors.ErrNoProcessConfigured),
					errors.Is(err, errors.ErrNoHostAssigned):
					// nothing running remotely; registry cleanup proceeds
				default:
					return fmt.Errorf("stop remote process: %w", err)
				}
			}

			if err := a.store.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Workload %s deleted\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepRemote, "keep-remote", false, "Leave the remote process untouched")

	return cmd
}
