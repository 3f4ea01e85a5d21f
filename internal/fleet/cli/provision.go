package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newProvisionCmd creates the command that runs (or re-runs) the full
// provisioning workflow for an existing workload.
func newProvisionCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "provision <workload-id>",
		Short: "Provision a workload onto its assigned host",
		Long: `Run the full provisioning workflow for a workload: upload artifacts,
install dependencies, start the process under the supervisor and verify it
came online. Safe to re-run after a failed attempt.

Examples:
  fleet provision 4f6b1c2d-... --token thr1.xxx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			res, err := a.prov.Provision(ctx, args[0], token)
			if err != nil {
				return err
			}

			fmt.Println(res.Message)
			fmt.Printf("  host:    %s\n", res.Host)
			fmt.Printf("  process: %s\n", res.ProcessName)
			if res.RoomLink != "" {
				fmt.Printf("  room:    %s\n", res.RoomLink)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Headless host token to store (encrypted) with the workload")

	return cmd
}
