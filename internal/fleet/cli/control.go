package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/haxhost/fleet/internal/fleet/provision"
)

// newControlCmd creates the command that drives start/stop/restart against a
// provisioned workload's supervisor process.
func newControlCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "control <workload-id> <start|stop|restart>",
		Short: "Start, stop or restart a workload's process",
		Long: `Run a supervisor action against a provisioned workload.

With --dry-run the remote command is printed instead of executed, exactly as
a real run would issue it.

Examples:
  fleet control 4f6b1c2d-... restart
  fleet control 4f6b1c2d-... stop --dry-run`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			res, err := a.prov.Control(ctx, args[0], strings.ToLower(args[1]), dryRun)
			if err != nil {
				return err
			}

			if res.DryRun {
				fmt.Printf("[dry-run] %s\n", res.Command)
				return nil
			}
			fmt.Printf("%s completed on %s\n", res.Action, res.Host)
			if out := strings.TrimSpace(res.Output); out != "" {
				fmt.Println(out)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the remote command without executing it")

	return cmd
}

// newRestartCmd creates the command that applies settings changes to a
// running workload and restarts it with a refreshed environment.
func newRestartCmd() *cobra.Command {
	var (
		name       string
		roomMap    string
		maxPlayers int
		password   string
		public     bool
	)

	cmd := &cobra.Command{
		Use:   "restart <workload-id>",
		Short: "Apply settings changes and restart a workload",
		Long: `Persist room settings changes, re-render the process manifest on the
assigned host and restart the process so it picks up the new environment.
Only flags explicitly set are applied; omitted settings keep their stored
values. A workload flagged for re-provisioning goes through the full
provisioning workflow instead.

Examples:
  fleet restart 4f6b1c2d-... --map Huge --max-players 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			var updates provision.Updates
			if cmd.Flags().Changed("name") {
				updates.Name = &name
			}
			if cmd.Flags().Changed("map") {
				updates.Map = &roomMap
			}
			if cmd.Flags().Changed("max-players") {
				updates.MaxPlayers = &maxPlayers
			}
			if cmd.Flags().Changed("password") {
				updates.Password = &password
			}
			if cmd.Flags().Changed("public") {
				updates.IsPublic = &public
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			res, err := a.prov.RestartWithConfig(ctx, args[0], updates)
			if err != nil {
				return err
			}
			fmt.Println(res.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Room name")
	cmd.Flags().StringVar(&roomMap, "map", "", "Stadium map")
	cmd.Flags().IntVar(&maxPlayers, "max-players", 0, "Maximum player count")
	cmd.Flags().StringVar(&password, "password", "", "Room password (empty string removes it)")
	cmd.Flags().BoolVar(&public, "public", true, "List the room publicly")

	return cmd
}
