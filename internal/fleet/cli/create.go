package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haxhost/fleet/internal/fleet/secrets"
	"github.com/haxhost/fleet/internal/fleet/store"
)

// newCreateCmd creates the command that registers a new workload, schedules
// it onto the least-loaded host and optionally provisions it immediately.
func newCreateCmd() *cobra.Command {
	var (
		roomMap    string
		maxPlayers int
		password   string
		public     bool
		token      string
		deploy     bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workload and schedule it onto a host",
		Long: `Create a new game server workload, pick the least-loaded host for it
and optionally provision it right away.

Examples:
  # Register a room and deploy it immediately
  fleet create "My Room" --token thr1.xxx --deploy

  # Register only; provision later with 'fleet provision'
  fleet create "My Room" --map Big --max-players 16`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			w := store.NewWorkload(args[0])
			w.Map = roomMap
			w.MaxPlayers = maxPlayers
			w.Password = password
			w.IsPublic = public

			host, err := a.sched.SelectHost(ctx)
			if err != nil {
				return fmt.Errorf("schedule workload: %w", err)
			}
			w.HostName = host.Name

			if err := a.store.Create(ctx, w); err != nil {
				return fmt.Errorf("register workload: %w", err)
			}
			fmt.Printf("Workload %s created on host %s\n", w.ID, host.Name)

			if !deploy {
				return nil
			}
			if token == "" {
				token = secrets.GenerateRoomToken()
				fmt.Printf("Generated room token: %s\n", token)
			}
			res, err := a.prov.Provision(ctx, w.ID, token)
			if err != nil {
				return fmt.Errorf("provision workload: %w", err)
			}
			fmt.Printf("Process %s online on %s\n", res.ProcessName, res.Host)
			return nil
		},
	}

	cmd.Flags().StringVar(&roomMap, "map", "Big", "Stadium map for the room")
	cmd.Flags().IntVar(&maxPlayers, "max-players", 16, "Maximum player count")
	cmd.Flags().StringVar(&password, "password", "", "Room password (empty for open)")
	cmd.Flags().BoolVar(&public, "public", true, "List the room publicly")
	cmd.Flags().StringVar(&token, "token", "", "Headless host token (generated when omitted with --deploy)")
	cmd.Flags().BoolVar(&deploy, "deploy", false, "Provision the workload immediately after creating it")

	return cmd
}
