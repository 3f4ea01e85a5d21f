package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/haxhost/fleet/internal/fleet/domain"
	"github.com/haxhost/fleet/internal/fleet/store"
)

// newListCmd creates the command for listing workloads.
// Supports filtering by host and status, and JSON output via --json.
func newListCmd() *cobra.Command {
	var (
		hostName string
		statuses []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workloads",
		Long: `List workloads in the fleet.

Examples:
  # All workloads
  fleet list

  # Active workloads on one host
  fleet list --host h1 --status active

  # JSON output
  fleet list --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			filter := &store.Filter{HostName: hostName}
			for _, s := range statuses {
				filter.Statuses = append(filter.Statuses, domain.Status(s))
			}

			workloads, err := a.store.List(ctx, filter)
			if err != nil {
				return fmt.Errorf("list workloads: %w", err)
			}

			if len(workloads) == 0 {
				if jsonOutput {
					fmt.Println("[]")
				} else {
					fmt.Println("No workloads found")
				}
				return nil
			}

			if jsonOutput {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(workloads)
			}

			formatWorkloadList(workloads)
			return nil
		},
	}

	cmd.Flags().StringVar(&hostName, "host", "", "Only workloads assigned to this host")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only workloads in these statuses (pending, active, error)")

	return cmd
}

func formatWorkloadList(workloads []*domain.Workload) {
	maxIDWidth := len("ID")
	maxNameWidth := len("NAME")
	maxHostWidth := len("HOST")
	maxStatusWidth := len("STATUS")

	// find the maximum width needed for each column
	for _, w := range workloads {
		if len(w.ID) > maxIDWidth {
			maxIDWidth = len(w.ID)
		}
		if len(w.Name) > maxNameWidth {
			maxNameWidth = len(w.Name)
		}
		host := w.HostName
		if host == "" {
			host = "-"
		}
		if len(host) > maxHostWidth {
			maxHostWidth = len(host)
		}
		if len(string(w.Status)) > maxStatusWidth {
			maxStatusWidth = len(string(w.Status))
		}
	}

	maxIDWidth = minInt(maxIDWidth+2, 38)
	maxNameWidth = minInt(maxNameWidth+2, 25)
	maxHostWidth += 2
	maxStatusWidth += 2

	fmt.Printf("%-*s %-*s %-*s %-*s %-19s %s\n",
		maxIDWidth, "ID",
		maxNameWidth, "NAME",
		maxHostWidth, "HOST",
		maxStatusWidth, "STATUS",
		"UPDATED",
		"PROCESS")

	fmt.Printf("%s %s %s %s %s %s\n",
		strings.Repeat("-", maxIDWidth),
		strings.Repeat("-", maxNameWidth),
		strings.Repeat("-", maxHostWidth),
		strings.Repeat("-", maxStatusWidth),
		strings.Repeat("-", 19),
		strings.Repeat("-", 7))

	for _, w := range workloads {
		name := w.Name
		if len(name) > maxNameWidth-2 {
			name = name[:maxNameWidth-5] + "..."
		}
		host := w.HostName
		if host == "" {
			host = "-"
		}
		process := w.PM2ProcessName
		if process == "" {
			process = "-"
		}

		fmt.Printf("%-*s %-*s %-*s %-*s %-19s %s\n",
			maxIDWidth, w.ID,
			maxNameWidth, name,
			maxHostWidth, host,
			maxStatusWidth, w.Status,
			w.UpdatedAt.Format("2006-01-02 15:04:05"),
			process)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
