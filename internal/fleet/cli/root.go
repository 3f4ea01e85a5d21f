// Package cli implements the fleet command line client.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haxhost/fleet/internal/fleet/hosts"
	"github.com/haxhost/fleet/internal/fleet/provision"
	"github.com/haxhost/fleet/internal/fleet/scheduler"
	"github.com/haxhost/fleet/internal/fleet/sshexec"
	"github.com/haxhost/fleet/internal/fleet/store"
	"github.com/haxhost/fleet/pkg/logger"
)

var (
	registry *hosts.Registry

	configPath string
	storePath  string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Fleet - multi-host game server orchestration",
	Long:  "Fleet provisions, controls and schedules haxball game server workloads across a pool of SSH-reachable hosts",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Name() == "version" {
			return
		}

		reg, err := hosts.Load(configPath, logger.New())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			fmt.Fprintf(os.Stderr, "Provide a fleet configuration file via --config.\n")
			os.Exit(1)
		}
		registry = reg
		logger.SetGlobalLevel(logger.ParseLevel(reg.LogLevel()))
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "fleet.yaml",
		"Path to the fleet configuration file")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "workloads.json",
		"Path to the workload registry file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	rootCmd.AddCommand(newCreateCmd())
	rootCmd.AddCommand(newProvisionCmd())
	rootCmd.AddCommand(newControlCmd())
	rootCmd.AddCommand(newRestartCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newHostsCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// app bundles the wired subsystems a command needs. Built per invocation so
// every command sees the registry loaded by PersistentPreRun.
type app struct {
	registry *hosts.Registry
	store    store.Store
	sched    *scheduler.Scheduler
	prov     *provision.Provisioner
	log      *logger.Logger
}

func newApp() (*app, error) {
	if registry == nil {
		return nil, fmt.Errorf("no configuration loaded - this should not happen")
	}
	log := logger.New()

	st := store.NewFileStore(storePath)

	pc := registry.Provision()
	dialer := sshexec.NewDialer(pc.ConnectTimeout, pc.CommandTimeout, log)

	return &app{
		registry: registry,
		store:    st,
		sched:    scheduler.New(registry, st, log),
		prov:     provision.New(registry, st, dialer.Dial, provision.ConfigFromRegistry(registry), log),
		log:      log,
	}, nil
}
