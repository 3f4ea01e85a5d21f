package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestNewCreateCmd(t *testing.T) {
	cmd := newCreateCmd()

	if cmd == nil {
		t.Fatal("newCreateCmd() returned nil")
	}
	if cmd.Use != "create <name>" {
		t.Errorf("Expected Use 'create <name>', got %s", cmd.Use)
	}
	if cmd.RunE == nil {
		t.Error("RunE function is nil")
	}

	tests := []struct {
		flag string
		def  string
	}{
		{"map", "Big"},
		{"max-players", "16"},
		{"public", "true"},
		{"deploy", "false"},
	}
	for _, tc := range tests {
		f := cmd.Flags().Lookup(tc.flag)
		if f == nil {
			t.Errorf("Expected --%s flag to be registered", tc.flag)
			continue
		}
		if f.DefValue != tc.def {
			t.Errorf("Expected --%s default %q, got %q", tc.flag, tc.def, f.DefValue)
		}
	}
}

func TestNewControlCmd(t *testing.T) {
	cmd := newControlCmd()

	if cmd.Use != "control <workload-id> <start|stop|restart>" {
		t.Errorf("Unexpected Use: %s", cmd.Use)
	}
	if cmd.Flags().Lookup("dry-run") == nil {
		t.Error("Expected --dry-run flag to be registered")
	}
	if err := cmd.Args(cmd, []string{"id"}); err == nil {
		t.Error("Expected an error for a missing action argument")
	}
	if err := cmd.Args(cmd, []string{"id", "restart"}); err != nil {
		t.Errorf("Unexpected Args error: %v", err)
	}
}

func TestNewRestartCmdSettingsFlags(t *testing.T) {
	cmd := newRestartCmd()

	for _, name := range []string{"name", "map", "max-players", "password", "public"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("Expected --%s flag to be registered", name)
		}
	}

	// Changed() drives which settings are applied, so parsing must mark only
	// the flags actually given.
	if err := cmd.Flags().Parse([]string{"--map", "Huge"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	changed := 0
	cmd.Flags().Visit(func(f *pflag.Flag) { changed++ })
	if changed != 1 {
		t.Errorf("Expected exactly one changed flag, got %d", changed)
	}
	if !cmd.Flags().Changed("map") {
		t.Error("Expected --map to be marked changed")
	}
	if cmd.Flags().Changed("public") {
		t.Error("Expected --public to stay unchanged")
	}
}

func TestRootRegistersSubcommands(t *testing.T) {
	want := []string{"create", "provision", "control", "restart", "list", "hosts", "delete", "version"}
	for _, name := range want {
		found := false
		for _, sub := range rootCmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected subcommand %q to be registered", name)
		}
	}
}
