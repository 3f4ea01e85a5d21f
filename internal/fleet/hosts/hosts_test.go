package hosts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haxhost/fleet/pkg/errors"
	"github.com/haxhost/fleet/pkg/logger"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

const validConfig = `
hosts:
  - name: azzura
    address: 18.228.4.1
    user: ubuntu
    key_path: /keys/azzura.pem
    base_path: /home/ubuntu/haxball-servers
    port: 22
  - name: sv1
    address: 18.228.4.2
    key_path: /keys/sv1.pem
    base_path: /home/ubuntu/haxball-servers
process_name_template: haxball-server
max_workloads_per_host: 15
provision:
  settle_delay: 2s
`

// TestLoadValid verifies a well-formed document loads with defaults applied
func TestLoadValid(t *testing.T) {
	reg, err := Load(writeConfig(t, validConfig), logger.New())
	require.NoError(t, err)

	hosts := reg.Hosts()
	require.Len(t, hosts, 2)
	assert.Equal(t, "azzura", hosts[0].Name)

	// defaults
	assert.Equal(t, 22, hosts[1].Port)
	assert.Equal(t, "ubuntu", hosts[1].User)
	assert.Equal(t, 2*time.Second, reg.Provision().SettleDelay)
	assert.Equal(t, 10*time.Second, reg.Provision().ConnectTimeout)
	assert.Equal(t, "TOKEN_ENCRYPT_KEY", reg.EncryptionKeyEnv())
	assert.Equal(t, 15, reg.MaxWorkloadsPerHost())
}

// TestLoadMissingFile verifies a missing config file maps to ErrConfigMissing
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), logger.New())
	assert.ErrorIs(t, err, errors.ErrConfigMissing)
}

// TestLoadInvalid covers malformed and semantically empty documents
func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unparsable", "hosts: ["},
		{"zero hosts", "hosts: []\nmax_workloads_per_host: 5"},
		{"zero capacity", `
hosts:
  - {name: a, address: 1.1.1.1, key_path: /k, base_path: /b}
max_workloads_per_host: 0
`},
		{"duplicate names", `
hosts:
  - {name: a, address: 1.1.1.1, key_path: /k, base_path: /b}
  - {name: a, address: 1.1.1.2, key_path: /k, base_path: /b}
max_workloads_per_host: 5
`},
		{"missing address", `
hosts:
  - {name: a, key_path: /k, base_path: /b}
max_workloads_per_host: 5
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), logger.New())
			assert.ErrorIs(t, err, errors.ErrConfigInvalid)
		})
	}
}

// TestGet verifies lookups by name and the not-found sentinel
func TestGet(t *testing.T) {
	reg, err := Load(writeConfig(t, validConfig), logger.New())
	require.NoError(t, err)

	h, err := reg.Get("sv1")
	require.NoError(t, err)
	assert.Equal(t, "18.228.4.2", h.Address)

	_, err = reg.Get("gone")
	assert.ErrorIs(t, err, errors.ErrHostNotFound)
}

// TestResolveCredential verifies key reading and the unavailable sentinel
func TestResolveCredential(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "host.pem")
	require.NoError(t, os.WriteFile(keyPath, []byte("PRIVATE KEY MATERIAL"), 0o600))

	reg, err := Load(writeConfig(t, `
hosts:
  - name: a
    address: 1.1.1.1
    key_path: `+keyPath+`
    base_path: /srv
  - name: b
    address: 1.1.1.2
    key_path: `+filepath.Join(dir, "missing.pem")+`
    base_path: /srv
max_workloads_per_host: 5
`), logger.New())
	require.NoError(t, err)

	hostA, _ := reg.Get("a")
	key, err := reg.ResolveCredential(hostA)
	require.NoError(t, err)
	assert.Equal(t, []byte("PRIVATE KEY MATERIAL"), key)

	hostB, _ := reg.Get("b")
	_, err = reg.ResolveCredential(hostB)
	assert.ErrorIs(t, err, errors.ErrCredentialUnavailable)

	// preflight reports exactly the one broken host
	errs := reg.ValidateHosts()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], errors.ErrCredentialUnavailable)
}

// TestExpandKeyPath verifies ~ expansion against the home directory
func TestExpandKeyPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".ssh/fleet.pem"), ExpandKeyPath("~/.ssh/fleet.pem"))
	assert.Equal(t, "/abs/key.pem", ExpandKeyPath("/abs/key.pem"))
	assert.Equal(t, home, ExpandKeyPath("~"))
}

// TestWorkingDir verifies the per-workload remote directory layout
func TestWorkingDir(t *testing.T) {
	reg, err := Load(writeConfig(t, validConfig), logger.New())
	require.NoError(t, err)

	h, _ := reg.Get("azzura")
	assert.Equal(t, "/home/ubuntu/haxball-servers/w1", reg.WorkingDir(h, "w1"))
}
