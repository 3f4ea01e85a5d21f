package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haxhost/fleet/internal/fleet/domain"
	"github.com/haxhost/fleet/internal/fleet/hosts"
	"github.com/haxhost/fleet/internal/fleet/secrets"
	"github.com/haxhost/fleet/internal/fleet/sshexec"
	"github.com/haxhost/fleet/internal/fleet/store"
	"github.com/haxhost/fleet/pkg/errors"
	"github.com/haxhost/fleet/pkg/logger"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

type runCall struct {
	command    string
	workingDir string
}

// fakeTransport stands in for a live SSH session. Supervisor list output is
// synthesized from reportStatus so verification paths can be steered.
type fakeTransport struct {
	runs    []runCall
	mkdirs  []string
	uploads map[string][]byte
	closed  bool

	processName  string
	reportStatus string
	failOn       map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		uploads:      make(map[string][]byte),
		reportStatus: "online",
		failOn:       make(map[string]error),
	}
}

func (f *fakeTransport) Run(ctx context.Context, command, workingDir string) (string, error) {
	f.runs = append(f.runs, runCall{command: command, workingDir: workingDir})
	for substr, err := range f.failOn {
		if strings.Contains(command, substr) {
			return "", err
		}
	}
	if command == "pm2 jlist" {
		return fmt.Sprintf(`[{"name":%q,"pm_id":0,"pm2_env":{"status":%q,"pm_uptime":1},"monit":{"cpu":1.5,"memory":1024}}]`,
			f.processName, f.reportStatus), nil
	}
	return "", nil
}

func (f *fakeTransport) Mkdir(path string) error {
	f.mkdirs = append(f.mkdirs, path)
	return nil
}

func (f *fakeTransport) UploadContent(content []byte, remotePath string) error {
	f.uploads[remotePath] = content
	return nil
}

func (f *fakeTransport) DownloadContent(remotePath string) ([]byte, error) {
	content, ok := f.uploads[remotePath]
	if !ok {
		return nil, os.ErrNotExist
	}
	return content, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func (f *fakeTransport) commands() []string {
	out := make([]string, len(f.runs))
	for i, r := range f.runs {
		out[i] = r.command
	}
	return out
}

type fakeDialer struct {
	transport *fakeTransport
	dials     int
	err       error
}

func (d *fakeDialer) dial(ctx context.Context, host hosts.Host, key []byte) (sshexec.Transport, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

func testRegistry(t *testing.T) *hosts.Registry {
	t.Helper()
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, []byte("not a real key"), 0o600))

	doc := fmt.Sprintf(`hosts:
  - {name: h1, address: 198.51.100.7, user: deploy, key_path: %s, base_path: /srv/haxhost}
max_workloads_per_host: 4
`, keyPath)
	confPath := filepath.Join(dir, "fleet.yaml")
	require.NoError(t, os.WriteFile(confPath, []byte(doc), 0o600))

	reg, err := hosts.Load(confPath, logger.New())
	require.NoError(t, err)
	return reg
}

func testProvisioner(t *testing.T) (*Provisioner, store.Store, *fakeDialer) {
	t.Helper()
	reg := testRegistry(t)
	st := store.NewMemoryStore()
	dialer := &fakeDialer{transport: newFakeTransport()}
	cfg := Config{
		SettleDelay:   0,
		APIURL:        "https://panel.example.com",
		WebhookSecret: "hook-secret",
		EncryptionKey: testEncryptionKey,
	}
	p := New(reg, st, dialer.dial, cfg, logger.New())
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p, st, dialer
}

func createAssigned(t *testing.T, st store.Store, host string) *domain.Workload {
	t.Helper()
	w := store.NewWorkload("Test Room")
	w.HostName = host
	require.NoError(t, st.Create(context.Background(), w))
	return w
}

// TestProvisionHappyPath walks a pending workload through the full run:
// artifacts uploaded, dependencies installed, supervisor started and saved,
// process verified online, record promoted to active
func TestProvisionHappyPath(t *testing.T) {
	p, st, dialer := testProvisioner(t)
	w := createAssigned(t, st, "h1")
	dialer.transport.processName = ProcessName("haxball-server", w.ID)

	res, err := p.Provision(context.Background(), w.ID, "thr1.sometokenvalue")
	require.NoError(t, err)

	assert.Equal(t, "h1", res.Host)
	assert.Regexp(t, `^haxball-server-[0-9a-f]{8}$`, res.ProcessName)

	workDir := "/srv/haxhost/" + w.ID
	assert.Contains(t, dialer.transport.mkdirs, workDir)
	for _, name := range []string{"ecosystem.config.js", "package.json", "index.js"} {
		assert.Contains(t, dialer.transport.uploads, workDir+"/"+name, "artifact %s uploaded", name)
	}

	cmds := dialer.transport.commands()
	assert.Contains(t, cmds, "chmod +x "+workDir+"/*.js")
	assert.Contains(t, cmds, "npm install --production")
	assert.Contains(t, cmds, fmt.Sprintf("pm2 start %s/ecosystem.config.js --only %s", workDir, res.ProcessName))
	assert.Contains(t, cmds, "pm2 save")
	assert.Contains(t, cmds, "pm2 jlist")
	assert.True(t, dialer.transport.closed, "session closed after the run")

	stored, err := st.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, stored.Status)
	assert.False(t, stored.NeedsProvision)
	assert.Equal(t, res.ProcessName, stored.PM2ProcessName)
	assert.False(t, stored.LastStatusUpdate.IsZero())

	token, err := secrets.Decrypt(stored.TokenEncrypted, testEncryptionKey)
	require.NoError(t, err)
	assert.Equal(t, "thr1.sometokenvalue", token)
}

// TestProvisionVerificationFailureRollsBack verifies a process that never
// comes online is deleted from the supervisor and the record flagged for
// re-provisioning
func TestProvisionVerificationFailureRollsBack(t *testing.T) {
	p, st, dialer := testProvisioner(t)
	w := createAssigned(t, st, "h1")
	dialer.transport.processName = ProcessName("haxball-server", w.ID)
	dialer.transport.reportStatus = "errored"

	_, err := p.Provision(context.Background(), w.ID, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStartupVerification)

	var pe *errors.ProvisionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "verify", pe.Stage)

	assert.Contains(t, dialer.transport.commands(), "pm2 delete "+dialer.transport.processName)

	stored, getErr := st.Get(context.Background(), w.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusError, stored.Status)
	assert.True(t, stored.NeedsProvision)
}

// TestProvisionInstallFailureRollsBack verifies a dependency install failure
// still triggers a best-effort supervisor delete
func TestProvisionInstallFailureRollsBack(t *testing.T) {
	p, st, dialer := testProvisioner(t)
	w := createAssigned(t, st, "h1")
	dialer.transport.failOn["npm install"] = errors.New("npm exploded")

	_, err := p.Provision(context.Background(), w.ID, "")
	require.Error(t, err)

	var pe *errors.ProvisionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "install-deps", pe.Stage)

	stored, getErr := st.Get(context.Background(), w.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusError, stored.Status)
}

// TestProvisionProcessNameStable verifies a retry reuses the name assigned on
// the first attempt
func TestProvisionProcessNameStable(t *testing.T) {
	p, st, dialer := testProvisioner(t)
	w := createAssigned(t, st, "h1")
	dialer.transport.reportStatus = "errored"

	_, err := p.Provision(context.Background(), w.ID, "")
	require.Error(t, err)

	first, err := st.Get(context.Background(), w.ID)
	require.NoError(t, err)
	require.NotEmpty(t, first.PM2ProcessName)

	dialer.transport.reportStatus = "online"
	dialer.transport.processName = first.PM2ProcessName
	res, err := p.Provision(context.Background(), w.ID, "")
	require.NoError(t, err)
	assert.Equal(t, first.PM2ProcessName, res.ProcessName)
}

func TestProvisionNoHostAssigned(t *testing.T) {
	p, st, _ := testProvisioner(t)
	w := store.NewWorkload("unassigned")
	require.NoError(t, st.Create(context.Background(), w))

	_, err := p.Provision(context.Background(), w.ID, "")
	assert.ErrorIs(t, err, errors.ErrNoHostAssigned)
}

func TestProvisionUnknownHost(t *testing.T) {
	p, st, _ := testProvisioner(t)
	w := createAssigned(t, st, "h1")
	w.HostName = "ghost"
	require.NoError(t, st.Update(context.Background(), w))

	_, err := p.Provision(context.Background(), w.ID, "")
	assert.ErrorIs(t, err, errors.ErrHostNotFound)
}

func TestProvisionUnknownWorkload(t *testing.T) {
	p, _, _ := testProvisioner(t)
	_, err := p.Provision(context.Background(), "no-such-id", "")
	assert.ErrorIs(t, err, errors.ErrWorkloadNotFound)
}

// TestControlDryRunMatchesRealCommand verifies the dry-run preview quotes the
// exact remote command the real path executes, and that no connection is
// opened while previewing
func TestControlDryRunMatchesRealCommand(t *testing.T) {
	p, st, dialer := testProvisioner(t)
	w := createAssigned(t, st, "h1")
	w.PM2ProcessName = "haxball-server-deadbeef"
	require.NoError(t, st.Update(context.Background(), w))

	preview, err := p.Control(context.Background(), w.ID, ActionRestart, true)
	require.NoError(t, err)
	assert.Equal(t, 0, dialer.dials, "dry-run must not connect")

	workDir := "/srv/haxhost/" + w.ID
	wantRemote := fmt.Sprintf("cd %s && pm2 restart haxball-server-deadbeef --update-env", workDir)
	assert.True(t, strings.HasPrefix(preview.Command, "ssh -i "), "preview: %s", preview.Command)
	assert.Contains(t, preview.Command, "deploy@198.51.100.7")
	assert.Contains(t, preview.Command, `"`+wantRemote+`"`)

	real, err := p.Control(context.Background(), w.ID, ActionRestart, false)
	require.NoError(t, err)
	require.Len(t, dialer.transport.runs, 1)
	executed := sshexec.FullCommand(dialer.transport.runs[0].command, dialer.transport.runs[0].workingDir)
	assert.Equal(t, wantRemote, executed)
	assert.Equal(t, wantRemote, real.Command)
}

func TestControlActions(t *testing.T) {
	tests := []struct {
		action string
		want   string
	}{
		{ActionStart, "pm2 start index.js --name haxball-server-deadbeef"},
		{ActionStop, "pm2 stop haxball-server-deadbeef"},
		{ActionRestart, "pm2 restart haxball-server-deadbeef --update-env"},
	}
	for _, tc := range tests {
		t.Run(tc.action, func(t *testing.T) {
			p, st, dialer := testProvisioner(t)
			w := createAssigned(t, st, "h1")
			w.PM2ProcessName = "haxball-server-deadbeef"
			require.NoError(t, st.Update(context.Background(), w))

			_, err := p.Control(context.Background(), w.ID, tc.action, false)
			require.NoError(t, err)
			require.Len(t, dialer.transport.runs, 1)
			assert.Equal(t, tc.want, dialer.transport.runs[0].command)
		})
	}
}

func TestControlInvalidAction(t *testing.T) {
	p, _, dialer := testProvisioner(t)
	_, err := p.Control(context.Background(), "irrelevant", "reboot", false)
	assert.ErrorIs(t, err, errors.ErrInvalidAction)
	assert.Equal(t, 0, dialer.dials)
}

func TestControlWithoutProcess(t *testing.T) {
	p, st, _ := testProvisioner(t)
	w := createAssigned(t, st, "h1")

	_, err := p.Control(context.Background(), w.ID, ActionStop, false)
	assert.ErrorIs(t, err, errors.ErrNoProcessConfigured)
}

// TestRestartWithConfigRestartsInPlace verifies the fast path: settings are
// persisted, only the ecosystem manifest is re-uploaded, and the process is
// restarted with its environment refreshed
func TestRestartWithConfigRestartsInPlace(t *testing.T) {
	p, st, dialer := testProvisioner(t)
	w := createAssigned(t, st, "h1")
	w.PM2ProcessName = "haxball-server-deadbeef"
	w.Status = domain.StatusActive
	w.NeedsProvision = false
	require.NoError(t, st.Update(context.Background(), w))
	dialer.transport.processName = w.PM2ProcessName

	newMap := "Huge"
	maxPlayers := 20
	res, err := p.RestartWithConfig(context.Background(), w.ID, Updates{
		Map:        &newMap,
		MaxPlayers: &maxPlayers,
	})
	require.NoError(t, err)
	assert.Equal(t, w.PM2ProcessName, res.ProcessName)

	stored, err := st.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, "Huge", stored.Map)
	assert.Equal(t, 20, stored.MaxPlayers)
	assert.Equal(t, domain.StatusActive, stored.Status)

	workDir := "/srv/haxhost/" + w.ID
	require.Len(t, dialer.transport.uploads, 1, "only the manifest is re-uploaded")
	manifest := string(dialer.transport.uploads[workDir+"/ecosystem.config.js"])
	assert.Contains(t, manifest, `"Huge"`)
	assert.Contains(t, manifest, `"20"`)

	assert.Contains(t, dialer.transport.commands(), "pm2 restart haxball-server-deadbeef --update-env")
	assert.NotContains(t, dialer.transport.commands(), "npm install --production")
}

// TestRestartWithConfigProvisionsWhenFlagged verifies a workload still marked
// needsProvision goes through the full provisioning run instead
func TestRestartWithConfigProvisionsWhenFlagged(t *testing.T) {
	p, st, dialer := testProvisioner(t)
	w := createAssigned(t, st, "h1")
	dialer.transport.processName = ProcessName("haxball-server", w.ID)

	name := "Renamed Room"
	_, err := p.RestartWithConfig(context.Background(), w.ID, Updates{Name: &name})
	require.NoError(t, err)

	assert.Contains(t, dialer.transport.commands(), "npm install --production")

	stored, err := st.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed Room", stored.Name)
	assert.Equal(t, domain.StatusActive, stored.Status)
}

// TestRestartWithConfigVerificationFailure verifies a process that does not
// come back online flags the record for re-provisioning
func TestRestartWithConfigVerificationFailure(t *testing.T) {
	p, st, dialer := testProvisioner(t)
	w := createAssigned(t, st, "h1")
	w.PM2ProcessName = "haxball-server-deadbeef"
	w.Status = domain.StatusActive
	w.NeedsProvision = false
	require.NoError(t, st.Update(context.Background(), w))
	dialer.transport.processName = w.PM2ProcessName
	dialer.transport.reportStatus = "stopped"

	_, err := p.RestartWithConfig(context.Background(), w.ID, Updates{})
	assert.ErrorIs(t, err, errors.ErrRestartVerification)

	stored, getErr := st.Get(context.Background(), w.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusError, stored.Status)
	assert.True(t, stored.NeedsProvision)
}

func TestProcessName(t *testing.T) {
	assert.Equal(t, "haxball-server-0123abcd", ProcessName("haxball-server", "0123abcd-ffff-4000-8000-000000000000"))
	assert.Equal(t, "haxball-server-short", ProcessName("haxball-server", "short"))
}
