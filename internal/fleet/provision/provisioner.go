// Package provision drives the full workload lifecycle workflow: resolve the
// assigned host, open a remote session, render and upload artifacts, start
// the process under pm2 and verify it came online, with rollback and
// control-plane bookkeeping on every failure path.
package provision

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/haxhost/fleet/internal/fleet/domain"
	"github.com/haxhost/fleet/internal/fleet/hosts"
	"github.com/haxhost/fleet/internal/fleet/manifest"
	"github.com/haxhost/fleet/internal/fleet/metrics"
	"github.com/haxhost/fleet/internal/fleet/pm2"
	"github.com/haxhost/fleet/internal/fleet/secrets"
	"github.com/haxhost/fleet/internal/fleet/sshexec"
	"github.com/haxhost/fleet/internal/fleet/store"
	"github.com/haxhost/fleet/pkg/errors"
	"github.com/haxhost/fleet/pkg/logger"
)

// DialFunc opens a remote session to one host. The production implementation
// is (*sshexec.Dialer).Dial; tests substitute fakes.
type DialFunc func(ctx context.Context, host hosts.Host, key []byte) (sshexec.Transport, error)

// Config carries the orchestrator's operating parameters.
type Config struct {
	SettleDelay   time.Duration
	APIURL        string
	WebhookSecret string
	EncryptionKey string
}

// ConfigFromRegistry assembles a Config from the fleet document and the
// environment variables it names.
func ConfigFromRegistry(reg *hosts.Registry) Config {
	cb := reg.Callback()
	return Config{
		SettleDelay:   reg.Provision().SettleDelay,
		APIURL:        cb.APIURL,
		WebhookSecret: os.Getenv(cb.WebhookSecretEnv),
		EncryptionKey: os.Getenv(reg.EncryptionKeyEnv()),
	}
}

// Result reports a completed provisioning run.
type Result struct {
	WorkloadID  string
	ProcessName string
	Host        string
	RoomLink    string
	Message     string
}

type Provisioner struct {
	registry *hosts.Registry
	store    store.Store
	dial     DialFunc
	cfg      Config
	log      *logger.Logger

	// sleep is swapped out by tests so settle delays do not slow the suite.
	sleep func(ctx context.Context, d time.Duration) error

	locks keyedLocks
}

func New(registry *hosts.Registry, st store.Store, dial DialFunc, cfg Config, log *logger.Logger) *Provisioner {
	return &Provisioner{
		registry: registry,
		store:    st,
		dial:     dial,
		cfg:      cfg,
		log:      log.WithField("component", "provisioner"),
		sleep:    sleepContext,
	}
}

// Provision turns a scheduled workload into a running remote process. A
// failed run marks the record status "error" with needsProvision set, so
// re-invoking Provision is always the retry path. An optional token is
// persisted (encrypted) onto the record before any remote work begins.
func (p *Provisioner) Provision(ctx context.Context, workloadID, token string) (*Result, error) {
	unlock := p.locks.lock(workloadID)
	defer unlock()

	started := time.Now()
	log := p.log.WithField("workload", workloadID)

	w, err := p.store.Get(ctx, workloadID)
	if err != nil {
		return nil, err
	}

	// The supervisor process name is derived from the workload id, so a
	// retry after a partial run reuses the same name.
	if w.PM2ProcessName == "" {
		w.PM2ProcessName = ProcessName(p.registry.ProcessNameTemplate(), w.ID)
		if err := p.store.Update(ctx, w); err != nil {
			return nil, fmt.Errorf("assign process name: %w", err)
		}
		log.Info("assigned supervisor process name", "processName", w.PM2ProcessName)
	}

	if token != "" {
		encrypted, err := secrets.Encrypt(token, p.cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt token: %w", err)
		}
		w.Token = token
		w.TokenEncrypted = encrypted
		if err := p.store.Update(ctx, w); err != nil {
			return nil, fmt.Errorf("persist token: %w", err)
		}
	}

	if w.HostName == "" {
		return nil, fmt.Errorf("%w: %s", errors.ErrNoHostAssigned, w.ID)
	}
	host, err := p.registry.Get(w.HostName)
	if err != nil {
		return nil, err
	}
	log = log.WithField("host", host.Name)

	result, err := p.provisionOnHost(ctx, w, host, log)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	metrics.ProvisionTotal.WithLabelValues(host.Name, outcome).Inc()
	metrics.ProvisionDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		p.markFailed(ctx, w.ID, log)
		return nil, err
	}

	w.Status = domain.StatusActive
	w.NeedsProvision = false
	w.LastStatusUpdate = time.Now()
	if err := p.store.Update(ctx, w); err != nil {
		return nil, fmt.Errorf("record provisioned state: %w", err)
	}

	log.Info("workload provisioned", "processName", w.PM2ProcessName, "elapsed", time.Since(started))
	return result, nil
}

// provisionOnHost performs the remote half of a provisioning run against an
// already-resolved host. The session it opens is closed on every exit path.
func (p *Provisioner) provisionOnHost(ctx context.Context, w *domain.Workload, host hosts.Host, log *logger.Logger) (*Result, error) {
	fail := func(stage string, err error) error {
		return errors.NewProvisionError(w.ID, stage, err)
	}

	key, err := p.registry.ResolveCredential(host)
	if err != nil {
		return nil, fail("resolve-credential", err)
	}

	transport, err := p.dial(ctx, host, key)
	if err != nil {
		return nil, fail("open-session", err)
	}
	defer func() { _ = transport.Close() }()

	ecosystem, err := manifest.RenderEcosystem(w, w.Admins, manifest.Params{
		BasePath:      host.BasePath,
		Token:         p.workloadToken(w, log),
		APIURL:        p.cfg.APIURL,
		WebhookSecret: p.cfg.WebhookSecret,
	})
	if err != nil {
		return nil, fail("render", err)
	}
	entrypoint, err := manifest.Entrypoint()
	if err != nil {
		return nil, fail("render", err)
	}
	packageJSON, err := manifest.RenderPackageJSON(w.ID)
	if err != nil {
		return nil, fail("render", err)
	}

	workDir := p.registry.WorkingDir(host, w.ID)
	supervisor := pm2.NewClient(transport, log)

	// From here on remote state may exist; roll the process back on failure.
	err = func() error {
		if err := transport.Mkdir(workDir); err != nil {
			return fail("mkdir", err)
		}

		uploads := []struct {
			name    string
			content string
		}{
			{"ecosystem.config.js", ecosystem},
			{"package.json", packageJSON},
			{"index.js", entrypoint},
		}
		for _, u := range uploads {
			if err := transport.UploadContent([]byte(u.content), workDir+"/"+u.name); err != nil {
				return fail("upload", err)
			}
		}

		if _, err := transport.Run(ctx, "chmod +x "+workDir+"/*.js", workDir); err != nil {
			return fail("upload", err)
		}

		log.Info("installing dependencies")
		if _, err := transport.Run(ctx, "npm install --production", workDir); err != nil {
			return fail("install-deps", err)
		}

		if _, err := supervisor.StartEcosystem(ctx, workDir+"/ecosystem.config.js", w.PM2ProcessName); err != nil {
			return fail("start", err)
		}
		if _, err := supervisor.Save(ctx); err != nil {
			return fail("persist", err)
		}

		if err := p.sleep(ctx, p.cfg.SettleDelay); err != nil {
			return fail("verify", err)
		}
		info, err := supervisor.Show(ctx, w.PM2ProcessName)
		if err != nil {
			return fail("verify", fmt.Errorf("%w: %v", errors.ErrStartupVerification, err))
		}
		if !info.Online() {
			return fail("verify", fmt.Errorf("%w: status %q", errors.ErrStartupVerification, info.Status))
		}
		return nil
	}()
	if err != nil {
		p.rollback(ctx, supervisor, w.PM2ProcessName, log)
		return nil, err
	}

	return &Result{
		WorkloadID:  w.ID,
		ProcessName: w.PM2ProcessName,
		Host:        host.Name,
		RoomLink:    w.RoomLink,
		Message:     fmt.Sprintf("workload %s provisioned and started", w.Name),
	}, nil
}

// rollback deletes the supervisor process best-effort. Its own failure is
// logged, never allowed to mask the original error.
func (p *Provisioner) rollback(ctx context.Context, supervisor *pm2.Client, processName string, log *logger.Logger) {
	if _, err := supervisor.Delete(ctx, processName); err != nil {
		log.Warn("rollback delete failed", "processName", processName, "error", err)
		return
	}
	log.Info("rolled back supervisor process", "processName", processName)
}

// markFailed records that remote state may have diverged from the control
// plane: the workload is errored and must be re-provisioned.
func (p *Provisioner) markFailed(ctx context.Context, workloadID string, log *logger.Logger) {
	w, err := p.store.Get(ctx, workloadID)
	if err != nil {
		log.Error("load workload for failure bookkeeping", "error", err)
		return
	}
	w.Status = domain.StatusError
	w.NeedsProvision = true
	if err := p.store.Update(ctx, w); err != nil {
		log.Error("record failed state", "error", err)
	}
}

// workloadToken resolves the game credential for rendering: the encrypted
// at-rest form when present, otherwise whatever transient token the record
// carries. Decryption failures fall back to the transient token so a bad key
// configuration surfaces in the remote process rather than silently here.
func (p *Provisioner) workloadToken(w *domain.Workload, log *logger.Logger) string {
	if w.TokenEncrypted == "" {
		return w.Token
	}
	token, err := secrets.Decrypt(w.TokenEncrypted, p.cfg.EncryptionKey)
	if err != nil {
		log.Error("decrypt stored token", "error", err)
		return w.Token
	}
	return token
}

// ProcessName derives the stable supervisor process name for a workload.
func ProcessName(template, workloadID string) string {
	short := workloadID
	if len(short) > 8 {
		short = short[:8]
	}
	return template + "-" + short
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
