package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/haxhost/fleet/internal/fleet/domain"
	"github.com/haxhost/fleet/internal/fleet/hosts"
	"github.com/haxhost/fleet/internal/fleet/manifest"
	"github.com/haxhost/fleet/internal/fleet/metrics"
	"github.com/haxhost/fleet/internal/fleet/pm2"
	"github.com/haxhost/fleet/internal/fleet/sshexec"
	"github.com/haxhost/fleet/pkg/errors"
)

// Control actions accepted by the supervisor control path.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// ControlResult reports a single supervisor action, real or simulated.
type ControlResult struct {
	WorkloadID string
	Host       string
	Action     string
	Command    string
	Output     string
	DryRun     bool
	Timestamp  time.Time
}

// Control runs a start/stop/restart against a provisioned workload's
// supervisor process. With dryRun set, no connection is opened: the result
// carries the exact command line a real run would execute over SSH.
func (p *Provisioner) Control(ctx context.Context, workloadID, action string, dryRun bool) (*ControlResult, error) {
	switch action {
	case ActionStart, ActionStop, ActionRestart:
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrInvalidAction, action)
	}

	unlock := p.locks.lock(workloadID)
	defer unlock()

	w, err := p.store.Get(ctx, workloadID)
	if err != nil {
		return nil, err
	}
	if w.HostName == "" {
		return nil, fmt.Errorf("%w: %s", errors.ErrNoHostAssigned, w.ID)
	}
	if w.PM2ProcessName == "" {
		return nil, fmt.Errorf("%w: %s", errors.ErrNoProcessConfigured, w.ID)
	}
	host, err := p.registry.Get(w.HostName)
	if err != nil {
		return nil, err
	}

	command := controlCommand(action, w.PM2ProcessName)
	workDir := p.registry.WorkingDir(host, w.ID)
	full := sshexec.FullCommand(command, workDir)

	result := &ControlResult{
		WorkloadID: w.ID,
		Host:       host.Name,
		Action:     action,
		DryRun:     dryRun,
		Timestamp:  time.Now(),
	}

	if dryRun {
		result.Command = fmt.Sprintf("ssh -i %s %s@%s \"%s\"",
			hosts.ExpandKeyPath(host.KeyPath), host.User, host.Address, full)
		return result, nil
	}

	key, err := p.registry.ResolveCredential(host)
	if err != nil {
		return nil, err
	}
	transport, err := p.dial(ctx, host, key)
	if err != nil {
		metrics.ControlTotal.WithLabelValues(action, metrics.OutcomeFailure).Inc()
		return nil, err
	}
	defer func() { _ = transport.Close() }()

	output, err := transport.Run(ctx, command, workDir)
	if err != nil {
		metrics.ControlTotal.WithLabelValues(action, metrics.OutcomeFailure).Inc()
		return nil, pm2.Classify(err)
	}
	metrics.ControlTotal.WithLabelValues(action, metrics.OutcomeSuccess).Inc()

	w.LastStatusUpdate = result.Timestamp
	if err := p.store.Update(ctx, w); err != nil {
		p.log.Warn("record control timestamp", "workload", w.ID, "error", err)
	}

	result.Command = full
	result.Output = output
	return result, nil
}

// controlCommand maps a control action onto its supervisor invocation. The
// same synthesis backs both the dry-run preview and the real execution.
func controlCommand(action, processName string) string {
	switch action {
	case ActionStart:
		return pm2.StartCommand("index.js", processName)
	case ActionStop:
		return pm2.StopCommand(processName)
	default:
		return pm2.RestartCommand(processName, true)
	}
}

// Updates carries a partial room-settings change for RestartWithConfig. Nil
// fields leave the stored value untouched.
type Updates struct {
	Name       *string
	Map        *string
	MaxPlayers *int
	Password   *string
	IsPublic   *bool
	Admins     []domain.AdminCredential
}

func (u Updates) apply(w *domain.Workload) {
	if u.Name != nil {
		w.Name = *u.Name
	}
	if u.Map != nil {
		w.Map = *u.Map
	}
	if u.MaxPlayers != nil {
		w.MaxPlayers = *u.MaxPlayers
	}
	if u.Password != nil {
		w.Password = *u.Password
	}
	if u.IsPublic != nil {
		w.IsPublic = *u.IsPublic
	}
	if u.Admins != nil {
		w.Admins = u.Admins
	}
}

// RestartWithConfig persists the supplied settings changes and applies them
// to the running process. A workload that has never been provisioned (or is
// flagged for re-provisioning) goes through the full Provision path instead;
// otherwise only the ecosystem manifest is re-rendered and uploaded, and the
// process restarted with its environment refreshed.
func (p *Provisioner) RestartWithConfig(ctx context.Context, workloadID string, updates Updates) (*Result, error) {
	w, err := func() (*domain.Workload, error) {
		unlock := p.locks.lock(workloadID)
		defer unlock()

		w, err := p.store.Get(ctx, workloadID)
		if err != nil {
			return nil, err
		}
		updates.apply(w)
		if err := p.store.Update(ctx, w); err != nil {
			return nil, fmt.Errorf("persist settings: %w", err)
		}
		return w, nil
	}()
	if err != nil {
		return nil, err
	}

	if w.PM2ProcessName == "" || w.NeedsProvision {
		return p.Provision(ctx, workloadID, "")
	}

	unlock := p.locks.lock(workloadID)
	defer unlock()

	if w.HostName == "" {
		return nil, fmt.Errorf("%w: %s", errors.ErrNoHostAssigned, w.ID)
	}
	host, err := p.registry.Get(w.HostName)
	if err != nil {
		return nil, err
	}
	log := p.log.WithFields("workload", w.ID, "host", host.Name)

	key, err := p.registry.ResolveCredential(host)
	if err != nil {
		return nil, err
	}
	transport, err := p.dial(ctx, host, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = transport.Close() }()

	ecosystem, err := manifest.RenderEcosystem(w, w.Admins, manifest.Params{
		BasePath:      host.BasePath,
		Token:         p.workloadToken(w, log),
		APIURL:        p.cfg.APIURL,
		WebhookSecret: p.cfg.WebhookSecret,
	})
	if err != nil {
		return nil, err
	}

	workDir := p.registry.WorkingDir(host, w.ID)
	if err := transport.UploadContent([]byte(ecosystem), workDir+"/ecosystem.config.js"); err != nil {
		return nil, err
	}

	supervisor := pm2.NewClient(transport, log)
	if _, err := supervisor.Restart(ctx, w.PM2ProcessName, true); err != nil {
		return nil, err
	}

	if err := p.sleep(ctx, p.cfg.SettleDelay); err != nil {
		return nil, err
	}
	info, err := supervisor.Show(ctx, w.PM2ProcessName)
	if err != nil {
		p.markFailed(ctx, w.ID, log)
		return nil, fmt.Errorf("%w: %v", errors.ErrRestartVerification, err)
	}
	if !info.Online() {
		p.markFailed(ctx, w.ID, log)
		return nil, fmt.Errorf("%w: status %q", errors.ErrRestartVerification, info.Status)
	}

	w.Status = domain.StatusActive
	w.LastStatusUpdate = time.Now()
	if err := p.store.Update(ctx, w); err != nil {
		return nil, fmt.Errorf("record restarted state: %w", err)
	}

	log.Info("workload restarted with updated settings", "processName", w.PM2ProcessName)
	return &Result{
		WorkloadID:  w.ID,
		ProcessName: w.PM2ProcessName,
		Host:        host.Name,
		RoomLink:    w.RoomLink,
		Message:     fmt.Sprintf("workload %s restarted with updated settings", w.Name),
	}, nil
}
