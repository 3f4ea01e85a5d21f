// Package pm2 adapts the remote pm2 process supervisor over an open SSH
// session: process listing, lifecycle commands and stderr classification.
package pm2

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haxhost/fleet/internal/fleet/domain"
	"github.com/haxhost/fleet/pkg/errors"
	"github.com/haxhost/fleet/pkg/logger"
)

// Runner is the slice of the remote session this adapter needs.
type Runner interface {
	Run(ctx context.Context, command, workingDir string) (string, error)
}

// Client issues pm2 commands over one open session.
type Client struct {
	runner Runner
	log    *logger.Logger
}

func NewClient(runner Runner, log *logger.Logger) *Client {
	return &Client{
		runner: runner,
		log:    log.WithField("component", "pm2"),
	}
}

// jlistEntry mirrors the subset of `pm2 jlist` output this adapter reads.
type jlistEntry struct {
	Name   string `json:"name"`
	PMID   int    `json:"pm_id"`
	PM2Env struct {
		Status   string `json:"status"`
		PMUptime int64  `json:"pm_uptime"`
	} `json:"pm2_env"`
	Monit struct {
		CPU    float64 `json:"cpu"`
		Memory int64   `json:"memory"`
	} `json:"monit"`
}

// List returns every supervised process on the host. An empty process table
// is a nil slice, not an error.
func (c *Client) List(ctx context.Context) ([]domain.ProcessInfo, error) {
	out, err := c.runner.Run(ctx, ListCommand(), "")
	if err != nil {
		return nil, Classify(err)
	}

	out = strings.TrimSpace(out)
	if out == "" || out == "[]" {
		return nil, nil
	}

	var entries []jlistEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		return nil, fmt.Errorf("parse pm2 jlist output: %w", err)
	}

	procs := make([]domain.ProcessInfo, 0, len(entries))
	for _, e := range entries {
		procs = append(procs, domain.ProcessInfo{
			Name:         e.Name,
			ID:           e.PMID,
			Status:       parseStatus(e.PM2Env.Status),
			CPU:          e.Monit.CPU,
			MemoryBytes:  e.Monit.Memory,
			UptimeMillis: e.PM2Env.PMUptime,
		})
	}
	return procs, nil
}

// Show returns the named process, or ErrProcessNotFound.
func (c *Client) Show(ctx context.Context, name string) (domain.ProcessInfo, error) {
	procs, err := c.List(ctx)
	if err != nil {
		return domain.ProcessInfo{}, err
	}
	for _, p := range procs {
		if p.Name == name {
			return p, nil
		}
	}
	return domain.ProcessInfo{}, fmt.Errorf("%w: %q", errors.ErrProcessNotFound, name)
}

// Start launches script under the given process name.
func (c *Client) Start(ctx context.Context, name, script, workingDir string) (string, error) {
	return c.run(ctx, StartCommand(script, name), workingDir)
}

func (c *Client) Stop(ctx context.Context, name string) (string, error) {
	return c.run(ctx, StopCommand(name), "")
}

func (c *Client) Restart(ctx context.Context, name string, updateEnv bool) (string, error) {
	return c.run(ctx, RestartCommand(name, updateEnv), "")
}

func (c *Client) Delete(ctx context.Context, name string) (string, error) {
	return c.run(ctx, DeleteCommand(name), "")
}

// Save durably records the current process list so it survives pm2 restarts.
func (c *Client) Save(ctx context.Context) (string, error) {
	return c.run(ctx, SaveCommand(), "")
}

// StartEcosystem starts processes from a rendered ecosystem manifest,
// optionally restricted to a single process name.
func (c *Client) StartEcosystem(ctx context.Context, ecosystemPath, onlyName string) (string, error) {
	return c.run(ctx, StartEcosystemCommand(ecosystemPath, onlyName), "")
}

func (c *Client) run(ctx context.Context, command, workingDir string) (string, error) {
	out, err := c.runner.Run(ctx, command, workingDir)
	if err != nil {
		return out, Classify(err)
	}
	return out, nil
}

func parseStatus(s string) domain.ProcessStatus {
	switch s {
	case "online":
		return domain.ProcessOnline
	case "stopped":
		return domain.ProcessStopped
	case "errored":
		return domain.ProcessErrored
	default:
		return domain.ProcessUnknown
	}
}
