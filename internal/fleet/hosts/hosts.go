// Package hosts loads the static fleet topology and resolves per-host SSH
// credentials. The registry is constructed once at startup and its snapshot
// is immutable afterwards; a topology change requires a reload.
package hosts

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haxhost/fleet/pkg/errors"
	"github.com/haxhost/fleet/pkg/logger"
)

// Host describes one unit of compute in the fleet.
type Host struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	KeyPath  string `yaml:"key_path"`
	BasePath string `yaml:"base_path"`
	Port     int    `yaml:"port"`
}

// CallbackConfig carries the control-plane endpoint embedded into manifests.
type CallbackConfig struct {
	APIURL           string `yaml:"api_url"`
	WebhookSecretEnv string `yaml:"webhook_secret_env"`
}

// ProvisionConfig bounds the remote operations of one provisioning run.
type ProvisionConfig struct {
	SettleDelay    time.Duration `yaml:"settle_delay"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// Config is the fleet configuration document.
type Config struct {
	Hosts               []Host          `yaml:"hosts"`
	ProcessNameTemplate string          `yaml:"process_name_template"`
	MaxWorkloadsPerHost int             `yaml:"max_workloads_per_host"`
	Callback            CallbackConfig  `yaml:"callback"`
	Provision           ProvisionConfig `yaml:"provision"`
	EncryptionKeyEnv    string          `yaml:"encryption_key_env"`
	LogLevel            string          `yaml:"log_level"`
}

// Registry is the loaded, immutable view of the fleet.
type Registry struct {
	cfg    Config
	byName map[string]Host
	log    *logger.Logger
}

// Load reads and validates the fleet configuration from path. A missing file
// is ErrConfigMissing; anything unparsable, empty, or inconsistent is
// ErrConfigInvalid.
func Load(configPath string, log *logger.Logger) (*Registry, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrConfigMissing, configPath)
		}
		return nil, fmt.Errorf("%w: read %s: %v", errors.ErrConfigInvalid, configPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", errors.ErrConfigInvalid, configPath, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	byName := make(map[string]Host, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		byName[h.Name] = h
	}

	log.Info("fleet configuration loaded", "hosts", len(cfg.Hosts), "maxPerHost", cfg.MaxWorkloadsPerHost)

	return &Registry{
		cfg:    cfg,
		byName: byName,
		log:    log.WithField("component", "hosts"),
	}, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Hosts {
		if c.Hosts[i].Port == 0 {
			c.Hosts[i].Port = 22
		}
		if c.Hosts[i].User == "" {
			c.Hosts[i].User = "ubuntu"
		}
	}
	if c.ProcessNameTemplate == "" {
		c.ProcessNameTemplate = "haxball-server"
	}
	if c.Provision.SettleDelay == 0 {
		c.Provision.SettleDelay = 2 * time.Second
	}
	if c.Provision.ConnectTimeout == 0 {
		c.Provision.ConnectTimeout = 10 * time.Second
	}
	if c.Provision.CommandTimeout == 0 {
		c.Provision.CommandTimeout = 60 * time.Second
	}
	if c.EncryptionKeyEnv == "" {
		c.EncryptionKeyEnv = "TOKEN_ENCRYPT_KEY"
	}
}

func (c *Config) validate() error {
	if len(c.Hosts) == 0 {
		return fmt.Errorf("%w: no hosts configured", errors.ErrConfigInvalid)
	}
	if c.MaxWorkloadsPerHost <= 0 {
		return fmt.Errorf("%w: max_workloads_per_host must be positive", errors.ErrConfigInvalid)
	}
	seen := make(map[string]bool, len(c.Hosts))
	for _, h := range c.Hosts {
		if h.Name == "" {
			return fmt.Errorf("%w: host with empty name", errors.ErrConfigInvalid)
		}
		if seen[h.Name] {
			return fmt.Errorf("%w: duplicate host name %q", errors.ErrConfigInvalid, h.Name)
		}
		seen[h.Name] = true
		if h.Address == "" {
			return fmt.Errorf("%w: host %q has no address", errors.ErrConfigInvalid, h.Name)
		}
		if h.KeyPath == "" {
			return fmt.Errorf("%w: host %q has no key_path", errors.ErrConfigInvalid, h.Name)
		}
		if h.BasePath == "" {
			return fmt.Errorf("%w: host %q has no base_path", errors.ErrConfigInvalid, h.Name)
		}
	}
	return nil
}

// Hosts returns the fleet in configuration order. The slice is a copy; the
// registry itself never changes after Load.
func (r *Registry) Hosts() []Host {
	out := make([]Host, len(r.cfg.Hosts))
	copy(out, r.cfg.Hosts)
	return out
}

// Get returns the host with the given name.
func (r *Registry) Get(name string) (Host, error) {
	h, ok := r.byName[name]
	if !ok {
		return Host{}, fmt.Errorf("%w: %q", errors.ErrHostNotFound, name)
	}
	return h, nil
}

// ResolveCredential reads the private key referenced by the host descriptor.
// The key material is returned to the caller and never stored on the registry.
func (r *Registry) ResolveCredential(h Host) ([]byte, error) {
	keyPath := ExpandKeyPath(h.KeyPath)
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errors.NewHostError(h.Name, "resolve-credential",
			fmt.Errorf("%w: %s: %v", errors.ErrCredentialUnavailable, keyPath, err))
	}
	return data, nil
}

// ValidateHosts checks that every host's credential is readable. Intended as
// an operator preflight, it collects all failures rather than stopping at the
// first one.
func (r *Registry) ValidateHosts() []error {
	var errs []error
	for _, h := range r.cfg.Hosts {
		if _, err := r.ResolveCredential(h); err != nil {
			errs = append(errs, err)
			continue
		}
		r.log.Debug("credential ok", "host", h.Name)
	}
	return errs
}

// WorkingDir returns the remote directory holding one workload's artifacts.
func (r *Registry) WorkingDir(h Host, workloadID string) string {
	return path.Join(h.BasePath, workloadID)
}

func (r *Registry) ProcessNameTemplate() string { return r.cfg.ProcessNameTemplate }
func (r *Registry) MaxWorkloadsPerHost() int    { return r.cfg.MaxWorkloadsPerHost }
func (r *Registry) Callback() CallbackConfig    { return r.cfg.Callback }
func (r *Registry) Provision() ProvisionConfig  { return r.cfg.Provision }
func (r *Registry) EncryptionKeyEnv() string    { return r.cfg.EncryptionKeyEnv }
func (r *Registry) LogLevel() string            { return r.cfg.LogLevel }

// ExpandKeyPath resolves a leading ~ against the current user's home dir.
func ExpandKeyPath(keyPath string) string {
	if keyPath == "~" || strings.HasPrefix(keyPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return keyPath
		}
		return filepath.Join(home, strings.TrimPrefix(keyPath[1:], "/"))
	}
	return keyPath
}
