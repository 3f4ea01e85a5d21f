// Package errors defines the error taxonomy of the fleet orchestrator:
// sentinel errors for each failure kind plus typed wrappers that carry the
// context needed to diagnose a remote operation (host, command, exit code).
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	// Fleet configuration errors, fatal to the registry's first use
	ErrConfigMissing = errors.New("fleet configuration file not found")
	ErrConfigInvalid = errors.New("fleet configuration is invalid")

	// Host and credential errors
	ErrHostNotFound         = errors.New("host not found in fleet configuration")
	ErrCredentialUnavailable = errors.New("host credential unavailable")

	// Scheduling errors
	ErrCapacityExhausted = errors.New("all hosts are at capacity")

	// Workload errors
	ErrWorkloadNotFound    = errors.New("workload not found")
	ErrWorkloadExists      = errors.New("workload already exists")
	ErrNoHostAssigned      = errors.New("workload has no host assigned")
	ErrNoProcessConfigured = errors.New("workload has no supervisor process configured")
	ErrInvalidAction       = errors.New("invalid control action")

	// Remote process errors, classified from supervisor stderr
	ErrProcessNotFound       = errors.New("supervisor process not found")
	ErrProcessAlreadyRunning = errors.New("supervisor process already running")
	ErrProcessNotRunning     = errors.New("supervisor process not running")

	// Verification errors, trigger rollback and re-provisioning
	ErrStartupVerification = errors.New("process did not come online after start")
	ErrRestartVerification = errors.New("process did not come online after restart")

	// Artifact errors
	ErrTemplateUnresolved = errors.New("rendered manifest contains unresolved placeholders")
)

// ConnectError reports a failed SSH session establishment to one host.
type ConnectError struct {
	Host string
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s (%s): %v", e.Host, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// CommandError reports a remote command that exited non-zero.
type CommandError struct {
	Host     string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("host %s: command %q exited %d: %s", e.Host, e.Command, e.ExitCode, e.Stderr)
}

// TransferError reports a failed remote file operation.
type TransferError struct {
	Host      string
	Path      string
	Operation string
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("host %s: %s %s: %v", e.Host, e.Operation, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// HostError wraps a failure scoped to one host-level operation.
type HostError struct {
	Host      string
	Operation string
	Err       error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host %s: operation %s: %v", e.Host, e.Operation, e.Err)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// ProvisionError wraps a failure inside a provisioning run, tagged with the
// stage that failed so the operator knows how far the run got.
type ProvisionError struct {
	WorkloadID string
	Stage      string
	Err        error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s: stage %s: %v", e.WorkloadID, e.Stage, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// Constructors

func NewConnectError(host, addr string, err error) *ConnectError {
	return &ConnectError{Host: host, Addr: addr, Err: err}
}

func NewCommandError(host, command string, exitCode int, stderr string) *CommandError {
	return &CommandError{Host: host, Command: command, ExitCode: exitCode, Stderr: stderr}
}

func NewTransferError(host, path, operation string, err error) *TransferError {
	return &TransferError{Host: host, Path: path, Operation: operation, Err: err}
}

func NewHostError(host, operation string, err error) *HostError {
	return &HostError{Host: host, Operation: operation, Err: err}
}

func NewProvisionError(workloadID, stage string, err error) *ProvisionError {
	return &ProvisionError{WorkloadID: workloadID, Stage: stage, Err: err}
}

// Predicates

// IsNotFound reports whether err is any of the terminal not-found conditions.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkloadNotFound) ||
		errors.Is(err, ErrHostNotFound) ||
		errors.Is(err, ErrProcessNotFound)
}

// IsCapacityExhausted reports the expected "fleet is full" condition. Callers
// should surface it as retryable, not log it as an error.
func IsCapacityExhausted(err error) bool {
	return errors.Is(err, ErrCapacityExhausted)
}

// IsConfigError reports startup-time configuration failures.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfigMissing) || errors.Is(err, ErrConfigInvalid)
}

// IsVerificationFailure reports a post-start liveness check failure, which
// marks the workload for re-provisioning.
func IsVerificationFailure(err error) bool {
	return errors.Is(err, ErrStartupVerification) || errors.Is(err, ErrRestartVerification)
}

// IsCommandError extracts a CommandError if err wraps one.
func IsCommandError(err error) (*CommandError, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr, true
	}
	return nil, false
}

// IsConnectError reports whether err wraps a failed session establishment.
func IsConnectError(err error) bool {
	var connErr *ConnectError
	return errors.As(err, &connErr)
}

// Re-exported stdlib helpers so callers only import one errors package.

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
