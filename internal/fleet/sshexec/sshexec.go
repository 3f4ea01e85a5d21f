// Package sshexec implements the remote execution client: one authenticated
// SSH session to one host, exposing command execution and file transfer.
// Sessions live for a single logical operation and are never shared across
// workloads or reused.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/haxhost/fleet/internal/fleet/hosts"
	"github.com/haxhost/fleet/pkg/errors"
	"github.com/haxhost/fleet/pkg/logger"
)

// Transport is the remote-side surface consumed by the supervisor adapter and
// the provisioner. *Session implements it; tests substitute fakes.
type Transport interface {
	// Run executes command remotely and returns its stdout. A non-empty
	// workingDir prefixes the command with "cd <dir> && ". Non-zero exit
	// maps to *errors.CommandError.
	Run(ctx context.Context, command, workingDir string) (string, error)

	// Mkdir creates a remote directory tree. Pre-existing directories are
	// not an error.
	Mkdir(path string) error

	// UploadContent writes content to remotePath, replacing any existing file.
	UploadContent(content []byte, remotePath string) error

	// DownloadContent reads the remote file at remotePath.
	DownloadContent(remotePath string) ([]byte, error)

	// Close tears the session down. Idempotent, safe after failures.
	Close() error
}

// Dialer opens Sessions against fleet hosts.
type Dialer struct {
	connectTimeout time.Duration
	commandTimeout time.Duration
	log            *logger.Logger
}

func NewDialer(connectTimeout, commandTimeout time.Duration, log *logger.Logger) *Dialer {
	return &Dialer{
		connectTimeout: connectTimeout,
		commandTimeout: commandTimeout,
		log:            log.WithField("component", "sshexec"),
	}
}

// Dial establishes an authenticated session to host using the given private
// key material. Network or auth failures map to *errors.ConnectError.
func (d *Dialer) Dial(ctx context.Context, host hosts.Host, key []byte) (Transport, error) {
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.NewConnectError(host.Name, host.Address, fmt.Errorf("parse private key: %w", err))
	}

	addr := net.JoinHostPort(host.Address, fmt.Sprintf("%d", host.Port))

	cfg := &ssh.ClientConfig{
		User:            host.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.connectTimeout,
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.NewConnectError(host.Name, addr, err)
	}

	// The SSH handshake does not observe ctx on its own; bound it with a
	// deadline on the underlying conn, lifted once the session is up.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(d.connectTimeout))
	}

	cconn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, errors.NewConnectError(host.Name, addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	d.log.Debug("session established", "host", host.Name, "addr", addr)

	return &Session{
		client:         ssh.NewClient(cconn, chans, reqs),
		hostName:       host.Name,
		commandTimeout: d.commandTimeout,
		log:            d.log.WithField("host", host.Name),
	}, nil
}

// Session is a live connection to exactly one host. It is owned by the
// operation that dialed it and must be closed on every exit path.
type Session struct {
	client         *ssh.Client
	hostName       string
	commandTimeout time.Duration
	log            *logger.Logger

	mu     sync.Mutex
	sftpc  *sftp.Client
	closed bool
}

var _ Transport = (*Session)(nil)

func (s *Session) Run(ctx context.Context, command, workingDir string) (string, error) {
	full := FullCommand(command, workingDir)

	sess, err := s.client.NewSession()
	if err != nil {
		return "", errors.NewConnectError(s.hostName, "", fmt.Errorf("open channel: %w", err))
	}
	defer func() { _ = sess.Close() }()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if s.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.commandTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(full) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return "", errors.NewCommandError(s.hostName, full, -1, ctx.Err().Error())
	case err := <-done:
		if err != nil {
			code := -1
			if exitErr, ok := err.(*ssh.ExitError); ok {
				code = exitErr.ExitStatus()
			}
			s.log.Debug("remote command failed", "command", full, "exitCode", code)
			return stdout.String(), errors.NewCommandError(s.hostName, full, code, stderr.String())
		}
		return stdout.String(), nil
	}
}

func (s *Session) Mkdir(path string) error {
	c, err := s.sftpClient()
	if err != nil {
		return errors.NewTransferError(s.hostName, path, "mkdir", err)
	}
	// MkdirAll succeeds when the directory already exists.
	if err := c.MkdirAll(path); err != nil {
		return errors.NewTransferError(s.hostName, path, "mkdir", err)
	}
	return nil
}

func (s *Session) UploadContent(content []byte, remotePath string) error {
	c, err := s.sftpClient()
	if err != nil {
		return errors.NewTransferError(s.hostName, remotePath, "upload", err)
	}
	f, err := c.Create(remotePath)
	if err != nil {
		return errors.NewTransferError(s.hostName, remotePath, "upload", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return errors.NewTransferError(s.hostName, remotePath, "upload", err)
	}
	if err := f.Close(); err != nil {
		return errors.NewTransferError(s.hostName, remotePath, "upload", err)
	}
	s.log.Debug("uploaded", "path", remotePath, "bytes", len(content))
	return nil
}

func (s *Session) DownloadContent(remotePath string) ([]byte, error) {
	c, err := s.sftpClient()
	if err != nil {
		return nil, errors.NewTransferError(s.hostName, remotePath, "download", err)
	}
	f, err := c.Open(remotePath)
	if err != nil {
		return nil, errors.NewTransferError(s.hostName, remotePath, "download", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, errors.NewTransferError(s.hostName, remotePath, "download", err)
	}
	return buf.Bytes(), nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.sftpc != nil {
		_ = s.sftpc.Close()
		s.sftpc = nil
	}
	err := s.client.Close()
	s.log.Debug("session closed")
	return err
}

// fullCommand is the single place the remote command line is shaped. The
// control path's dry-run mode synthesizes the same form, so the two must not
// drift.
func FullCommand(command, workingDir string) string {
	if workingDir == "" {
		return command
	}
	return fmt.Sprintf("cd %s && %s", workingDir, command)
}

// sftpClient lazily opens the sftp subsystem over the live connection.
func (s *Session) sftpClient() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("session already closed")
	}
	if s.sftpc != nil {
		return s.sftpc, nil
	}
	c, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}
	s.sftpc = c
	return c, nil
}
