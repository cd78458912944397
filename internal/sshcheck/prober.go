// Package sshcheck probes edge nodes over SSH for TLS certificate expiry.
//
// A probe opens an SSH session to the node, runs openssl against the
// well-known NSX host certificate, and parses the notAfter timestamp from
// the output. Every failure mode is reported as a typed CheckResult status;
// Check never returns an error.
package sshcheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/t-cloud/edge-certmon/pkg/types"
)

// CertPath is where NSX edge nodes keep their host certificate.
const CertPath = "/etc/vmware/nsx/host-cert.pem"

const inspectCommand = "openssl x509 -enddate -noout -in " + CertPath

// Target identifies one node to probe.
type Target struct {
	NodeID  string
	Address string
}

// Credentials are the SSH credentials used for probing. Password and
// PrivateKey may both be set; each present method is offered.
type Credentials struct {
	Username   string
	Password   string
	PrivateKey []byte
}

// CredentialProvider supplies probe credentials, typically backed by the
// secrets package.
type CredentialProvider interface {
	SSHCredentials(ctx context.Context) (Credentials, error)
}

// ProberConfig holds connection bounds for probes.
type ProberConfig struct {
	Port           int
	ConnectTimeout time.Duration // TCP dial + SSH handshake
	CommandTimeout time.Duration // openssl invocation
}

// DefaultProberConfig returns sensible defaults.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Port:           22,
		ConnectTimeout: 30 * time.Second,
		CommandTimeout: 10 * time.Second,
	}
}

// commandRunner executes the inspection command on one remote host.
// err is reserved for transport failures; a non-zero remote exit comes back
// in exitCode with a nil err.
type commandRunner interface {
	run(ctx context.Context, cmd string) (stdout, stderr string, exitCode int, err error)
	close() error
}

type connectFunc func(ctx context.Context, address string, creds Credentials, cfg ProberConfig) (commandRunner, error)

// Prober checks certificate expiry on a single node per call.
type Prober struct {
	creds   CredentialProvider
	config  ProberConfig
	logger  *slog.Logger
	connect connectFunc
}

// NewProber creates a prober using the given credential provider.
func NewProber(creds CredentialProvider, cfg ProberConfig, logger *slog.Logger) *Prober {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	return &Prober{
		creds:   creds,
		config:  cfg,
		logger:  logger.With("component", "cert_prober"),
		connect: sshConnect,
	}
}

// Check probes one node and returns a typed result. All failure modes map to
// a non-success status with ErrorDetail set; no error escapes.
func (p *Prober) Check(ctx context.Context, target Target) types.CheckResult {
	result := types.CheckResult{
		NodeID:    target.NodeID,
		CheckedAt: time.Now().UTC(),
	}

	creds, err := p.creds.SSHCredentials(ctx)
	if err != nil {
		result.Status = types.CheckSSHFailed
		result.ErrorDetail = fmt.Sprintf("loading SSH credentials: %v", err)
		return result
	}

	connectCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	runner, err := p.connect(connectCtx, target.Address, creds, p.config)
	if err != nil {
		if isTimeout(err) {
			result.Status = types.CheckTimeout
			result.ErrorDetail = fmt.Sprintf("connection timeout after %s: %v", p.config.ConnectTimeout, err)
		} else {
			result.Status = types.CheckSSHFailed
			result.ErrorDetail = fmt.Sprintf("SSH connection error: %v", err)
		}
		p.logger.Warn("probe connection failed",
			"node_id", target.NodeID,
			"address", target.Address,
			"status", result.Status,
			"error", err,
		)
		return result
	}
	defer runner.close()

	cmdCtx, cancelCmd := context.WithTimeout(ctx, p.config.CommandTimeout)
	defer cancelCmd()

	stdout, stderr, exitCode, err := runner.run(cmdCtx, inspectCommand)
	if err != nil {
		if isTimeout(err) {
			result.Status = types.CheckTimeout
			result.ErrorDetail = fmt.Sprintf("command timeout after %s", p.config.CommandTimeout)
		} else {
			result.Status = types.CheckSSHFailed
			result.ErrorDetail = fmt.Sprintf("running inspection command: %v", err)
		}
		return result
	}
	if exitCode != 0 {
		result.Status = types.CheckError
		result.ErrorDetail = fmt.Sprintf("command exited %d: %s", exitCode, strings.TrimSpace(stderr))
		return result
	}

	expiry, err := parseNotAfter(stdout)
	if err != nil {
		result.Status = types.CheckError
		result.ErrorDetail = err.Error()
		return result
	}

	days := daysRemaining(expiry, time.Now().UTC())
	result.Status = types.CheckSuccess
	result.CertExpiry = &expiry
	result.DaysRemaining = &days

	if days <= 0 {
		p.logger.Warn("certificate expired or expiring today",
			"node_id", target.NodeID,
			"address", target.Address,
			"expiry", expiry,
			"days_remaining", days,
		)
	} else {
		p.logger.Debug("certificate checked",
			"node_id", target.NodeID,
			"address", target.Address,
			"expiry", expiry,
			"days_remaining", days,
		)
	}
	return result
}

// parseNotAfter extracts the expiry timestamp from openssl -enddate output,
// e.g. "notAfter=Dec 31 23:59:59 2025 GMT". The timestamp is treated as UTC;
// a trailing timezone literal is tolerated and discarded.
func parseNotAfter(output string) (time.Time, error) {
	raw := strings.TrimSpace(output)

	s := raw
	if i := strings.Index(s, "notAfter="); i >= 0 {
		s = s[i+len("notAfter="):]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, " GMT")
	s = strings.TrimSuffix(s, " UTC")

	// openssl pads single-digit days: "Dec  1 23:59:59 2025".
	t, err := time.Parse("Jan _2 15:04:05 2006", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse certificate date from: %s", raw)
	}
	return t.UTC(), nil
}

// daysRemaining is the floor of whole days between now and expiry. A still
// valid certificate with under a day left reports 0; expired certificates go
// negative. The floor rule applies uniformly so a valid certificate is never
// rounded into a more negative bucket than its actual age.
func daysRemaining(expiry, now time.Time) int {
	return int(math.Floor(expiry.Sub(now).Hours() / 24))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// =============================================================================
// SSH TRANSPORT
// =============================================================================

type sshRunner struct {
	client *ssh.Client
}

// sshConnect establishes an SSH connection to the target address.
func sshConnect(ctx context.Context, address string, creds Credentials, cfg ProberConfig) (commandRunner, error) {
	var authMethods []ssh.AuthMethod
	if creds.Password != "" {
		authMethods = append(authMethods, ssh.Password(creds.Password))
	}
	if len(creds.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(creds.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method provided")
	}

	sshConfig := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // edge nodes regenerate host keys on redeploy
		Timeout:         cfg.ConnectTimeout,
	}

	hostPort := net.JoinHostPort(address, fmt.Sprintf("%d", cfg.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", hostPort, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, hostPort, sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake failed: %w", err)
	}
	conn.SetDeadline(time.Time{})

	return &sshRunner{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

func (r *sshRunner) run(ctx context.Context, cmd string) (string, string, int, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", "", 0, fmt.Errorf("creating session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case err := <-done:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return stdout.String(), stderr.String(), exitErr.ExitStatus(), nil
			}
			return stdout.String(), stderr.String(), 0, err
		}
		return stdout.String(), stderr.String(), 0, nil
	case <-ctx.Done():
		session.Signal(ssh.SIGTERM)
		return "", "", 0, ctx.Err()
	}
}

func (r *sshRunner) close() error {
	return r.client.Close()
}
