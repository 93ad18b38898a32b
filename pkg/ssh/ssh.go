// Package ssh runs single commands on remote hosts over SSH with key-based
// authentication and connection retries.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
	defaultAttempts    = 3
	defaultRetryDelay  = time.Second
)

// Config holds SSH client configuration.
type Config struct {
	Port       int
	User       string
	PrivateKey []byte

	// DialTimeout bounds the TCP connect and the SSH handshake.
	DialTimeout time.Duration

	// Attempts is the number of connection attempts per Run.
	Attempts uint

	// RetryDelay is the initial backoff between attempts.
	RetryDelay time.Duration

	// HostKeyCallback handles host key verification. It is required unless
	// InsecureIgnoreHostKey is set.
	HostKeyCallback ssh.HostKeyCallback

	// InsecureIgnoreHostKey accepts any host key when no callback is set.
	InsecureIgnoreHostKey bool
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	Output     string
	ExitStatus int
}

// Client runs commands on remote hosts. It parses the private key once and
// dials a fresh connection per Run.
type Client struct {
	config Config
	signer ssh.Signer
}

// NewClient creates a new SSH client and validates the private key.
func NewClient(cfg Config) (*Client, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("config user cannot be empty")
	}
	if len(cfg.PrivateKey) == 0 {
		return nil, fmt.Errorf("config private key cannot be empty")
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.HostKeyCallback == nil {
		if !cfg.InsecureIgnoreHostKey {
			return nil, fmt.Errorf("config host key callback cannot be empty without insecure host key mode")
		}
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // explicit opt-out
	}

	signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &Client{config: cfg, signer: signer}, nil
}

// NewClientFromFiles reads the private key and the known_hosts file. An empty
// knownHostsFile requires cfg.InsecureIgnoreHostKey.
func NewClientFromFiles(cfg Config, keyFile, knownHostsFile string) (*Client, error) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	cfg.PrivateKey = key

	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		cfg.HostKeyCallback = cb
	}

	return NewClient(cfg)
}

// Run executes command on host. A non-zero exit is reported in Result, not as
// an error; errors mean the command could not be run at all.
func (c *Client) Run(ctx context.Context, host, command string) (Result, error) {
	client, err := c.connect(ctx, host)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create SSH session on %s: %w", host, err)
	}
	defer func() { _ = session.Close() }()

	type outcome struct {
		out []byte
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		done <- outcome{out, err}
	}()

	select {
	case <-ctx.Done():
		_ = client.Close()
		return Result{}, ctx.Err()
	case o := <-done:
		res := Result{Output: string(o.out)}
		if o.err == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(o.err, &exitErr) {
			res.ExitStatus = exitErr.ExitStatus()
			return res, nil
		}
		return res, fmt.Errorf("command failed on %s: %w", host, o.err)
	}
}

// connect dials host with exponential backoff.
func (c *Client) connect(ctx context.Context, host string) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User: c.config.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(c.signer),
		},
		HostKeyCallback: c.config.HostKeyCallback,
		Timeout:         c.config.DialTimeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(c.config.Port))

	return retry.DoWithData(
		func() (*ssh.Client, error) {
			return c.dial(ctx, addr, config)
		},
		retry.Context(ctx),
		retry.Attempts(c.config.Attempts),
		retry.Delay(c.config.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var keyErr *knownhosts.KeyError
			return !errors.As(err, &keyErr)
		}),
	)
}

func (c *Client) dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	_ = conn.SetDeadline(time.Now().Add(c.config.DialTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}
