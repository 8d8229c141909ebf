// Package remote runs commands on, copies files to and forwards ports from a
// cluster's head node over SSH.
package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/retry"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "disconnected"
	}
}

const defaultPort = 22

type Target struct {
	Host    string
	Port    int
	User    string
	KeyPath string
}

func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// DialFunc opens an SSH client connection. Tests replace it.
type DialFunc func(ctx context.Context, network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error)

type Options struct {
	Fs         afero.Fs
	KnownHosts *KnownHosts
	Policy     retry.Policy
	Sleep      retry.SleepFunc
	Dial       DialFunc
	Timeout    time.Duration
	Logger     *zap.Logger
	// OnRetry is told about each failed connection attempt, for progress output.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func (o Options) withDefaults() Options {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Policy.Attempts == 0 {
		o.Policy = retry.SSHPolicy
	}
	if o.Dial == nil {
		o.Dial = DialContext
	}
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// DialContext is ssh.Dial with context cancellation for the TCP connect.
func DialContext(ctx context.Context, network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err //nolint:wrapcheck // classified by caller
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err //nolint:wrapcheck // classified by caller
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// Session is one SSH connection to one host with one key. It is safe to use from
// one goroutine at a time; sessions never share state with each other.
type Session struct {
	target Target
	client *ssh.Client
	logger *zap.Logger

	mu    sync.Mutex
	state State
}

// Connect dials target, retrying Unreachable errors with opts.Policy.
func Connect(ctx context.Context, target Target, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.Named("ssh").With(zap.String("host", target.Addr()))
	if opts.KnownHosts == nil {
		return nil, dafterrors.New("remote: no known_hosts configured")
	}

	signer, err := LoadSigner(opts.Fs, target.KeyPath)
	if err != nil {
		return nil, &SSHError{Kind: AuthFailure, Host: target.Host, Err: err}
	}

	s := &Session{target: target, logger: logger, state: Connecting}
	runner := retry.Runner{
		Policy:    opts.Policy,
		Retryable: isRetryable,
		Sleep:     opts.Sleep,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logger.Debug("connect failed, retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, err, wait)
			}
		},
	}
	err = runner.Do(ctx, func(ctx context.Context, attempt int) error {
		mismatch := false
		callback, err := opts.KnownHosts.Callback(&mismatch)
		if err != nil {
			return err
		}
		cfg := &ssh.ClientConfig{
			User:            target.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: callback,
			Timeout:         opts.Timeout,
		}
		client, err := opts.Dial(ctx, "tcp", target.Addr(), cfg)
		if err != nil {
			return classifyDial(target, err, mismatch)
		}
		logger.Debug("connected", zap.Int("attempt", attempt))
		s.client = client
		return nil
	})
	if err != nil {
		s.setState(Disconnected)
		return nil, err
	}
	s.setState(Connected)
	return s, nil
}

func classifyDial(target Target, err error, mismatch bool) error {
	var se *SSHError
	if dafterrors.As(err, &se) {
		return se
	}
	switch {
	case mismatch:
		return &SSHError{Kind: HostKeyMismatch, Host: target.Host, Err: err}
	case strings.Contains(err.Error(), "unable to authenticate"):
		return &SSHError{Kind: AuthFailure, Host: target.Host, Err: err}
	default:
		return &SSHError{Kind: Unreachable, Host: target.Host, Err: err}
	}
}

// LoadSigner reads a private key. Keys readable by group or others, and keys protected by
// a passphrase, are refused.
func LoadSigner(fs afero.Fs, path string) (ssh.Signer, error) {
	if path == "" {
		return nil, dafterrors.New("no private key given")
	}
	info, err := fs.Stat(path)
	if err != nil {
		return nil, dafterrors.WrapAndTrace(err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("permissions %#o for %s are too open; run chmod 600 %s", info.Mode().Perm(), path, path)
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, dafterrors.WrapAndTrace(err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if dafterrors.As(err, &missing) {
			return nil, fmt.Errorf("%s is passphrase protected; use an unencrypted key", path)
		}
		return nil, dafterrors.WrapAndTrace(err, "parsing", path)
	}
	return signer, nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Target() Target {
	return s.target
}

func (s *Session) newSession() (*ssh.Session, error) {
	if s.State() != Connected {
		return nil, fmt.Errorf("ssh %s: session is %s", s.target.Host, s.State())
	}
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, &SSHError{Kind: Unreachable, Host: s.target.Host, Err: err}
	}
	return sess, nil
}

// Run executes command and streams its output. A non-zero exit is returned as the code with a
// nil error. When ctx ends first the remote process is sent SIGTERM and the channel closed.
func (s *Session) Run(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	sess, err := s.newSession()
	if err != nil {
		return -1, err
	}
	defer sess.Close() //nolint:errcheck // defer

	sess.Stdout = stdout
	sess.Stderr = stderr
	return s.wait(ctx, sess, command)
}

func (s *Session) wait(ctx context.Context, sess *ssh.Session, command string) (int, error) {
	s.logger.Debug("run", zap.String("command", command))
	if err := sess.Start(command); err != nil {
		return -1, dafterrors.WrapAndTrace(err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case err := <-done:
		return exitCode(err)
	case <-ctx.Done():
		if err := sess.Signal(ssh.SIGTERM); err != nil {
			s.logger.Debug("signal failed", zap.Error(err))
		}
		_ = sess.Close()
		return -1, ctx.Err() //nolint:wrapcheck // callers check for context.Canceled
	}
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if dafterrors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, dafterrors.WrapAndTrace(err)
}

// Upload streams r into remotePath, replacing it.
func (s *Session) Upload(ctx context.Context, r io.Reader, remotePath string) error {
	sess, err := s.newSession()
	if err != nil {
		return err
	}
	defer sess.Close() //nolint:errcheck // defer

	var stderr strings.Builder
	sess.Stdin = r
	sess.Stderr = &stderr
	code, err := s.wait(ctx, sess, "cat > "+shellescape.Quote(remotePath))
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("writing %s on %s exited with %d: %s", remotePath, s.target.Host, code, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Close releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return nil
	}
	s.state = Closed
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil && !dafterrors.Is(err, net.ErrClosed) {
		return dafterrors.WrapAndTrace(err)
	}
	return nil
}
