package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

// Tunnel forwards a local port to a port on the remote host's loopback interface.
type Tunnel struct {
	session    *Session
	listener   net.Listener
	remotePort int
	cancel     context.CancelFunc
	done       chan struct{}

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// OpenTunnel listens on 127.0.0.1:localPort (0 picks a free port) and forwards every
// accepted connection to remotePort on the head node. The tunnel closes with ctx.
func (s *Session) OpenTunnel(ctx context.Context, localPort, remotePort int) (*Tunnel, error) {
	if s.State() != Connected {
		return nil, fmt.Errorf("ssh %s: session is %s", s.target.Host, s.State())
	}
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort)))
	if err != nil {
		return nil, dafterrors.WrapAndTrace(err, "listening on local port", strconv.Itoa(localPort))
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &Tunnel{
		session:    s,
		listener:   l,
		remotePort: remotePort,
		cancel:     cancel,
		done:       make(chan struct{}),
		conns:      map[net.Conn]struct{}{},
	}
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	go t.serve()
	s.logger.Debug("tunnel open", zap.String("local", t.LocalAddr()), zap.Int("remote_port", remotePort))
	return t, nil
}

// LocalAddr is host:port of the local end.
func (t *Tunnel) LocalAddr() string {
	return t.listener.Addr().String()
}

func (t *Tunnel) LocalPort() int {
	if addr, ok := t.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (t *Tunnel) serve() {
	defer close(t.done)
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			return
		}
		if !t.track(local) {
			_ = local.Close()
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer t.untrack(local)
			t.forward(local)
		}()
	}
}

func (t *Tunnel) forward(local net.Conn) {
	remote, err := t.session.client.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(t.remotePort)))
	if err != nil {
		t.session.logger.Warn("tunnel dial failed", zap.Int("remote_port", t.remotePort), zap.Error(err))
		_ = local.Close()
		return
	}
	if !t.track(remote) {
		_ = remote.Close()
		_ = local.Close()
		return
	}
	defer t.untrack(remote)
	defer remote.Close() //nolint:errcheck // defer
	defer local.Close()  //nolint:errcheck // defer

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(remote, local)
		closeWrite(remote)
		return err //nolint:wrapcheck // logged below
	})
	g.Go(func() error {
		_, err := io.Copy(local, remote)
		closeWrite(local)
		return err //nolint:wrapcheck // logged below
	})
	if err := g.Wait(); err != nil {
		t.session.logger.Debug("tunnel connection ended", zap.Error(err))
	}
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = c.Close()
}

func (t *Tunnel) track(c net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns == nil {
		return false
	}
	t.conns[c] = struct{}{}
	return true
}

func (t *Tunnel) untrack(c net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, c)
}

// Close stops accepting, drops open connections and waits for the forwarders to exit.
func (t *Tunnel) Close() error {
	t.cancel()
	err := t.listener.Close()
	t.mu.Lock()
	for c := range t.conns {
		_ = c.Close()
	}
	t.conns = nil
	t.mu.Unlock()
	<-t.done
	if err != nil && !dafterrors.Is(err, net.ErrClosed) {
		return dafterrors.WrapAndTrace(err)
	}
	return nil
}

// Done is closed once the tunnel has stopped.
func (t *Tunnel) Done() <-chan struct{} {
	return t.done
}

// WithTunnel runs fn while a tunnel is open and closes it on every path.
func (s *Session) WithTunnel(ctx context.Context, localPort, remotePort int, fn func(ctx context.Context, t *Tunnel) error) error {
	t, err := s.OpenTunnel(ctx, localPort, remotePort)
	if err != nil {
		return err
	}
	fnErr := fn(ctx, t)
	closeErr := t.Close()
	if fnErr != nil {
		return fnErr
	}
	return closeErr
}
