package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/pipelka/robotv-go/internal/config"
	"golang.org/x/net/netutil"
)

// Listener is the TCP accept loop: it enforces the host allow-list, caps
// concurrent connections and spawns one session per client.
type Listener struct {
	cfg    config.ServerConfig
	deps   *SessionDeps
	logger *slog.Logger

	allowed []netip.Prefix

	mu       sync.Mutex
	sessions map[int]*Session
	nextId   int

	wg sync.WaitGroup
}

// NewListener creates a listener. The allow-list is parsed from the
// configuration; an empty list admits every host.
func NewListener(cfg config.ServerConfig, deps *SessionDeps) (*Listener, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Listener{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		sessions: make(map[int]*Session),
	}

	for _, host := range cfg.AllowedHosts {
		prefix, err := parseHostPrefix(host)
		if err != nil {
			return nil, fmt.Errorf("parsing allowed host %q: %w", host, err)
		}
		l.allowed = append(l.allowed, prefix)
	}

	return l, nil
}

// parseHostPrefix accepts either a CIDR prefix or a bare address.
func parseHostPrefix(host string) (netip.Prefix, error) {
	if prefix, err := netip.ParsePrefix(host); err == nil {
		return prefix, nil
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Prefix{}, err
	}

	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// acceptable checks the peer address against the allow-list.
func (l *Listener) acceptable(remote net.Addr) bool {
	if len(l.allowed) == 0 {
		return true
	}

	tcpAddr, ok := remote.(*net.TCPAddr)
	if !ok {
		return false
	}

	addr, ok := netip.AddrFromSlice(tcpAddr.IP)
	if !ok {
		return false
	}
	addr = addr.Unmap()

	for _, prefix := range l.allowed {
		if prefix.Contains(addr) {
			return true
		}
	}

	return false
}

// Run accepts connections until the context is cancelled, then drains all
// sessions.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.cfg.Address())
	if err != nil {
		return fmt.Errorf("binding listen socket: %w", err)
	}

	if l.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, l.cfg.MaxConnections)
	}

	l.logger.Info("server started", slog.String("address", l.cfg.Address()))

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			l.logger.Error("accept failed", slog.String("error", err.Error()))
			continue
		}

		l.clientConnected(conn)
	}

	l.shutdown()
	l.logger.Info("server stopped")
	return nil
}

// clientConnected applies the allow-list and spawns the session.
func (l *Listener) clientConnected(conn net.Conn) {
	remote := conn.RemoteAddr()

	if !l.acceptable(remote) {
		l.logger.Warn("address not allowed to connect",
			slog.String("remote", remote.String()))
		_ = conn.Close()
		return
	}

	l.mu.Lock()
	id := l.nextId
	l.nextId++
	l.mu.Unlock()

	session := NewSession(id, conn, l.deps)

	l.mu.Lock()
	l.sessions[id] = session
	l.mu.Unlock()

	if l.deps.Metrics != nil {
		l.deps.Metrics.SessionsTotal.Inc()
		l.deps.Metrics.SessionsActive.Inc()
	}

	l.logger.Info("client connected",
		slog.String("remote", remote.String()),
		slog.Int("client_id", id))

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		session.Run()

		if l.deps.Metrics != nil {
			l.deps.Metrics.SessionsActive.Dec()
		}

		l.mu.Lock()
		delete(l.sessions, id)
		l.mu.Unlock()
	}()
}

// shutdown closes all sessions and waits for their goroutines.
func (l *Listener) shutdown() {
	l.mu.Lock()
	sessions := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	l.wg.Wait()
}

// SessionCount returns the number of active sessions.
func (l *Listener) SessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}
