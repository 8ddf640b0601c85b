package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

var errReadyTimeout = errors.New("pool sent no job before the ready timeout")

type poolDialer interface {
	Dial(ctx context.Context, ep poolEndpoint) (net.Conn, error)
}

// netPoolDialer connects over TCP, or TLS without certificate verification
// since mining pools commonly use self-signed certificates.
type netPoolDialer struct {
	timeout time.Duration
}

func (d netPoolDialer) Dial(ctx context.Context, ep poolEndpoint) (net.Conn, error) {
	timeout := d.timeout
	if timeout <= 0 {
		timeout = poolDialTimeout
	}
	nd := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	if !ep.tls {
		return nd.DialContext(ctx, "tcp", ep.address())
	}
	td := &tls.Dialer{
		NetDialer: nd,
		Config: &tls.Config{
			ServerName:         ep.host,
			InsecureSkipVerify: true,
		},
	}
	return td.DialContext(ctx, "tcp", ep.address())
}

type sessionState int

const (
	sessionConnecting sessionState = iota
	sessionAuthenticated
	sessionReady
	sessionClosed
)

func (s sessionState) String() string {
	switch s {
	case sessionConnecting:
		return "connecting"
	case sessionAuthenticated:
		return "authenticated"
	case sessionReady:
		return "ready"
	case sessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// poolSession is one connection attempt to one endpoint.
type poolSession struct {
	id         string
	index      int
	endpoint   poolEndpoint
	state      sessionState
	link       *lineConn
	readyTimer *loopTimer
	cancelDial context.CancelFunc
	startedAt  time.Time
}

func newPoolSession(index int, ep poolEndpoint) *poolSession {
	return &poolSession{
		id:        uuid.NewString(),
		index:     index,
		endpoint:  ep,
		state:     sessionConnecting,
		startedAt: nowFunc(),
	}
}

func (s *poolSession) String() string {
	return fmt.Sprintf("%s#%d", s.endpoint, s.index)
}

func (s *poolSession) ready() bool {
	return s != nil && s.state == sessionReady
}

func (s *poolSession) closed() bool {
	return s == nil || s.state == sessionClosed
}

// close marks the session closed and releases its socket. Later socket
// events for it are ignored.
func (s *poolSession) close() {
	if s == nil || s.state == sessionClosed {
		return
	}
	s.state = sessionClosed
	s.readyTimer.stop()
	s.readyTimer = nil
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if s.link != nil {
		s.link.close()
	}
}

// unwrapTCPConn peels TLS and similar wrappers off conn.
func unwrapTCPConn(conn net.Conn) *net.TCPConn {
	type netConnGetter interface {
		NetConn() net.Conn
	}
	for i := 0; i < 4 && conn != nil; i++ {
		if tc, ok := conn.(*net.TCPConn); ok {
			return tc
		}
		getter, ok := conn.(netConnGetter)
		if !ok {
			return nil
		}
		next := getter.NetConn()
		if next == nil || next == conn {
			return nil
		}
		conn = next
	}
	return nil
}
