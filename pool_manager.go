package main

import (
	"context"
	"fmt"
	"net"

	"github.com/hako/durafmt"
)

// connectPool starts a session to pools[idx]. A probe is the background
// attempt to get back to the primary while a backup is current; otherwise
// the session is the next link of the failover chain.
func (p *Proxy) connectPool(idx int, probe bool) *poolSession {
	ep := p.pools[idx]
	s := newPoolSession(idx, ep)
	if probe {
		p.primaryProbe = s
	} else {
		p.chainSession = s
		p.currPoolNum = idx
	}
	if verboseLogging {
		logger.Info("connecting to pool", "pool", ep, "session", s.id, "tls", ep.tls, "probe", probe)
	}

	ctx, cancel := context.WithCancel(p.ctx)
	s.cancelDial = cancel
	s.readyTimer = p.loop.afterFunc(p.cfg.ReadyTimeout, func() {
		if s.closed() || s.ready() {
			return
		}
		logger.Error("pool did not send a job in time", "pool", ep, "session", s.id, "timeout", p.cfg.ReadyTimeout)
		p.poolFailed(s, errReadyTimeout)
	})

	go func() {
		conn, err := p.dialer.Dial(ctx, ep)
		posted := p.loop.post(func() {
			cancel()
			if s.closed() {
				if conn != nil {
					_ = conn.Close()
				}
				return
			}
			s.cancelDial = nil
			if err != nil {
				logger.Error("pool socket error", "pool", ep, "session", s.id, "error", err)
				p.poolFailed(s, err)
				return
			}
			p.onPoolConnected(s, conn)
		})
		if !posted && conn != nil {
			_ = conn.Close()
		}
	}()
	return s
}

func (p *Proxy) onPoolConnected(s *poolSession, conn net.Conn) {
	s.link = newLineConn(p.loop, conn, "pool "+s.endpoint.String(), p.metrics,
		func(msg *stratumMessage) { p.onPoolMessage(s, msg) },
		func(err error) {
			if s.closed() {
				return
			}
			logger.Error("pool socket error", "pool", s.endpoint, "session", s.id, "error", err)
			p.poolFailed(s, err)
		})
	s.link.start()
	s.state = sessionAuthenticated
	login := newPoolLogin(p.cfg.User, p.cfg.Pass, p.cfg.boundAlgos(), p.cfg.AlgoPerf)
	s.link.sendJSON(login)
}

func (p *Proxy) onPoolMessage(s *poolSession, msg *stratumMessage) {
	if s.closed() {
		return
	}
	p.metrics.poolMessages.Add(1)
	if debugLogging {
		logger.Debug("pool message", "pool", s.endpoint, "line", string(msg.raw))
	}
	isJob := msg.isJob()
	if !s.ready() {
		if !isJob {
			logger.Warn("ignoring pool message that does not contain job", "pool", s.endpoint, "line", string(msg.raw))
			return
		}
		p.poolReady(s)
	}
	if s != p.currPool {
		p.internalError("message from a pool session that is not current", "pool", s.endpoint, "session", s.id)
		return
	}
	p.routePoolMessage(msg, isJob)
}

// poolReady promotes s to the current session.
func (p *Proxy) poolReady(s *poolSession) {
	s.state = sessionReady
	s.readyTimer.stop()
	s.readyTimer = nil

	if s == p.primaryProbe {
		p.primaryProbe = nil
	}
	if s.index != 0 {
		if !p.primaryRetryPending() {
			p.schedulePrimaryRetry()
		}
	} else if p.primaryRetryPending() {
		if verboseLogging {
			logger.Info("stopped main pool connection attempts since its connection was established")
		}
		p.cancelPrimaryRetry()
	}

	prev := p.currPool
	if prev != nil && prev != s {
		if verboseLogging {
			logger.Info("closing pool socket", "pool", prev.endpoint, "session", prev.id)
		}
		prev.close()
	}
	if p.chainSession != nil && p.chainSession != s && p.chainSession != prev {
		p.chainSession.close()
	}
	p.backoff.stop()
	p.backoff = nil

	restored := s.index == 0 && prev != nil && prev.index != 0
	p.chainSession = s
	p.currPool = s
	p.currPoolNum = s.index
	p.job.clear()

	if !quietMode {
		logger.Info("connected to pool", "pool", s.endpoint, "session", s.id)
	}
	if prev == nil && p.minerLink != nil {
		logger.Info("pool <-> miner link was established due to new pool connection", "pool", s.endpoint)
	}
	p.publish(proxyEvent{
		Kind:      eventPoolConnected,
		Message:   fmt.Sprintf("connected to pool %s", s.endpoint),
		Pool:      s.endpoint.String(),
		SessionID: s.id,
	})
	if restored {
		p.metrics.primaryRestores.Add(1)
		p.publish(proxyEvent{
			Kind:      eventPrimaryRestored,
			Message:   fmt.Sprintf("primary pool %s is back, leaving backup %s", s.endpoint, prev.endpoint),
			Pool:      s.endpoint.String(),
			SessionID: s.id,
		})
	}
}

// poolFailed handles a socket error, close, dial failure or ready timeout.
func (p *Proxy) poolFailed(s *poolSession, err error) {
	if s.closed() {
		return
	}
	if s == p.primaryProbe {
		s.close()
		p.primaryProbe = nil
		if verboseLogging {
			logger.Warn("main pool connection attempt failed", "pool", s.endpoint, "error", err)
		}
		p.schedulePrimaryRetry()
		return
	}
	if s != p.chainSession {
		s.close()
		p.internalError("unexpected pool session failure", "pool", s.endpoint, "session", s.id, "error", err)
		return
	}

	wasCurrent := s == p.currPool
	s.close()
	if wasCurrent && p.minerLink != nil {
		logger.Error("pool <-> miner link was broken due to pool socket error", "pool", s.endpoint)
	}
	p.currPool = nil
	p.chainSession = nil
	p.job.clear()
	p.metrics.failovers.Add(1)
	p.metrics.RecordErrorEvent("pool", fmt.Sprintf("%s: %v", s.endpoint, err), nowFunc())

	next := s.index + 1
	if next >= len(p.pools) {
		next = 0
		p.currPoolNum = 0
		p.cancelPrimaryRetry()
		if verboseLogging {
			logger.Info("waiting before trying to connect to the same pools once again", "delay", durafmt.Parse(p.cfg.FailoverBackoff).String())
		}
		p.backoff = p.loop.afterFunc(p.cfg.FailoverBackoff, func() {
			p.backoff = nil
			p.connectPool(0, false)
		})
	} else {
		p.currPoolNum = next
		p.connectPool(next, false)
	}
	p.publish(proxyEvent{
		Kind:      eventPoolFailover,
		Message:   fmt.Sprintf("pool %s failed (%v), switching to %s", s.endpoint, err, p.pools[next]),
		Pool:      s.endpoint.String(),
		SessionID: s.id,
	})
}

func (p *Proxy) primaryRetryPending() bool {
	return p.primaryRetry.active() || p.primaryProbe != nil
}

func (p *Proxy) schedulePrimaryRetry() {
	p.primaryRetry.stop()
	if verboseLogging {
		logger.Info("will retry connection attempt to the main pool", "delay", durafmt.Parse(p.cfg.PrimaryRetryDelay).String())
	}
	p.primaryRetry = p.loop.afterFunc(p.cfg.PrimaryRetryDelay, func() {
		p.primaryRetry = nil
		if p.primaryProbe != nil || len(p.pools) == 0 {
			return
		}
		if p.currPool != nil && p.currPool.index == 0 {
			return
		}
		if p.chainSession != nil && p.chainSession.index == 0 {
			return
		}
		p.connectPool(0, true)
	})
}

// cancelPrimaryRetry stops the retry timer and any probe in flight.
func (p *Proxy) cancelPrimaryRetry() {
	p.primaryRetry.stop()
	p.primaryRetry = nil
	if p.primaryProbe != nil {
		p.primaryProbe.close()
		p.primaryProbe = nil
	}
}
