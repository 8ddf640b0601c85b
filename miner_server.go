package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

func minerListenAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

func listenMiners(port int) (net.Listener, error) {
	addr := minerListenAddr(port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// serveMiners accepts local worker connections until ctx is done.
func (p *Proxy) serveMiners(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error("accept error", "listener", ln.Addr().String(), "error", err)
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		if !p.loop.post(func() { p.acceptMiner(conn) }) {
			_ = conn.Close()
			return
		}
	}
}

// acceptMiner admits conn unless another worker connection is open.
func (p *Proxy) acceptMiner(conn net.Conn) {
	if p.minerConn != nil {
		p.metrics.minerRejected.Add(1)
		logger.Error("miner server is already connected (please make sure you do not have other miner running)", "port", p.cfg.MinerPort, "remote", conn.RemoteAddr().String())
		_ = conn.Close()
		return
	}
	if verboseLogging {
		logger.Info("miner server connected", "port", p.cfg.MinerPort, "remote", conn.RemoteAddr().String())
	}
	var lc *lineConn
	lc = newLineConn(p.loop, conn, "miner", p.metrics,
		func(msg *stratumMessage) { p.onMinerMessage(lc, msg) },
		func(err error) { p.onMinerClose(lc, err) })
	p.minerConn = lc
	lc.start()
}

func (p *Proxy) onMinerMessage(lc *lineConn, msg *stratumMessage) {
	if lc != p.minerConn {
		return
	}
	p.metrics.minerMessages.Add(1)
	if debugLogging {
		logger.Debug("miner message", "line", string(msg.raw))
	}
	switch {
	case msg.isLogin():
		if p.loginHandler != nil {
			p.loginHandler(msg, lc)
		} else {
			logger.Warn("ignoring miner login while no login handler is set")
		}
	case p.currPool != nil && p.currPool.link != nil:
		p.currPool.link.send(msg.raw)
	case p.steady:
		logger.Error("can't write miner reply to the pool since its socket is closed")
	default:
		if debugLogging {
			logger.Debug("dropping miner message during calibration", "line", string(msg.raw))
		}
	}
	p.lastActivity = nowFunc()
}

func (p *Proxy) onMinerClose(lc *lineConn, err error) {
	if lc != p.minerConn {
		return
	}
	if errors.Is(err, errPeerClosed) {
		if verboseLogging {
			logger.Info("miner socket was closed")
		}
	} else {
		logger.Error("miner socket error", "error", err)
	}
	if p.currPool != nil && p.minerLink != nil {
		logger.Error("pool <-> miner link was broken due to closed miner socket", "pool", p.currPool.endpoint)
	}
	p.minerConn = nil
	p.minerLink = nil
}

// dropMinerConn closes the worker connection, if any, so the next worker can
// connect.
func (p *Proxy) dropMinerConn() {
	if p.minerConn != nil {
		p.minerConn.close()
	}
	p.minerConn = nil
	p.minerLink = nil
}
