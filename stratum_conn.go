package main

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var (
	errPeerClosed = errors.New("connection closed by peer")
	errOutboxFull = errors.New("write queue full")
)

// lineConn owns one pool or worker socket. A reader goroutine frames the
// stream and a writer goroutine drains the outbox, so the event loop never
// blocks on network I/O. Callbacks always run on the loop.
type lineConn struct {
	label   string
	conn    net.Conn
	loop    *eventLoop
	metrics *ProxyMetrics

	onMessage func(*stratumMessage)
	onClose   func(error)

	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	detached  atomic.Bool
}

func newLineConn(loop *eventLoop, conn net.Conn, label string, metrics *ProxyMetrics, onMessage func(*stratumMessage), onClose func(error)) *lineConn {
	return &lineConn{
		label:     label,
		conn:      conn,
		loop:      loop,
		metrics:   metrics,
		onMessage: onMessage,
		onClose:   onClose,
		outbox:    make(chan []byte, outboxDepth),
		done:      make(chan struct{}),
	}
}

func (c *lineConn) start() {
	go c.readLoop()
	go c.writeLoop()
}

func (c *lineConn) remoteAddr() string {
	if c == nil || c.conn == nil || c.conn.RemoteAddr() == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

func (c *lineConn) readLoop() {
	decoder := newFrameDecoder(maxFrameBytes, func(line []byte, err error) {
		if c.metrics != nil {
			c.metrics.malformedLines.Add(1)
		}
		logger.Error("can't parse message", "conn", c.label, "line", string(line), "error", err)
	})
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			msgs, ferr := decoder.feed(buf[:n])
			if len(msgs) > 0 {
				c.loop.post(func() {
					for _, msg := range msgs {
						if c.detached.Load() {
							return
						}
						c.onMessage(msg)
					}
				})
			}
			if ferr != nil {
				c.fail(ferr)
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errPeerClosed
			}
			c.fail(err)
			return
		}
	}
}

func (c *lineConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.outbox:
			if err := c.writeBytes(b); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *lineConn) writeBytes(b []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(stratumWriteTimeout)); err != nil {
		return err
	}
	for len(b) > 0 {
		n, err := c.conn.Write(b)
		if n > 0 {
			b = b[n:]
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}

// send queues one line. A full outbox is treated as a broken peer.
func (c *lineConn) send(line []byte) bool {
	if c == nil || c.closed() {
		return false
	}
	b := make([]byte, 0, len(line)+1)
	b = append(b, line...)
	if len(b) == 0 || b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}
	if debugLogging {
		logger.Debug("send", "conn", c.label, "line", string(b[:len(b)-1]))
	}
	select {
	case c.outbox <- b:
		return true
	default:
		c.fail(errOutboxFull)
		return false
	}
}

func (c *lineConn) sendJSON(v any) bool {
	b, err := fastJSONMarshal(v)
	if err != nil {
		logger.Error("encode message", "conn", c.label, "error", err)
		return false
	}
	return c.send(b)
}

func (c *lineConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// close tears the socket down without reporting it to onClose. Messages
// already queued for the loop are discarded.
func (c *lineConn) close() {
	if c == nil {
		return
	}
	c.detached.Store(true)
	c.shutdown(nil)
}

// fail tears the socket down and reports err to onClose on the loop, once.
func (c *lineConn) fail(err error) {
	c.shutdown(err)
}

func (c *lineConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		if err == nil || c.onClose == nil {
			return
		}
		// fail may run on the loop itself, so report from a fresh goroutine.
		go c.loop.post(func() {
			if c.detached.Load() {
				return
			}
			c.onClose(err)
		})
	})
}
