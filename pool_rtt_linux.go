//go:build linux

package main

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// connRTT returns the kernel's smoothed RTT estimate for conn, or 0 when it
// is not a TCP socket.
func connRTT(conn net.Conn) time.Duration {
	tc := unwrapTCPConn(conn)
	if tc == nil {
		return 0
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return 0
	}
	var info *unix.TCPInfo
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		info, sockErr = unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	}); err != nil || sockErr != nil || info == nil {
		return 0
	}
	// tcpi_rtt is in microseconds.
	return time.Duration(info.Rtt) * time.Microsecond
}
