package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// poolEndpoint is one entry of the ordered pool list. Index 0 is the
// primary; the rest are backups tried in order.
type poolEndpoint struct {
	raw  string
	host string
	port int
	tls  bool
}

func (e poolEndpoint) String() string {
	return e.raw
}

func (e poolEndpoint) address() string {
	return net.JoinHostPort(e.host, strconv.Itoa(e.port))
}

// parsePoolEndpoint accepts host:port. A port written as sslN or tlsN selects
// an encrypted connection to port N.
func parsePoolEndpoint(raw string) (poolEndpoint, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return poolEndpoint{}, fmt.Errorf("expected host:port")
	}
	host, portStr := strings.TrimSpace(parts[0]), strings.ToLower(strings.TrimSpace(parts[1]))
	if host == "" {
		return poolEndpoint{}, fmt.Errorf("missing host")
	}
	useTLS := false
	for _, prefix := range []string{"ssl", "tls"} {
		if strings.HasPrefix(portStr, prefix) {
			portStr = strings.TrimPrefix(portStr, prefix)
			useTLS = true
			break
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return poolEndpoint{}, fmt.Errorf("invalid port %q", parts[1])
	}
	return poolEndpoint{raw: raw, host: host, port: port, tls: useTLS}, nil
}

func parsePoolEndpoints(pools []string) ([]poolEndpoint, error) {
	out := make([]poolEndpoint, 0, len(pools))
	for _, raw := range pools {
		ep, err := parsePoolEndpoint(raw)
		if err != nil {
			return nil, fmt.Errorf("pool %q: %w", raw, err)
		}
		out = append(out, ep)
	}
	return out, nil
}
