package main

import (
	"context"
	"fmt"
	"sync"
	"syscall"

	"github.com/pebbe/zmq4"
)

// zmqPublisher publishes every event as a two-frame message: the event kind
// as topic, then the JSON body. Subscribers filter on the kind prefix.
type zmqPublisher struct {
	mu       sync.Mutex
	sock     *zmq4.Socket
	endpoint string
}

func newZMQPublisher(endpoint string) (*zmqPublisher, error) {
	sock, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("zmq socket: %w", err)
	}
	_ = sock.SetLinger(0)
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("zmq bind %s: %w", endpoint, err)
	}
	logger.Info("publishing events over zmq", "endpoint", endpoint)
	return &zmqPublisher{sock: sock, endpoint: endpoint}, nil
}

func (z *zmqPublisher) Name() string { return "zmq" }

func (z *zmqPublisher) Handle(_ context.Context, ev proxyEvent) error {
	if z == nil {
		return nil
	}
	body, err := fastJSONMarshal(ev)
	if err != nil {
		return err
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.sock == nil {
		return nil
	}
	_, err = z.sock.SendMessageDontwait(ev.Kind, body)
	if err != nil && zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
		return nil
	}
	return err
}

func (z *zmqPublisher) Close() error {
	if z == nil {
		return nil
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.sock == nil {
		return nil
	}
	err := z.sock.Close()
	z.sock = nil
	return err
}
