package control

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/wayguide/wayguide/internal/monitoring"
	"github.com/wayguide/wayguide/internal/serialmux"
	"github.com/wayguide/wayguide/internal/timeutil"
)

// Link is one connected client.
type Link = serialmux.LineMux

// Acceptor yields one Link per connecting client. Accept blocks until a
// client arrives or ctx ends.
type Acceptor interface {
	Accept(ctx context.Context) (Link, error)
	Close() error
}

// SerialAcceptor waits for an RFCOMM device node to become openable. The
// node appears when a paired phone connects to the bound channel.
type SerialAcceptor struct {
	Path          string
	Options       serialmux.PortOptions
	Open          serialmux.PortOpener
	RetryInterval time.Duration
	Clock         timeutil.Clock
}

// NewSerialAcceptor returns an acceptor for the device at path.
func NewSerialAcceptor(path string, opts serialmux.PortOptions, retry time.Duration) *SerialAcceptor {
	return &SerialAcceptor{
		Path:          path,
		Options:       opts,
		Open:          serialmux.OpenPort,
		RetryInterval: retry,
		Clock:         timeutil.RealClock{},
	}
}

func (a *SerialAcceptor) Accept(ctx context.Context) (Link, error) {
	logged := false
	for {
		port, err := a.Open(a.Path, a.Options)
		if err == nil {
			return serialmux.NewSerialMux(port), nil
		}
		if !logged {
			monitoring.Logf("[control] waiting for %s: %v", a.Path, err)
			logged = true
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.Clock.After(a.RetryInterval):
		}
	}
}

func (a *SerialAcceptor) Close() error { return nil }

// TCPAcceptor accepts bench clients over TCP, one at a time.
type TCPAcceptor struct {
	ln net.Listener
}

// ListenTCP opens a TCP acceptor on addr.
func ListenTCP(addr string) (*TCPAcceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPAcceptor{ln: ln}, nil
}

// Addr returns the bound address.
func (a *TCPAcceptor) Addr() net.Addr { return a.ln.Addr() }

type acceptResult struct {
	conn net.Conn
	err  error
}

func (a *TCPAcceptor) Accept(ctx context.Context) (Link, error) {
	ch := make(chan acceptResult, 1)
	go func() {
		c, err := a.ln.Accept()
		ch <- acceptResult{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return serialmux.NewSerialMux[serialmux.SerialPorter](r.conn), nil
	case <-ctx.Done():
		// unblock the pending Accept; the server is shutting down
		a.ln.Close()
		if r := <-ch; r.conn != nil {
			r.conn.Close()
		}
		return nil, ctx.Err()
	}
}

func (a *TCPAcceptor) Close() error {
	err := a.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
