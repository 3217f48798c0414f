// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/nishisan-dev/streamnet/internal/model"
)

// tcpRegistry allows at most one TCP service per process, whatever its
// address: a mutex-guarded set of addresses currently bound, where any entry
// makes Bind fail, released on Listener.Close.
var tcpRegistry = struct {
	mu    sync.Mutex
	bound map[string]struct{}
}{bound: make(map[string]struct{})}

// TCP is the production Transport: plain IPv4/IPv6 TCP sockets. It carries
// no TLS or authentication of its own; that layer is left to the host.
type TCP struct{}

// NewTCP returns a TCP transport.
func NewTCP() *TCP { return &TCP{} }

// Bind implements Transport.
func (TCP) Bind(this model.ThisConnectionIdentifier) (Listener, error) {
	addr := this.String()

	tcpRegistry.mu.Lock()
	if len(tcpRegistry.bound) > 0 {
		tcpRegistry.mu.Unlock()
		return nil, fmt.Errorf("transport: a TCP service is already bound in this process (only one is allowed)")
	}
	tcpRegistry.bound[addr] = struct{}{}
	tcpRegistry.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		tcpRegistry.mu.Lock()
		delete(tcpRegistry.bound, addr)
		tcpRegistry.mu.Unlock()
		return nil, fmt.Errorf("transport: binding %s: %w", addr, err)
	}
	return &tcpListener{ln: ln, addr: addr}, nil
}

// Connect implements Transport.
func (TCP) Connect(ctx context.Context, target model.ConnectionIdentifier) (io.ReadCloser, io.WriteCloser, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target.String())
	if err != nil {
		return nil, nil, fmt.Errorf("transport: dialing %s: %w", target, err)
	}
	return halfClose(conn)
}

type tcpListener struct {
	ln   net.Listener
	addr string
}

func (l *tcpListener) Accept(ctx context.Context) (io.ReadCloser, io.WriteCloser, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, nil, fmt.Errorf("transport: accepting on %s: %w", l.addr, r.err)
		}
		return halfClose(r.conn)
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (l *tcpListener) Close() error {
	tcpRegistry.mu.Lock()
	delete(tcpRegistry.bound, l.addr)
	tcpRegistry.mu.Unlock()
	return l.ln.Close()
}

// halfCloser lets the reader half and writer half of a net.Conn be closed
// independently when the concrete type supports it (*net.TCPConn does via
// CloseRead/CloseWrite); otherwise both halves share one full Close.
type halfCloser struct {
	net.Conn
	closeRead  func() error
	closeWrite func() error
	writeSide  bool
}

func (h *halfCloser) Close() error {
	if h.writeSide && h.closeWrite != nil {
		return h.closeWrite()
	}
	if !h.writeSide && h.closeRead != nil {
		return h.closeRead()
	}
	return h.Conn.Close()
}

func halfClose(conn net.Conn) (io.ReadCloser, io.WriteCloser, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return conn, conn, nil
	}
	reader := &halfCloser{Conn: tc, closeRead: tc.CloseRead, closeWrite: tc.CloseWrite, writeSide: false}
	writer := &halfCloser{Conn: tc, closeRead: tc.CloseRead, closeWrite: tc.CloseWrite, writeSide: true}
	return reader, writer, nil
}
