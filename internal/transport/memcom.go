// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nishisan-dev/streamnet/internal/backoff"
	"github.com/nishisan-dev/streamnet/internal/model"
)

// memcomDirectory is the process-wide registry of bound in-memory endpoints.
// Unlike the TCP transport, MemCom places no limit on how many endpoints one
// process may bind: it exists so a single test binary can stand up both a
// sender and a receiver side by side.
var memcomDirectory = struct {
	mu        sync.Mutex
	endpoints map[string]*memcomEndpoint
}{endpoints: make(map[string]*memcomEndpoint)}

type memcomEndpoint struct {
	incoming chan memcomStream
	closed   chan struct{}
	once     sync.Once
}

type memcomStream struct {
	r io.ReadCloser
	w io.WriteCloser
}

// MemCom is an in-process Transport backed by io.Pipe pairs, used in tests
// and single-binary demos where a sender and receiver share one process.
// Rebinding an address that is already bound is permitted: the previous
// listener is replaced and a warning is logged, rather than returning an
// error (a deliberate divergence from treating a duplicate bind as fatal).
type MemCom struct {
	Logger *slog.Logger
}

// NewMemCom returns a MemCom transport. A nil logger disables warnings.
func NewMemCom(logger *slog.Logger) *MemCom {
	return &MemCom{Logger: logger}
}

func (m *MemCom) log() *slog.Logger {
	if m.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return m.Logger
}

// Bind implements Transport.
func (m *MemCom) Bind(this model.ThisConnectionIdentifier) (Listener, error) {
	addr := this.String()
	ep := &memcomEndpoint{
		incoming: make(chan memcomStream),
		closed:   make(chan struct{}),
	}

	memcomDirectory.mu.Lock()
	if _, exists := memcomDirectory.endpoints[addr]; exists {
		m.log().Warn("memcom: rebinding an already-bound endpoint", "address", addr)
	}
	memcomDirectory.endpoints[addr] = ep
	memcomDirectory.mu.Unlock()

	return &memcomListener{addr: addr, ep: ep}, nil
}

// Connect implements Transport. It retries with backoff.MemComConnect if the
// target is not yet bound, since sender and receiver startup order is not
// guaranteed.
func (m *MemCom) Connect(ctx context.Context, target model.ConnectionIdentifier) (io.ReadCloser, io.WriteCloser, error) {
	addr := target.String()
	seq := backoff.MemComConnect.New()

	for {
		memcomDirectory.mu.Lock()
		ep, ok := memcomDirectory.endpoints[addr]
		memcomDirectory.mu.Unlock()

		if ok {
			select {
			case <-ep.closed:
				// The endpoint was unbound between lookup and dial; treat as
				// not-yet-bound and keep retrying.
			default:
				clientR, serverW := io.Pipe()
				serverR, clientW := io.Pipe()
				select {
				case ep.incoming <- memcomStream{r: serverR, w: serverW}:
					return clientR, clientW, nil
				case <-ep.closed:
					clientR.Close()
					clientW.Close()
					serverR.Close()
					serverW.Close()
				case <-ctx.Done():
					clientR.Close()
					clientW.Close()
					serverR.Close()
					serverW.Close()
					return nil, nil, ctx.Err()
				}
			}
		}

		delay, again := seq.Next()
		if !again {
			return nil, nil, fmt.Errorf("transport: memcom %s never became reachable after %d attempts", addr, seq.Attempt())
		}
		if err := backoff.Sleep(ctx, delay); err != nil {
			return nil, nil, err
		}
	}
}

type memcomListener struct {
	addr string
	ep   *memcomEndpoint
}

func (l *memcomListener) Accept(ctx context.Context) (io.ReadCloser, io.WriteCloser, error) {
	select {
	case s := <-l.ep.incoming:
		return s.r, s.w, nil
	case <-l.ep.closed:
		return nil, nil, fmt.Errorf("transport: memcom listener %s closed", l.addr)
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (l *memcomListener) Close() error {
	l.ep.once.Do(func() { close(l.ep.closed) })

	memcomDirectory.mu.Lock()
	if current, ok := memcomDirectory.endpoints[l.addr]; ok && current == l.ep {
		delete(memcomDirectory.endpoints, l.addr)
	}
	memcomDirectory.mu.Unlock()
	return nil
}

// resetMemComDirectoryForTest clears all bound endpoints. Test-only.
func resetMemComDirectoryForTest() {
	memcomDirectory.mu.Lock()
	memcomDirectory.endpoints = make(map[string]*memcomEndpoint)
	memcomDirectory.mu.Unlock()
}
