package finagle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// stubConn is a dispatch-capable connection for pool and pipeline tests.
type stubConn struct {
	dispatch func(ctx context.Context, req any) (any, error)
	closed   atomic.Int32
}

func (c *stubConn) Dispatch(ctx context.Context, req any) (any, error) {
	if c.dispatch != nil {
		return c.dispatch(ctx, req)
	}
	return req, nil
}

func (c *stubConn) Close() error {
	c.closed.Add(1)
	return nil
}

// fakeNetConn satisfies net.Conn without touching the network.
type fakeNetConn struct {
	closed atomic.Bool
}

func (c *fakeNetConn) Read(b []byte) (int, error)  { return 0, errors.New("read on fake conn") }
func (c *fakeNetConn) Write(b []byte) (int, error) { return len(b), nil }

func (c *fakeNetConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeNetConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *fakeNetConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (c *fakeNetConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeNetConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeNetConn) SetWriteDeadline(time.Time) error { return nil }

// testBackend simulates a set of hosts behind an in-memory transport. Each
// host may refuse dials or serve a custom handler; the default handler
// echoes the request.
type testBackend struct {
	mu       sync.Mutex
	handlers map[string]func(ctx context.Context, req any) (any, error)
	refuse   map[string]bool
	dials    map[string]int
}

func newTestBackend() *testBackend {
	return &testBackend{
		handlers: make(map[string]func(ctx context.Context, req any) (any, error)),
		refuse:   make(map[string]bool),
		dials:    make(map[string]int),
	}
}

func (b *testBackend) setHandler(host string, h func(ctx context.Context, req any) (any, error)) {
	b.mu.Lock()
	b.handlers[host] = h
	b.mu.Unlock()
}

func (b *testBackend) setRefuse(host string, refuse bool) {
	b.mu.Lock()
	b.refuse[host] = refuse
	b.mu.Unlock()
}

func (b *testBackend) dialCount(host string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials[host]
}

func (b *testBackend) transporter(TransportConfig) Transporter {
	return TransporterFunc(func(ctx context.Context, addr string) (net.Conn, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.dials[addr]++
		if b.refuse[addr] {
			return nil, fmt.Errorf("dial %s: connection refused", addr)
		}
		return &fakeNetConn{}, nil
	})
}

func (b *testBackend) codec(cfg CodecConfig) Codec {
	return &backendCodec{backend: b, host: cfg.Host}
}

type backendCodec struct {
	backend *testBackend
	host    string
}

func (c *backendCodec) NewConn(raw net.Conn) Conn {
	return &backendConn{backend: c.backend, host: c.host, raw: raw}
}

func (c *backendCodec) PrepareConn(ctx context.Context, conn Conn) (Conn, error) {
	return conn, nil
}

func (c *backendCodec) PrepareService(ctx context.Context, svc Service) (Service, error) {
	return svc, nil
}

func (c *backendCodec) FailFastOK() bool { return true }

type backendConn struct {
	backend *testBackend
	host    string
	raw     net.Conn
}

func (c *backendConn) Dispatch(ctx context.Context, req any) (any, error) {
	c.backend.mu.Lock()
	h := c.backend.handlers[c.host]
	c.backend.mu.Unlock()
	if h == nil {
		return req, nil
	}
	return h(ctx, req)
}

func (c *backendConn) Close() error { return c.raw.Close() }

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record(msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record(msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record(msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record(msg) }

func (l *recordingLogger) contains(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m == msg {
			return true
		}
	}
	return false
}
