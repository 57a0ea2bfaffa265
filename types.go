package finagle

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Service is the core request-handling capability: one logical request in,
// one response or error out. Implementations must be safe for concurrent use.
type Service interface {
	Call(ctx context.Context, req any) (any, error)
	Close() error
}

// ServiceFunc adapts a plain function to the Service interface.
type ServiceFunc func(ctx context.Context, req any) (any, error)

func (f ServiceFunc) Call(ctx context.Context, req any) (any, error) { return f(ctx, req) }

func (f ServiceFunc) Close() error { return nil }

// ServiceFactory yields ready-to-use services. A service obtained from
// NewService is typically bound to one pooled connection and must be closed
// to return that connection.
type ServiceFactory interface {
	NewService(ctx context.Context) (Service, error)
	Close() error
}

// Filter decorates a Service. Filters are composed outer-to-inner into the
// client's request path; see the chain assembled in Build.
type Filter func(ctx context.Context, req any, next Service) (any, error)

// Conn is a dispatch-capable protocol connection. Codecs produce them by
// wrapping raw transport connections with framing.
type Conn interface {
	Dispatch(ctx context.Context, req any) (any, error)
	Close() error
}

// Codec supplies the protocol-specific pieces of a client pipeline. It is an
// external collaborator; finagle only calls through this interface.
type Codec interface {
	// NewConn wraps a raw network connection with protocol framing.
	NewConn(raw net.Conn) Conn

	// PrepareConn runs the protocol's connection-preparation step, for
	// example an application-level handshake. The returned Conn replaces
	// the input in the pipeline.
	PrepareConn(ctx context.Context, conn Conn) (Conn, error)

	// PrepareService decorates the per-connection service, for example
	// with protocol-level request rewriting.
	PrepareService(ctx context.Context, svc Service) (Service, error)

	// FailFastOK reports whether the fail-fast health signal is compatible
	// with this protocol.
	FailFastOK() bool
}

// CodecConfig carries per-host parameters to a CodecFactory.
type CodecConfig struct {
	ClientName string
	Host       string
}

// CodecFactory builds a Codec for one host.
type CodecFactory func(cfg CodecConfig) Codec

// TransportConfig carries the socket-level knobs a Transporter is built
// from. All fields come from the client configuration.
type TransportConfig struct {
	ConnectTimeout    time.Duration
	KeepAlive         bool
	SendBufferSize    int
	RecvBufferSize    int
	ReaderIdleTimeout time.Duration
	WriterIdleTimeout time.Duration
	TLS               *tls.Config
}

// Transporter dials raw connections. Finagle never opens sockets outside of
// a Transporter.
type Transporter interface {
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// TransporterFunc adapts a dial function to the Transporter interface.
type TransporterFunc func(ctx context.Context, addr string) (net.Conn, error)

func (f TransporterFunc) Dial(ctx context.Context, addr string) (net.Conn, error) {
	return f(ctx, addr)
}

// TransporterFactory builds a Transporter from transport configuration.
type TransporterFactory func(cfg TransportConfig) Transporter

// RetryPolicy classifies failed attempts. ShouldRetry returns the delay
// before the next attempt and whether a retry should happen at all.
// Implementations must be pure with respect to the error and attempt number.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) (time.Duration, bool)
}

// RetryPolicyFunc adapts a function to the RetryPolicy interface.
type RetryPolicyFunc func(err error, attempt int) (time.Duration, bool)

func (f RetryPolicyFunc) ShouldRetry(err error, attempt int) (time.Duration, bool) {
	return f(err, attempt)
}

// Monitor receives errors that surface outside any request path, such as
// panics recovered in background maintenance.
type Monitor func(err error)
