package finagle

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"
)

// Required-field markers tracked by the builder.
const (
	specCluster = 1 << iota
	specCodec
	specHostConnectionLimit
)

// ClientBuilder accumulates a ClientConfig. It is a value type: every
// setter returns a new builder and leaves its receiver untouched, so
// partially applied builders may be shared and forked freely.
//
// Go cannot carry "which required fields are set" in the builder's type the
// way phantom type markers would, so completeness is enforced by explicit
// validation instead: Build, BuildFactory and Validate fail with
// *IncompleteSpecification before any network action when cluster, codec or
// host connection limit is missing. MustBuild is the panicking variant for
// wiring known to be statically correct.
type ClientBuilder struct {
	cfg ClientConfig
	set uint8
	err error
}

// NewClientBuilder creates a builder holding only defaults.
func NewClientBuilder() ClientBuilder {
	return ClientBuilder{cfg: defaultClientConfig()}
}

func (b ClientBuilder) with(mut func(*ClientConfig)) ClientBuilder {
	b.cfg = b.cfg.with(mut)
	return b
}

// fail records the first local validation error; it is surfaced by
// Validate rather than panicking mid-chain.
func (b ClientBuilder) fail(msg string) ClientBuilder {
	if b.err == nil {
		b.err = &ClientError{Type: ErrorTypeValidation, Message: msg, Timestamp: time.Now()}
	}
	return b
}

// Hosts configures a static cluster from a comma- or whitespace-separated
// "host:port" list.
func (b ClientBuilder) Hosts(list string) ClientBuilder {
	hosts := parseHostList(list)
	if len(hosts) == 0 {
		return b.fail("hosts list is empty")
	}
	return b.Cluster(NewStaticCluster(hosts...))
}

// Addrs configures a static cluster from explicit addresses.
func (b ClientBuilder) Addrs(addrs ...string) ClientBuilder {
	if len(addrs) == 0 {
		return b.fail("addrs list is empty")
	}
	return b.Cluster(NewStaticCluster(addrs...))
}

// Cluster supplies the set of candidate hosts. Required.
func (b ClientBuilder) Cluster(c Cluster) ClientBuilder {
	if c == nil {
		return b.fail("cluster must not be nil")
	}
	b = b.with(func(cfg *ClientConfig) { cfg.cluster = c })
	b.set |= specCluster
	return b
}

// Codec supplies the protocol codec factory. Required.
func (b ClientBuilder) Codec(f CodecFactory) ClientBuilder {
	if f == nil {
		return b.fail("codec factory must not be nil")
	}
	b = b.with(func(cfg *ClientConfig) { cfg.codecFactory = f })
	b.set |= specCodec
	return b
}

// HostConnectionLimit bounds live connections per host. Required.
func (b ClientBuilder) HostConnectionLimit(n int) ClientBuilder {
	if n <= 0 {
		return b.fail("hostConnectionLimit must be positive")
	}
	b = b.with(func(cfg *ClientConfig) { cfg.pool.Limit = n })
	b.set |= specHostConnectionLimit
	return b
}

// HostConnectionCoresize sets the pool's low watermark.
func (b ClientBuilder) HostConnectionCoresize(n int) ClientBuilder {
	if n < 0 {
		return b.fail("hostConnectionCoresize must be non-negative")
	}
	return b.with(func(cfg *ClientConfig) { cfg.pool.Coresize = n })
}

// HostConnectionIdleTime sets how long an above-core connection may idle
// before retirement.
func (b ClientBuilder) HostConnectionIdleTime(d time.Duration) ClientBuilder {
	if d < 0 {
		return b.fail("hostConnectionIdleTime must be non-negative")
	}
	return b.with(func(cfg *ClientConfig) { cfg.pool.IdleTime = d })
}

// HostConnectionMaxWaiters bounds the acquisition queue per host.
func (b ClientBuilder) HostConnectionMaxWaiters(n int) ClientBuilder {
	if n < 0 {
		return b.fail("hostConnectionMaxWaiters must be non-negative")
	}
	return b.with(func(cfg *ClientConfig) { cfg.pool.MaxWaiters = n })
}

// HostConnectionMaxIdleTime force-closes connections idle this long.
func (b ClientBuilder) HostConnectionMaxIdleTime(d time.Duration) ClientBuilder {
	if d < 0 {
		return b.fail("hostConnectionMaxIdleTime must be non-negative")
	}
	return b.with(func(cfg *ClientConfig) { cfg.pool.MaxIdleTime = d })
}

// HostConnectionMaxLifeTime force-closes connections older than this.
func (b ClientBuilder) HostConnectionMaxLifeTime(d time.Duration) ClientBuilder {
	if d < 0 {
		return b.fail("hostConnectionMaxLifeTime must be non-negative")
	}
	return b.with(func(cfg *ClientConfig) { cfg.pool.MaxLifeTime = d })
}

// HostConnectionBufferSize hints the idle list capacity.
func (b ClientBuilder) HostConnectionBufferSize(n int) ClientBuilder {
	if n < 0 {
		return b.fail("hostConnectionBufferSize must be non-negative")
	}
	return b.with(func(cfg *ClientConfig) { cfg.pool.BufferSize = n })
}

// TCPConnectTimeout bounds one physical TCP connect.
func (b ClientBuilder) TCPConnectTimeout(d time.Duration) ClientBuilder {
	if d <= 0 {
		return b.fail("tcpConnectTimeout must be positive")
	}
	return b.with(func(cfg *ClientConfig) { cfg.tcpConnectTimeout = d })
}

// ConnectTimeout bounds connection acquisition: queueing plus physical
// connect. Zero means unbounded.
func (b ClientBuilder) ConnectTimeout(d time.Duration) ClientBuilder {
	if d < 0 {
		return b.fail("connectTimeout must be non-negative")
	}
	return b.with(func(cfg *ClientConfig) { cfg.connectTimeout = d })
}

// RequestTimeout bounds a single dispatch once a connection is held. Zero
// means unbounded.
func (b ClientBuilder) RequestTimeout(d time.Duration) ClientBuilder {
	if d < 0 {
		return b.fail("requestTimeout must be non-negative")
	}
	return b.with(func(cfg *ClientConfig) { cfg.requestTimeout = d })
}

// Timeout bounds total caller-visible latency across all retries. Zero
// means unbounded.
func (b ClientBuilder) Timeout(d time.Duration) ClientBuilder {
	if d < 0 {
		return b.fail("timeout must be non-negative")
	}
	return b.with(func(cfg *ClientConfig) { cfg.timeout = d })
}

// KeepAlive toggles TCP keep-alive on new connections.
func (b ClientBuilder) KeepAlive(enabled bool) ClientBuilder {
	return b.with(func(cfg *ClientConfig) { cfg.keepAlive = enabled })
}

// ReaderIdleTimeout is handed to the transporter factory.
func (b ClientBuilder) ReaderIdleTimeout(d time.Duration) ClientBuilder {
	return b.with(func(cfg *ClientConfig) { cfg.readerIdleTimeout = d })
}

// WriterIdleTimeout is handed to the transporter factory.
func (b ClientBuilder) WriterIdleTimeout(d time.Duration) ClientBuilder {
	return b.with(func(cfg *ClientConfig) { cfg.writerIdleTimeout = d })
}

// SendBufferSize sets the socket send buffer in bytes.
func (b ClientBuilder) SendBufferSize(n int) ClientBuilder {
	if n < 0 {
		return b.fail("sendBufferSize must be non-negative")
	}
	return b.with(func(cfg *ClientConfig) { cfg.sendBufferSize = n })
}

// RecvBufferSize sets the socket receive buffer in bytes.
func (b ClientBuilder) RecvBufferSize(n int) ClientBuilder {
	if n < 0 {
		return b.fail("recvBufferSize must be non-negative")
	}
	return b.with(func(cfg *ClientConfig) { cfg.recvBufferSize = n })
}

// TLS enables TLS with the supplied configuration.
func (b ClientBuilder) TLS(cfg *tls.Config) ClientBuilder {
	if cfg == nil {
		return b.fail("tls config must not be nil")
	}
	return b.with(func(c *ClientConfig) { c.tlsConfig = cfg })
}

// TLSWithoutValidation enables TLS without certificate verification.
// Test environments only.
func (b ClientBuilder) TLSWithoutValidation() ClientBuilder {
	return b.with(func(c *ClientConfig) { c.tlsConfig = &tls.Config{InsecureSkipVerify: true} })
}

// RetryPolicy installs a caller-supplied retry classifier. Without one the
// retry stage is a transparent pass-through.
func (b ClientBuilder) RetryPolicy(p RetryPolicy) ClientBuilder {
	return b.with(func(cfg *ClientConfig) { cfg.retryPolicy = p })
}

// Retries is shorthand for a DefaultRetryPolicy permitting n additional
// attempts with exponential-jitter pacing.
func (b ClientBuilder) Retries(n int) ClientBuilder {
	if n < 0 {
		return b.fail("retries must be non-negative")
	}
	return b.RetryPolicy(NewDefaultRetryPolicy(
		n, defaultRetryInitialBackoff, defaultRetryMaxBackoff, defaultRetryMultiplier, defaultRetryJitter))
}

// FailureAccrualParams overrides the consecutive-failure threshold and
// cooldown.
func (b ClientBuilder) FailureAccrualParams(threshold int, cooldown time.Duration) ClientBuilder {
	if threshold <= 0 {
		return b.fail("failureAccrual threshold must be positive")
	}
	if cooldown <= 0 {
		return b.fail("failureAccrual cooldown must be positive")
	}
	return b.with(func(cfg *ClientConfig) {
		cfg.failureAccrual = &FailureAccrualParams{Threshold: threshold, Cooldown: cooldown}
	})
}

// NoFailureAccrual disables the accrual health signal.
func (b ClientBuilder) NoFailureAccrual() ClientBuilder {
	return b.with(func(cfg *ClientConfig) { cfg.failureAccrual = nil })
}

// FailFast toggles the fail-fast health signal. On by default; also subject
// to the codec's FailFastOK.
func (b ClientBuilder) FailFast(enabled bool) ClientBuilder {
	return b.with(func(cfg *ClientConfig) { cfg.failFast = enabled })
}

// FailFastProbeInterval sets how often a fail-fast-dead host is redialed
// until one attempt succeeds and the host rejoins balanced selection.
func (b ClientBuilder) FailFastProbeInterval(d time.Duration) ClientBuilder {
	if d <= 0 {
		return b.fail("fail fast probe interval must be positive")
	}
	return b.with(func(cfg *ClientConfig) { cfg.failFastProbeInterval = d })
}

// Name labels the client in errors, logs and metrics.
func (b ClientBuilder) Name(name string) ClientBuilder {
	if name == "" {
		return b.fail("name must not be empty")
	}
	return b.with(func(cfg *ClientConfig) { cfg.name = name })
}

// Transporter overrides the transport binder.
func (b ClientBuilder) Transporter(f TransporterFactory) ClientBuilder {
	if f == nil {
		return b.fail("transporter factory must not be nil")
	}
	return b.with(func(cfg *ClientConfig) { cfg.transporterFactory = f })
}

// TracerFactory installs the tracer built clients record to.
func (b ClientBuilder) TracerFactory(f TracerFactory) ClientBuilder {
	return b.with(func(cfg *ClientConfig) { cfg.tracerFactory = f })
}

// MetricsCollector installs a stats receiver.
func (b ClientBuilder) MetricsCollector(mc *MetricsCollector) ClientBuilder {
	return b.with(func(cfg *ClientConfig) { cfg.metrics = mc })
}

// Metrics enables Prometheus metrics on the default registerer.
func (b ClientBuilder) Metrics() ClientBuilder {
	return b.MetricsCollector(NewMetricsCollector())
}

// Logger installs a logger for pipeline diagnostics and misuse warnings.
func (b ClientBuilder) Logger(l Logger) ClientBuilder {
	return b.with(func(cfg *ClientConfig) { cfg.logger = l })
}

// Monitor installs the callback receiving errors that surface outside any
// request path.
func (b ClientBuilder) Monitor(m Monitor) ClientBuilder {
	return b.with(func(cfg *ClientConfig) { cfg.monitor = m })
}

// Config returns the accumulated configuration value.
func (b ClientBuilder) Config() ClientConfig { return b.cfg }

// Validate checks the configuration without building anything. It returns
// the first local setter error, or *IncompleteSpecification when a required
// field is absent.
func (b ClientBuilder) Validate() error {
	if b.err != nil {
		return b.err
	}
	var missing []string
	if b.set&specCluster == 0 {
		missing = append(missing, "cluster")
	}
	if b.set&specCodec == 0 {
		missing = append(missing, "codec")
	}
	if b.set&specHostConnectionLimit == 0 {
		missing = append(missing, "hostConnectionLimit")
	}
	if len(missing) > 0 {
		return &IncompleteSpecification{Missing: missing}
	}
	return nil
}

// BuildFactory validates and assembles the per-host pipelines behind a
// load-balanced ServiceFactory. The factory owns its resources; Close it
// exactly once. It blocks until the cluster reports its initial
// membership; use BuildFactoryContext to bound that wait.
func (b ClientBuilder) BuildFactory() (ServiceFactory, error) {
	return b.BuildFactoryContext(context.Background())
}

// BuildFactoryContext is BuildFactory with the cluster readiness wait
// bounded by ctx.
func (b ClientBuilder) BuildFactoryContext(ctx context.Context) (ServiceFactory, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return newClientFactory(ctx, b.cfg)
}

// Build validates, assembles the factory and wraps it in the filter chain:
// exception annotation over global timeout over retries over balanced
// selection. It blocks until the cluster reports its initial membership;
// use BuildContext to bound that wait.
func (b ClientBuilder) Build() (Service, error) {
	return b.BuildContext(context.Background())
}

// BuildContext is Build with the cluster readiness wait bounded by ctx.
func (b ClientBuilder) BuildContext(ctx context.Context) (Service, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	factory, err := newClientFactory(ctx, b.cfg)
	if err != nil {
		return nil, err
	}
	return newClient(b.cfg, factory), nil
}

// MustBuild is Build for configurations known to be complete; it panics on
// any configuration error.
func (b ClientBuilder) MustBuild() Service {
	svc, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("finagle: invalid client configuration: %v", err))
	}
	return svc
}
