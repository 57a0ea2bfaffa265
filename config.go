package finagle

import (
	"crypto/tls"
	"time"
)

// Defaults for the recognized configuration surface. A zero duration or a
// non-positive count means "unbounded" wherever the surface documents an
// infinite default.
const (
	DefaultName                    = "client"
	DefaultTCPConnectTimeout       = 10 * time.Millisecond
	DefaultHostConnectionCoresize  = 1
	DefaultHostConnectionIdleTime  = 5 * time.Second
	DefaultFailureAccrualThreshold = 5
	DefaultFailureAccrualCooldown  = 5 * time.Second
	DefaultFailFastProbeInterval   = time.Second
)

// HostPoolConfig is the nested pool sub-configuration. It is owned by
// ClientConfig and has no independent lifecycle.
type HostPoolConfig struct {
	// Coresize is the low watermark: the pool never retires idle
	// connections below this count.
	Coresize int

	// Limit is the high watermark; 0 means unbounded. The effective limit
	// is never below Coresize.
	Limit int

	// IdleTime is how long a connection above the low watermark may sit
	// idle before it is eligible for retirement.
	IdleTime time.Duration

	// MaxWaiters bounds the acquisition queue; negative means unbounded,
	// zero means acquisitions never queue.
	MaxWaiters int

	// MaxIdleTime force-closes any connection idle this long, regardless
	// of watermarks. 0 means unbounded.
	MaxIdleTime time.Duration

	// MaxLifeTime force-closes any connection that has existed this long,
	// regardless of watermarks. 0 means unbounded.
	MaxLifeTime time.Duration

	// BufferSize is a capacity hint for the idle connection list.
	BufferSize int
}

// FailureAccrualParams configures the per-host consecutive-failure tracker.
type FailureAccrualParams struct {
	// Threshold is the number of consecutive dispatch failures after which
	// the host is marked dead.
	Threshold int

	// Cooldown is how long the host stays dead before probing resumes.
	Cooldown time.Duration
}

// ClientConfig is the immutable record of all client parameters. Values are
// only produced by ClientBuilder; every mutation goes through with, which
// returns a fresh copy.
type ClientConfig struct {
	name               string
	cluster            Cluster
	codecFactory       CodecFactory
	transporterFactory TransporterFactory

	pool HostPoolConfig

	tcpConnectTimeout time.Duration
	connectTimeout    time.Duration // acquisition bound; 0 = unbounded
	requestTimeout    time.Duration // per-attempt bound; 0 = unbounded
	timeout           time.Duration // total bound across retries; 0 = unbounded

	keepAlive         bool
	readerIdleTimeout time.Duration
	writerIdleTimeout time.Duration
	sendBufferSize    int
	recvBufferSize    int
	tlsConfig         *tls.Config

	retryPolicy           RetryPolicy
	failureAccrual        *FailureAccrualParams // nil disables accrual
	failFast              bool
	failFastProbeInterval time.Duration

	tracerFactory TracerFactory
	metrics       *MetricsCollector
	logger        Logger
	monitor       Monitor
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		name:               DefaultName,
		transporterFactory: NewNetTransporter,
		pool: HostPoolConfig{
			Coresize:   DefaultHostConnectionCoresize,
			Limit:      0, // unbounded
			IdleTime:   DefaultHostConnectionIdleTime,
			MaxWaiters: -1, // unbounded
		},
		tcpConnectTimeout: DefaultTCPConnectTimeout,
		keepAlive:         true,
		failureAccrual: &FailureAccrualParams{
			Threshold: DefaultFailureAccrualThreshold,
			Cooldown:  DefaultFailureAccrualCooldown,
		},
		failFast:              true,
		failFastProbeInterval: DefaultFailFastProbeInterval,
	}
}

// with returns a copy of the configuration with the mutation applied. The
// receiver is never modified.
func (c ClientConfig) with(mut func(*ClientConfig)) ClientConfig {
	dup := c
	if c.failureAccrual != nil {
		fa := *c.failureAccrual
		dup.failureAccrual = &fa
	}
	mut(&dup)
	return dup
}

// Name returns the configured client name.
func (c ClientConfig) Name() string { return c.name }

// transportConfig assembles the socket-level knobs handed to the
// TransporterFactory.
func (c ClientConfig) transportConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout:    c.tcpConnectTimeout,
		KeepAlive:         c.keepAlive,
		SendBufferSize:    c.sendBufferSize,
		RecvBufferSize:    c.recvBufferSize,
		ReaderIdleTimeout: c.readerIdleTimeout,
		WriterIdleTimeout: c.writerIdleTimeout,
		TLS:               c.tlsConfig,
	}
}

// effectiveLimit is the high watermark actually enforced: the maximum of the
// core size and the configured limit, with 0 staying unbounded.
func (p HostPoolConfig) effectiveLimit() int {
	if p.Limit <= 0 {
		return 0
	}
	if p.Limit < p.Coresize {
		return p.Coresize
	}
	return p.Limit
}
