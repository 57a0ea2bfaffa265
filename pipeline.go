package finagle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Host-health gauge labels.
const (
	signalAccrual  = "accrual"
	signalFailFast = "failfast"
)

// hostFactory is the assembled per-host pipeline: failure accrual and
// fail-fast health signals in front of a watermark pool of codec-prepared
// connections. It implements ServiceFactory for one host.
type hostFactory struct {
	clientName  string
	host        string
	codec       Codec
	transporter Transporter

	pool     *watermarkPool
	accrual  *failureAccrual // nil when disabled
	failFast *failFastState  // nil when disabled or codec-incompatible

	connectTimeout time.Duration
	requestTimeout time.Duration

	// Reconnection probing for fail-fast-dead hosts. While a host is dead
	// a probe dial is rescheduled every probeInterval until one succeeds;
	// without it a dead host would never revive while its peers keep
	// absorbing the traffic.
	timer         *Timer
	probeInterval time.Duration
	probeMu       sync.Mutex
	probeTask     *TimerTask

	closed atomic.Bool

	metrics *MetricsCollector
	tracer  Tracer
	logger  Logger
}

func newHostFactory(cfg ClientConfig, host string, transporter Transporter, timer *Timer, tracer Tracer) *hostFactory {
	codec := cfg.codecFactory(CodecConfig{ClientName: cfg.name, Host: host})
	h := &hostFactory{
		clientName:     cfg.name,
		host:           host,
		codec:          codec,
		transporter:    transporter,
		connectTimeout: cfg.connectTimeout,
		requestTimeout: cfg.requestTimeout,
		timer:          timer,
		probeInterval:  cfg.failFastProbeInterval,
		metrics:        cfg.metrics,
		tracer:         tracer,
		logger:         cfg.logger,
	}
	if cfg.failureAccrual != nil {
		h.accrual = newFailureAccrual(*cfg.failureAccrual)
	}
	if cfg.failFast && codec.FailFastOK() {
		h.failFast = &failFastState{}
	}
	h.pool = newWatermarkPool(cfg.name, host, cfg.pool, h.dialConn, timer, cfg.metrics, cfg.monitor)
	return h
}

// selectable reports whether balanced selection may route to this host:
// neither health signal marks it dead.
func (h *hostFactory) selectable() bool {
	if h.accrual != nil && h.accrual.Dead() {
		return false
	}
	if h.failFast != nil && h.failFast.dead() {
		return false
	}
	return true
}

// probeable reports whether a reconnection attempt is permitted. Fail-fast
// dead hosts stay probeable; a successful dial is how they revive. Hosts in
// an accrual cooldown are not.
func (h *hostFactory) probeable() bool {
	return h.accrual == nil || !h.accrual.Dead()
}

// NewService checks host health, acquires a pooled connection within the
// connect timeout, and returns the codec-prepared per-connection service.
func (h *hostFactory) NewService(ctx context.Context) (Service, error) {
	if h.accrual != nil && !h.accrual.Allow() {
		h.metrics.RecordHostDead(h.clientName, h.host, signalAccrual, true)
		return nil, &ClientError{
			Type:      ErrorTypeHostUnavailable,
			Message:   "host in failure accrual cooldown",
			Cause:     ErrHostUnavailable,
			Client:    h.clientName,
			Host:      h.host,
			Timestamp: time.Now(),
		}
	}

	acquireCtx := ctx
	if h.connectTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, h.connectTimeout)
		defer cancel()
	}
	pc, err := h.pool.Acquire(acquireCtx)
	if err != nil {
		return nil, h.acquireError(ctx, err)
	}

	var svc Service = &connService{host: h, conn: pc}
	svc, err = h.codec.PrepareService(ctx, svc)
	if err != nil {
		h.pool.Release(pc, true)
		return nil, &ClientError{
			Type:      ErrorTypeDispatch,
			Message:   "service preparation failed",
			Cause:     err,
			Client:    h.clientName,
			Host:      h.host,
			Timestamp: time.Now(),
		}
	}
	return svc, nil
}

// Close shuts down the host's pool and cancels any pending probe.
func (h *hostFactory) Close() error {
	h.closed.Store(true)
	h.probeMu.Lock()
	task := h.probeTask
	h.probeTask = nil
	h.probeMu.Unlock()
	if task != nil {
		task.Cancel()
	}
	return h.pool.Close()
}

// dialConn establishes one prepared connection: transporter dial, codec
// framing, codec preparation. Preparation latency is observed whether or
// not it succeeds.
func (h *hostFactory) dialConn(ctx context.Context) (Conn, error) {
	raw, err := h.transporter.Dial(ctx, h.host)
	if err != nil {
		h.markDialFailure(err)
		return nil, err
	}

	conn := h.codec.NewConn(raw)
	start := time.Now()
	prepared, err := h.codec.PrepareConn(ctx, conn)
	h.metrics.RecordConnectionPrepare(h.clientName, h.host, time.Since(start))
	if err != nil {
		conn.Close()
		h.markDialFailure(err)
		return nil, err
	}

	if h.failFast != nil {
		h.failFast.markAlive()
		h.metrics.RecordHostDead(h.clientName, h.host, signalFailFast, false)
	}
	h.tracer.Record(Annotation{
		TraceID:   NewTraceID(),
		Client:    h.clientName,
		Host:      h.host,
		Event:     TraceEventDial,
		Timestamp: time.Now(),
	})
	return prepared, nil
}

func (h *hostFactory) markDialFailure(err error) {
	h.metrics.RecordDialFailure(h.clientName, h.host)
	if h.failFast != nil {
		if h.failFast.markDead() {
			h.scheduleProbe()
		}
		h.metrics.RecordHostDead(h.clientName, h.host, signalFailFast, true)
	}
	if h.logger != nil {
		h.logger.Warn("connection attempt failed", "client", h.clientName, "host", h.host, "error", err.Error())
	}
	h.tracer.Record(Annotation{
		TraceID:   NewTraceID(),
		Client:    h.clientName,
		Host:      h.host,
		Event:     TraceEventDialFailure,
		Err:       err,
		Timestamp: time.Now(),
	})
}

// scheduleProbe arms a reconnection attempt for a fail-fast-dead host.
func (h *hostFactory) scheduleProbe() {
	if h.timer == nil || h.closed.Load() {
		return
	}
	interval := h.probeInterval
	if interval <= 0 {
		interval = DefaultFailFastProbeInterval
	}
	h.probeMu.Lock()
	h.probeTask = h.timer.Schedule(interval, h.probe)
	h.probeMu.Unlock()
}

// probe dials the host once. Success revives it through the usual dial
// path; failure re-arms the probe. The probe connection is not pooled, it
// exists only to learn whether the host is back. The dial happens off the
// timer goroutine so a slow connect cannot stall other scheduled work.
func (h *hostFactory) probe() {
	if h.closed.Load() || h.failFast == nil || !h.failFast.dead() {
		return
	}
	go func() {
		ctx := context.Background()
		if h.connectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.connectTimeout)
			defer cancel()
		}
		conn, err := h.dialConn(ctx)
		if err != nil {
			h.scheduleProbe()
			return
		}
		conn.Close()
	}()
}

// acquireError maps pool failures onto the error taxonomy. A deadline hit
// on the acquisition context counts as the connect timeout only when the
// caller's own context is still live.
func (h *hostFactory) acquireError(ctx context.Context, err error) error {
	now := time.Now()
	switch {
	case errors.Is(err, ErrTooManyWaiters):
		return &ClientError{
			Type:      ErrorTypeWaiterCapacity,
			Message:   "pool waiter queue at capacity",
			Cause:     err,
			Client:    h.clientName,
			Host:      h.host,
			Timestamp: now,
		}
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return &ClientError{
			Type:      ErrorTypeAcquisition,
			Message:   "connect timeout elapsed while acquiring a connection",
			Cause:     ErrAcquisitionTimeout,
			Client:    h.clientName,
			Host:      h.host,
			Duration:  h.connectTimeout,
			Timestamp: now,
		}
	default:
		return &ClientError{
			Type:      ErrorTypeDispatch,
			Message:   "connection acquisition failed",
			Cause:     err,
			Client:    h.clientName,
			Host:      h.host,
			Timestamp: now,
		}
	}
}

// connService is one checked-out connection exposed as a Service. Close
// releases the connection back to the pool exactly once; a connection that
// saw a dispatch failure is discarded rather than reused.
type connService struct {
	host     *hostFactory
	conn     *pooledConn
	broken   atomic.Bool
	released atomic.Bool
}

func (s *connService) Call(ctx context.Context, req any) (any, error) {
	h := s.host

	callCtx := ctx
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	rep, err := s.conn.Dispatch(callCtx, req)
	if err != nil {
		s.broken.Store(true)
		if h.accrual != nil {
			h.accrual.RecordFailure()
			h.metrics.RecordHostDead(h.clientName, h.host, signalAccrual, h.accrual.Dead())
		}
		h.tracer.Record(Annotation{
			TraceID:   NewTraceID(),
			Client:    h.clientName,
			Host:      h.host,
			Event:     TraceEventDispatchFail,
			Err:       err,
			Timestamp: time.Now(),
		})
		return nil, &ClientError{
			Type:      ErrorTypeDispatch,
			Message:   "dispatch failed",
			Cause:     err,
			Client:    h.clientName,
			Host:      h.host,
			Timestamp: time.Now(),
		}
	}

	if h.accrual != nil {
		h.accrual.RecordSuccess()
		h.metrics.RecordHostDead(h.clientName, h.host, signalAccrual, false)
	}
	return rep, nil
}

func (s *connService) Close() error {
	if s.released.CompareAndSwap(false, true) {
		s.host.pool.Release(s.conn, s.broken.Load())
	}
	return nil
}
