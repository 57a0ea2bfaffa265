package finagle

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// clientFactory is the fully assembled pipeline: per-host factories behind
// a balancer, plus the shared resources the client holds references to.
// It implements ServiceFactory and is what BuildFactory returns.
type clientFactory struct {
	name     string
	balancer *balancer

	timer         *Timer
	releaseTimer  func()
	tracer        Tracer
	releaseTracer func()

	metrics *MetricsCollector
	logger  Logger

	closed atomic.Bool
}

func newClientFactory(ctx context.Context, cfg ClientConfig) (*clientFactory, error) {
	// Wait for initial cluster population, bounded by the caller's context.
	// Static clusters are ready immediately.
	select {
	case <-cfg.cluster.Ready():
	case <-ctx.Done():
		return nil, &ClientError{
			Type:      ErrorTypeValidation,
			Message:   "cluster readiness wait ended before initial membership",
			Cause:     ctx.Err(),
			Client:    cfg.name,
			Timestamp: time.Now(),
		}
	}
	hosts := cfg.cluster.Hosts()
	if len(hosts) == 0 {
		return nil, &ClientError{
			Type:      ErrorTypeValidation,
			Message:   "cluster resolved no hosts",
			Client:    cfg.name,
			Timestamp: time.Now(),
		}
	}

	timer, releaseTimer := acquireSharedTimer()
	tracer, releaseTracer := acquireTracer(cfg.tracerFactory)
	transporter := cfg.transporterFactory(cfg.transportConfig())

	factories := make([]*hostFactory, 0, len(hosts))
	for _, host := range hosts {
		factories = append(factories, newHostFactory(cfg, host, transporter, timer, tracer))
	}

	return &clientFactory{
		name:          cfg.name,
		balancer:      newBalancer(cfg.name, factories),
		timer:         timer,
		releaseTimer:  releaseTimer,
		tracer:        tracer,
		releaseTracer: releaseTracer,
		metrics:       cfg.metrics,
		logger:        cfg.logger,
	}, nil
}

// NewService implements ServiceFactory: pick a healthy host and check a
// connection-bound service out of its pool.
func (f *clientFactory) NewService(ctx context.Context) (Service, error) {
	return f.balancer.NewService(ctx)
}

// Close tears the factory down exactly once: host pools are closed and the
// shared timer and tracer references released. A duplicate close is logged
// with the offending call site and otherwise ignored.
func (f *clientFactory) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		logDuplicateClose(f.logger, f.name)
		return nil
	}
	err := f.balancer.Close()
	f.tracer.Record(Annotation{
		TraceID:   NewTraceID(),
		Client:    f.name,
		Event:     TraceEventClose,
		Timestamp: time.Now(),
	})
	f.releaseTracer()
	f.releaseTimer()
	return err
}

// client is the terminal artifact of Build: the filter chain over the
// assembled factory, guarded for exactly-once teardown.
type client struct {
	name    string
	svc     Service
	factory *clientFactory
	metrics *MetricsCollector
	logger  Logger
	closed  atomic.Bool
}

func newClient(cfg ClientConfig, factory *clientFactory) *client {
	// Filters wrap inner-to-outer; the documented order outer-to-inner is
	// exception source, global timeout, retries, balanced selection.
	var svc Service = &factoryService{factory: factory}
	if cfg.retryPolicy != nil {
		svc = applyFilter(retryFilter(cfg.retryPolicy, cfg.name, cfg.metrics, cfg.logger), svc)
	}
	if cfg.timeout > 0 {
		svc = applyFilter(globalTimeoutFilter(cfg.timeout), svc)
	}
	svc = applyFilter(exceptionSourceFilter(cfg.name), svc)

	return &client{
		name:    cfg.name,
		svc:     svc,
		factory: factory,
		metrics: cfg.metrics,
		logger:  cfg.logger,
	}
}

func (c *client) Call(ctx context.Context, req any) (any, error) {
	start := time.Now()
	rep, err := c.svc.Call(ctx, req)
	c.metrics.RecordRequest(c.name, err, time.Since(start))
	if err != nil {
		var ce *ClientError
		if errors.As(err, &ce) {
			c.metrics.RecordError(c.name, ce.Type)
		}
	}
	return rep, err
}

func (c *client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		logDuplicateClose(c.logger, c.name)
		return nil
	}
	return c.factory.Close()
}

// factoryService checks a service out of the factory for each call and
// returns it afterwards.
type factoryService struct {
	factory ServiceFactory
}

func (s *factoryService) Call(ctx context.Context, req any) (any, error) {
	svc, err := s.factory.NewService(ctx)
	if err != nil {
		return nil, err
	}
	defer svc.Close()
	return svc.Call(ctx, req)
}

// Close is a no-op: the factory's lifecycle belongs to the client that
// assembled it.
func (s *factoryService) Close() error { return nil }

// logDuplicateClose reports a recoverable misuse: close called more than
// once. Never an error to the caller.
func logDuplicateClose(logger Logger, name string) {
	if logger == nil {
		return
	}
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s:%d", file, line)
	}
	logger.Warn("duplicate close ignored", "client", name, "caller", caller)
}
