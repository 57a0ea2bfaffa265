package finagle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// filteredService wires one Filter in front of a Service.
type filteredService struct {
	filter Filter
	next   Service
}

func (s *filteredService) Call(ctx context.Context, req any) (any, error) {
	return s.filter(ctx, req, s.next)
}

func (s *filteredService) Close() error { return s.next.Close() }

// applyFilter composes a filter over a service. Filters applied later wrap
// those applied earlier, so assembly applies them inner-to-outer.
func applyFilter(f Filter, next Service) Service {
	return &filteredService{filter: f, next: next}
}

// exceptionSourceFilter annotates every failure with the client's identity
// before it leaves the stack. Errors that are not already ClientErrors are
// wrapped as dispatch failures.
func exceptionSourceFilter(name string) Filter {
	return func(ctx context.Context, req any, next Service) (any, error) {
		rep, err := next.Call(ctx, req)
		if err == nil {
			return rep, nil
		}
		var ce *ClientError
		if errors.As(err, &ce) {
			if ce.Client == "" {
				ce.Client = name
			}
			return nil, err
		}
		return nil, &ClientError{
			Type:      ErrorTypeDispatch,
			Message:   "request failed",
			Cause:     err,
			Client:    name,
			Timestamp: time.Now(),
		}
	}
}

// globalTimeoutFilter bounds total caller-visible latency, retries
// included. It sits above the retry filter so the bound covers the sum of
// all attempts.
func globalTimeoutFilter(timeout time.Duration) Filter {
	return func(ctx context.Context, req any, next Service) (any, error) {
		start := time.Now()
		tctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		rep, err := next.Call(tctx, req)
		if err != nil && tctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &ClientError{
				Type:      ErrorTypeGlobalTimeout,
				Message:   fmt.Sprintf("total timeout of %v exceeded", timeout),
				Cause:     ErrGlobalTimeout,
				Duration:  time.Since(start),
				Timestamp: time.Now(),
			}
		}
		return rep, err
	}
}

// retryFilter resubmits failed attempts per the policy. Attempts are
// strictly sequential; it sits above load balancing so a retry may land on
// a different host. On exhaustion or a non-retryable error the most recent
// failure propagates unchanged.
func retryFilter(policy RetryPolicy, clientName string, metrics *MetricsCollector, logger Logger) Filter {
	return func(ctx context.Context, req any, next Service) (any, error) {
		attempt := 0
		for {
			rep, err := next.Call(ctx, req)
			if err == nil {
				return rep, nil
			}

			delay, retry := policy.ShouldRetry(err, attempt)
			if !retry || ctx.Err() != nil {
				var ce *ClientError
				if attempt > 0 && errors.As(err, &ce) {
					ce.Attempt = attempt
				}
				return nil, err
			}

			attempt++
			metrics.RecordRetry(clientName, attempt)
			if logger != nil {
				logger.Debug("retrying request",
					"client", clientName, "attempt", attempt, "delay", delay, "cause", err.Error())
			}

			if delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					// Cancellation observed; the most recent failure
					// propagates.
					return nil, err
				}
			}
		}
	}
}
