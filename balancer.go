package finagle

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// balancer routes service acquisition across hosts round-robin, skipping
// hosts marked dead by either health signal. When no host is selectable,
// fail-fast dead hosts are still offered so reconnection can revive them;
// hosts inside an accrual cooldown never are. It implements ServiceFactory.
type balancer struct {
	clientName string
	hosts      []*hostFactory
	next       atomic.Uint64
}

func newBalancer(clientName string, hosts []*hostFactory) *balancer {
	return &balancer{clientName: clientName, hosts: hosts}
}

func (b *balancer) pick() (*hostFactory, error) {
	n := len(b.hosts)
	if n == 0 {
		return nil, &ClientError{
			Type:      ErrorTypeHostUnavailable,
			Message:   "cluster has no hosts",
			Cause:     ErrHostUnavailable,
			Client:    b.clientName,
			Timestamp: time.Now(),
		}
	}

	start := int(b.next.Add(1) - 1)
	for i := 0; i < n; i++ {
		h := b.hosts[(start+i)%n]
		if h.selectable() {
			return h, nil
		}
	}
	for i := 0; i < n; i++ {
		h := b.hosts[(start+i)%n]
		if h.probeable() {
			return h, nil
		}
	}
	return nil, &ClientError{
		Type:      ErrorTypeHostUnavailable,
		Message:   "no healthy host available",
		Cause:     ErrHostUnavailable,
		Client:    b.clientName,
		Timestamp: time.Now(),
	}
}

// NewService implements ServiceFactory.
func (b *balancer) NewService(ctx context.Context) (Service, error) {
	h, err := b.pick()
	if err != nil {
		return nil, err
	}
	return h.NewService(ctx)
}

// Close shuts down every host pipeline.
func (b *balancer) Close() error {
	var errs []error
	for _, h := range b.hosts {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
