package finagle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// pooledConn is a live connection plus the bookkeeping the pool needs for
// idle and lifetime eviction.
type pooledConn struct {
	Conn
	created   time.Time
	idleSince time.Time
}

type waitResult struct {
	conn *pooledConn // nil with err nil means: capacity granted, dial yourself
	err  error
}

type waiter struct {
	ch   chan waitResult // buffered, capacity 1
	done bool            // set under pool lock when the waiter gave up
}

// watermarkPool maintains a bounded set of connections to one host.
//
// Sizing invariants: the live count (established plus dialing) never exceeds
// high; reaping never retires idle connections below low. Independently,
// maxIdleTime and maxLifeTime are absolute per-connection bounds enforced
// regardless of demand. Acquisitions beyond capacity queue up to maxWaiters;
// the next one fails immediately with ErrTooManyWaiters.
type watermarkPool struct {
	clientName string
	host       string
	dial       func(ctx context.Context) (Conn, error)

	low        int
	high       int // 0 = unbounded
	maxWaiters int // <0 = unbounded

	idleTime    time.Duration
	maxIdleTime time.Duration
	maxLifeTime time.Duration

	metrics *MetricsCollector
	monitor Monitor

	mu       sync.Mutex
	idle     []*pooledConn // LIFO, most recently used last
	live     int
	waiters  []*waiter
	closed   bool
	reapTask *TimerTask
}

func newWatermarkPool(clientName, host string, cfg HostPoolConfig, dial func(ctx context.Context) (Conn, error), timer *Timer, metrics *MetricsCollector, monitor Monitor) *watermarkPool {
	p := &watermarkPool{
		clientName:  clientName,
		host:        host,
		dial:        dial,
		low:         cfg.Coresize,
		high:        cfg.effectiveLimit(),
		maxWaiters:  cfg.MaxWaiters,
		idleTime:    cfg.IdleTime,
		maxIdleTime: cfg.MaxIdleTime,
		maxLifeTime: cfg.MaxLifeTime,
		metrics:     metrics,
		monitor:     monitor,
		idle:        make([]*pooledConn, 0, max(cfg.BufferSize, 0)),
	}
	if interval := p.reapInterval(); interval > 0 && timer != nil {
		p.reapTask = timer.ScheduleRepeating(interval, p.safeReap)
	}
	return p
}

// Acquire returns an idle connection if one exists, dials a new one while
// under the high watermark, and otherwise queues. Cancellation while queued
// removes the caller without blocking other waiters.
func (p *watermarkPool) Acquire(ctx context.Context) (*pooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	now := time.Now()
	for n := len(p.idle); n > 0; n = len(p.idle) {
		pc := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		if p.hardExpired(pc, now) {
			p.live--
			pc.Conn.Close()
			continue
		}
		p.recordGauges()
		p.mu.Unlock()
		return pc, nil
	}

	if p.high <= 0 || p.live < p.high {
		p.live++
		p.recordGauges()
		p.mu.Unlock()
		return p.dialNew(ctx)
	}

	if p.maxWaiters >= 0 && len(p.waiters) >= p.maxWaiters {
		p.mu.Unlock()
		return nil, ErrTooManyWaiters
	}
	w := &waiter{ch: make(chan waitResult, 1)}
	p.waiters = append(p.waiters, w)
	p.recordGauges()
	p.mu.Unlock()

	select {
	case res := <-w.ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.conn != nil {
			return res.conn, nil
		}
		return p.dialNew(ctx)
	case <-ctx.Done():
		p.mu.Lock()
		w.done = true
		p.recordGauges()
		p.mu.Unlock()
		// A handoff may have raced the cancellation; give it back.
		select {
		case res := <-w.ch:
			if res.conn != nil {
				p.Release(res.conn, false)
			} else if res.err == nil {
				p.mu.Lock()
				p.live--
				p.grantLocked()
				p.recordGauges()
				p.mu.Unlock()
			}
		default:
		}
		return nil, ctx.Err()
	}
}

// Release returns a connection to the pool. Broken or expired connections
// are closed; the freed capacity admits the next waiter.
func (p *watermarkPool) Release(pc *pooledConn, broken bool) {
	p.mu.Lock()
	if p.closed {
		p.live--
		p.recordGauges()
		p.mu.Unlock()
		pc.Conn.Close()
		return
	}

	now := time.Now()
	if broken || p.hardExpired(pc, now) {
		p.live--
		p.grantLocked()
		p.recordGauges()
		p.mu.Unlock()
		pc.Conn.Close()
		return
	}

	pc.idleSince = now
	if p.handoffLocked(pc) {
		p.recordGauges()
		p.mu.Unlock()
		return
	}
	p.idle = append(p.idle, pc)
	p.recordGauges()
	p.mu.Unlock()
}

// Close shuts the pool down: pending waiters fail with ErrPoolClosed, idle
// connections are closed, the reap task is cancelled. Checked-out
// connections are closed as they come back through Release.
func (p *watermarkPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	task := p.reapTask
	p.reapTask = nil
	conns := p.idle
	p.idle = nil
	p.live -= len(conns)
	waiters := p.waiters
	p.waiters = nil
	for _, w := range waiters {
		if !w.done {
			w.ch <- waitResult{err: ErrPoolClosed}
		}
	}
	p.recordGauges()
	p.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
	for _, pc := range conns {
		pc.Conn.Close()
	}
	return nil
}

func (p *watermarkPool) dialNew(ctx context.Context) (*pooledConn, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.live--
		p.grantLocked()
		p.recordGauges()
		p.mu.Unlock()
		return nil, err
	}
	now := time.Now()
	return &pooledConn{Conn: conn, created: now, idleSince: now}, nil
}

// grantLocked passes freed capacity to the next waiter: the live count is
// incremented on its behalf and the waiter dials its own connection.
func (p *watermarkPool) grantLocked() {
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		if w.done {
			continue
		}
		p.live++
		w.ch <- waitResult{}
		return
	}
}

// handoffLocked gives an idle connection directly to the next waiter.
func (p *watermarkPool) handoffLocked(pc *pooledConn) bool {
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		if w.done {
			continue
		}
		w.ch <- waitResult{conn: pc}
		return true
	}
	return false
}

// hardExpired reports whether the absolute per-connection bounds have
// passed. Watermarks do not apply to these.
func (p *watermarkPool) hardExpired(pc *pooledConn, now time.Time) bool {
	if p.maxLifeTime > 0 && now.Sub(pc.created) >= p.maxLifeTime {
		return true
	}
	if p.maxIdleTime > 0 && now.Sub(pc.idleSince) >= p.maxIdleTime {
		return true
	}
	return false
}

func (p *watermarkPool) reapInterval() time.Duration {
	interval := time.Duration(0)
	for _, d := range []time.Duration{p.idleTime, p.maxIdleTime, p.maxLifeTime} {
		if d > 0 && (interval == 0 || d < interval) {
			interval = d
		}
	}
	if interval == 0 {
		return 0
	}
	interval /= 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

func (p *watermarkPool) safeReap() {
	defer func() {
		if r := recover(); r != nil && p.monitor != nil {
			p.monitor(fmt.Errorf("finagle: pool reap for %s panicked: %v", p.host, r))
		}
	}()
	p.reap(time.Now())
}

// reap retires idle connections past idleTime while staying at or above the
// low watermark, and force-closes connections past their absolute bounds.
func (p *watermarkPool) reap(now time.Time) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	liveAfter := p.live
	var toClose []*pooledConn
	keep := p.idle[:0]
	for _, pc := range p.idle {
		if p.hardExpired(pc, now) {
			toClose = append(toClose, pc)
			liveAfter--
			continue
		}
		if p.idleTime > 0 && now.Sub(pc.idleSince) >= p.idleTime && liveAfter > p.low {
			toClose = append(toClose, pc)
			liveAfter--
			continue
		}
		keep = append(keep, pc)
	}
	for i := len(keep); i < len(p.idle); i++ {
		p.idle[i] = nil
	}
	p.idle = keep
	p.live = liveAfter
	for range toClose {
		p.grantLocked()
	}
	p.recordGauges()
	p.mu.Unlock()

	for _, pc := range toClose {
		pc.Conn.Close()
	}
}

func (p *watermarkPool) recordGauges() {
	p.metrics.RecordConnectionsOpen(p.clientName, p.host, p.live)
	waiting := 0
	for _, w := range p.waiters {
		if !w.done {
			waiting++
		}
	}
	p.metrics.RecordPoolWaiters(p.clientName, p.host, waiting)
}
