package finagle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newTestPool(cfg HostPoolConfig) (*watermarkPool, *atomic.Int32) {
	dials := new(atomic.Int32)
	p := newWatermarkPool("test", "h1:1", cfg, func(ctx context.Context) (Conn, error) {
		dials.Add(1)
		return &stubConn{}, nil
	}, nil, nil, nil)
	return p, dials
}

func waitForWaiters(t *testing.T, p *watermarkPool, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		got := len(p.waiters)
		p.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("waiter count never reached %d", n)
}

func TestPoolReusesIdleConnection(t *testing.T) {
	p, dials := newTestPool(HostPoolConfig{Limit: 2})
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release(pc, false)

	pc2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if pc2 != pc {
		t.Error("expected the idle connection to be reused")
	}
	if dials.Load() != 1 {
		t.Errorf("dials = %d, want 1", dials.Load())
	}
	p.Release(pc2, false)
}

func TestPoolBrokenConnectionNotReused(t *testing.T) {
	p, dials := newTestPool(HostPoolConfig{Limit: 2})
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	sc := pc.Conn.(*stubConn)
	p.Release(pc, true)

	if sc.closed.Load() != 1 {
		t.Errorf("broken connection closed %d times, want 1", sc.closed.Load())
	}

	pc2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if pc2 == pc {
		t.Error("broken connection must not be handed out again")
	}
	if dials.Load() != 2 {
		t.Errorf("dials = %d, want 2", dials.Load())
	}
	p.Release(pc2, false)
}

func TestPoolTooManyWaiters(t *testing.T) {
	p, dials := newTestPool(HostPoolConfig{Limit: 1, MaxWaiters: 1})
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	got := make(chan error, 1)
	go func() {
		pc2, err := p.Acquire(context.Background())
		if err == nil {
			p.Release(pc2, false)
		}
		got <- err
	}()
	waitForWaiters(t, p, 1)

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrTooManyWaiters) {
		t.Errorf("Acquire() error = %v, want ErrTooManyWaiters", err)
	}

	p.Release(pc, false)
	select {
	case err := <-got:
		if err != nil {
			t.Errorf("queued Acquire() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued acquisition never completed")
	}
	if dials.Load() != 1 {
		t.Errorf("dials = %d, want 1", dials.Load())
	}
}

func TestPoolAcquireCancellation(t *testing.T) {
	p, dials := newTestPool(HostPoolConfig{Limit: 1, MaxWaiters: -1})
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}

	// The abandoned waiter must not strand the returned connection.
	p.Release(pc, false)
	pc2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() after cancellation error = %v", err)
	}
	if pc2 != pc {
		t.Error("expected the released connection back")
	}
	if dials.Load() != 1 {
		t.Errorf("dials = %d, want 1", dials.Load())
	}
	p.Release(pc2, false)
}

func TestPoolReapKeepsCoresize(t *testing.T) {
	p, dials := newTestPool(HostPoolConfig{Coresize: 1, IdleTime: 10 * time.Millisecond})
	defer p.Close()

	var conns []*pooledConn
	for i := 0; i < 3; i++ {
		pc, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		conns = append(conns, pc)
	}
	for _, pc := range conns {
		p.Release(pc, false)
	}
	if dials.Load() != 3 {
		t.Fatalf("dials = %d, want 3", dials.Load())
	}

	p.reap(time.Now().Add(20 * time.Millisecond))

	p.mu.Lock()
	live, idle := p.live, len(p.idle)
	p.mu.Unlock()
	if live != 1 || idle != 1 {
		t.Errorf("after reap live = %d idle = %d, want 1 and 1", live, idle)
	}

	closed := 0
	for _, pc := range conns {
		if pc.Conn.(*stubConn).closed.Load() > 0 {
			closed++
		}
	}
	if closed != 2 {
		t.Errorf("closed = %d connections, want 2", closed)
	}
}

func TestPoolReapEnforcesMaxLifeTime(t *testing.T) {
	p, _ := newTestPool(HostPoolConfig{Coresize: 1, MaxLifeTime: 10 * time.Millisecond})
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release(pc, false)

	// MaxLifeTime is absolute: the low watermark does not protect the
	// connection.
	p.reap(time.Now().Add(20 * time.Millisecond))

	p.mu.Lock()
	live, idle := p.live, len(p.idle)
	p.mu.Unlock()
	if live != 0 || idle != 0 {
		t.Errorf("after reap live = %d idle = %d, want 0 and 0", live, idle)
	}
	if pc.Conn.(*stubConn).closed.Load() != 1 {
		t.Error("expired connection was not closed")
	}
}

func TestPoolAcquireSkipsExpiredIdle(t *testing.T) {
	p, dials := newTestPool(HostPoolConfig{Limit: 2, MaxIdleTime: 10 * time.Millisecond})
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release(pc, false)

	time.Sleep(15 * time.Millisecond)

	pc2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if pc2 == pc {
		t.Error("expired idle connection must not be handed out")
	}
	if pc.Conn.(*stubConn).closed.Load() != 1 {
		t.Error("expired idle connection was not closed")
	}
	if dials.Load() != 2 {
		t.Errorf("dials = %d, want 2", dials.Load())
	}
	p.Release(pc2, false)
}

func TestPoolClose(t *testing.T) {
	p, _ := newTestPool(HostPoolConfig{Limit: 1, MaxWaiters: -1})

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	got := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		got <- err
	}()
	waitForWaiters(t, p, 1)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-got:
		if !errors.Is(err, ErrPoolClosed) {
			t.Errorf("queued Acquire() error = %v, want ErrPoolClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued acquisition never failed")
	}

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire() after close error = %v, want ErrPoolClosed", err)
	}

	// Checked-out connections are discarded as they come back, and their
	// slot leaves the live count.
	p.Release(pc, false)
	if pc.Conn.(*stubConn).closed.Load() != 1 {
		t.Error("connection released after close was not closed")
	}
	p.mu.Lock()
	live := p.live
	p.mu.Unlock()
	if live != 0 {
		t.Errorf("live = %d after draining the closed pool, want 0", live)
	}

	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestPoolZeroMaxWaitersNeverQueues(t *testing.T) {
	p, _ := newTestPool(HostPoolConfig{Limit: 1, MaxWaiters: 0})
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// With a zero waiter budget an exhausted pool fails immediately.
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrTooManyWaiters) {
		t.Errorf("Acquire() error = %v, want ErrTooManyWaiters", err)
	}
	p.Release(pc, false)
}

func TestPoolDialFailureFreesCapacity(t *testing.T) {
	dialErr := errors.New("dial failed")
	fail := true
	p := newWatermarkPool("test", "h1:1", HostPoolConfig{Limit: 1}, func(ctx context.Context) (Conn, error) {
		if fail {
			return nil, dialErr
		}
		return &stubConn{}, nil
	}, nil, nil, nil)
	defer p.Close()

	if _, err := p.Acquire(context.Background()); !errors.Is(err, dialErr) {
		t.Fatalf("Acquire() error = %v, want the dial error", err)
	}

	// The failed dial freed its capacity slot.
	fail = false
	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release(pc, false)
}
