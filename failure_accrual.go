package finagle

import (
	"sync/atomic"
	"time"
)

// failureAccrual tracks consecutive dispatch failures for one host. After
// Threshold failures the host is dead for Cooldown; once the cooldown
// elapses it is probing, and the first success makes it fully alive again.
// A failure while probing re-arms the full cooldown immediately.
//
// All state lives in atomics so dispatch hot paths never take a lock.
type failureAccrual struct {
	threshold int64
	cooldown  time.Duration

	failures  int64
	deadUntil int64 // unix nanos; 0 = alive
}

func newFailureAccrual(params FailureAccrualParams) *failureAccrual {
	if params.Threshold <= 0 {
		params.Threshold = DefaultFailureAccrualThreshold
	}
	if params.Cooldown <= 0 {
		params.Cooldown = DefaultFailureAccrualCooldown
	}
	return &failureAccrual{
		threshold: int64(params.Threshold),
		cooldown:  params.Cooldown,
	}
}

// Allow reports whether acquisitions against this host may proceed. While
// dead it returns false without any connection attempt; once the cooldown
// elapses it allows probing traffic through.
func (fa *failureAccrual) Allow() bool {
	deadUntil := atomic.LoadInt64(&fa.deadUntil)
	if deadUntil == 0 {
		return true
	}
	return time.Now().UnixNano() >= deadUntil
}

// Dead reports whether the host is currently inside a cooldown.
func (fa *failureAccrual) Dead() bool {
	return !fa.Allow()
}

// RecordFailure counts one dispatch failure.
func (fa *failureAccrual) RecordFailure() {
	now := time.Now().UnixNano()

	deadUntil := atomic.LoadInt64(&fa.deadUntil)
	if deadUntil != 0 && now >= deadUntil {
		// Probe failed: back to dead for a full cooldown.
		atomic.StoreInt64(&fa.deadUntil, now+int64(fa.cooldown))
		return
	}
	if deadUntil != 0 {
		return
	}

	failures := atomic.AddInt64(&fa.failures, 1)
	if failures >= fa.threshold {
		atomic.StoreInt64(&fa.deadUntil, now+int64(fa.cooldown))
		atomic.StoreInt64(&fa.failures, 0)
	}
}

// RecordSuccess resets the tracker: counter to zero, host alive.
func (fa *failureAccrual) RecordSuccess() {
	atomic.StoreInt64(&fa.failures, 0)
	atomic.StoreInt64(&fa.deadUntil, 0)
}

// failFastState is the orthogonal host-health signal: dead from the first
// physical connection failure until a reconnection succeeds. While dead the
// host is excluded from balanced selection, but reconnection attempts are
// still permitted; they are how the host revives.
type failFastState struct {
	deadFlag atomic.Bool
}

// markDead reports whether this call performed the alive-to-dead transition.
func (ff *failFastState) markDead() bool { return !ff.deadFlag.Swap(true) }

func (ff *failFastState) markAlive() { ff.deadFlag.Store(false) }

func (ff *failFastState) dead() bool { return ff.deadFlag.Load() }
