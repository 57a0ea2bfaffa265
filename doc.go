// Package finagle assembles declarative client configurations into working,
// concurrent RPC clients:
//
//   - Fluent, referentially transparent ClientBuilder with fail-fast
//     validation of required fields (cluster, codec, host connection limit)
//   - Per-host watermark connection pools with bounded waiter queues and
//     idle / lifetime eviction
//   - Failure accrual (consecutive failures + cooldown) and fail-fast host
//     health signals, composed independently
//   - A fixed filter chain: exception annotation, global timeout, retries,
//     load-balanced host selection
//   - Exactly-once teardown with reference-counted shared timer and tracer
//
// The package is an orchestration layer only. Wire protocols (Codec), raw
// transports (Transporter), cluster membership (Cluster) and stats backends
// are narrow interfaces supplied by the caller; finagle never implements
// them beyond minimal defaults.
//
// Typical usage:
//
//	svc, err := finagle.NewClientBuilder().
//	    Hosts("h1:8080,h2:8080").
//	    Codec(myCodecFactory).
//	    HostConnectionLimit(5).
//	    Retries(2).
//	    Timeout(500 * time.Millisecond).
//	    Build()
//	if err != nil {
//	    // *finagle.IncompleteSpecification names any missing field
//	}
//	defer svc.Close()
//	rep, err := svc.Call(ctx, req)
//
// All exported types are safe for concurrent use unless noted otherwise.
package finagle
