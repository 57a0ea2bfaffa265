package finagle

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robbinfan/finagle/internal/refcount"
)

// Annotation is one structured trace event emitted by the client pipeline.
type Annotation struct {
	TraceID   string
	Client    string
	Host      string
	Event     string
	Err       error
	Timestamp time.Time
}

// Events recorded by the assembled pipeline.
const (
	TraceEventDial         = "dial"
	TraceEventDialFailure  = "dial/failure"
	TraceEventDispatch     = "dispatch"
	TraceEventDispatchFail = "dispatch/failure"
	TraceEventClose        = "close"
)

// Tracer consumes trace annotations. Implementations must be safe for
// concurrent use; the backend behind them is out of scope for this package.
type Tracer interface {
	Record(a Annotation)
	Close() error
}

// TracerFactory builds the tracer a client records to. When no factory is
// configured, clients share one refcounted NullTracer.
type TracerFactory func() Tracer

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string { return uuid.NewString() }

// NullTracer discards all annotations.
type NullTracer struct{}

func (NullTracer) Record(Annotation) {}

func (NullTracer) Close() error { return nil }

// RecordingTracer buffers annotations in memory. Useful in tests and for
// ad-hoc diagnosis.
type RecordingTracer struct {
	mu          sync.Mutex
	annotations []Annotation
}

func (t *RecordingTracer) Record(a Annotation) {
	t.mu.Lock()
	t.annotations = append(t.annotations, a)
	t.mu.Unlock()
}

func (t *RecordingTracer) Close() error { return nil }

// Annotations returns a snapshot of everything recorded so far.
func (t *RecordingTracer) Annotations() []Annotation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Annotation(nil), t.annotations...)
}

var sharedTracer = refcount.New(
	func() any { return NullTracer{} },
	func(v any) { _ = v.(Tracer).Close() },
)

// acquireTracer resolves the tracer for one client. The default tracer is
// process-wide and refcounted; a custom factory's product belongs to the
// client alone and is closed on release.
func acquireTracer(factory TracerFactory) (Tracer, func()) {
	if factory == nil {
		t := sharedTracer.Acquire().(Tracer)
		var once sync.Once
		return t, func() {
			once.Do(func() { _ = sharedTracer.Release() })
		}
	}
	t := factory()
	var once sync.Once
	return t, func() {
		once.Do(func() { _ = t.Close() })
	}
}
