// Package obslog builds the structured logger used throughout acmed.
//
// Grounded on komuw-ong's log/log.go and newLog/log.go: both wrap
// log/slog with a small ring buffer of recent records so that an operator
// can dump "what just happened" around a failure without standing up a log
// aggregator. komuw-ong's newLog/slog.go additionally wired an OpenTelemetry
// bridge that imported go.opentelemetry.io/otel packages never listed in its
// own go.mod — a broken file in the source tree. obslog keeps the ring-buffer
// idea and drops the unwired otel bridge; see DESIGN.md for the justification.
package obslog

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// ring is a fixed-capacity circular buffer of the most recent log records,
// independent of whatever level the configured handler is emitting at.
// This is the piece an operator consults after an ACME renewal fails: the
// last N records regardless of whether they were ever written to stdout.
type ring struct {
	mu      sync.Mutex
	records []slog.Record
	next    int
	filled  bool
}

func newRing(capacity int) *ring {
	return &ring{records: make([]slog.Record, capacity)}
}

func (r *ring) add(rec slog.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return
	}
	r.records[r.next] = rec
	r.next = (r.next + 1) % len(r.records)
	if r.next == 0 {
		r.filled = true
	}
}

// snapshot returns the buffered records in chronological order.
func (r *ring) snapshot() []slog.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	if !r.filled {
		out := make([]slog.Record, r.next)
		copy(out, r.records[:r.next])
		return out
	}
	out := make([]slog.Record, len(r.records))
	n := copy(out, r.records[r.next:])
	copy(out[n:], r.records[:r.next])
	return out
}

// ringHandler is an slog.Handler that both delegates to an underlying
// handler and mirrors every record into a ring buffer.
type ringHandler struct {
	next slog.Handler
	buf  *ring
}

func (h *ringHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *ringHandler) Handle(ctx context.Context, rec slog.Record) error {
	h.buf.add(rec.Clone())
	if !h.next.Enabled(ctx, rec.Level) {
		return nil
	}
	return h.next.Handle(ctx, rec)
}

func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ringHandler{next: h.next.WithAttrs(attrs), buf: h.buf}
}

func (h *ringHandler) WithGroup(name string) slog.Handler {
	return &ringHandler{next: h.next.WithGroup(name), buf: h.buf}
}

// Logger wraps an *slog.Logger with access to its ring buffer of recent
// records, for diagnostics after a failed renewal.
type Logger struct {
	*slog.Logger
	buf *ring
}

// Option configures New.
type Option func(*options)

type options struct {
	level     slog.Level
	ringSize  int
	addSource bool
}

// WithLevel sets the minimum level the underlying handler emits.
func WithLevel(l slog.Level) Option { return func(o *options) { o.level = l } }

// WithRingSize overrides the default ring buffer capacity.
func WithRingSize(n int) Option { return func(o *options) { o.ringSize = n } }

// WithSource enables source file:line annotation on every record, matching
// komuw-ong's log/log.go default for its non-production logger.
func WithSource() Option { return func(o *options) { o.addSource = true } }

// New returns a Logger that writes JSON lines to w (matching komuw-ong's
// choice of slog.NewJSONHandler as its production handler) and mirrors every
// record into an in-memory ring buffer.
func New(w io.Writer, opts ...Option) *Logger {
	o := options{level: slog.LevelInfo, ringSize: 100}
	for _, opt := range opts {
		opt(&o)
	}

	buf := newRing(o.ringSize)
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     o.level,
		AddSource: o.addSource,
	})
	h := &ringHandler{next: base, buf: buf}

	return &Logger{Logger: slog.New(h), buf: buf}
}

// Recent returns the most recently logged records, oldest first.
func (l *Logger) Recent() []slog.Record {
	return l.buf.snapshot()
}
