package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"voyagedesk.app/internal/auth"
	"voyagedesk.app/internal/obs"
)

// ErrClosed is returned by AsyncSink after Close.
var ErrClosed = errors.New("audit: sink closed")

// LogSink writes decision records to the structured log.
type LogSink struct{}

func (LogSink) Record(ctx context.Context, rec auth.DecisionRecord) error {
	e := obs.Logger().Info().
		Str("type", "authz_decision").
		Time("occurred_at", rec.OccurredAt).
		Str("actor_id", rec.ActorID).
		Str("role", string(rec.Role)).
		Str("module", rec.Module).
		Str("action", rec.Action).
		Str("decision", rec.Decision)
	if rec.RequestID != "" {
		e = e.Str("request_id", rec.RequestID)
	}
	if rec.AgencyID != "" {
		e = e.Str("agency_id", rec.AgencyID)
	}
	if rec.Reason != "" {
		e = e.Str("reason", rec.Reason)
	}
	e.Msg("authz_decision")
	return nil
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []auth.AuditSink

func (m MultiSink) Record(ctx context.Context, rec auth.DecisionRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncSink decouples Authorize from a slow sink. Records are queued on a
// bounded buffer and written by one goroutine; when the buffer is full the
// record is dropped and counted.
type AsyncSink struct {
	next    auth.AuditSink
	queue   chan auth.DecisionRecord
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncSink starts the writer goroutine. Close must be called to flush.
func NewAsyncSink(next auth.AuditSink, buffer int, timeout time.Duration) *AsyncSink {
	if buffer <= 0 {
		buffer = 1024
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	s := &AsyncSink{
		next:    next,
		queue:   make(chan auth.DecisionRecord, buffer),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Record enqueues rec without blocking.
func (s *AsyncSink) Record(ctx context.Context, rec auth.DecisionRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		obs.ObserveAuditDropped()
		return ErrClosed
	}
	select {
	case s.queue <- rec:
		return nil
	default:
		obs.ObserveAuditDropped()
		return errors.New("audit: queue full, record dropped")
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for rec := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.next.Record(ctx, rec); err != nil {
			obs.ObserveAuditDropped()
			obs.Logger().Warn().Err(err).Str("actor_id", rec.ActorID).Str("module", rec.Module).Msg("audit_write_failed")
		}
		cancel()
	}
}

// Close stops accepting records and waits for the queue to drain or ctx to
// expire.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
