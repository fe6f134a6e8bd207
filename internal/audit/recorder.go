// Package audit records security events.  Recording never fails the caller:
// a write that cannot reach the store falls back to the durable queue, and
// failing that, to the process log.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/secure-health-portal/internal/model"
	"github.com/iliyamo/secure-health-portal/internal/repository"
)

// Fallback durably accepts an event the store refused.
type Fallback interface {
	Publish(ctx context.Context, ev model.SecurityEvent) error
}

const writeTimeout = 5 * time.Second

// Recorder writes security events.  Critical actions (failures and
// administrative changes) are persisted before Record returns; the rest are
// written in the background and drained by Close.
type Recorder struct {
	store    repository.EventStore
	fallback Fallback
	log      *zap.Logger
	now      func() time.Time

	mu     sync.Mutex // orders closed against wg.Add
	wg     sync.WaitGroup
	closed bool
}

// NewRecorder builds a Recorder.  fallback may be nil.
func NewRecorder(store repository.EventStore, fallback Fallback, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{store: store, fallback: fallback, log: log, now: time.Now}
}

// Record stamps and writes ev.  The request context only carries values here;
// its cancellation does not abort the write.
func (r *Recorder) Record(ctx context.Context, ev model.SecurityEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now().UTC()
	}
	ev = ev.Clamped()
	base := context.WithoutCancel(ctx)
	if ev.Action.Critical() {
		r.write(base, ev)
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.write(base, ev)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.wg.Done()
		r.write(base, ev)
	}()
}

// Close waits for background writes, or for ctx to expire.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List pages events newest first, optionally for one subject.
func (r *Recorder) List(ctx context.Context, subjectID *uint64, limit int) ([]model.SecurityEvent, error) {
	return r.store.List(ctx, subjectID, limit)
}

func (r *Recorder) write(ctx context.Context, ev model.SecurityEvent) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := r.store.Insert(wctx, &ev)
	if err == nil {
		return
	}
	if r.fallback != nil {
		ferr := r.fallback.Publish(wctx, ev)
		if ferr == nil {
			r.log.Warn("security event queued after store failure",
				zap.String("action", string(ev.Action)), zap.Error(err))
			return
		}
		err = ferr
	}
	r.log.Error("security event could not be persisted", append(eventFields(ev), zap.Error(err))...)
}

func eventFields(ev model.SecurityEvent) []zap.Field {
	fields := []zap.Field{
		zap.String("action", string(ev.Action)),
		zap.String("detail", ev.Detail),
		zap.String("source_address", ev.SourceAddress),
		zap.Time("occurred_at", ev.Timestamp),
	}
	if ev.SubjectID != nil {
		fields = append(fields, zap.Uint64("subject_id", *ev.SubjectID))
	}
	return fields
}
