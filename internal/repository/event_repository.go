package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/secure-health-portal/internal/model"
)

// EventStore is the append-only security event table.  There is no update
// method; rows disappear only when their subject account is deleted.
type EventStore interface {
	Insert(ctx context.Context, ev *model.SecurityEvent) error
	List(ctx context.Context, subjectID *uint64, limit int) ([]model.SecurityEvent, error)
}

// MaxEventPage caps List page sizes.
const MaxEventPage = 500

// EventRepo persists events in `security_events`.
type EventRepo struct{ DB *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{DB: db} }

// Insert appends one event; a zero Timestamp is set to now.
func (r *EventRepo) Insert(ctx context.Context, ev *model.SecurityEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	*ev = ev.Clamped()
	var subject sql.NullInt64
	if ev.SubjectID != nil {
		subject = sql.NullInt64{Int64: int64(*ev.SubjectID), Valid: true}
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO security_events (subject_id, action, detail, source_address, created_at) VALUES (?,?,?,?,?)",
		subject, string(ev.Action), ev.Detail, ev.SourceAddress, ev.Timestamp)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = uint64(id)
	return nil
}

// List returns the newest events first, optionally for one subject.
func (r *EventRepo) List(ctx context.Context, subjectID *uint64, limit int) ([]model.SecurityEvent, error) {
	limit = clampLimit(limit)
	var (
		rows *sql.Rows
		err  error
	)
	const cols = "SELECT id, subject_id, action, detail, source_address, created_at FROM security_events"
	if subjectID != nil {
		rows, err = r.DB.QueryContext(ctx, cols+" WHERE subject_id=? ORDER BY id DESC LIMIT ?", *subjectID, limit)
	} else {
		rows, err = r.DB.QueryContext(ctx, cols+" ORDER BY id DESC LIMIT ?", limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SecurityEvent
	for rows.Next() {
		var (
			ev      model.SecurityEvent
			subject sql.NullInt64
			action  string
			detail  sql.NullString
			addr    sql.NullString
		)
		if err := rows.Scan(&ev.ID, &subject, &action, &detail, &addr, &ev.Timestamp); err != nil {
			return nil, err
		}
		if subject.Valid {
			id := uint64(subject.Int64)
			ev.SubjectID = &id
		}
		ev.Action = model.Action(action)
		ev.Detail = detail.String
		ev.SourceAddress = addr.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MemoryEventRepo is the EventStore used with DB_DRIVER=memory.
type MemoryEventRepo struct {
	mu     sync.RWMutex
	nextID uint64
	events []model.SecurityEvent
}

func NewMemoryEventRepo() *MemoryEventRepo { return &MemoryEventRepo{} }

func (r *MemoryEventRepo) Insert(_ context.Context, ev *model.SecurityEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ev.ID = r.nextID
	r.events = append(r.events, *ev)
	return nil
}

func (r *MemoryEventRepo) List(_ context.Context, subjectID *uint64, limit int) ([]model.SecurityEvent, error) {
	limit = clampLimit(limit)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.SecurityEvent, 0, limit)
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := r.events[i]
		if subjectID != nil && (ev.SubjectID == nil || *ev.SubjectID != *subjectID) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// DeleteSubject drops every event of the account; registered as an
// account delete hook.
func (r *MemoryEventRepo) DeleteSubject(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	for _, ev := range r.events {
		if ev.SubjectID != nil && *ev.SubjectID == id {
			continue
		}
		kept = append(kept, ev)
	}
	r.events = kept
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > MaxEventPage {
		return MaxEventPage
	}
	return limit
}
