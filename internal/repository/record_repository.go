package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/secure-health-portal/internal/model"
)

// RecordStore persists patient records.  Implementations in this file store
// Diagnoses and Notes exactly as given; wrap them with EncryptedRecords to get
// field-level encryption.
type RecordStore interface {
	Create(ctx context.Context, rec *model.PatientRecord) error
	Get(ctx context.Context, id uint64) (model.PatientRecord, error)
	ListByDoctor(ctx context.Context, doctorID uint64) ([]model.PatientRecord, error)
	ListByPatient(ctx context.Context, patientID uint64) ([]model.PatientRecord, error)
	ListAll(ctx context.Context) ([]model.PatientRecord, error)
	UpdateNotes(ctx context.Context, id uint64, notes []string) error
}

const recordColumns = "SELECT id, patient_id, doctor_id, diagnoses, notes, created_at FROM patient_records"

// RecordRepo is the MySQL RecordStore backed by `patient_records`.
type RecordRepo struct{ DB *sql.DB }

func NewRecordRepo(db *sql.DB) *RecordRepo { return &RecordRepo{DB: db} }

func (r *RecordRepo) Create(ctx context.Context, rec *model.PatientRecord) error {
	diag, err := json.Marshal(nonNil(rec.Diagnoses))
	if err != nil {
		return err
	}
	notes, err := json.Marshal(nonNil(rec.Notes))
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO patient_records (patient_id, doctor_id, diagnoses, notes, created_at) VALUES (?,?,?,?,?)",
		rec.PatientID, rec.DoctorID, string(diag), string(notes), rec.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = uint64(id)
	return nil
}

func (r *RecordRepo) Get(ctx context.Context, id uint64) (model.PatientRecord, error) {
	recs, err := r.query(ctx, recordColumns+" WHERE id=? LIMIT 1", id)
	if err != nil {
		return model.PatientRecord{}, err
	}
	if len(recs) == 0 {
		return model.PatientRecord{}, ErrNotFound
	}
	return recs[0], nil
}

func (r *RecordRepo) ListByDoctor(ctx context.Context, doctorID uint64) ([]model.PatientRecord, error) {
	return r.query(ctx, recordColumns+" WHERE doctor_id=? ORDER BY id", doctorID)
}

func (r *RecordRepo) ListByPatient(ctx context.Context, patientID uint64) ([]model.PatientRecord, error) {
	return r.query(ctx, recordColumns+" WHERE patient_id=? ORDER BY id", patientID)
}

func (r *RecordRepo) ListAll(ctx context.Context) ([]model.PatientRecord, error) {
	return r.query(ctx, recordColumns+" ORDER BY id")
}

func (r *RecordRepo) UpdateNotes(ctx context.Context, id uint64, notes []string) error {
	raw, err := json.Marshal(nonNil(notes))
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, "UPDATE patient_records SET notes=? WHERE id=?", string(raw), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RecordRepo) query(ctx context.Context, q string, args ...any) ([]model.PatientRecord, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PatientRecord
	for rows.Next() {
		var (
			rec         model.PatientRecord
			diag, notes []byte
		)
		if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.DoctorID, &diag, &notes, &rec.CreatedAt); err != nil {
			return nil, err
		}
		// a row with an unreadable JSON column still lists, with that column empty
		rec.Diagnoses = decodeList(diag)
		rec.Notes = decodeList(notes)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func decodeList(b []byte) []string {
	var out []string
	if len(b) == 0 || json.Unmarshal(b, &out) != nil || out == nil {
		return []string{}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// MemoryRecordRepo is the RecordStore used with DB_DRIVER=memory.
type MemoryRecordRepo struct {
	mu     sync.RWMutex
	nextID uint64
	recs   map[uint64]model.PatientRecord
}

func NewMemoryRecordRepo() *MemoryRecordRepo {
	return &MemoryRecordRepo{recs: map[uint64]model.PatientRecord{}}
}

func (r *MemoryRecordRepo) Create(_ context.Context, rec *model.PatientRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	rec.ID = r.nextID
	r.recs[rec.ID] = cloneRecord(*rec)
	return nil
}

func (r *MemoryRecordRepo) Get(_ context.Context, id uint64) (model.PatientRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recs[id]
	if !ok {
		return model.PatientRecord{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (r *MemoryRecordRepo) ListByDoctor(_ context.Context, doctorID uint64) ([]model.PatientRecord, error) {
	return r.filter(func(rec model.PatientRecord) bool { return rec.DoctorID == doctorID }), nil
}

func (r *MemoryRecordRepo) ListByPatient(_ context.Context, patientID uint64) ([]model.PatientRecord, error) {
	return r.filter(func(rec model.PatientRecord) bool { return rec.PatientID == patientID }), nil
}

func (r *MemoryRecordRepo) ListAll(_ context.Context) ([]model.PatientRecord, error) {
	return r.filter(func(model.PatientRecord) bool { return true }), nil
}

func (r *MemoryRecordRepo) UpdateNotes(_ context.Context, id uint64, notes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return ErrNotFound
	}
	rec.Notes = append([]string(nil), nonNil(notes)...)
	r.recs[id] = rec
	return nil
}

// DeleteAccount drops records where the account is patient or doctor.
func (r *MemoryRecordRepo) DeleteAccount(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for rid, rec := range r.recs {
		if rec.PatientID == id || rec.DoctorID == id {
			delete(r.recs, rid)
		}
	}
}

func (r *MemoryRecordRepo) filter(keep func(model.PatientRecord) bool) []model.PatientRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.PatientRecord
	for _, rec := range r.recs {
		if keep(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneRecord(rec model.PatientRecord) model.PatientRecord {
	rec.Diagnoses = append([]string{}, rec.Diagnoses...)
	rec.Notes = append([]string{}, rec.Notes...)
	return rec
}
