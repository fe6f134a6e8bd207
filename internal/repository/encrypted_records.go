package repository

import (
	"context"
	"fmt"

	"github.com/iliyamo/secure-health-portal/internal/model"
)

// FieldCipher is the field-level cipher used at the storage boundary.
// Decrypt never fails: unreadable values come back as "".
type FieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(serialized string) string
}

// EncryptedRecords wraps a RecordStore so callers only ever see plaintext.
// Every element of Diagnoses and Notes is encrypted on the way in and
// decrypted on the way out.  A corrupt element reads back as "" without
// failing the rest of the listing.
type EncryptedRecords struct {
	inner  RecordStore
	cipher FieldCipher
}

func NewEncryptedRecords(inner RecordStore, c FieldCipher) *EncryptedRecords {
	return &EncryptedRecords{inner: inner, cipher: c}
}

func (e *EncryptedRecords) Create(ctx context.Context, rec *model.PatientRecord) error {
	sealed := *rec
	var err error
	if sealed.Diagnoses, err = e.seal(rec.Diagnoses); err != nil {
		return err
	}
	if sealed.Notes, err = e.seal(rec.Notes); err != nil {
		return err
	}
	if err := e.inner.Create(ctx, &sealed); err != nil {
		return err
	}
	rec.ID, rec.CreatedAt = sealed.ID, sealed.CreatedAt
	return nil
}

func (e *EncryptedRecords) Get(ctx context.Context, id uint64) (model.PatientRecord, error) {
	rec, err := e.inner.Get(ctx, id)
	if err != nil {
		return model.PatientRecord{}, err
	}
	return e.open(rec), nil
}

func (e *EncryptedRecords) ListByDoctor(ctx context.Context, doctorID uint64) ([]model.PatientRecord, error) {
	return e.openAll(e.inner.ListByDoctor(ctx, doctorID))
}

func (e *EncryptedRecords) ListByPatient(ctx context.Context, patientID uint64) ([]model.PatientRecord, error) {
	return e.openAll(e.inner.ListByPatient(ctx, patientID))
}

func (e *EncryptedRecords) ListAll(ctx context.Context) ([]model.PatientRecord, error) {
	return e.openAll(e.inner.ListAll(ctx))
}

func (e *EncryptedRecords) UpdateNotes(ctx context.Context, id uint64, notes []string) error {
	sealed, err := e.seal(notes)
	if err != nil {
		return err
	}
	return e.inner.UpdateNotes(ctx, id, sealed)
}

func (e *EncryptedRecords) seal(in []string) ([]string, error) {
	out := make([]string, len(in))
	for i, s := range in {
		enc, err := e.cipher.Encrypt(s)
		if err != nil {
			return nil, fmt.Errorf("encrypt field: %w", err)
		}
		out[i] = enc
	}
	return out, nil
}

func (e *EncryptedRecords) open(rec model.PatientRecord) model.PatientRecord {
	rec.Diagnoses = e.openList(rec.Diagnoses)
	rec.Notes = e.openList(rec.Notes)
	return rec
}

func (e *EncryptedRecords) openList(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = e.cipher.Decrypt(s)
	}
	return out
}

func (e *EncryptedRecords) openAll(recs []model.PatientRecord, err error) ([]model.PatientRecord, error) {
	if err != nil {
		return nil, err
	}
	out := make([]model.PatientRecord, len(recs))
	for i, rec := range recs {
		out[i] = e.open(rec)
	}
	return out, nil
}
