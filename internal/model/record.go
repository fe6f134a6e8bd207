package model

import "time"

// PatientRecord is a clinical record written by a doctor about a patient.
// Diagnoses and Notes are plaintext here; the repository adapter encrypts each
// element before it reaches the `patient_records` table.
type PatientRecord struct {
	ID        uint64    `json:"id"`
	PatientID uint64    `json:"patientId"`
	DoctorID  uint64    `json:"doctorId"`
	Diagnoses []string  `json:"diagnoses"`
	Notes     []string  `json:"notes"`
	CreatedAt time.Time `json:"createdAt"`
}
