package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/secure-health-portal/internal/model"
	"github.com/iliyamo/secure-health-portal/internal/repository"
)

// DoctorHandler lets doctors write and amend patient records.  Record bodies
// pass through an encrypting RecordStore.
type DoctorHandler struct {
	Accounts repository.AccountStore
	Records  repository.RecordStore
	Log      *zap.Logger
}

func NewDoctorHandler(accounts repository.AccountStore, records repository.RecordStore, log *zap.Logger) *DoctorHandler {
	return &DoctorHandler{Accounts: accounts, Records: records, Log: log}
}

type createRecordReq struct {
	Diagnosis      stringList `json:"diagnosis"`
	TreatmentNotes stringList `json:"treatmentNotes"`
}
type updateNotesReq struct {
	TreatmentNotes stringList `json:"treatmentNotes"`
}

// CreateRecord POST /auth/doctor/records/:patientId
func (h *DoctorHandler) CreateRecord(c echo.Context) error {
	me, err := currentAccount(c)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	patientID, ok := parseIDParam(c, "patientId")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid patient id"})
	}
	var req createRecordReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if len(req.Diagnosis) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "diagnosis is required"})
	}

	ctx := c.Request().Context()
	patient, err := h.Accounts.GetByID(ctx, patientID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && patient.Role != model.RolePatient) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "patient not found"})
	}
	if err != nil {
		return writeError(c, h.Log, err)
	}

	rec := &model.PatientRecord{
		PatientID: patient.ID,
		DoctorID:  me.AccountID,
		Diagnoses: req.Diagnosis,
		Notes:     nonNil(req.TreatmentNotes),
	}
	if err := h.Records.Create(ctx, rec); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"message":         "record created",
		"patientUsername": patient.Username,
		"record":          rec,
	})
}

// ListRecords GET /auth/doctor/patients/records
func (h *DoctorHandler) ListRecords(c echo.Context) error {
	me, err := currentAccount(c)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	recs, err := h.Records.ListByDoctor(c.Request().Context(), me.AccountID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"records": recs})
}

// UpdateNotes PUT /auth/doctor/records/:recordId
// Only the authoring doctor may replace a record's notes.
func (h *DoctorHandler) UpdateNotes(c echo.Context) error {
	me, err := currentAccount(c)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	recordID, ok := parseIDParam(c, "recordId")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid record id"})
	}
	var req updateNotesReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx := c.Request().Context()
	rec, err := h.Records.Get(ctx, recordID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if rec.DoctorID != me.AccountID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your record"})
	}
	notes := nonNil(req.TreatmentNotes)
	if err := h.Records.UpdateNotes(ctx, rec.ID, notes); err != nil {
		return writeError(c, h.Log, err)
	}
	rec.Notes = notes
	return c.JSON(http.StatusOK, echo.Map{"message": "treatment notes updated", "record": rec})
}

func nonNil(l stringList) []string {
	if l == nil {
		return []string{}
	}
	return l
}
