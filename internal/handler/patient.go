package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/secure-health-portal/internal/model"
	"github.com/iliyamo/secure-health-portal/internal/repository"
	"github.com/iliyamo/secure-health-portal/internal/service"
)

// PatientHandler serves a patient's own profile and records.
type PatientHandler struct {
	Auth     *service.AuthService
	Accounts repository.AccountStore
	Records  repository.RecordStore
	Log      *zap.Logger
}

func NewPatientHandler(auth *service.AuthService, accounts repository.AccountStore, records repository.RecordStore, log *zap.Logger) *PatientHandler {
	return &PatientHandler{Auth: auth, Accounts: accounts, Records: records, Log: log}
}

// Omitted fields are left unchanged.
type profileReq struct {
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	Address     *string `json:"address"`
	OldPassword string  `json:"oldPassword"`
	NewPassword string  `json:"newPassword"`
}

// Profile GET /auth/patient/profile
func (h *PatientHandler) Profile(c echo.Context) error {
	me, err := currentAccount(c)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	acct, err := h.Accounts.GetByID(c.Request().Context(), me.AccountID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"profile": acct.Public()})
}

// UpdateProfile PUT /auth/patient/profile
// A password change needs the current password.  Contact fields are merged
// into what is already stored.
func (h *PatientHandler) UpdateProfile(c echo.Context) error {
	me, err := currentAccount(c)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	var req profileReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	contactChange := req.Email != nil || req.Phone != nil || req.Address != nil
	if !contactChange && req.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "nothing to update"})
	}

	ctx := c.Request().Context()
	acct, err := h.Accounts.GetByID(ctx, me.AccountID)
	if err != nil {
		return writeError(c, h.Log, err)
	}

	email := acct.Email
	if req.Email != nil {
		if email, err = service.NormalizeEmail(*req.Email); err != nil {
			return writeError(c, h.Log, err)
		}
	}

	if req.NewPassword != "" {
		if err := h.Auth.ChangePassword(ctx, acct.ID, req.OldPassword, req.NewPassword, c.RealIP()); err != nil {
			return writeError(c, h.Log, err)
		}
	}

	if contactChange {
		contact := mergeContact(acct.Contact, req.Phone, req.Address)
		if err := h.Accounts.UpdateContact(ctx, acct.ID, email, contact); err != nil {
			return writeError(c, h.Log, err)
		}
		acct.Email = email
		acct.Contact = contact
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "profile updated", "profile": acct.Public()})
}

// ListRecords GET /auth/patient/records
func (h *PatientHandler) ListRecords(c echo.Context) error {
	me, err := currentAccount(c)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	recs, err := h.Records.ListByPatient(c.Request().Context(), me.AccountID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"records": recs})
}

func mergeContact(cur *model.ContactInfo, phone, address *string) *model.ContactInfo {
	out := model.ContactInfo{}
	if cur != nil {
		out = *cur
	}
	if phone != nil {
		out.Phone = strings.TrimSpace(*phone)
	}
	if address != nil {
		out.Address = strings.TrimSpace(*address)
	}
	if out == (model.ContactInfo{}) {
		return nil
	}
	return &out
}
