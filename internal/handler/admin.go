package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/secure-health-portal/internal/model"
	"github.com/iliyamo/secure-health-portal/internal/repository"
)

// EventLog records and lists security events.
type EventLog interface {
	Record(ctx context.Context, ev model.SecurityEvent)
	List(ctx context.Context, subjectID *uint64, limit int) ([]model.SecurityEvent, error)
}

// StatusRefresher rewrites a cached account status after an admin change.
type StatusRefresher interface {
	Refresh(ctx context.Context, id uint64)
}

const defaultLogPage = 100

// AdminHandler serves account administration and audit listing.
type AdminHandler struct {
	Accounts repository.AccountStore
	Records  repository.RecordStore
	Events   EventLog
	Status   StatusRefresher
	Log      *zap.Logger
}

func NewAdminHandler(accounts repository.AccountStore, records repository.RecordStore, events EventLog,
	status StatusRefresher, log *zap.Logger) *AdminHandler {
	return &AdminHandler{Accounts: accounts, Records: records, Events: events, Status: status, Log: log}
}

type roleReq struct {
	Role string `json:"role"`
}
type statusReq struct {
	IsActive *bool `json:"isActive"`
}

// ListUsers GET /auth/admin/users
func (h *AdminHandler) ListUsers(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	accts, err := h.Accounts.List(ctx)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	out := make([]model.PublicAccount, 0, len(accts))
	for _, a := range accts {
		out = append(out, a.Public())
	}
	return c.JSON(http.StatusOK, echo.Map{"users": out})
}

// GetUser GET /auth/admin/users/:id
func (h *AdminHandler) GetUser(c echo.Context) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	acct, err := h.Accounts.GetByID(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": acct.Public()})
}

// UpdateRole PUT /auth/admin/users/:id/role
func (h *AdminHandler) UpdateRole(c echo.Context) error {
	admin, target, ok, err := h.target(c)
	if !ok {
		return err
	}
	var req roleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	role, valid := model.ParseRole(req.Role)
	if !valid {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid role"})
	}

	ctx := c.Request().Context()
	if err := h.Accounts.UpdateRole(ctx, target.ID, role); err != nil {
		return writeError(c, h.Log, err)
	}
	h.Status.Refresh(ctx, target.ID)
	h.Events.Record(ctx, model.SecurityEvent{
		SubjectID:     &admin,
		Action:        model.ActionRoleUpdated,
		Detail:        fmt.Sprintf("role changed from %s to %s for %s (id %d)", target.Role, role, target.Username, target.ID),
		SourceAddress: c.RealIP(),
	})
	return c.JSON(http.StatusOK, echo.Map{"message": "user role updated", "role": role})
}

// UpdateStatus PUT /auth/admin/users/:id/status
func (h *AdminHandler) UpdateStatus(c echo.Context) error {
	admin, target, ok, err := h.target(c)
	if !ok {
		return err
	}
	var req statusReq
	if err := c.Bind(&req); err != nil || req.IsActive == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "isActive is required"})
	}

	ctx := c.Request().Context()
	if err := h.Accounts.UpdateActive(ctx, target.ID, *req.IsActive); err != nil {
		return writeError(c, h.Log, err)
	}
	h.Status.Refresh(ctx, target.ID)
	h.Events.Record(ctx, model.SecurityEvent{
		SubjectID:     &admin,
		Action:        model.ActionStatusUpdated,
		Detail:        fmt.Sprintf("status changed from %t to %t for %s (id %d)", target.IsActive, *req.IsActive, target.Username, target.ID),
		SourceAddress: c.RealIP(),
	})
	return c.JSON(http.StatusOK, echo.Map{"isActive": *req.IsActive})
}

// DeleteUser DELETE /auth/admin/users/:id
// The store cascades to the account's records and events; the deletion event
// is filed under the acting admin.
func (h *AdminHandler) DeleteUser(c echo.Context) error {
	admin, target, ok, err := h.target(c)
	if !ok {
		return err
	}
	ctx := c.Request().Context()
	if err := h.Accounts.Delete(ctx, target.ID); err != nil {
		return writeError(c, h.Log, err)
	}
	h.Status.Refresh(ctx, target.ID)
	h.Events.Record(ctx, model.SecurityEvent{
		SubjectID:     &admin,
		Action:        model.ActionAccountDeleted,
		Detail:        fmt.Sprintf("deleted %s (id %d, role %s)", target.Username, target.ID, target.Role),
		SourceAddress: c.RealIP(),
	})
	return c.JSON(http.StatusOK, echo.Map{"message": "user deleted"})
}

// PatientRecords GET /auth/admin/patient-records
func (h *AdminHandler) PatientRecords(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	recs, err := h.Records.ListAll(ctx)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"records": recs})
}

// Logs GET /auth/log?limit=&subjectId=
func (h *AdminHandler) Logs(c echo.Context) error {
	limit := defaultLogPage
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = n
	}
	var subject *uint64
	if v := c.QueryParam("subjectId"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid subjectId"})
		}
		subject = &n
	}
	evs, err := h.Events.List(c.Request().Context(), subject, limit)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"logs": evs})
}

// target resolves the acting admin and the :id account.  Admins may not
// change or delete their own account.  When ok is false the response has
// already been written and err is what the handler should return.
func (h *AdminHandler) target(c echo.Context) (admin uint64, acct model.Account, ok bool, err error) {
	me, err := currentAccount(c)
	if err != nil {
		return 0, acct, false, writeError(c, h.Log, err)
	}
	id, valid := parseIDParam(c, "id")
	if !valid {
		return 0, acct, false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	if id == me.AccountID {
		return 0, acct, false, c.JSON(http.StatusBadRequest, echo.Map{"error": "cannot modify your own account"})
	}
	acct, err = h.Accounts.GetByID(c.Request().Context(), id)
	if err != nil {
		return 0, acct, false, writeError(c, h.Log, err)
	}
	return me.AccountID, acct, true, nil
}
