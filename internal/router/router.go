package router // package router defines how HTTP routes are registered for the API

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/secure-health-portal/internal/handler"
	"github.com/iliyamo/secure-health-portal/internal/middleware"
	"github.com/iliyamo/secure-health-portal/internal/model"
)

// RegisterRoutes registers the liveness and readiness probes.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterAuth registers the unauthenticated login flow.  limiter guards the
// credential and code checks; responses carrying tokens or TOTP material are
// marked no-store.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, limiter echo.MiddlewareFunc) {
	noStore := middleware.NoStore()
	e.POST("/signup", a.Signup, noStore)
	e.POST("/login", a.Login, limiter, noStore)
	e.POST("/verify-2FA", a.Verify2FA, limiter, noStore)
	e.POST("/logout", a.Logout, noStore)
}

// Route is one protected endpoint and the roles allowed to call it.
type Route struct {
	Method string
	Path   string
	Roles  []model.Role
}

var allRoles = []model.Role{model.RoleAdmin, model.RoleDoctor, model.RolePatient}

// ProtectedRoutes is the authorization table.  Every entry is registered
// behind the authorization gate and a role check for exactly these roles.
var ProtectedRoutes = []Route{
	{"GET", "/me", allRoles},

	{"GET", "/auth/admin/users", []model.Role{model.RoleAdmin}},
	{"GET", "/auth/admin/users/:id", []model.Role{model.RoleAdmin}},
	{"PUT", "/auth/admin/users/:id/role", []model.Role{model.RoleAdmin}},
	{"PUT", "/auth/admin/users/:id/status", []model.Role{model.RoleAdmin}},
	{"DELETE", "/auth/admin/users/:id", []model.Role{model.RoleAdmin}},
	{"GET", "/auth/admin/patient-records", []model.Role{model.RoleAdmin}},
	{"GET", "/auth/log", []model.Role{model.RoleAdmin}},

	{"POST", "/auth/doctor/records/:patientId", []model.Role{model.RoleDoctor}},
	{"GET", "/auth/doctor/patients/records", []model.Role{model.RoleDoctor}},
	{"PUT", "/auth/doctor/records/:recordId", []model.Role{model.RoleDoctor}},

	{"GET", "/auth/patient/profile", []model.Role{model.RolePatient}},
	{"PUT", "/auth/patient/profile", []model.Role{model.RolePatient}},
	{"GET", "/auth/patient/records", []model.Role{model.RolePatient}},
}

// Handlers groups the handlers behind ProtectedRoutes.
type Handlers struct {
	Auth    *handler.AuthHandler
	Admin   *handler.AdminHandler
	Doctor  *handler.DoctorHandler
	Patient *handler.PatientHandler
}

func (h Handlers) byRoute() map[string]echo.HandlerFunc {
	return map[string]echo.HandlerFunc{
		"GET /me": h.Auth.Me,

		"GET /auth/admin/users":            h.Admin.ListUsers,
		"GET /auth/admin/users/:id":        h.Admin.GetUser,
		"PUT /auth/admin/users/:id/role":   h.Admin.UpdateRole,
		"PUT /auth/admin/users/:id/status": h.Admin.UpdateStatus,
		"DELETE /auth/admin/users/:id":     h.Admin.DeleteUser,
		"GET /auth/admin/patient-records":  h.Admin.PatientRecords,
		"GET /auth/log":                    h.Admin.Logs,

		"POST /auth/doctor/records/:patientId": h.Doctor.CreateRecord,
		"GET /auth/doctor/patients/records":    h.Doctor.ListRecords,
		"PUT /auth/doctor/records/:recordId":   h.Doctor.UpdateNotes,

		"GET /auth/patient/profile": h.Patient.Profile,
		"PUT /auth/patient/profile": h.Patient.UpdateProfile,
		"GET /auth/patient/records": h.Patient.ListRecords,
	}
}

// RegisterProtected registers every entry of ProtectedRoutes behind gate,
// the role check and no-store.  It panics when a table entry has no handler,
// which can only happen at startup.
func RegisterProtected(e *echo.Echo, h Handlers, gate echo.MiddlewareFunc) {
	handlers := h.byRoute()
	noStore := middleware.NoStore()
	for _, r := range ProtectedRoutes {
		fn, ok := handlers[r.Method+" "+r.Path]
		if !ok {
			panic(fmt.Sprintf("router: no handler for %s %s", r.Method, r.Path))
		}
		e.Add(r.Method, r.Path, fn, gate, middleware.RequireRole(r.Roles...), noStore)
	}
}
