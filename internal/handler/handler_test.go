package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/secure-health-portal/internal/audit"
	"github.com/iliyamo/secure-health-portal/internal/fieldcrypt"
	"github.com/iliyamo/secure-health-portal/internal/middleware"
	"github.com/iliyamo/secure-health-portal/internal/model"
	"github.com/iliyamo/secure-health-portal/internal/repository"
	"github.com/iliyamo/secure-health-portal/internal/service"
	"github.com/iliyamo/secure-health-portal/internal/totp"
	"github.com/iliyamo/secure-health-portal/internal/utils"
)

type portal struct {
	e        *echo.Echo
	accounts *repository.MemoryAccountRepo
	raw      *repository.MemoryRecordRepo
	events   *repository.MemoryEventRepo
	tokens   *utils.TokenIssuer
	auth     *service.AuthService

	admin, doctor, doctor2, patient model.Account
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	p := &portal{
		e:        echo.New(),
		accounts: repository.NewMemoryAccountRepo(),
		raw:      repository.NewMemoryRecordRepo(),
		events:   repository.NewMemoryEventRepo(),
		tokens:   utils.NewTokenIssuer("handler-secret", 5*time.Minute, time.Hour),
	}
	p.e.IPExtractor = middleware.IPExtractor(nil)
	p.accounts.OnDelete(p.events.DeleteSubject)
	p.accounts.OnDelete(p.raw.DeleteAccount)

	cipher, err := fieldcrypt.New(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)
	records := repository.NewEncryptedRecords(p.raw, cipher)
	recorder := audit.NewRecorder(p.events, nil, zap.NewNop())
	t.Cleanup(func() { _ = recorder.Close(context.Background()) })

	p.auth, err = service.NewAuthService(p.accounts, cipher, totp.NewEngine("SecureHealth", nil), p.tokens,
		recorder, service.Options{BcryptCost: utils.MinBcryptCost, LoginWindow: 1}, zap.NewNop())
	require.NoError(t, err)

	p.admin = p.seed(t, "admin", model.RoleAdmin)
	p.doctor = p.seed(t, "doc", model.RoleDoctor)
	p.doctor2 = p.seed(t, "doc2", model.RoleDoctor)
	p.patient = p.seed(t, "pat", model.RolePatient)

	status := repository.NewStatusCache(p.accounts, nil, 0, nil)
	gate := middleware.Authenticate(p.tokens, status, zap.NewNop())
	only := func(r ...model.Role) echo.MiddlewareFunc { return middleware.RequireRole(r...) }

	a := NewAuthHandler(p.auth, p.accounts, false, zap.NewNop())
	adm := NewAdminHandler(p.accounts, records, recorder, status, zap.NewNop())
	doc := NewDoctorHandler(p.accounts, records, zap.NewNop())
	pat := NewPatientHandler(p.auth, p.accounts, records, zap.NewNop())

	p.e.POST("/signup", a.Signup)
	p.e.POST("/login", a.Login)
	p.e.POST("/verify-2FA", a.Verify2FA)
	p.e.POST("/logout", a.Logout)
	p.e.GET("/me", a.Me, gate)

	p.e.GET("/auth/admin/users", adm.ListUsers, gate, only(model.RoleAdmin))
	p.e.GET("/auth/admin/users/:id", adm.GetUser, gate, only(model.RoleAdmin))
	p.e.PUT("/auth/admin/users/:id/role", adm.UpdateRole, gate, only(model.RoleAdmin))
	p.e.PUT("/auth/admin/users/:id/status", adm.UpdateStatus, gate, only(model.RoleAdmin))
	p.e.DELETE("/auth/admin/users/:id", adm.DeleteUser, gate, only(model.RoleAdmin))
	p.e.GET("/auth/admin/patient-records", adm.PatientRecords, gate, only(model.RoleAdmin))
	p.e.GET("/auth/log", adm.Logs, gate, only(model.RoleAdmin))

	p.e.POST("/auth/doctor/records/:patientId", doc.CreateRecord, gate, only(model.RoleDoctor))
	p.e.GET("/auth/doctor/patients/records", doc.ListRecords, gate, only(model.RoleDoctor))
	p.e.PUT("/auth/doctor/records/:recordId", doc.UpdateNotes, gate, only(model.RoleDoctor))

	p.e.GET("/auth/patient/profile", pat.Profile, gate, only(model.RolePatient))
	p.e.PUT("/auth/patient/profile", pat.UpdateProfile, gate, only(model.RolePatient))
	p.e.GET("/auth/patient/records", pat.ListRecords, gate, only(model.RolePatient))
	return p
}

func (p *portal) seed(t *testing.T, name string, role model.Role) model.Account {
	t.Helper()
	hash, err := utils.HashPassword("password-"+name, utils.MinBcryptCost)
	require.NoError(t, err)
	a := model.Account{Username: name, Email: name + "@clinic.test", PasswordHash: hash, Role: role, IsActive: true}
	require.NoError(t, p.accounts.Create(context.Background(), &a))
	return a
}

func (p *portal) token(t *testing.T, a model.Account) string {
	t.Helper()
	tok, err := p.tokens.IssueFull(a.Status())
	require.NoError(t, err)
	return tok.Token
}

func (p *portal) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	p.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestStringList_AcceptsStringOrArray(t *testing.T) {
	var v struct {
		A stringList `json:"a"`
		B stringList `json:"b"`
		C stringList `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"flu","b":["x","y"],"c":null}`), &v))
	assert.Equal(t, stringList{"flu"}, v.A)
	assert.Equal(t, stringList{"x", "y"}, v.B)
	assert.Nil(t, v.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a":42}`), &v))
}

func TestAuthHandler_SignupLoginVerifyLogout(t *testing.T) {
	p := newPortal(t)

	rec := p.do(http.MethodPost, "/signup", "",
		`{"username":"newpat","email":"NewPat@Clinic.test","password":"longenough","role":"Patient"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	acct := body["account"].(map[string]any)
	assert.Equal(t, "newpat@clinic.test", acct["email"])
	assert.Equal(t, false, acct["twoFAEnabled"])
	assert.NotContains(t, rec.Body.String(), "passwordHash")
	setup := body["twoFASetup"].(map[string]any)
	secret := setup["secret"].(string)
	assert.True(t, strings.HasPrefix(setup["qrCode"].(string), "data:image/png;base64,"))

	rec = p.do(http.MethodPost, "/signup", "",
		`{"username":"newpat","email":"other@clinic.test","password":"longenough","role":"Patient"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = p.do(http.MethodPost, "/login", "", `{"email":"newpat@clinic.test","password":"longenough"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, "enrollment_required", body["status"])
	assert.NotNil(t, body["twoFASetup"])
	pendingCookie := cookieNamed(rec, middleware.TokenCookie)
	require.NotNil(t, pendingCookie)
	assert.True(t, pendingCookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, pendingCookie.SameSite)
	assert.Equal(t, "/", pendingCookie.Path)
	assert.Equal(t, 300, pendingCookie.MaxAge)
	assert.Equal(t, body["pendingToken"], pendingCookie.Value)

	// a pending token is not a session
	rec = p.do(http.MethodGet, "/me", pendingCookie.Value, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	code, err := totp.Code(secret, time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/verify-2FA", strings.NewReader(`{"token":"`+code+`"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.AddCookie(pendingCookie)
	rec = httptest.NewRecorder()
	p.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	full := body["token"].(string)
	assert.Equal(t, true, body["account"].(map[string]any)["twoFAEnabled"])
	fullCookie := cookieNamed(rec, middleware.TokenCookie)
	require.NotNil(t, fullCookie)
	assert.Equal(t, 3600, fullCookie.MaxAge)

	rec = p.do(http.MethodGet, "/me", full, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "newpat", decode(t, rec)["account"].(map[string]any)["username"])

	rec = p.do(http.MethodPost, "/logout", full, "")
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := cookieNamed(rec, middleware.TokenCookie)
	require.NotNil(t, cleared)
	assert.Equal(t, "", cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestAuthHandler_ErrorMapping(t *testing.T) {
	p := newPortal(t)

	rec := p.do(http.MethodPost, "/signup", "", `{"username":"x","email":"x@clinic.test","password":"longenough","role":"Nurse"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "invalid role")

	rec = p.do(http.MethodPost, "/signup", "", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = p.do(http.MethodPost, "/login", "", `{"email":"pat@clinic.test","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	unknown := p.do(http.MethodPost, "/login", "", `{"email":"nobody@clinic.test","password":"wrong-password"}`)
	assert.Equal(t, rec.Code, unknown.Code)
	assert.Equal(t, rec.Body.String(), unknown.Body.String())

	rec = p.do(http.MethodPost, "/verify-2FA", "", `{"token":"123456"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandler_SourceAddressIgnoresForwardedHeaders(t *testing.T) {
	p := newPortal(t)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"pat@clinic.test","password":"wrong-password"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXForwardedFor, strings.Repeat("6.6.6.6, ", 20)+"7.7.7.7")
	req.Header.Set(echo.HeaderXRealIP, "8.8.8.8")
	rec := httptest.NewRecorder()
	p.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	evs, err := p.events.List(context.Background(), &p.patient.ID, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, model.ActionLoginFailed, evs[0].Action)
	assert.Equal(t, "192.0.2.1", evs[0].SourceAddress)
}

func TestDoctorHandler_RecordsAreEncryptedAtRest(t *testing.T) {
	p := newPortal(t)
	doc := p.token(t, p.doctor)
	path := "/auth/doctor/records/" + itoa(p.patient.ID)

	rec := p.do(http.MethodPost, path, doc, `{"diagnosis":"influenza","treatmentNotes":["rest","fluids"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "pat", body["patientUsername"])
	created := body["record"].(map[string]any)
	assert.Equal(t, []any{"influenza"}, created["diagnoses"])

	stored, err := p.raw.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotEqual(t, "influenza", stored[0].Diagnoses[0])
	assert.Contains(t, stored[0].Diagnoses[0], ":")
	assert.NotContains(t, stored[0].Notes, "rest")

	rec = p.do(http.MethodGet, "/auth/patient/records", p.token(t, p.patient), "")
	require.Equal(t, http.StatusOK, rec.Code)
	recs := decode(t, rec)["records"].([]any)
	require.Len(t, recs, 1)
	assert.Equal(t, []any{"rest", "fluids"}, recs[0].(map[string]any)["notes"])

	rec = p.do(http.MethodGet, "/auth/doctor/patients/records", doc, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["records"], 1)
	rec = p.do(http.MethodGet, "/auth/doctor/patients/records", p.token(t, p.doctor2), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["records"], 0)
}

func TestDoctorHandler_CreateRejections(t *testing.T) {
	p := newPortal(t)
	doc := p.token(t, p.doctor)

	rec := p.do(http.MethodPost, "/auth/doctor/records/"+itoa(p.doctor2.ID), doc, `{"diagnosis":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = p.do(http.MethodPost, "/auth/doctor/records/9999", doc, `{"diagnosis":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = p.do(http.MethodPost, "/auth/doctor/records/abc", doc, `{"diagnosis":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = p.do(http.MethodPost, "/auth/doctor/records/"+itoa(p.patient.ID), doc, `{"treatmentNotes":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// patients cannot write records
	rec = p.do(http.MethodPost, "/auth/doctor/records/"+itoa(p.patient.ID), p.token(t, p.patient), `{"diagnosis":"x"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	all, err := p.raw.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDoctorHandler_UpdateNotesOwnership(t *testing.T) {
	p := newPortal(t)
	rec := p.do(http.MethodPost, "/auth/doctor/records/"+itoa(p.patient.ID), p.token(t, p.doctor),
		`{"diagnosis":["a"],"treatmentNotes":"first"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := uint64(decode(t, rec)["record"].(map[string]any)["id"].(float64))
	path := "/auth/doctor/records/" + itoa(id)

	rec = p.do(http.MethodPut, path, p.token(t, p.doctor2), `{"treatmentNotes":"hijack"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"not your record"}`, rec.Body.String())

	rec = p.do(http.MethodPut, path, p.token(t, p.doctor), `{"treatmentNotes":["second","third"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	recs, err := repository.NewEncryptedRecords(p.raw, mustCipher(t)).ListByPatient(context.Background(), p.patient.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"second", "third"}, recs[0].Notes)

	rec = p.do(http.MethodPut, "/auth/doctor/records/4242", p.token(t, p.doctor), `{"treatmentNotes":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatientHandler_UpdateProfile(t *testing.T) {
	p := newPortal(t)
	tok := p.token(t, p.patient)

	rec := p.do(http.MethodPut, "/auth/patient/profile", tok, `{"phone":"555-0100"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = p.do(http.MethodPut, "/auth/patient/profile", tok, `{"address":"1 Main St","email":" Pat.New@Clinic.test "}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := p.accounts.GetByID(context.Background(), p.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, "pat.new@clinic.test", got.Email)
	require.NotNil(t, got.Contact)
	assert.Equal(t, model.ContactInfo{Phone: "555-0100", Address: "1 Main St"}, *got.Contact)

	rec = p.do(http.MethodPut, "/auth/patient/profile", tok, `{"email":"doc@clinic.test"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = p.do(http.MethodPut, "/auth/patient/profile", tok, `{"email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = p.do(http.MethodPut, "/auth/patient/profile", tok, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = p.do(http.MethodGet, "/auth/patient/profile", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pat.new@clinic.test", decode(t, rec)["profile"].(map[string]any)["email"])
}

func TestPatientHandler_ChangePassword(t *testing.T) {
	p := newPortal(t)
	tok := p.token(t, p.patient)

	rec := p.do(http.MethodPut, "/auth/patient/profile", tok, `{"newPassword":"brand-new-pass"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = p.do(http.MethodPut, "/auth/patient/profile", tok, `{"oldPassword":"nope","newPassword":"brand-new-pass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = p.do(http.MethodPut, "/auth/patient/profile", tok, `{"oldPassword":"password-pat","newPassword":"short"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = p.do(http.MethodPut, "/auth/patient/profile", tok, `{"oldPassword":"password-pat","newPassword":"brand-new-pass"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := p.accounts.GetByID(context.Background(), p.patient.ID)
	require.NoError(t, err)
	assert.True(t, utils.VerifyPassword(got.PasswordHash, "brand-new-pass"))

	evs, err := p.events.List(context.Background(), &p.patient.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	var actions []model.Action
	for _, ev := range evs {
		actions = append(actions, ev.Action)
	}
	assert.Contains(t, actions, model.ActionLoginFailed)
}

func TestAdminHandler_RoleAndStatus(t *testing.T) {
	p := newPortal(t)
	admin := p.token(t, p.admin)
	patTok := p.token(t, p.patient)
	target := "/auth/admin/users/" + itoa(p.patient.ID)

	rec := p.do(http.MethodPut, target+"/role", admin, `{"role":"doctor"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = p.do(http.MethodPut, target+"/role", admin, `{"role":"Doctor"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := p.accounts.GetByID(context.Background(), p.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleDoctor, got.Role)

	// the gate reads the stored role, not the one in the old token
	rec = p.do(http.MethodGet, "/auth/patient/profile", patTok, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = p.do(http.MethodGet, "/auth/doctor/patients/records", patTok, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = p.do(http.MethodPut, target+"/status", admin, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = p.do(http.MethodPut, target+"/status", admin, `{"isActive":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"isActive":false}`, rec.Body.String())

	rec = p.do(http.MethodGet, "/me", patTok, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"account disabled"}`, rec.Body.String())

	evs, err := p.events.List(context.Background(), &p.admin.ID, 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, model.ActionStatusUpdated, evs[0].Action)
	assert.Equal(t, model.ActionRoleUpdated, evs[1].Action)
	assert.Contains(t, evs[1].Detail, "from Patient to Doctor")
}

func TestAdminHandler_Guards(t *testing.T) {
	p := newPortal(t)
	admin := p.token(t, p.admin)
	self := "/auth/admin/users/" + itoa(p.admin.ID)

	assert.Equal(t, http.StatusBadRequest, p.do(http.MethodPut, self+"/role", admin, `{"role":"Patient"}`).Code)
	assert.Equal(t, http.StatusBadRequest, p.do(http.MethodPut, self+"/status", admin, `{"isActive":false}`).Code)
	assert.Equal(t, http.StatusBadRequest, p.do(http.MethodDelete, self, admin, "").Code)
	assert.Equal(t, http.StatusNotFound, p.do(http.MethodGet, "/auth/admin/users/777", admin, "").Code)
	assert.Equal(t, http.StatusNotFound, p.do(http.MethodDelete, "/auth/admin/users/777", admin, "").Code)
	assert.Equal(t, http.StatusBadRequest, p.do(http.MethodGet, "/auth/admin/users/x", admin, "").Code)

	// a non-admin changes nothing
	rec := p.do(http.MethodPut, "/auth/admin/users/"+itoa(p.doctor.ID)+"/role", p.token(t, p.patient), `{"role":"Admin"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	got, err := p.accounts.GetByID(context.Background(), p.doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleDoctor, got.Role)

	evs, err := p.events.List(context.Background(), nil, 50)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestAdminHandler_DeleteCascades(t *testing.T) {
	p := newPortal(t)
	admin := p.token(t, p.admin)
	patTok := p.token(t, p.patient)

	rec := p.do(http.MethodPost, "/auth/doctor/records/"+itoa(p.patient.ID), p.token(t, p.doctor), `{"diagnosis":"x"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = p.do(http.MethodDelete, "/auth/admin/users/"+itoa(p.patient.ID), admin, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = p.do(http.MethodGet, "/me", patTok, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = p.do(http.MethodGet, "/auth/admin/patient-records", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["records"], 0)

	rec = p.do(http.MethodGet, "/auth/admin/users", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["users"], 3)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestAdminHandler_Logs(t *testing.T) {
	p := newPortal(t)
	admin := p.token(t, p.admin)

	p.do(http.MethodPost, "/login", "", `{"email":"pat@clinic.test","password":"wrong-password"}`)
	p.do(http.MethodPost, "/login", "", `{"email":"nobody@clinic.test","password":"wrong-password"}`)

	rec := p.do(http.MethodGet, "/auth/log?limit=1", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["logs"], 1)

	rec = p.do(http.MethodGet, "/auth/log?subjectId="+itoa(p.patient.ID), admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode(t, rec)["logs"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, string(model.ActionLoginFailed), logs[0].(map[string]any)["action"])

	assert.Equal(t, http.StatusBadRequest, p.do(http.MethodGet, "/auth/log?limit=-3", admin, "").Code)
	assert.Equal(t, http.StatusBadRequest, p.do(http.MethodGet, "/auth/log?subjectId=me", admin, "").Code)
	assert.Equal(t, http.StatusForbidden, p.do(http.MethodGet, "/auth/log", p.token(t, p.doctor), "").Code)
}

func TestReady(t *testing.T) {
	e := echo.New()
	e.GET("/readyz", Ready(nil))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	e = echo.New()
	e.GET("/readyz", Ready(downDB{}))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type downDB struct{}

func (downDB) PingContext(context.Context) error { return context.DeadlineExceeded }

func itoa(n uint64) string { return strconv.FormatUint(n, 10) }

func mustCipher(t *testing.T) *fieldcrypt.Cipher {
	t.Helper()
	c, err := fieldcrypt.New(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)
	return c
}
