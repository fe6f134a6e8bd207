package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/secure-health-portal/internal/middleware"
	"github.com/iliyamo/secure-health-portal/internal/model"
	"github.com/iliyamo/secure-health-portal/internal/repository"
	"github.com/iliyamo/secure-health-portal/internal/service"
	"github.com/iliyamo/secure-health-portal/internal/totp"
	"github.com/iliyamo/secure-health-portal/internal/utils"
)

// AuthHandler bundles dependencies for the login flow endpoints.
type AuthHandler struct {
	Auth         *service.AuthService
	Accounts     repository.AccountStore
	CookieSecure bool
	Log          *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, accounts repository.AccountStore, cookieSecure bool, log *zap.Logger) *AuthHandler {
	return &AuthHandler{Auth: auth, Accounts: accounts, CookieSecure: cookieSecure, Log: log}
}

// ----- DTOs -----

type signupReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"` // Admin | Doctor | Patient
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type verifyReq struct {
	Token string `json:"token"` // 6-digit TOTP code
}

type signupResp struct {
	Message    string              `json:"message"`
	Account    model.PublicAccount `json:"account"`
	TwoFASetup totp.Enrollment     `json:"twoFASetup"`
}
type loginResp struct {
	Status       service.LoginStage `json:"status"`
	PendingToken string             `json:"pendingToken"`
	Expires      time.Time          `json:"expires"`
	TwoFASetup   *totp.Enrollment   `json:"twoFASetup,omitempty"`
}
type verifyResp struct {
	Message string              `json:"message"`
	Token   string              `json:"token"`
	Expires time.Time           `json:"expires"`
	Account model.PublicAccount `json:"account"`
}

// Signup creates the account and returns the one-time enrollment material.
func (h *AuthHandler) Signup(c echo.Context) error {
	var req signupReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	res, err := h.Auth.Signup(c.Request().Context(), service.SignupInput{
		Username:      req.Username,
		Email:         req.Email,
		Password:      req.Password,
		Role:          req.Role,
		SourceAddress: c.RealIP(),
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, signupResp{
		Message:    "User registered. Scan the QR code, then log in and verify 2FA.",
		Account:    res.Account,
		TwoFASetup: res.Enrollment,
	})
}

// Login verifies the password and hands out a pending token for verify-2FA.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	res, err := h.Auth.Login(c.Request().Context(), service.LoginInput{
		Email:         req.Email,
		Password:      req.Password,
		SourceAddress: c.RealIP(),
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.setTokenCookie(c, res.Pending)
	return c.JSON(http.StatusOK, loginResp{
		Status:       res.Stage,
		PendingToken: res.Pending.Token,
		Expires:      res.Pending.Expires,
		TwoFASetup:   res.Enrollment,
	})
}

// Verify2FA exchanges the pending token (cookie or header) and a TOTP code
// for a full session token.
func (h *AuthHandler) Verify2FA(c echo.Context) error {
	var req verifyReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	res, err := h.Auth.Verify2FA(c.Request().Context(), middleware.TokenFromRequest(c), req.Token, c.RealIP())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.setTokenCookie(c, res.Session)
	return c.JSON(http.StatusOK, verifyResp{
		Message: "2FA verified. Login complete.",
		Token:   res.Session.Token,
		Expires: res.Session.Expires,
		Account: res.Account,
	})
}

// Logout clears the cookie.  Tokens are stateless; a client holding a copy of
// the token can still use it until it expires.
func (h *AuthHandler) Logout(c echo.Context) error {
	h.Auth.Logout(c.Request().Context(), middleware.TokenFromRequest(c), c.RealIP())
	h.clearTokenCookie(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(c echo.Context) error {
	id, err := currentAccount(c)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	acct, err := h.Accounts.GetByID(c.Request().Context(), id.AccountID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"account": acct.Public()})
}

func (h *AuthHandler) setTokenCookie(c echo.Context, tok utils.SessionToken) {
	c.SetCookie(&http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    tok.Token,
		Path:     "/",
		Expires:  tok.Expires,
		MaxAge:   int(tok.TTL / time.Second),
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearTokenCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
