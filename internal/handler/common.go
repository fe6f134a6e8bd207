package handler // handler defines http handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/secure-health-portal/internal/middleware"
	"github.com/iliyamo/secure-health-portal/internal/repository"
	"github.com/iliyamo/secure-health-portal/internal/service"
	"github.com/iliyamo/secure-health-portal/internal/utils"
)

var errNoIdentity = errors.New("no authenticated identity in context")

// currentAccount returns the caller resolved by the authorization gate.
func currentAccount(c echo.Context) (middleware.Identity, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return middleware.Identity{}, errNoIdentity
	}
	return id, nil
}

// parseIDParam reads a positive numeric path parameter.
func parseIDParam(c echo.Context, name string) (uint64, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// writeError maps domain errors to status codes.  Anything unrecognised is
// logged with detail and answered with a generic 500.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	switch {
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrDuplicateIdentity):
		return c.JSON(http.StatusConflict, echo.Map{"error": "username or email already exists"})
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	case errors.Is(err, service.ErrAccountDisabled):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account disabled"})
	case errors.Is(err, service.ErrInvalidCode):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid 2FA code"})
	case errors.Is(err, service.ErrPendingRequired):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "pending token required"})
	case errors.Is(err, utils.ErrTokenExpired):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token expired"})
	case errors.Is(err, utils.ErrInvalidToken), errors.Is(err, errNoIdentity):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	log.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("route", c.Path()),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// stringList accepts either a JSON string or an array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*l = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}
