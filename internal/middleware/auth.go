package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/secure-health-portal/internal/model"
	"github.com/iliyamo/secure-health-portal/internal/repository"
	"github.com/iliyamo/secure-health-portal/internal/utils"
)

// TokenCookie is the cookie that carries session tokens.
const TokenCookie = "token"

// StatusResolver returns an account's current role and active flag.
type StatusResolver interface {
	Status(ctx context.Context, id uint64) (model.AccountStatus, error)
}

// TokenFromRequest extracts the raw session token.  A well-formed
// "Authorization: Bearer <token>" header wins; otherwise the token cookie is
// used.  Empty means no token was presented.
func TokenFromRequest(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		if raw := strings.TrimSpace(auth[7:]); raw != "" {
			return raw
		}
	}
	if ck, err := c.Cookie(TokenCookie); err == nil {
		return ck.Value
	}
	return ""
}

// Authenticate admits requests carrying a valid full session token for an
// existing, active account.  Pending tokens are rejected.  The account's role
// and active flag are re-read on every request, so disabling an account or
// changing its role takes effect without waiting for token expiry.
func Authenticate(tokens *utils.TokenIssuer, status StatusResolver, log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := TokenFromRequest(c)
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
			}
			claims, err := tokens.ValidatePurpose(raw, utils.PurposeFull)
			if errors.Is(err, utils.ErrTokenExpired) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token expired"})
			}
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			id, err := claims.AccountID()
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			st, err := status.Status(c.Request().Context(), id)
			if errors.Is(err, repository.ErrNotFound) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			if err != nil {
				log.Error("resolve account status", zap.Uint64("account_id", id), zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
			if !st.IsActive {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "account disabled"})
			}

			setIdentity(c, Identity{AccountID: st.ID, Username: st.Username, Role: st.Role})
			return next(c)
		}
	}
}
