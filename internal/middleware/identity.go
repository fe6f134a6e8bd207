package middleware

// identity.go carries the authenticated account through the echo context.
// Authenticate writes it; RequireRole and the handlers read it.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/secure-health-portal/internal/model"
)

const identityKey = "identity"

// Identity is the caller as resolved by Authenticate.  Role is the role
// currently stored for the account, not the one the token was minted with.
type Identity struct {
	AccountID uint64
	Username  string
	Role      model.Role
}

func setIdentity(c echo.Context, id Identity) { c.Set(identityKey, id) }

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(c echo.Context) (Identity, bool) {
	id, ok := c.Get(identityKey).(Identity)
	return id, ok
}

// userID is the rate-limit key part for the caller; "anon" before
// authentication.
func userID(c echo.Context) string {
	if id, ok := IdentityFrom(c); ok {
		return strconv.FormatUint(id.AccountID, 10)
	}
	return "anon"
}
