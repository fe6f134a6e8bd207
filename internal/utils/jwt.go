package utils // package utils provides password hashing and session token helpers

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/secure-health-portal/internal/model"
)

// Purpose distinguishes what a session token may be used for.
type Purpose string

const (
	// PurposeFull tokens authorize general API access.
	PurposeFull Purpose = "full"
	// PurposePending tokens authorize only the 2FA verification step.
	PurposePending Purpose = "pending"
)

var (
	// ErrInvalidToken covers bad signatures, wrong algorithms, malformed
	// tokens and tokens used for the wrong purpose.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for correctly signed tokens past exp.
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the signed claim bundle.  The HS256 signature covers every field,
// so altering any of them invalidates the token.
type Claims struct {
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
	Purpose  Purpose    `json:"purpose"`
	jwt.RegisteredClaims
}

// AccountID parses the numeric subject.
func (c *Claims) AccountID() (uint64, error) {
	return strconv.ParseUint(c.Subject, 10, 64)
}

// SessionToken is a signed token along with its expiry.  TTL is kept so the
// cookie max-age can match the token lifetime.
type SessionToken struct {
	Token   string
	Expires time.Time
	TTL     time.Duration
}

// TokenIssuer signs and validates session tokens with a server-held secret.
// It is built once at startup and shared read-only between requests.
type TokenIssuer struct {
	secret     []byte
	pendingTTL time.Duration
	fullTTL    time.Duration
	now        func() time.Time
}

// NewTokenIssuer returns an issuer for the given secret and lifetimes.
func NewTokenIssuer(secret string, pendingTTL, fullTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		pendingTTL: pendingTTL,
		fullTTL:    fullTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; used by tests to mint already-expired tokens.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	cp := *i
	cp.now = now
	return &cp
}

// IssuePending mints a short-lived token that only unlocks /verify-2FA.
func (i *TokenIssuer) IssuePending(a model.AccountStatus) (SessionToken, error) {
	return i.issue(a, PurposePending, i.pendingTTL)
}

// IssueFull mints a session token for general API access.
func (i *TokenIssuer) IssueFull(a model.AccountStatus) (SessionToken, error) {
	return i.issue(a, PurposeFull, i.fullTTL)
}

func (i *TokenIssuer) issue(a model.AccountStatus, p Purpose, ttl time.Duration) (SessionToken, error) {
	now := i.now()
	exp := now.Add(ttl)
	claims := Claims{
		Username: a.Username,
		Role:     a.Role,
		Purpose:  p,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(a.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return SessionToken{}, err
	}
	return SessionToken{Token: signed, Expires: exp, TTL: ttl}, nil
}

// Validate verifies signature and expiry and returns the claims.  It does not
// look at the purpose; use ValidatePurpose for that.
func (i *TokenIssuer) Validate(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !tok.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidatePurpose is Validate plus an exact purpose match.  A pending token
// never satisfies a full-token check and vice versa.
func (i *TokenIssuer) ValidatePurpose(raw string, want Purpose) (*Claims, error) {
	claims, err := i.Validate(raw)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != want {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
