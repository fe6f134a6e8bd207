// Package totp wraps pquerna/otp for enrollment and windowed verification of
// 6-digit, 30-second, HMAC-SHA1 codes.
package totp

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"image/png"
	"net/url"
	"strconv"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	period    = 30
	digits    = otp.DigitsSix
	qrSize    = 200
	maxWindow = 2
)

// Enrollment is the material a user needs to register an authenticator.
type Enrollment struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioningUri"`
	QRCode          string `json:"qrCode"`
}

// ReplayGuard remembers time steps that already produced a successful
// verification.  Claim returns false when key was seen within ttl.
type ReplayGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Engine generates secrets and checks codes.  The guard is optional.
type Engine struct {
	issuer string
	guard  ReplayGuard
	now    func() time.Time
}

// NewEngine returns an Engine labelling provisioning URIs with issuer.
func NewEngine(issuer string, guard ReplayGuard) *Engine {
	return &Engine{issuer: issuer, guard: guard, now: time.Now}
}

// WithClock swaps the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	cp := *e
	cp.now = now
	return &cp
}

// Generate creates a fresh secret for accountName along with its otpauth://
// URI and a PNG QR code of that URI as a data URL.
func (e *Engine) Generate(accountName string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountName,
		Period:      period,
		Digits:      digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, err
	}
	qr, err := qrDataURL(key)
	if err != nil {
		return Enrollment{}, err
	}
	return Enrollment{Secret: key.Secret(), ProvisioningURI: key.URL(), QRCode: qr}, nil
}

// EnrollmentFor rebuilds enrollment material for an existing secret.
func (e *Engine) EnrollmentFor(accountName, secret string) (Enrollment, error) {
	key, err := otp.NewKeyFromURL(provisioningURI(e.issuer, accountName, secret))
	if err != nil {
		return Enrollment{}, err
	}
	qr, err := qrDataURL(key)
	if err != nil {
		return Enrollment{}, err
	}
	return Enrollment{Secret: secret, ProvisioningURI: key.URL(), QRCode: qr}, nil
}

// Verify reports whether code matches secret within ±window time steps of now.
// subject scopes the replay guard (normally the account id).  The window is
// capped at 2 steps.
func (e *Engine) Verify(ctx context.Context, subject, secret, code string, window uint) bool {
	if secret == "" || !wellFormed(code) {
		return false
	}
	if window > maxWindow {
		window = maxWindow
	}
	counter, ok := e.match(secret, code, window)
	if !ok {
		return false
	}
	if e.guard == nil {
		return true
	}
	key := subject + ":" + strconv.FormatInt(counter, 10)
	ttl := time.Duration(2*window+1) * period * time.Second
	fresh, err := e.guard.Claim(ctx, key, ttl)
	if err != nil {
		// the guard is hardening only; an unavailable store does not block logins
		return true
	}
	return fresh
}

// Code returns the code for secret at t.  Tests and CLI tooling use it.
func Code(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, validateOpts())
}

func (e *Engine) match(secret, code string, window uint) (int64, bool) {
	now := e.now()
	w := int64(window)
	matched, found := int64(0), false
	for i := -w; i <= w; i++ {
		t := now.Add(time.Duration(i) * period * time.Second)
		want, err := totp.GenerateCodeCustom(secret, t, validateOpts())
		if err != nil {
			return 0, false
		}
		// no early exit so every candidate step costs the same
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 && !found {
			matched, found = t.Unix()/period, true
		}
	}
	return matched, found
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{Period: period, Digits: digits, Algorithm: otp.AlgorithmSHA1}
}

func wellFormed(code string) bool {
	if len(code) != digits.Length() {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func provisioningURI(issuer, accountName, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(period))
	v.Set("algorithm", "SHA1")
	v.Set("digits", digits.String())
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + accountName,
		RawQuery: v.Encode(),
	}
	return u.String()
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
