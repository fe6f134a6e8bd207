// Package service holds the login state machine: signup, password check,
// TOTP enrollment or challenge, and issuance of the full session token.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/iliyamo/secure-health-portal/internal/model"
	"github.com/iliyamo/secure-health-portal/internal/repository"
	"github.com/iliyamo/secure-health-portal/internal/totp"
	"github.com/iliyamo/secure-health-portal/internal/utils"
)

const (
	minPasswordLen = 8
	maxUsernameLen = 64
	maxEmailLen    = 255
)

// EventRecorder is the security event sink.  Record never fails the caller.
type EventRecorder interface {
	Record(ctx context.Context, ev model.SecurityEvent)
}

// Options are the tunables of AuthService.
type Options struct {
	BcryptCost  int
	LoginWindow uint // TOTP steps accepted either side of now at verify-2FA
}

// AuthService drives Unauthenticated -> PasswordVerified ->
// {EnrollmentRequired | TwoFAPending} -> Authenticated.
type AuthService struct {
	accounts repository.AccountStore
	cipher   repository.FieldCipher
	totp     *totp.Engine
	tokens   *utils.TokenIssuer
	events   EventRecorder
	opts     Options
	log      *zap.Logger

	// compared against when the email is unknown, so both paths pay for bcrypt
	dummyHash string
}

func NewAuthService(accounts repository.AccountStore, cipher repository.FieldCipher, engine *totp.Engine,
	tokens *utils.TokenIssuer, events EventRecorder, opts Options, log *zap.Logger) (*AuthService, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dummy, err := utils.HashPassword("not-a-real-password", opts.BcryptCost)
	if err != nil {
		return nil, err
	}
	return &AuthService{
		accounts:  accounts,
		cipher:    cipher,
		totp:      engine,
		tokens:    tokens,
		events:    events,
		opts:      opts,
		log:       log,
		dummyHash: dummy,
	}, nil
}

type SignupInput struct {
	Username      string
	Email         string
	Password      string
	Role          string
	SourceAddress string
}

type SignupResult struct {
	Account    model.PublicAccount
	Enrollment totp.Enrollment
}

// Signup creates an active account with a fresh, not yet enabled, TOTP
// secret.  The enrollment material is returned once, here.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (SignupResult, error) {
	in.Username = repository.NormalizeUsername(in.Username)
	in.Email = repository.NormalizeEmail(in.Email)

	role, err := validateSignup(in)
	if err != nil {
		s.record(ctx, nil, model.ActionSignupRejected, err.Error(), in.SourceAddress)
		return SignupResult{}, err
	}

	fail := func(err error) (SignupResult, error) {
		s.record(ctx, nil, model.ActionSignupRejected, "internal error", in.SourceAddress)
		return SignupResult{}, err
	}

	hash, err := utils.HashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return fail(fmt.Errorf("hash password: %w", err))
	}

	enr, err := s.totp.Generate(in.Username)
	if err != nil {
		return fail(fmt.Errorf("generate totp secret: %w", err))
	}
	sealed, err := s.cipher.Encrypt(enr.Secret)
	if err != nil {
		return fail(fmt.Errorf("encrypt totp secret: %w", err))
	}

	acct := &model.Account{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		TOTPSecret:   sealed,
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, repository.ErrDuplicateIdentity) {
			s.record(ctx, nil, model.ActionSignupRejected, "username or email already exists", in.SourceAddress)
			return SignupResult{}, err
		}
		return fail(fmt.Errorf("create account: %w", err))
	}

	s.record(ctx, &acct.ID, model.ActionSignup,
		fmt.Sprintf("%s signed up with role %s", acct.Username, acct.Role), in.SourceAddress)
	return SignupResult{Account: acct.Public(), Enrollment: enr}, nil
}

type LoginInput struct {
	Email         string
	Password      string
	SourceAddress string
}

// LoginStage names the state a successful password check leads to.
type LoginStage string

const (
	StageEnrollmentRequired LoginStage = "enrollment_required"
	StageTwoFARequired      LoginStage = "2fa_required"
)

// LoginResult carries the pending token for the next step.  Enrollment is set
// only while the account has not completed its first TOTP verification.
type LoginResult struct {
	Stage      LoginStage
	Pending    utils.SessionToken
	Enrollment *totp.Enrollment
}

// Login checks the password and returns a pending token.  A full session
// token is never issued here.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	email := repository.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return LoginResult{}, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	acct, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		utils.VerifyPassword(s.dummyHash, in.Password)
		s.record(ctx, nil, model.ActionLoginFailed, "unknown email", in.SourceAddress)
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("load account: %w", err)
	}

	// the password is checked first so a disabled account is only revealed
	// to someone who knows it
	if !utils.VerifyPassword(acct.PasswordHash, in.Password) {
		s.record(ctx, &acct.ID, model.ActionLoginFailed, "wrong password", in.SourceAddress)
		return LoginResult{}, ErrInvalidCredentials
	}
	if !acct.IsActive {
		s.record(ctx, &acct.ID, model.ActionLoginBlockedDisabled, "login attempt on disabled account", in.SourceAddress)
		return LoginResult{}, ErrAccountDisabled
	}
	s.record(ctx, &acct.ID, model.ActionLoginPasswordVerified, "", in.SourceAddress)

	pending, err := s.tokens.IssuePending(acct.Status())
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue pending token: %w", err)
	}
	if acct.TOTPEnabled {
		return LoginResult{Stage: StageTwoFARequired, Pending: pending}, nil
	}

	enr, err := s.enrollment(ctx, acct)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Stage: StageEnrollmentRequired, Pending: pending, Enrollment: &enr}, nil
}

// enrollment re-sends the material of an account that has not finished
// enrolling.  A stored secret that no longer decrypts is replaced.
func (s *AuthService) enrollment(ctx context.Context, acct model.Account) (totp.Enrollment, error) {
	if secret := s.cipher.Decrypt(acct.TOTPSecret); secret != "" {
		enr, err := s.totp.EnrollmentFor(acct.Username, secret)
		if err == nil {
			return enr, nil
		}
	}
	s.log.Warn("stored totp secret unreadable; issuing a new one", zap.Uint64("account_id", acct.ID))
	enr, err := s.totp.Generate(acct.Username)
	if err != nil {
		return totp.Enrollment{}, fmt.Errorf("generate totp secret: %w", err)
	}
	sealed, err := s.cipher.Encrypt(enr.Secret)
	if err != nil {
		return totp.Enrollment{}, fmt.Errorf("encrypt totp secret: %w", err)
	}
	if err := s.accounts.UpdateTOTP(ctx, acct.ID, sealed, false); err != nil {
		return totp.Enrollment{}, fmt.Errorf("store totp secret: %w", err)
	}
	return enr, nil
}

type VerifyResult struct {
	Session utils.SessionToken
	Account model.PublicAccount
}

// Verify2FA exchanges a pending token and a valid TOTP code for a full
// session token.  The first success also enables TOTP on the account.
func (s *AuthService) Verify2FA(ctx context.Context, pendingRaw, code, source string) (VerifyResult, error) {
	if pendingRaw == "" {
		return VerifyResult{}, ErrPendingRequired
	}
	claims, err := s.tokens.ValidatePurpose(pendingRaw, utils.PurposePending)
	if err != nil {
		return VerifyResult{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return VerifyResult{}, fmt.Errorf("%w: token is required", ErrValidation)
	}
	id, err := claims.AccountID()
	if err != nil {
		return VerifyResult{}, utils.ErrInvalidToken
	}

	acct, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return VerifyResult{}, utils.ErrInvalidToken
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load account: %w", err)
	}
	if !acct.IsActive {
		s.record(ctx, &acct.ID, model.ActionLoginBlockedDisabled, "2FA attempt on disabled account", source)
		return VerifyResult{}, ErrAccountDisabled
	}

	secret := s.cipher.Decrypt(acct.TOTPSecret)
	if !s.totp.Verify(ctx, strconv.FormatUint(acct.ID, 10), secret, code, s.opts.LoginWindow) {
		s.record(ctx, &acct.ID, model.ActionTwoFAFailed, "invalid 2FA code", source)
		return VerifyResult{}, ErrInvalidCode
	}

	if !acct.TOTPEnabled {
		if err := s.accounts.UpdateTOTP(ctx, acct.ID, acct.TOTPSecret, true); err != nil {
			return VerifyResult{}, fmt.Errorf("enable totp: %w", err)
		}
		acct.TOTPEnabled = true
		s.record(ctx, &acct.ID, model.ActionTwoFAEnrolled, "", source)
	}

	full, err := s.tokens.IssueFull(acct.Status())
	if err != nil {
		return VerifyResult{}, fmt.Errorf("issue session token: %w", err)
	}
	s.record(ctx, &acct.ID, model.ActionTwoFAVerified, "2FA verified and user logged in", source)
	return VerifyResult{Session: full, Account: acct.Public()}, nil
}

// Logout records the event for whoever the presented token names.  Tokens
// are stateless, so there is nothing to revoke server-side.
func (s *AuthService) Logout(ctx context.Context, raw, source string) {
	if raw == "" {
		return
	}
	claims, err := s.tokens.Validate(raw)
	if err != nil {
		return
	}
	if id, err := claims.AccountID(); err == nil {
		s.record(ctx, &id, model.ActionLogout, "", source)
	}
}

// ChangePassword replaces the password after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, id uint64, oldPassword, newPassword, source string) error {
	if oldPassword == "" {
		return fmt.Errorf("%w: old password is required", ErrValidation)
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !utils.VerifyPassword(acct.PasswordHash, oldPassword) {
		s.record(ctx, &id, model.ActionLoginFailed, "password change with wrong current password", source)
		return ErrInvalidCredentials
	}
	hash, err := utils.HashPassword(newPassword, s.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.UpdatePassword(ctx, id, hash); err != nil {
		return err
	}
	s.record(ctx, &id, model.ActionPasswordChanged, "", source)
	return nil
}

func (s *AuthService) record(ctx context.Context, subject *uint64, action model.Action, detail, source string) {
	s.events.Record(ctx, model.SecurityEvent{
		SubjectID:     subject,
		Action:        action,
		Detail:        detail,
		SourceAddress: source,
	})
}

func validateSignup(in SignupInput) (model.Role, error) {
	if in.Username == "" || in.Email == "" || in.Password == "" || in.Role == "" {
		return "", fmt.Errorf("%w: username, email, password and role are required", ErrValidation)
	}
	if utf8.RuneCountInString(in.Username) > maxUsernameLen {
		return "", fmt.Errorf("%w: username is too long", ErrValidation)
	}
	if err := checkEmail(in.Email); err != nil {
		return "", err
	}
	role, ok := model.ParseRole(in.Role)
	if !ok {
		return "", fmt.Errorf("%w: invalid role", ErrValidation)
	}
	if err := validatePassword(in.Password); err != nil {
		return "", err
	}
	return role, nil
}

// NormalizeEmail trims and lower-cases an email address and rejects it when
// it is not a bare, well-formed address.
func NormalizeEmail(email string) (string, error) {
	email = repository.NormalizeEmail(email)
	if err := checkEmail(email); err != nil {
		return "", err
	}
	return email, nil
}

func checkEmail(email string) error {
	if len(email) > maxEmailLen {
		return fmt.Errorf("%w: email is too long", ErrValidation)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return fmt.Errorf("%w: email is malformed", ErrValidation)
	}
	return nil
}

func validatePassword(p string) error {
	if utf8.RuneCountInString(p) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLen)
	}
	if len(p) > 72 {
		return fmt.Errorf("%w: password must be at most 72 bytes", ErrValidation)
	}
	return nil
}
