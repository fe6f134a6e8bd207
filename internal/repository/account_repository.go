package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/secure-health-portal/internal/model"
)

// AccountStore is the credential store.  Uniqueness of username and email is
// enforced by the store itself, atomically with the write.
type AccountStore interface {
	Create(ctx context.Context, a *model.Account) error
	GetByID(ctx context.Context, id uint64) (model.Account, error)
	GetByUsername(ctx context.Context, username string) (model.Account, error)
	GetByEmail(ctx context.Context, email string) (model.Account, error)
	List(ctx context.Context) ([]model.Account, error)
	UpdateRole(ctx context.Context, id uint64, role model.Role) error
	UpdateActive(ctx context.Context, id uint64, active bool) error
	UpdateTOTP(ctx context.Context, id uint64, secret string, enabled bool) error
	UpdateContact(ctx context.Context, id uint64, email string, contact *model.ContactInfo) error
	UpdatePassword(ctx context.Context, id uint64, hash string) error
	Delete(ctx context.Context, id uint64) error
}

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

const accountColumns = "id,username,email,password_hash,role,is_active,totp_secret,totp_enabled,contact_info,created_at,updated_at"

// AccountRepo is the MySQL AccountStore backed by the `accounts` table.
type AccountRepo struct{ DB *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{DB: db} }

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// NormalizeUsername trims a username; case is preserved.
func NormalizeUsername(username string) string { return strings.TrimSpace(username) }

// Create inserts the account and fills in its ID.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	a.Username = NormalizeUsername(a.Username)
	a.Email = NormalizeEmail(a.Email)
	contact, err := marshalContact(a.Contact)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO accounts (username,email,password_hash,role,is_active,totp_secret,totp_enabled,contact_info) VALUES (?,?,?,?,?,?,?,?)",
		a.Username, a.Email, a.PasswordHash, string(a.Role), a.IsActive, a.TOTPSecret, a.TOTPEnabled, contact)
	if err != nil {
		return mapWriteErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	return nil
}

// GetByID fetches an account by id.
func (r *AccountRepo) GetByID(ctx context.Context, id uint64) (model.Account, error) {
	return r.getOne(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id=? LIMIT 1", id)
}

// GetByUsername fetches an account by exact username.
func (r *AccountRepo) GetByUsername(ctx context.Context, username string) (model.Account, error) {
	return r.getOne(ctx, "SELECT "+accountColumns+" FROM accounts WHERE username=? LIMIT 1", NormalizeUsername(username))
}

// GetByEmail fetches an account by normalized email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	return r.getOne(ctx, "SELECT "+accountColumns+" FROM accounts WHERE email=? LIMIT 1", NormalizeEmail(email))
}

// List returns all accounts ordered by id.
func (r *AccountRepo) List(ctx context.Context) ([]model.Account, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AccountRepo) UpdateRole(ctx context.Context, id uint64, role model.Role) error {
	return r.execOne(ctx, "UPDATE accounts SET role=? WHERE id=?", string(role), id)
}

func (r *AccountRepo) UpdateActive(ctx context.Context, id uint64, active bool) error {
	return r.execOne(ctx, "UPDATE accounts SET is_active=? WHERE id=?", active, id)
}

func (r *AccountRepo) UpdateTOTP(ctx context.Context, id uint64, secret string, enabled bool) error {
	return r.execOne(ctx, "UPDATE accounts SET totp_secret=?, totp_enabled=? WHERE id=?", secret, enabled, id)
}

// UpdateContact sets email and contact info together; a taken email yields
// ErrDuplicateIdentity.
func (r *AccountRepo) UpdateContact(ctx context.Context, id uint64, email string, contact *model.ContactInfo) error {
	raw, err := marshalContact(contact)
	if err != nil {
		return err
	}
	return r.execOne(ctx, "UPDATE accounts SET email=?, contact_info=? WHERE id=?", NormalizeEmail(email), raw, id)
}

func (r *AccountRepo) UpdatePassword(ctx context.Context, id uint64, hash string) error {
	return r.execOne(ctx, "UPDATE accounts SET password_hash=? WHERE id=?", hash, id)
}

// Delete removes the account.  security_events and patient_records rows that
// reference it go with it through ON DELETE CASCADE.
func (r *AccountRepo) Delete(ctx context.Context, id uint64) error {
	return r.execOne(ctx, "DELETE FROM accounts WHERE id=?", id)
}

func (r *AccountRepo) getOne(ctx context.Context, q string, arg any) (model.Account, error) {
	a, err := scanAccount(r.DB.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	return a, err
}

// execOne runs an UPDATE/DELETE that must touch an existing row.  The DSN sets
// clientFoundRows, so no-op updates still count the matched row.
func (r *AccountRepo) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return mapWriteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (model.Account, error) {
	var (
		a       model.Account
		role    string
		secret  sql.NullString
		contact []byte
	)
	err := s.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &role, &a.IsActive,
		&secret, &a.TOTPEnabled, &contact, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Account{}, err
	}
	a.Role = model.Role(role)
	a.TOTPSecret = secret.String
	if len(contact) > 0 && string(contact) != "null" {
		var ci model.ContactInfo
		if err := json.Unmarshal(contact, &ci); err == nil {
			a.Contact = &ci
		}
	}
	return a, nil
}

func marshalContact(c *model.ContactInfo) (any, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func mapWriteErr(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return ErrDuplicateIdentity
	}
	return err
}
