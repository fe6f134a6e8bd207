package model

import "time"

// Role names a portal role.  The values match the `role` enum column of the
// `accounts` table and the `role` claim carried by session tokens.
type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleDoctor  Role = "Doctor"
	RolePatient Role = "Patient"
)

// ParseRole returns the Role named by s.  Matching is exact; the portal never
// guesses a role from a misspelled value.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleDoctor, RolePatient:
		return Role(s), true
	}
	return "", false
}

// ContactInfo holds the optional phone/address pair stored as JSON in
// accounts.contact_info.
type ContactInfo struct {
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Account represents a row of the `accounts` table.  It is used internally by
// the repository and service layers; anything sent to a client goes through
// Public() so the password hash and TOTP secret never leave the process.
//
// Fields:
//
//	ID           – primary key identifier.
//	Username     – unique login name.
//	Email        – unique, lower-cased email address.
//	PasswordHash – bcrypt hash of the password.
//	Role         – Admin, Doctor or Patient.
//	IsActive     – disabled accounts cannot log in or use existing tokens.
//	TOTPSecret   – field-encrypted base32 TOTP secret, set at signup.
//	TOTPEnabled  – flipped to true by the first successful 2FA verification.
//	Contact      – optional phone/address.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type Account struct {
	ID           uint64
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	IsActive     bool
	TOTPSecret   string
	TOTPEnabled  bool
	Contact      *ContactInfo
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicAccount is the outward-facing view of an Account.
type PublicAccount struct {
	ID          uint64       `json:"id"`
	Username    string       `json:"username"`
	Email       string       `json:"email"`
	Role        Role         `json:"role"`
	IsActive    bool         `json:"isActive"`
	TOTPEnabled bool         `json:"twoFAEnabled"`
	Contact     *ContactInfo `json:"contactInfo,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Public strips credentials from the account.
func (a Account) Public() PublicAccount {
	return PublicAccount{
		ID:          a.ID,
		Username:    a.Username,
		Email:       a.Email,
		Role:        a.Role,
		IsActive:    a.IsActive,
		TOTPEnabled: a.TOTPEnabled,
		Contact:     a.Contact,
		CreatedAt:   a.CreatedAt,
	}
}

// AccountStatus is the slice of an account the authorization gate re-checks
// on every request.
type AccountStatus struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"isActive"`
}

// Status returns the gate-relevant part of the account.
func (a Account) Status() AccountStatus {
	return AccountStatus{ID: a.ID, Username: a.Username, Role: a.Role, IsActive: a.IsActive}
}
