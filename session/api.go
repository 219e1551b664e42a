package session

import (
	"context"

	"github.com/hemoline/authgate/token"
)

// Credentials are submitted to POST /auth/login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is submitted to POST /auth/register.
type Registration struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	Phone      string `json:"phone,omitempty"`
	BloodGroup string `json:"blood_group,omitempty"`
	Role       string `json:"role,omitempty"`
}

// Profile is the account record returned by GET /auth/profile.
type Profile struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	Phone      string `json:"phone,omitempty"`
	BloodGroup string `json:"blood_group,omitempty"`
	City       string `json:"city,omitempty"`
	Role       string `json:"role"`
	Verified   bool   `json:"verified"`
}

// ProfileUpdate carries the mutable profile fields. Nil fields are left
// unchanged.
type ProfileUpdate struct {
	FullName   *string `json:"full_name,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	BloodGroup *string `json:"blood_group,omitempty"`
	City       *string `json:"city,omitempty"`
}

// API is the session surface of the backend. Authenticated calls are expected
// to carry the stored bearer token and recover from one 401 on their own.
type API interface {
	Login(ctx context.Context, creds Credentials) (token.Pair, error)
	// Register returns an empty pair when the account needs verification
	// before a session is issued.
	Register(ctx context.Context, reg Registration) (token.Pair, error)
	Logout(ctx context.Context, refreshToken string) error
	Profile(ctx context.Context) (Profile, error)
	UpdateProfile(ctx context.Context, update ProfileUpdate) (Profile, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	ChangePassword(ctx context.Context, currentPassword, newPassword string) error
}
