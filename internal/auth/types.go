package auth

import (
	"strings"
	"time"
)

// Role is the coarse authorization level of a user inside its organization.
type Role string

const (
	RoleUser       Role = "user"
	RoleOrgAdmin   Role = "org_admin"
	RoleSuperAdmin Role = "super_admin"
)

// DefaultOrgID is the tenant assigned to users created without an explicit organization.
const DefaultOrgID int64 = 1

// ParseRole normalizes raw input into a known role.
func ParseRole(raw string) (Role, bool) {
	switch r := Role(strings.TrimSpace(strings.ToLower(raw))); r {
	case RoleUser, RoleOrgAdmin, RoleSuperAdmin:
		return r, true
	default:
		return "", false
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleOrgAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// User is an account row from the auth_users table.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	FullName     *string
	IsActive     bool
	IsSuperuser  bool
	OrgID        int64
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser carries the fields required to create an account.
type NewUser struct {
	Username    string
	Email       string
	Password    string
	FullName    *string
	IsSuperuser bool
	OrgID       int64
	Role        Role
}

// Profile is the public projection of a user returned to clients.
type Profile struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	FullName    *string   `json:"full_name"`
	IsActive    bool      `json:"is_active"`
	IsSuperuser bool      `json:"is_superuser"`
	OrgID       int64     `json:"org_id"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile returns the client-facing view of u. The password digest is never included.
func (u *User) Profile() Profile {
	return Profile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FullName:    u.FullName,
		IsActive:    u.IsActive,
		IsSuperuser: u.IsSuperuser,
		OrgID:       u.OrgID,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
