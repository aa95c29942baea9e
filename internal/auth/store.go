package auth

import "context"

// UserStore describes persistence operations required by the auth subsystem.
//
// Lookups return ErrNotFound when no row matches. Create returns ErrConflict
// when the username or email is already taken and fills in u.ID, CreatedAt
// and UpdatedAt on success.
type UserStore interface {
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, u *User) error
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	UpdateRole(ctx context.Context, id int64, role Role, orgID int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	Ping(ctx context.Context) error
}
