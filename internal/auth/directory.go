package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	minUsernameLen = 3
	minPasswordLen = 6

	// DefaultAdminPassword is the well-known bootstrap password. Production
	// configuration refuses it.
	DefaultAdminPassword = "admin123"
)

// BootstrapAdmin describes the account created on an empty directory.
type BootstrapAdmin struct {
	Username string
	Email    string
	FullName string
	Password string
}

// DefaultBootstrapAdmin returns the stock admin account.
func DefaultBootstrapAdmin() BootstrapAdmin {
	return BootstrapAdmin{
		Username: "admin",
		Email:    "admin@vetrai.local",
		FullName: "Admin User",
		Password: DefaultAdminPassword,
	}
}

// Directory looks up and manages user accounts.
type Directory struct {
	store  UserStore
	pool   *HashPool
	logger *zap.Logger
	admin  BootstrapAdmin
}

// NewDirectory wires a Directory over store. A nil logger discards output and
// a zero admin falls back to DefaultBootstrapAdmin.
func NewDirectory(store UserStore, pool *HashPool, logger *zap.Logger, admin BootstrapAdmin) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultBootstrapAdmin()
	if admin.Username == "" {
		admin.Username = def.Username
	}
	if admin.Email == "" {
		admin.Email = def.Email
	}
	if admin.FullName == "" {
		admin.FullName = def.FullName
	}
	if admin.Password == "" {
		admin.Password = def.Password
	}
	return &Directory{store: store, pool: pool, logger: logger, admin: admin}
}

// FindByUsername returns the user with the exact (case-sensitive) username.
func (d *Directory) FindByUsername(ctx context.Context, username string) (*User, error) {
	if username == "" {
		return nil, ErrNotFound
	}
	return d.store.FindByUsername(ctx, username)
}

// FindByID returns the user with id.
func (d *Directory) FindByID(ctx context.Context, id int64) (*User, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	return d.store.FindByID(ctx, id)
}

// Ping reports whether the backing store is reachable.
func (d *Directory) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}

// BootstrapDefaultAdmin creates the configured admin account when the
// directory is empty. Losing a race to another process is not an error.
func (d *Directory) BootstrapDefaultAdmin(ctx context.Context) (bool, error) {
	n, err := d.store.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	digest, err := d.pool.Hash(ctx, d.admin.Password)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}
	fullName := d.admin.FullName
	u := &User{
		Username:     d.admin.Username,
		Email:        d.admin.Email,
		PasswordHash: digest,
		FullName:     &fullName,
		IsActive:     true,
		IsSuperuser:  true,
		OrgID:        DefaultOrgID,
		Role:         RoleSuperAdmin,
	}
	if err := d.store.Create(ctx, u); err != nil {
		if errors.Is(err, ErrConflict) {
			d.logger.Info("default admin already created concurrently", zap.String("username", u.Username))
			return false, nil
		}
		return false, fmt.Errorf("create admin: %w", err)
	}

	d.logger.Info("created default admin user",
		zap.Int64("user_id", u.ID),
		zap.String("username", u.Username),
	)
	if d.admin.Password == DefaultAdminPassword {
		d.logger.Warn("default admin uses the well-known password; change it with authctl reset-password",
			zap.String("username", u.Username),
		)
	}
	return true, nil
}

// CreateUser validates nu, hashes its password and stores the account.
func (d *Directory) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	nu.Username = strings.TrimSpace(nu.Username)
	nu.Email = strings.TrimSpace(nu.Email)
	if len(nu.Username) < minUsernameLen {
		return nil, fmt.Errorf("%w: username must be at least %d characters", ErrInvalidInput, minUsernameLen)
	}
	if !strings.Contains(nu.Email, "@") {
		return nil, fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}
	if err := validatePassword(nu.Password); err != nil {
		return nil, err
	}
	if nu.Role == "" {
		nu.Role = RoleUser
	}
	if !nu.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, nu.Role)
	}
	if nu.OrgID == 0 {
		nu.OrgID = DefaultOrgID
	}
	if nu.OrgID < 0 {
		return nil, fmt.Errorf("%w: org id must be positive", ErrInvalidInput)
	}

	digest, err := d.pool.Hash(ctx, nu.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		Username:     nu.Username,
		Email:        nu.Email,
		PasswordHash: digest,
		FullName:     nu.FullName,
		IsActive:     true,
		IsSuperuser:  nu.IsSuperuser,
		OrgID:        nu.OrgID,
		Role:         nu.Role,
	}
	if err := d.store.Create(ctx, u); err != nil {
		return nil, err
	}
	d.logger.Info("user created",
		zap.Int64("user_id", u.ID),
		zap.String("username", u.Username),
		zap.String("role", string(u.Role)),
		zap.Int64("org_id", u.OrgID),
	)
	return u, nil
}

// SetRole changes the role and organization of user id.
func (d *Directory) SetRole(ctx context.Context, id int64, role Role, orgID int64) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if orgID <= 0 {
		return fmt.Errorf("%w: org id must be positive", ErrInvalidInput)
	}
	if err := d.store.UpdateRole(ctx, id, role, orgID); err != nil {
		return err
	}
	d.logger.Info("user role changed", zap.Int64("user_id", id), zap.String("role", string(role)), zap.Int64("org_id", orgID))
	return nil
}

// SetActive enables or disables user id. Disabled users are rejected on
// their next request even while holding unexpired tokens.
func (d *Directory) SetActive(ctx context.Context, id int64, active bool) error {
	if err := d.store.SetActive(ctx, id, active); err != nil {
		return err
	}
	d.logger.Info("user activation changed", zap.Int64("user_id", id), zap.Bool("active", active))
	return nil
}

// ResetPassword replaces the password of user id.
func (d *Directory) ResetPassword(ctx context.Context, id int64, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	digest, err := d.pool.Hash(ctx, password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := d.store.UpdatePassword(ctx, id, digest); err != nil {
		return err
	}
	d.logger.Info("user password reset", zap.Int64("user_id", id))
	return nil
}

// upgradeDigest re-hashes password with the configured algorithm when the
// stored digest was produced by another one. Failures are logged and the
// old digest stays usable.
func (d *Directory) upgradeDigest(ctx context.Context, u *User, password string) {
	r, ok := d.pool.hasher.(rehasher)
	if !ok || !r.NeedsRehash(u.PasswordHash) {
		return
	}
	digest, err := d.pool.Hash(ctx, password)
	if err != nil {
		d.logger.Warn("rehash password", zap.Int64("user_id", u.ID), zap.Error(err))
		return
	}
	if err := d.store.UpdatePassword(ctx, u.ID, digest); err != nil {
		d.logger.Warn("store upgraded digest", zap.Int64("user_id", u.ID), zap.Error(err))
		return
	}
	u.PasswordHash = digest
	d.logger.Info("password digest upgraded", zap.Int64("user_id", u.ID))
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	return nil
}
