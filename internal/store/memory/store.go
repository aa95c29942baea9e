// Package memory is a process-local UserStore for tests and throwaway runs.
package memory

import (
	"context"
	"sync"
	"time"

	"vetrai.org/internal/auth"
)

var _ auth.UserStore = (*Store)(nil)

// Store keeps users in a map guarded by a mutex. Returned users are copies.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]*auth.User
	now    func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{users: make(map[int64]*auth.User), now: time.Now}
}

func clone(u *auth.User) *auth.User {
	c := *u
	if u.FullName != nil {
		name := *u.FullName
		c.FullName = &name
	}
	return &c
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

func (s *Store) Create(ctx context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return auth.ErrConflict
		}
	}
	s.nextID++
	now := s.now().UTC()
	u.ID = s.nextID
	u.CreatedAt = now
	u.UpdatedAt = now
	if u.OrgID == 0 {
		u.OrgID = auth.DefaultOrgID
	}
	if u.Role == "" {
		u.Role = auth.RoleUser
	}
	s.users[u.ID] = clone(u)
	return nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return clone(u), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *Store) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return clone(u), nil
}

func (s *Store) UpdateRole(ctx context.Context, id int64, role auth.Role, orgID int64) error {
	return s.update(id, func(u *auth.User) {
		u.Role = role
		u.OrgID = orgID
	})
}

func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	return s.update(id, func(u *auth.User) { u.IsActive = active })
}

func (s *Store) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return s.update(id, func(u *auth.User) { u.PasswordHash = passwordHash })
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) update(id int64, fn func(*auth.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = s.now().UTC()
	return nil
}
