package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"vetrai.org/internal/auth"
	"vetrai.org/internal/store/memory"
)

type fixture struct {
	svc   *auth.Service
	dir   *auth.Directory
	store *memory.Store
	codec *auth.Codec
}

func newFixture(t *testing.T, opts ...auth.CodecOption) fixture {
	t.Helper()
	store := memory.New()
	pool := auth.NewHashPool(auth.BcryptHasher{Cost: bcrypt.MinCost}, 4)
	dir := auth.NewDirectory(store, pool, nil, auth.BootstrapAdmin{})
	codec, err := auth.NewCodec(auth.CodecConfig{Secret: "service-test-secret"}, opts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	svc, err := auth.NewService(dir, codec)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return fixture{svc: svc, dir: dir, store: store, codec: codec}
}

func (f fixture) createUser(t *testing.T, username, password string, role auth.Role, orgID int64) *auth.User {
	t.Helper()
	u, err := f.dir.CreateUser(context.Background(), auth.NewUser{
		Username: username,
		Email:    username + "@example.com",
		Password: password,
		Role:     role,
		OrgID:    orgID,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return u
}

func TestLoginIssuesTokensBoundToCurrentState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createUser(t, "alice", "wonderland", auth.RoleOrgAdmin, 7)

	pair, u, err := f.svc.Login(ctx, "alice", "wonderland")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.ID != created.ID {
		t.Fatalf("unexpected user %d", u.ID)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.AccessToken == pair.RefreshToken {
		t.Fatalf("bad token pair: %+v", pair)
	}

	access, err := f.codec.DecodeAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("DecodeAccess: %v", err)
	}
	if access.UserID != created.ID || access.OrgID != 7 || access.Role != auth.RoleOrgAdmin {
		t.Fatalf("claims do not match user: %+v", access)
	}
	if _, err := f.codec.DecodeRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("DecodeRefresh: %v", err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice", "wonderland", "", 0)

	_, _, errUnknown := f.svc.Login(ctx, "mallory", "wonderland")
	_, _, errWrong := f.svc.Login(ctx, "alice", "looking-glass")

	if !errors.Is(errUnknown, auth.ErrInvalidCredentials) || !errors.Is(errWrong, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("messages differ: %q vs %q", errUnknown, errWrong)
	}
	if !errors.Is(errUnknown, auth.ErrUnauthorized) {
		t.Fatal("invalid credentials must be unauthorized")
	}
	if _, _, err := f.svc.Login(ctx, "Alice", "wonderland"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("username lookup must be case-sensitive, got %v", err)
	}
}

func TestLoginInactiveUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "bob", "builder1", "", 0)
	if err := f.dir.SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	if _, _, err := f.svc.Login(ctx, "bob", "builder1"); !errors.Is(err, auth.ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "bob", "wrong-pass"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("wrong password on inactive account should be invalid credentials, got %v", err)
	}
}

func TestRefreshReturnsSameRefreshTokenAndFreshClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "carol", "carol-pass", auth.RoleUser, 1)

	pair, _, err := f.svc.Login(ctx, "carol", "carol-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.dir.SetRole(ctx, u.ID, auth.RoleOrgAdmin, 5); err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	refreshed, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.RefreshToken != pair.RefreshToken {
		t.Fatal("refresh token must be returned unchanged")
	}
	claims, err := f.codec.DecodeAccess(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("DecodeAccess: %v", err)
	}
	if claims.Role != auth.RoleOrgAdmin || claims.OrgID != 5 {
		t.Fatalf("new access token should reflect stored role/org, got %+v", claims)
	}
}

func TestRefreshRejectsAccessTokenAndInactiveUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "dave", "dave-pass", "", 0)
	pair, _, err := f.svc.Login(ctx, "dave", "dave-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := f.svc.Refresh(ctx, pair.AccessToken); !errors.Is(err, auth.ErrTokenType) {
		t.Fatalf("expected ErrTokenType, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, "garbage"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	if err := f.dir.SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, auth.ErrUserUnavailable) {
		t.Fatalf("expected ErrUserUnavailable, got %v", err)
	}
}

func TestRefreshAfterExpiry(t *testing.T) {
	issued := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	now := issued
	f := newFixture(t, auth.WithClock(func() time.Time { return now }))
	f.createUser(t, "erin", "erin-pass", "", 0)

	pair, _, err := f.svc.Login(context.Background(), "erin", "erin-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	now = issued.Add(auth.DefaultRefreshTTL + time.Second)
	if _, err := f.svc.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestResolveCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "frank", "frank-pass", auth.RoleUser, 3)
	pair, _, err := f.svc.Login(ctx, "frank", "frank-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	got, err := f.svc.ResolveCaller(ctx, "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("ResolveCaller: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("resolved wrong user %d", got.ID)
	}
	if _, err := f.svc.ResolveCaller(ctx, "bearer "+pair.AccessToken); err != nil {
		t.Fatalf("scheme should be case-insensitive: %v", err)
	}

	cases := map[string]error{
		"":                                    auth.ErrMissingAuthHeader,
		pair.AccessToken:                      auth.ErrBadAuthHeader,
		"Basic " + pair.AccessToken:           auth.ErrBadAuthHeader,
		"Bearer " + pair.AccessToken + " x":   auth.ErrBadAuthHeader,
		"Bearer " + pair.RefreshToken:         auth.ErrTokenType,
		"Bearer not.a.token":                  auth.ErrInvalidToken,
	}
	for header, want := range cases {
		if _, err := f.svc.ResolveCaller(ctx, header); !errors.Is(err, want) {
			t.Fatalf("ResolveCaller(%q): expected %v, got %v", header, want, err)
		}
	}
}

func TestAuthenticateUsesStoredRoleAndActiveFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "grace", "grace-pass", auth.RoleSuperAdmin, 1)
	pair, _, err := f.svc.Login(ctx, "grace", "grace-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.dir.SetRole(ctx, u.ID, auth.RoleUser, 9); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	got, err := f.svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.Role != auth.RoleUser || got.OrgID != 9 {
		t.Fatalf("role must come from storage, got %s/%d", got.Role, got.OrgID)
	}

	if err := f.dir.SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, auth.ErrUserUnavailable) {
		t.Fatalf("expected ErrUserUnavailable for deactivated user, got %v", err)
	}

	ghost, _, err := f.codec.IssueAccess(&auth.User{ID: 999, Username: "ghost", Role: auth.RoleUser})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, ghost); !errors.Is(err, auth.ErrUserUnavailable) {
		t.Fatalf("expected ErrUserUnavailable for missing user, got %v", err)
	}
}

func TestLogoutIsAdvisory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "heidi", "heidi-pass", "", 0)
	pair, u, err := f.svc.Login(ctx, "heidi", "heidi-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.svc.Logout(auth.ContextWithUser(ctx, u))
	f.svc.Logout(ctx)

	if _, err := f.svc.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("tokens stay valid after logout: %v", err)
	}
}

func TestBootstrapDefaultAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.dir.BootstrapDefaultAdmin(ctx)
	if err != nil || !created {
		t.Fatalf("first bootstrap = %v, %v", created, err)
	}
	created, err = f.dir.BootstrapDefaultAdmin(ctx)
	if err != nil || created {
		t.Fatalf("second bootstrap = %v, %v", created, err)
	}

	admin, err := f.dir.FindByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if admin.Email != "admin@vetrai.local" || !admin.IsSuperuser || admin.Role != auth.RoleSuperAdmin || admin.OrgID != 1 {
		t.Fatalf("unexpected admin: %+v", admin)
	}
	if admin.FullName == nil || *admin.FullName != "Admin User" {
		t.Fatalf("unexpected full name: %v", admin.FullName)
	}
	if _, _, err := f.svc.Login(ctx, "admin", auth.DefaultAdminPassword); err != nil {
		t.Fatalf("admin login: %v", err)
	}
}

func TestBootstrapSkipsNonEmptyDirectory(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "ivan", "ivan-pass", "", 0)
	created, err := f.dir.BootstrapDefaultAdmin(context.Background())
	if err != nil || created {
		t.Fatalf("bootstrap on non-empty directory = %v, %v", created, err)
	}
	if _, err := f.dir.FindByUsername(context.Background(), "admin"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("admin must not be created, got %v", err)
	}
}

func TestConcurrentBootstrapCreatesOneAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.dir.BootstrapDefaultAdmin(ctx)
			if err != nil {
				t.Errorf("bootstrap: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one bootstrap to create the admin, got %d", created)
	}
	if n, _ := f.store.Count(ctx); n != 1 {
		t.Fatalf("expected one user, got %d", n)
	}
}

// staleCounter reports an empty directory regardless of its contents, as a
// concurrent bootstrap would observe before the winner's insert lands.
type staleCounter struct {
	auth.UserStore
}

func (staleCounter) Count(context.Context) (int64, error) { return 0, nil }

func TestBootstrapLosesInsertRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if created, err := f.dir.BootstrapDefaultAdmin(ctx); err != nil || !created {
		t.Fatalf("seed bootstrap = %v, %v", created, err)
	}

	pool := auth.NewHashPool(auth.BcryptHasher{Cost: bcrypt.MinCost}, 1)
	late := auth.NewDirectory(staleCounter{f.store}, pool, nil, auth.BootstrapAdmin{})
	created, err := late.BootstrapDefaultAdmin(ctx)
	if err != nil || created {
		t.Fatalf("late bootstrap = %v, %v; want false, nil", created, err)
	}
	if n, _ := f.store.Count(ctx); n != 1 {
		t.Fatalf("expected one user, got %d", n)
	}
}

func TestLoginUpgradesDigestToConfiguredAlgorithm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	legacy := f.createUser(t, "gwen", "gwen-pass", "", 0)
	if !strings.HasPrefix(legacy.PasswordHash, "$2") {
		t.Fatalf("expected a bcrypt digest, got %q", legacy.PasswordHash)
	}

	hasher, err := auth.NewHasher(auth.AlgorithmArgon2id, bcrypt.MinCost, auth.Argon2idParams{
		MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	dir := auth.NewDirectory(f.store, auth.NewHashPool(hasher, 1), nil, auth.BootstrapAdmin{})
	svc, err := auth.NewService(dir, f.codec)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if _, _, err := svc.Login(ctx, "gwen", "gwen-pass"); err != nil {
		t.Fatalf("login with legacy digest: %v", err)
	}
	stored, err := f.store.FindByUsername(ctx, "gwen")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if !strings.HasPrefix(stored.PasswordHash, "$argon2id$") {
		t.Fatalf("digest not upgraded: %q", stored.PasswordHash)
	}
	if _, _, err := svc.Login(ctx, "gwen", "gwen-pass"); err != nil {
		t.Fatalf("login with upgraded digest: %v", err)
	}
	if _, _, err := svc.Login(ctx, "gwen", "wrong-pass"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestFailedLoginKeepsLegacyDigest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	legacy := f.createUser(t, "hugo", "hugo-pass", "", 0)

	hasher, err := auth.NewHasher(auth.AlgorithmArgon2id, bcrypt.MinCost, auth.Argon2idParams{
		MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	dir := auth.NewDirectory(f.store, auth.NewHashPool(hasher, 1), nil, auth.BootstrapAdmin{})
	svc, err := auth.NewService(dir, f.codec)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, _, err := svc.Login(ctx, "hugo", "not-hugo"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	stored, _ := f.store.FindByUsername(ctx, "hugo")
	if stored.PasswordHash != legacy.PasswordHash {
		t.Fatal("digest must not change on a failed login")
	}
}

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bad := []auth.NewUser{
		{Username: "ab", Email: "ab@example.com", Password: "secret1"},
		{Username: "abc", Email: "no-at-sign", Password: "secret1"},
		{Username: "abc", Email: "abc@example.com", Password: "short"},
		{Username: "abc", Email: "abc@example.com", Password: "secret1", Role: "root"},
	}
	for _, nu := range bad {
		if _, err := f.dir.CreateUser(ctx, nu); !errors.Is(err, auth.ErrInvalidInput) {
			t.Fatalf("CreateUser(%+v): expected ErrInvalidInput, got %v", nu, err)
		}
	}

	f.createUser(t, "judy", "judy-pass", "", 0)
	if _, err := f.dir.CreateUser(ctx, auth.NewUser{Username: "judy", Email: "judy2@example.com", Password: "secret1"}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "kate", "old-password", "", 0)

	if err := f.dir.ResetPassword(ctx, u.ID, "new-password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "kate", "old-password"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "kate", "new-password"); err != nil {
		t.Fatalf("new password should work: %v", err)
	}
	if err := f.dir.ResetPassword(ctx, u.ID, "123"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLoginHonorsCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "leo", "leo-password", "", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := f.svc.Login(ctx, "leo", "leo-password"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
