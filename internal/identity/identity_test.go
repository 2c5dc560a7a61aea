package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athendat/classical-server-app-sub000/internal/apperr"
	"github.com/athendat/classical-server-app-sub000/internal/db/models"
)

type fakeUserRepo struct {
	byID    map[string]*models.User
	byEmail map[string]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: map[string]*models.User{}, byEmail: map[string]*models.User{}}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	f.byID[user.ID] = user
	f.byEmail[user.Email] = user
	return nil
}
func (f *fakeUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, nil
}
func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, nil
}
func (f *fakeUserRepo) List(ctx context.Context, excludeRoleKey string) ([]models.User, error) {
	var out []models.User
	for _, u := range f.byID {
		if u.RoleKey == excludeRoleKey {
			continue
		}
		out = append(out, *u)
	}
	return out, nil
}
func (f *fakeUserRepo) Update(ctx context.Context, user *models.User) error {
	f.byID[user.ID] = user
	f.byEmail[user.Email] = user
	return nil
}
func (f *fakeUserRepo) Count(ctx context.Context) (int, error) {
	return len(f.byID), nil
}

func TestHashAndVerifyPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, VerifyPassword("correct horse battery staple", hash))
	assert.False(t, VerifyPassword("wrong password", hash))
}

func TestCreateRejectsInvalidRoleCombination(t *testing.T) {
	store := New(newFakeUserRepo())
	_, err := store.Create(context.Background(), "a@b.com", "", "", "A", "pw", "super_admin", []string{"user"})
	require.Error(t, err)
	assert.True(t, apperr.As(err, apperr.InvalidRoleCombination))
}

func TestCreateThenFindByIDOmitsSuperAdmin(t *testing.T) {
	repo := newFakeUserRepo()
	store := New(repo)
	created, err := store.Create(context.Background(), "merchant@b.com", "", "", "M", "pw", "merchant", []string{"user"})
	require.NoError(t, err)

	found, err := store.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "merchant@b.com", found.Email)

	repo.byID["sa"] = &models.User{ID: "sa", RoleKey: "super_admin", Status: "active"}
	_, err = store.FindByID(context.Background(), "sa")
	require.Error(t, err)
	assert.True(t, apperr.As(err, apperr.UserNotFound))
}

func TestListExcludesSuperAdmin(t *testing.T) {
	repo := newFakeUserRepo()
	store := New(repo)
	_, _ = store.Create(context.Background(), "m@b.com", "", "", "M", "pw", "merchant", []string{"user"})
	repo.byID["sa"] = &models.User{ID: "sa", Email: "sa@b.com", RoleKey: "super_admin", Status: "active"}

	users, err := store.List(context.Background())
	require.NoError(t, err)
	for _, u := range users {
		assert.NotEqual(t, "super_admin", u.RoleKey)
	}
}

func TestFindByIdRawExposesPasswordHash(t *testing.T) {
	repo := newFakeUserRepo()
	store := New(repo)
	created, err := store.Create(context.Background(), "raw@b.com", "", "", "R", "pw", "merchant", nil)
	require.NoError(t, err)

	raw, err := store.FindByIdRaw(context.Background(), created.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, raw.PasswordHash)
}

func TestSeedSuperAdminOnlyWhenEmpty(t *testing.T) {
	repo := newFakeUserRepo()
	store := New(repo)

	err := store.SeedSuperAdmin(context.Background(), "root@b.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, 1, len(repo.byID))

	err = store.SeedSuperAdmin(context.Background(), "root2@b.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, 1, len(repo.byID))
}

func TestSeedSuperAdminNoopWhenEnvUnset(t *testing.T) {
	repo := newFakeUserRepo()
	store := New(repo)
	err := store.SeedSuperAdmin(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, len(repo.byID))
}

func TestUpdatePasswordChangesHash(t *testing.T) {
	repo := newFakeUserRepo()
	store := New(repo)
	created, err := store.Create(context.Background(), "u@b.com", "", "", "U", "oldpw", "merchant", nil)
	require.NoError(t, err)

	err = store.UpdatePassword(context.Background(), created.ID, "newpw")
	require.NoError(t, err)

	raw, err := store.FindByIdRaw(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, VerifyPassword("newpw", raw.PasswordHash))
	assert.False(t, VerifyPassword("oldpw", raw.PasswordHash))
}
