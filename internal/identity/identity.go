// Package identity implements the Identity Store (C10): users with a
// single primary role plus additional roles, argon2id password hashing,
// and startup super_admin seeding, adapted from the teacher's user
// repository/service split.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/athendat/classical-server-app-sub000/internal/apperr"
	"github.com/athendat/classical-server-app-sub000/internal/authz"
	"github.com/athendat/classical-server-app-sub000/internal/db/models"
)

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16

	superAdminRoleKey = "super_admin"
)

// Repository is the persistence dependency for identity operations.
type Repository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, excludeRoleKey string) ([]models.User, error)
	Update(ctx context.Context, user *models.User) error
	Count(ctx context.Context) (int, error)
}

// Store implements the Identity Store (C10).
type Store struct {
	repo   Repository
	logger *log.Logger
}

// New constructs a Store.
func New(repo Repository) *Store {
	return &Store{repo: repo, logger: log.New(log.Writer(), "[identity] ", log.LstdFlags)}
}

// Public is the sanitized view of a user returned to callers other than
// FindByIdRaw and FindByEmailRaw — passwordHash is never included.
type Public struct {
	ID                 string
	Email              string
	Phone              string
	IDNumber           string
	Fullname           string
	RoleKey            string
	AdditionalRoleKeys []string
	Status             string
	PhoneConfirmed     bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func toPublic(u *models.User) *Public {
	if u == nil {
		return nil
	}
	return &Public{
		ID:                 u.ID,
		Email:              u.Email,
		Phone:              u.Phone,
		IDNumber:           u.IDNumber,
		Fullname:           u.Fullname,
		RoleKey:            u.RoleKey,
		AdditionalRoleKeys: u.AdditionalRoleKeys,
		Status:             u.Status,
		PhoneConfirmed:     u.PhoneConfirmed,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

// HashPassword derives an argon2id hash encoded as
// "argon2id$time$memory$threads$salt$hash" (all base64-raw-url except the
// numeric parameters), grounded on the reference argon2id encoding scheme.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("identity: generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		argon2Time, argon2Memory, argon2Threads,
		base64.RawURLEncoding.EncodeToString(salt),
		base64.RawURLEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks password against an encoded hash produced by
// HashPassword, in constant time.
func VerifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	var timeCost, memory uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[1], "%d", &timeCost); err != nil {
		return false
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &memory); err != nil {
		return false
	}
	if _, err := fmt.Sscanf(parts[3], "%d", &threads); err != nil {
		return false
	}
	salt, err := base64.RawURLEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawURLEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// Create registers a new user, enforcing the role-combination rule (§3)
// and hashing the supplied password.
func (s *Store) Create(ctx context.Context, email, phone, idNumber, fullname, password, roleKey string, additionalRoleKeys []string) (*Public, error) {
	if valid, msg := authz.ValidateRoleCombination(roleKey, additionalRoleKeys); !valid {
		return nil, apperr.New(apperr.InvalidRoleCombination, msg)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, apperr.Wrap(apperr.UserNotFound, "failed to hash password", err)
	}

	now := time.Now()
	user := &models.User{
		ID:                 uuid.NewString(),
		Email:              strings.ToLower(strings.TrimSpace(email)),
		Phone:              phone,
		IDNumber:           idNumber,
		Fullname:           fullname,
		PasswordHash:       hash,
		RoleKey:            strings.ToLower(strings.TrimSpace(roleKey)),
		AdditionalRoleKeys: additionalRoleKeys,
		Status:             "active",
		PhoneConfirmed:     false,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return toPublic(user), nil
}

// FindByID returns the sanitized view of a user.
func (s *Store) FindByID(ctx context.Context, id string) (*Public, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil || user.RoleKey == superAdminRoleKey {
		return nil, apperr.New(apperr.UserNotFound, "user not found")
	}
	return toPublic(user), nil
}

// FindByIdRaw returns the full row, including passwordHash, for intra-
// service use only (token issuance, password verification).
func (s *Store) FindByIdRaw(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.New(apperr.UserNotFound, "user not found")
	}
	return user, nil
}

// FindByEmail returns the sanitized view of a user by email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*Public, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if user == nil || user.RoleKey == superAdminRoleKey {
		return nil, apperr.New(apperr.UserNotFound, "user not found")
	}
	return toPublic(user), nil
}

// FindByEmailRaw returns the full row, including passwordHash, for
// credential checks at login — the only other passwordHash-exposing path
// besides FindByIdRaw.
func (s *Store) FindByEmailRaw(ctx context.Context, email string) (*models.User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.New(apperr.UserNotFound, "user not found")
	}
	return user, nil
}

// List returns every user except super_admin accounts (§4.10).
func (s *Store) List(ctx context.Context) ([]Public, error) {
	users, err := s.repo.List(ctx, superAdminRoleKey)
	if err != nil {
		return nil, err
	}
	out := make([]Public, 0, len(users))
	for i := range users {
		if users[i].RoleKey == superAdminRoleKey {
			continue
		}
		out = append(out, *toPublic(&users[i]))
	}
	return out, nil
}

// UpdateRoles replaces a user's primary and additional role keys, enforcing
// the combination rule.
func (s *Store) UpdateRoles(ctx context.Context, id, roleKey string, additionalRoleKeys []string) (*Public, error) {
	if valid, msg := authz.ValidateRoleCombination(roleKey, additionalRoleKeys); !valid {
		return nil, apperr.New(apperr.InvalidRoleCombination, msg)
	}
	user, err := s.FindByIdRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	user.RoleKey = strings.ToLower(strings.TrimSpace(roleKey))
	user.AdditionalRoleKeys = additionalRoleKeys
	user.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}
	return toPublic(user), nil
}

// UpdatePassword re-hashes and stores a new password.
func (s *Store) UpdatePassword(ctx context.Context, id, newPassword string) error {
	user, err := s.FindByIdRaw(ctx, id)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return apperr.Wrap(apperr.UserNotFound, "failed to hash password", err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = time.Now()
	return s.repo.Update(ctx, user)
}

// Update applies patch to the stored user row, stamps UpdatedAt and
// persists it; which fields change is decided entirely by patch.
func (s *Store) Update(ctx context.Context, id string, patch func(u *models.User)) (*Public, error) {
	user, err := s.FindByIdRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	patch(user)
	user.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}
	return toPublic(user), nil
}

// Disable transitions a user to status=disabled.
func (s *Store) Disable(ctx context.Context, id string) (*Public, error) {
	user, err := s.FindByIdRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Status = "disabled"
	user.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}
	return toPublic(user), nil
}

// SeedSuperAdmin seeds a single super_admin user from saEmail/saPassword iff
// the user collection is empty; otherwise it is a silent no-op (§4.10).
func (s *Store) SeedSuperAdmin(ctx context.Context, saEmail, saPassword string) error {
	if saEmail == "" || saPassword == "" {
		return nil
	}
	count, err := s.repo.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := HashPassword(saPassword)
	if err != nil {
		return apperr.Wrap(apperr.UserNotFound, "failed to hash super_admin password", err)
	}
	now := time.Now()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(saEmail)),
		Fullname:     "Super Admin",
		PasswordHash: hash,
		RoleKey:      superAdminRoleKey,
		Status:       "active",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return err
	}
	s.logger.Printf("seeded super_admin user %s", user.Email)
	return nil
}
