package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/athendat/classical-server-app-sub000/internal/db/models"
)

// BunUserRepository is a UserRepository backed by bun.
type BunUserRepository struct {
	db *bun.DB
}

// NewBunUserRepository constructs a BunUserRepository.
func NewBunUserRepository(db *bun.DB) *BunUserRepository {
	return &BunUserRepository{db: db}
}

func (r *BunUserRepository) Create(ctx context.Context, user *models.User) error {
	_, err := r.db.NewInsert().Model(user).Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: create user: %w", err)
	}
	return nil
}

func (r *BunUserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().Model(user).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if err == sqlNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: find user by id: %w", err)
	}
	return user, nil
}

func (r *BunUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().Model(user).Where("email = ?", email).Scan(ctx)
	if err != nil {
		if err == sqlNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: find user by email: %w", err)
	}
	return user, nil
}

// List returns users, excluding any whose primary role key matches
// excludeRoleKey (used to keep super_admin out of user-management listings).
func (r *BunUserRepository) List(ctx context.Context, excludeRoleKey string) ([]models.User, error) {
	var users []models.User
	q := r.db.NewSelect().Model(&users).Order("created_at DESC")
	if excludeRoleKey != "" {
		q = q.Where("role_key != ?", excludeRoleKey)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("repository: list users: %w", err)
	}
	return users, nil
}

func (r *BunUserRepository) Update(ctx context.Context, user *models.User) error {
	_, err := r.db.NewUpdate().Model(user).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: update user: %w", err)
	}
	return nil
}

func (r *BunUserRepository) Count(ctx context.Context) (int, error) {
	count, err := r.db.NewSelect().Model((*models.User)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("repository: count users: %w", err)
	}
	return count, nil
}
