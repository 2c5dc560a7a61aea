package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/athendat/classical-server-app-sub000/internal/db/models"
)

// BunRoleRepository is a RoleRepository backed by bun.
type BunRoleRepository struct {
	db *bun.DB
}

// NewBunRoleRepository constructs a BunRoleRepository.
func NewBunRoleRepository(db *bun.DB) *BunRoleRepository {
	return &BunRoleRepository{db: db}
}

func (r *BunRoleRepository) Create(ctx context.Context, role *models.Role) error {
	_, err := r.db.NewInsert().Model(role).Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: create role: %w", err)
	}
	return nil
}

func (r *BunRoleRepository) FindAll(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := r.db.NewSelect().Model(&roles).Scan(ctx); err != nil {
		return nil, fmt.Errorf("repository: find all roles: %w", err)
	}
	return roles, nil
}

func (r *BunRoleRepository) FindByID(ctx context.Context, id string) (*models.Role, error) {
	role := new(models.Role)
	err := r.db.NewSelect().Model(role).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if err == sqlNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: find role by id: %w", err)
	}
	return role, nil
}

func (r *BunRoleRepository) FindByKey(ctx context.Context, key string) (*models.Role, error) {
	role := new(models.Role)
	err := r.db.NewSelect().Model(role).Where("key = ?", key).Scan(ctx)
	if err != nil {
		if err == sqlNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: find role by key: %w", err)
	}
	return role, nil
}

func (r *BunRoleRepository) FindActiveByKeys(ctx context.Context, keys []string) ([]models.Role, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var roles []models.Role
	err := r.db.NewSelect().Model(&roles).
		Where("status = ?", "active").
		Where("key IN (?)", bun.In(keys)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: find active roles by keys: %w", err)
	}
	return roles, nil
}

func (r *BunRoleRepository) FindSystemRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	err := r.db.NewSelect().Model(&roles).Where("is_system = ?", true).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: find system roles: %w", err)
	}
	return roles, nil
}

func (r *BunRoleRepository) Update(ctx context.Context, role *models.Role) error {
	_, err := r.db.NewUpdate().Model(role).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: update role: %w", err)
	}
	return nil
}

func (r *BunRoleRepository) HardDelete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().Model((*models.Role)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: hard delete role: %w", err)
	}
	return nil
}
