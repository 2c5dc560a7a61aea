package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/athendat/classical-server-app-sub000/internal/db/models"
)

// BunModuleRepository is a ModuleRepository backed by bun.
type BunModuleRepository struct {
	db *bun.DB
}

// NewBunModuleRepository constructs a BunModuleRepository.
func NewBunModuleRepository(db *bun.DB) *BunModuleRepository {
	return &BunModuleRepository{db: db}
}

func (r *BunModuleRepository) Create(ctx context.Context, module *models.Module) error {
	_, err := r.db.NewInsert().Model(module).Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: create module: %w", err)
	}
	return nil
}

func (r *BunModuleRepository) FindAll(ctx context.Context) ([]models.Module, error) {
	var modules []models.Module
	err := r.db.NewSelect().Model(&modules).Order("\"order\" ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: find all modules: %w", err)
	}
	return modules, nil
}

func (r *BunModuleRepository) FindByID(ctx context.Context, id string) (*models.Module, error) {
	module := new(models.Module)
	err := r.db.NewSelect().Model(module).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if err == sqlNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: find module by id: %w", err)
	}
	return module, nil
}

func (r *BunModuleRepository) FindByIndicator(ctx context.Context, indicator string) (*models.Module, error) {
	module := new(models.Module)
	err := r.db.NewSelect().Model(module).Where("indicator = ?", indicator).Scan(ctx)
	if err != nil {
		if err == sqlNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: find module by indicator: %w", err)
	}
	return module, nil
}

func (r *BunModuleRepository) FindSystemModules(ctx context.Context) ([]models.Module, error) {
	var modules []models.Module
	err := r.db.NewSelect().Model(&modules).Where("is_system = ?", true).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: find system modules: %w", err)
	}
	return modules, nil
}

func (r *BunModuleRepository) FindSiblings(ctx context.Context, parent string) ([]models.Module, error) {
	var modules []models.Module
	err := r.db.NewSelect().Model(&modules).
		Where("parent = ?", parent).
		Order("\"order\" ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: find sibling modules: %w", err)
	}
	return modules, nil
}

func (r *BunModuleRepository) Update(ctx context.Context, module *models.Module) error {
	_, err := r.db.NewUpdate().Model(module).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: update module: %w", err)
	}
	return nil
}

func (r *BunModuleRepository) HardDelete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().Model((*models.Module)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: hard delete module: %w", err)
	}
	return nil
}
