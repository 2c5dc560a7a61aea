// Package repository defines the persistence interfaces consumed by the
// Role & Module Registry (C9), Identity Store (C10), and Device Key
// Exchange (C7), plus their bun-backed implementations, adapted from the
// teacher's internal/repository/interface.go.
package repository

import (
	"context"
	"time"

	"github.com/athendat/classical-server-app-sub000/internal/db/models"
)

// RoleRepository persists Role rows.
type RoleRepository interface {
	Create(ctx context.Context, role *models.Role) error
	FindAll(ctx context.Context) ([]models.Role, error)
	FindByID(ctx context.Context, id string) (*models.Role, error)
	FindByKey(ctx context.Context, key string) (*models.Role, error)
	FindActiveByKeys(ctx context.Context, keys []string) ([]models.Role, error)
	FindSystemRoles(ctx context.Context) ([]models.Role, error)
	Update(ctx context.Context, role *models.Role) error
	HardDelete(ctx context.Context, id string) error
}

// ModuleRepository persists Module rows.
type ModuleRepository interface {
	Create(ctx context.Context, module *models.Module) error
	FindAll(ctx context.Context) ([]models.Module, error)
	FindByID(ctx context.Context, id string) (*models.Module, error)
	FindByIndicator(ctx context.Context, indicator string) (*models.Module, error)
	FindSystemModules(ctx context.Context) ([]models.Module, error)
	FindSiblings(ctx context.Context, parent string) ([]models.Module, error)
	Update(ctx context.Context, module *models.Module) error
	HardDelete(ctx context.Context, id string) error
}

// UserRepository persists User rows.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, excludeRoleKey string) ([]models.User, error)
	Update(ctx context.Context, user *models.User) error
	Count(ctx context.Context) (int, error)
}

// DeviceRepository persists Device and RotationRecord rows.
type DeviceRepository interface {
	CountActiveByUser(ctx context.Context, userID string) (int, error)
	FindActiveByUserAndDevice(ctx context.Context, userID, deviceID string) (*models.Device, error)
	FindActiveByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	Insert(ctx context.Context, device *models.Device) error
	MarkRotated(ctx context.Context, id string) error
	AppendRotationRecord(ctx context.Context, record *models.RotationRecord) error
	FindExpiredActive(ctx context.Context, now time.Time) ([]models.Device, error)
	MarkExpired(ctx context.Context, id string) error
}

// Audit persistence is not exposed as a repository interface here: the
// audit package defines its own Store interface (internal/audit.Store)
// since its query/summarize surface goes beyond simple CRUD. BunAuditStore
// in this package implements it directly against models.AuditEvent.
