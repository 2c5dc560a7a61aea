package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/athendat/classical-server-app-sub000/internal/db/models"
)

// BunDeviceRepository is a DeviceRepository backed by bun.
type BunDeviceRepository struct {
	db *bun.DB
}

// NewBunDeviceRepository constructs a BunDeviceRepository.
func NewBunDeviceRepository(db *bun.DB) *BunDeviceRepository {
	return &BunDeviceRepository{db: db}
}

func (r *BunDeviceRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	count, err := r.db.NewSelect().Model((*models.Device)(nil)).
		Where("user_id = ?", userID).
		Where("status = ?", "active").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("repository: count active devices: %w", err)
	}
	return count, nil
}

func (r *BunDeviceRepository) FindActiveByUserAndDevice(ctx context.Context, userID, deviceID string) (*models.Device, error) {
	device := new(models.Device)
	err := r.db.NewSelect().Model(device).
		Where("user_id = ?", userID).
		Where("device_id = ?", deviceID).
		Where("status = ?", "active").
		Scan(ctx)
	if err != nil {
		if err == sqlNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: find active device: %w", err)
	}
	return device, nil
}

func (r *BunDeviceRepository) FindActiveByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	device := new(models.Device)
	err := r.db.NewSelect().Model(device).
		Where("device_id = ?", deviceID).
		Where("status = ?", "active").
		Scan(ctx)
	if err != nil {
		if err == sqlNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: find active device by id: %w", err)
	}
	return device, nil
}

func (r *BunDeviceRepository) Insert(ctx context.Context, device *models.Device) error {
	_, err := r.db.NewInsert().Model(device).Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: insert device: %w", err)
	}
	return nil
}

func (r *BunDeviceRepository) MarkRotated(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().Model((*models.Device)(nil)).
		Set("status = ?", "rotated").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: mark device rotated: %w", err)
	}
	return nil
}

func (r *BunDeviceRepository) AppendRotationRecord(ctx context.Context, record *models.RotationRecord) error {
	_, err := r.db.NewInsert().Model(record).Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: append rotation record: %w", err)
	}
	return nil
}

func (r *BunDeviceRepository) FindExpiredActive(ctx context.Context, now time.Time) ([]models.Device, error) {
	var devices []models.Device
	err := r.db.NewSelect().Model(&devices).
		Where("status = ?", "active").
		Where("expires_at <= ?", now).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: find expired devices: %w", err)
	}
	return devices, nil
}

func (r *BunDeviceRepository) MarkExpired(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().Model((*models.Device)(nil)).
		Set("status = ?", "expired").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: mark device expired: %w", err)
	}
	return nil
}
