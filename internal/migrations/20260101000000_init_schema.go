package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/athendat/classical-server-app-sub000/internal/db/models"
)

func init() {
	Migrations.MustRegister(up20260101000000, down20260101000000)
}

// up20260101000000 creates the roles, modules, users, devices,
// device_rotation_records, audit_events and revoked_jtis tables.
func up20260101000000(ctx context.Context, db *bun.DB) error {
	tables := []any{
		(*models.Role)(nil),
		(*models.Module)(nil),
		(*models.User)(nil),
		(*models.Device)(nil),
		(*models.RotationRecord)(nil),
		(*models.AuditEvent)(nil),
		(*models.RevokedJTI)(nil),
	}
	for _, table := range tables {
		if _, err := db.NewCreateTable().Model(table).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("migrations: create table for %T: %w", table, err)
		}
	}

	if _, err := db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_audit_events_request_id ON audit_events(request_id)"); err != nil {
		return fmt.Errorf("migrations: create audit request_id index: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_audit_events_at ON audit_events(at)"); err != nil {
		return fmt.Errorf("migrations: create audit at index: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_revoked_jtis_expires_at ON revoked_jtis(expires_at)"); err != nil {
		return fmt.Errorf("migrations: create revoked_jtis expires_at index: %w", err)
	}

	return nil
}

func down20260101000000(ctx context.Context, db *bun.DB) error {
	tables := []any{
		(*models.RevokedJTI)(nil),
		(*models.AuditEvent)(nil),
		(*models.RotationRecord)(nil),
		(*models.Device)(nil),
		(*models.User)(nil),
		(*models.Module)(nil),
		(*models.Role)(nil),
	}
	for _, table := range tables {
		if _, err := db.NewDropTable().Model(table).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("migrations: drop table for %T: %w", table, err)
		}
	}
	return nil
}
