// Package models defines the bun ORM row shapes backing the trust core's
// persistent entities (spec §3), adapted from the teacher's db/models/auth.go.
package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Role is the persisted form of the Role entity (C9).
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID             string    `bun:"id,pk"`
	Key            string    `bun:"key,unique,notnull"`
	Name           string    `bun:"name,notnull"`
	PermissionKeys []string  `bun:"permission_keys,array"`
	Status         string    `bun:"status,notnull"`
	IsSystem       bool      `bun:"is_system,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

// Permission is embedded within Module.Permissions.
type Permission struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Indicator          string `json:"indicator"`
	Enabled            bool   `json:"enabled"`
	RequiresSuperAdmin bool   `json:"requiresSuperAdmin"`
}

// Module is the persisted form of the Module entity (C9).
type Module struct {
	bun.BaseModel `bun:"table:modules,alias:m"`

	ID         string       `bun:"id,pk"`
	Indicator  string       `bun:"indicator,unique,notnull"`
	Name       string       `bun:"name,notnull"`
	Type       string       `bun:"type,notnull"`
	Parent     string       `bun:"parent"`
	Order      int          `bun:"order,notnull"`
	Actions    []string     `bun:"actions,array"`
	Permissions []Permission `bun:"permissions,type:jsonb"`
	IsSystem   bool         `bun:"is_system,notnull"`
	IsNavigable bool        `bun:"is_navigable,notnull"`
	Status     string       `bun:"status,notnull"`
	CreatedAt  time.Time    `bun:"created_at,notnull"`
	UpdatedAt  time.Time    `bun:"updated_at,notnull"`
}

// User is the persisted form of the User entity (C10).
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID                 string    `bun:"id,pk"`
	Email              string    `bun:"email,unique"`
	Phone              string    `bun:"phone"`
	IDNumber           string    `bun:"id_number"`
	Fullname           string    `bun:"fullname,notnull"`
	PasswordHash       string    `bun:"password_hash,notnull"`
	RoleKey            string    `bun:"role_key,notnull"`
	AdditionalRoleKeys []string  `bun:"additional_role_keys,array"`
	Status             string    `bun:"status,notnull"`
	PhoneConfirmed     bool      `bun:"phone_confirmed,notnull"`
	CreatedAt          time.Time `bun:"created_at,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,notnull"`
}

// Device is the persisted form of the Device entity (C7).
type Device struct {
	bun.BaseModel `bun:"table:devices,alias:d"`

	ID                 string    `bun:"id,pk"`
	DeviceID           string    `bun:"device_id,notnull"`
	UserID             string    `bun:"user_id,notnull"`
	KeyHandle          string    `bun:"key_handle,unique,notnull"`
	DevicePublicKey    string    `bun:"device_public_key,notnull"`
	ServerPublicKeyRef string    `bun:"server_public_key_ref,notnull"`
	SaltHex            string    `bun:"salt_hex,notnull"`
	Status             string    `bun:"status,notnull"`
	IssuedAt           time.Time `bun:"issued_at,notnull"`
	ExpiresAt          time.Time `bun:"expires_at,notnull"`
	Platform           string    `bun:"platform,notnull"`
	AppVersion         string    `bun:"app_version,notnull"`
}

// RotationRecord is the persisted form of the RotationRecord entity (C7).
type RotationRecord struct {
	bun.BaseModel `bun:"table:device_rotation_records,alias:rr"`

	ID           string    `bun:"id,pk"`
	DeviceID     string    `bun:"device_id,notnull"`
	OldKeyHandle string    `bun:"old_key_handle,notnull"`
	NewKeyHandle string    `bun:"new_key_handle,notnull"`
	RotatedAt    time.Time `bun:"rotated_at,notnull"`
}

// AuditEvent is the persisted form of the AuditEvent entity (C8).
type AuditEvent struct {
	bun.BaseModel `bun:"table:audit_events,alias:ae"`

	ID            string            `bun:"id,pk"`
	RequestID     string            `bun:"request_id,notnull"`
	At            time.Time         `bun:"at,notnull"`
	ActorKid      string            `bun:"actor_kid,notnull"`
	ActorSub      string            `bun:"actor_sub"`
	Action        string            `bun:"action,notnull"`
	Module        string            `bun:"module"`
	Result        string            `bun:"result,notnull"`
	Reason        string            `bun:"reason"`
	ResourceType  string            `bun:"resource_type,notnull"`
	ResourceRef   string            `bun:"resource_ref"`
	Method        string            `bun:"method"`
	Endpoint      string            `bun:"endpoint"`
	Query         map[string]any    `bun:"query,type:jsonb"`
	Headers       map[string]any    `bun:"headers,type:jsonb"`
	Payload       map[string]any    `bun:"payload,type:jsonb"`
	StatusCode    int               `bun:"status_code"`
	LatencyMs     int64             `bun:"latency_ms"`
	Response      map[string]any    `bun:"response,type:jsonb"`
	ChangesBefore map[string]any    `bun:"changes_before,type:jsonb"`
	ChangesAfter  map[string]any    `bun:"changes_after,type:jsonb"`
	ErrorCode     string            `bun:"error_code"`
	ErrorMessage  string            `bun:"error_message"`
	Severity      string            `bun:"severity,notnull"`
	Tags          []string          `bun:"tags,array"`
}

// RevokedJTI persists replay-set entries for deployments that want a
// durable record of consumed jti values alongside (or instead of) an
// in-memory/Redis-backed Store. Not required by spec §4.2's contract, but
// grounded on the teacher's RevokedJTI model for operators who want an
// audit trail of consumed tokens.
type RevokedJTI struct {
	bun.BaseModel `bun:"table:revoked_jtis,alias:rj"`

	Jti       string    `bun:"jti,pk"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}
