// Package devicekeys implements the Device Key Exchange (C7): ECDH P-256
// key exchange with registered mobile devices, HKDF-SHA256 derivation,
// device-key lifecycle, rotation history, and a per-user device cap.
package devicekeys

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"regexp"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/athendat/classical-server-app-sub000/internal/apperr"
	"github.com/athendat/classical-server-app-sub000/internal/eventbus"
	"github.com/athendat/classical-server-app-sub000/internal/secretstore"
)

var appVersionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

const (
	devicePublicKeyBase64Len = 88
	devicePublicKeyRawLen    = 65
	saltLen                  = 32
	keyHandleRawLen          = 32
)

// Platform is the device OS family.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// Status is a Device's lifecycle state (spec §3).
type Status string

const (
	StatusActive  Status = "active"
	StatusRotated Status = "rotated"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Device is the Device entity from spec §3.
type Device struct {
	ID                 string
	DeviceID           string
	UserID             string
	KeyHandle          string
	DevicePublicKey    string
	ServerPublicKeyRef string
	SaltHex            string
	Status             Status
	IssuedAt           time.Time
	ExpiresAt          time.Time
	Platform           Platform
	AppVersion         string
}

// RotationRecord is the append-only rotation history entry from spec §3.
type RotationRecord struct {
	DeviceID     string
	OldKeyHandle string
	NewKeyHandle string
	RotatedAt    time.Time
}

// Repository is the persistence contract devicekeys depends on.
type Repository interface {
	CountActiveByUser(ctx context.Context, userID string) (int, error)
	FindActiveByUserAndDevice(ctx context.Context, userID, deviceID string) (*Device, error)
	FindActiveByDeviceID(ctx context.Context, deviceID string) (*Device, error)
	Insert(ctx context.Context, device Device) error
	MarkRotated(ctx context.Context, id string) error
	AppendRotationRecord(ctx context.Context, record RotationRecord) error
	FindExpiredActive(ctx context.Context, now time.Time) ([]Device, error)
	MarkExpired(ctx context.Context, id string) error
}

// ExchangeRequest is the spec §4.7 request shape.
type ExchangeRequest struct {
	DevicePublicKey string
	DeviceID        string
	AppVersion      string
	Platform        Platform
	DeviceName      string
}

// ExchangeResponse is the spec §4.7 response shape.
type ExchangeResponse struct {
	ServerPublicKey string
	KeyHandle       string
	Salt            string
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// Exchanger is the Device Key Exchange (C7).
type Exchanger struct {
	repo             Repository
	secrets          secretstore.Store
	bus              eventbus.Bus
	logger           *log.Logger
	maxDevicesPerUser int
	keyValidity      time.Duration
	hkdfInfo         string
	hkdfOutputLen    int
}

// New constructs an Exchanger.
func New(repo Repository, secrets secretstore.Store, bus eventbus.Bus, maxDevicesPerUser int, keyValidity time.Duration, hkdfInfo string, hkdfOutputLen int) *Exchanger {
	return &Exchanger{
		repo:              repo,
		secrets:           secrets,
		bus:               bus,
		logger:            log.New(log.Writer(), "devicekeys: ", log.LstdFlags),
		maxDevicesPerUser: maxDevicesPerUser,
		keyValidity:       keyValidity,
		hkdfInfo:          hkdfInfo,
		hkdfOutputLen:     hkdfOutputLen,
	}
}

// Exchange implements spec §4.7's algorithm.
func (e *Exchanger) Exchange(ctx context.Context, userID string, req ExchangeRequest) (*ExchangeResponse, error) {
	if err := validateExchangeRequest(req); err != nil {
		return nil, err
	}

	devicePub, err := decodeDevicePublicKey(req.DevicePublicKey)
	if err != nil {
		return nil, err
	}

	activeCount, err := e.repo.CountActiveByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.AuthzCheckFailed, "count active devices", err)
	}
	if activeCount >= e.maxDevicesPerUser {
		return nil, apperr.New(apperr.DeviceLimitReached, "device cap reached for user")
	}

	curve := ecdh.P256()
	serverPriv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidDeviceKey, "generate server key pair", err)
	}

	devicePubKey, err := curve.NewPublicKey(devicePub)
	if err != nil {
		return nil, apperr.New(apperr.InvalidDeviceKey, "device public key is not a valid P-256 point")
	}

	sharedSecret, err := serverPriv.ECDH(devicePubKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidDeviceKey, "ecdh derive", err)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, apperr.Wrap(apperr.InvalidDeviceKey, "generate salt", err)
	}

	keyHandleRaw := make([]byte, keyHandleRawLen)
	if _, err := io.ReadFull(rand.Reader, keyHandleRaw); err != nil {
		return nil, apperr.Wrap(apperr.InvalidDeviceKey, "generate key handle", err)
	}
	keyHandle := base64.RawURLEncoding.EncodeToString(keyHandleRaw)

	masterKey, err := deriveMasterKey(sharedSecret, salt, []byte(e.hkdfInfo), e.hkdfOutputLen)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidDeviceKey, "hkdf derive", err)
	}
	_ = masterKey // derived material is stored alongside the server key below

	serverPrivBytes := serverPriv.Bytes()
	if err := e.secrets.WriteKV(fmt.Sprintf("device/%s", keyHandle), map[string]any{
		"serverPrivateKey": base64.StdEncoding.EncodeToString(serverPrivBytes),
		"masterKey":        base64.StdEncoding.EncodeToString(masterKey),
	}); err != nil {
		return nil, apperr.Wrap(apperr.InvalidDeviceKey, "persist device secret", err)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(e.keyValidity)
	serverPubBytes := serverPriv.PublicKey().Bytes()
	serverPubB64 := base64.StdEncoding.EncodeToString(serverPubBytes)

	newDevice := Device{
		ID:                 keyHandle,
		DeviceID:           req.DeviceID,
		UserID:             userID,
		KeyHandle:          keyHandle,
		DevicePublicKey:    req.DevicePublicKey,
		ServerPublicKeyRef: serverPubB64,
		SaltHex:            fmt.Sprintf("%x", salt),
		Status:             StatusActive,
		IssuedAt:           now,
		ExpiresAt:          expiresAt,
		Platform:           req.Platform,
		AppVersion:         req.AppVersion,
	}

	// Step 9: rotate any prior record for (userId, deviceId), or register fresh.
	prior, err := e.repo.FindActiveByUserAndDevice(ctx, userID, req.DeviceID)
	if err != nil {
		_ = e.secrets.DeleteKV(fmt.Sprintf("device/%s", keyHandle))
		return nil, apperr.Wrap(apperr.AuthzCheckFailed, "find prior device", err)
	}

	if err := e.repo.Insert(ctx, newDevice); err != nil {
		// Compensating delete: never leak partial state in the secret store.
		_ = e.secrets.DeleteKV(fmt.Sprintf("device/%s", keyHandle))
		return nil, apperr.Wrap(apperr.InvalidDeviceKey, "persist device record", err)
	}

	if prior != nil {
		if err := e.repo.MarkRotated(ctx, prior.ID); err != nil {
			e.logger.Printf("WARN failed to mark prior device %s rotated: %v", prior.ID, err)
		}
		record := RotationRecord{DeviceID: req.DeviceID, OldKeyHandle: prior.KeyHandle, NewKeyHandle: keyHandle, RotatedAt: now}
		if err := e.repo.AppendRotationRecord(ctx, record); err != nil {
			e.logger.Printf("WARN failed to append rotation record for device %s: %v", req.DeviceID, err)
		}
		if e.bus != nil {
			e.bus.Emit(eventbus.TopicDeviceKeyRotated, record)
		}
	} else if e.bus != nil {
		e.bus.Emit(eventbus.TopicDeviceRegistered, newDevice)
	}

	return &ExchangeResponse{
		ServerPublicKey: serverPubB64,
		KeyHandle:       keyHandle,
		Salt:            base64.StdEncoding.EncodeToString(salt),
		IssuedAt:        now,
		ExpiresAt:       expiresAt,
	}, nil
}

// RotateForDevice implements the standalone rotateForDevice(deviceId)
// operation from spec §4.7: reissues a fresh server key pair for a device's
// current active registration without requiring the caller to resubmit a
// device public key. It cannot re-derive ECDH with a new device key (there
// is none to re-derive from), so it replays Exchange with the
// already-registered device public key on file, which takes the same
// rotate-prior-record path Exchange already uses for a repeat device.
func (e *Exchanger) RotateForDevice(ctx context.Context, deviceID string) (*ExchangeResponse, error) {
	prior, err := e.repo.FindActiveByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, apperr.Wrap(apperr.AuthzCheckFailed, "find active device", err)
	}
	if prior == nil {
		return nil, apperr.New(apperr.InvalidDeviceKey, "no active registration for device")
	}

	return e.Exchange(ctx, prior.UserID, ExchangeRequest{
		DevicePublicKey: prior.DevicePublicKey,
		DeviceID:        prior.DeviceID,
		AppVersion:      prior.AppVersion,
		Platform:        prior.Platform,
	})
}

// SweepExpired transitions active-but-expired devices to StatusExpired and
// removes their secret-store material, per spec §4.7's expiry sweep.
func (e *Exchanger) SweepExpired(ctx context.Context) (int, error) {
	expired, err := e.repo.FindExpiredActive(ctx, time.Now().UTC())
	if err != nil {
		return 0, apperr.Wrap(apperr.AuthzCheckFailed, "find expired devices", err)
	}

	count := 0
	for _, d := range expired {
		if err := e.repo.MarkExpired(ctx, d.ID); err != nil {
			e.logger.Printf("WARN failed to mark device %s expired: %v", d.ID, err)
			continue
		}
		if err := e.secrets.DeleteKV(fmt.Sprintf("device/%s", d.KeyHandle)); err != nil {
			e.logger.Printf("WARN failed to remove secret for expired device %s: %v", d.ID, err)
		}
		if e.bus != nil {
			e.bus.Emit(eventbus.TopicDeviceExpired, d)
		}
		count++
	}
	return count, nil
}

func validateExchangeRequest(req ExchangeRequest) error {
	if req.DeviceID == "" {
		return apperr.New(apperr.InvalidDeviceKey, "deviceId is required")
	}
	if !appVersionPattern.MatchString(req.AppVersion) {
		return apperr.New(apperr.InvalidDeviceKey, "appVersion must match semver x.y.z")
	}
	if req.Platform != PlatformAndroid && req.Platform != PlatformIOS {
		return apperr.New(apperr.InvalidDeviceKey, "platform must be android or ios")
	}
	return nil
}

// decodeDevicePublicKey validates and decodes the Base64 uncompressed P-256
// device public key per spec §4.7 step 2.
func decodeDevicePublicKey(encoded string) ([]byte, error) {
	if len(encoded) != devicePublicKeyBase64Len {
		return nil, apperr.New(apperr.InvalidDeviceKey, "devicePublicKey must be 88 base64 characters")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidDeviceKey, "devicePublicKey is not valid base64", err)
	}
	if len(raw) != devicePublicKeyRawLen {
		return nil, apperr.New(apperr.InvalidDeviceKey, "devicePublicKey must decode to 65 bytes")
	}
	if raw[0] != 0x04 {
		return nil, apperr.New(apperr.InvalidDeviceKey, "devicePublicKey must be an uncompressed point (0x04 prefix)")
	}
	return raw, nil
}

// deriveMasterKey implements HKDF-SHA256 (RFC 5869) per spec §4.7 step 7.
func deriveMasterKey(secret, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
