// Package keyring implements the Key Ring (C1): ownership of RSA signing
// keys and their public JWKS view, rotation, and persistence of private
// material to an external secret store.
package keyring

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"sync"
	"time"

	josejwk "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/athendat/classical-server-app-sub000/internal/eventbus"
	"github.com/athendat/classical-server-app-sub000/internal/secretstore"
)

const (
	metadataPath      = "jwks"
	privateKeyPathFmt = "jwks-private/%s"
	defaultKid        = "jwks-default"
	rsaKeyBits        = 2048
)

// SigningKey is the public-facing record of one RSA key in the ring (spec §3).
type SigningKey struct {
	Kid           string
	Alg           string
	PublicKeyPEM  string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	IsActive      bool
	publicKey     *rsa.PublicKey
}

// Ring owns the in-memory cache of key metadata and public material, and
// fetches private material from the secret store on demand per sign.
type Ring struct {
	store    secretstore.Store
	bus      eventbus.Bus
	rotation time.Duration
	logger   *log.Logger

	mu   sync.RWMutex
	keys map[string]*SigningKey
}

// Option configures a Ring at construction time.
type Option func(*Ring)

// WithRotationInterval overrides the default rotation cadence.
func WithRotationInterval(d time.Duration) Option {
	return func(r *Ring) { r.rotation = d }
}

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Ring) { r.logger = l }
}

// New constructs a Ring, loading existing metadata from store. Per spec
// §4.1, init failures to read/write the store are fatal — callers must not
// accept traffic until New returns successfully with at least one active
// key.
func New(store secretstore.Store, bus eventbus.Bus, opts ...Option) (*Ring, error) {
	r := &Ring{
		store:    store,
		bus:      bus,
		rotation: 24 * 30 * time.Hour,
		logger:   log.New(log.Writer(), "keyring: ", log.LstdFlags),
		keys:     make(map[string]*SigningKey),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.load(); err != nil {
		return nil, fmt.Errorf("keyring: init: %w", err)
	}

	if err := r.ensureActive(); err != nil {
		return nil, fmt.Errorf("keyring: ensure active key: %w", err)
	}

	return r, nil
}

func (r *Ring) load() error {
	data, err := r.store.ReadKV(metadataPath)
	if err != nil {
		if err == secretstore.ErrNotFound {
			return nil
		}
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for kid, raw := range data {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		key, err := decodeMetadataEntry(kid, entry)
		if err != nil {
			r.logger.Printf("skipping unparseable key metadata for kid=%s: %v", kid, err)
			continue
		}
		r.keys[kid] = key
	}
	return nil
}

func (r *Ring) ensureActive() error {
	r.mu.RLock()
	empty := len(r.keys) == 0
	var hasActive bool
	for _, k := range r.keys {
		if k.IsActive {
			hasActive = true
			break
		}
	}
	r.mu.RUnlock()

	if empty {
		return r.generateAndActivate(defaultKid)
	}
	if !hasActive {
		_, err := r.rotate()
		return err
	}
	return nil
}

// GetActiveKey returns the current active signing key, rotating
// synchronously first if it has passed its expiry (spec §4.1).
func (r *Ring) GetActiveKey() (*SigningKey, error) {
	r.mu.RLock()
	var active *SigningKey
	for _, k := range r.keys {
		if k.IsActive {
			active = k
			break
		}
	}
	r.mu.RUnlock()

	if active == nil {
		return nil, nil
	}

	if time.Now().After(active.ExpiresAt) {
		return r.rotate()
	}
	return active, nil
}

// GetKey returns the key with the given kid, or nil if unknown.
func (r *Ring) GetKey(kid string) *SigningKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keys[kid]
}

// ListKeys returns a snapshot of every key currently known to the ring.
func (r *Ring) ListKeys() []*SigningKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SigningKey, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, k)
	}
	return out
}

// Rotate generates a fresh signing key, deactivates the previous active key,
// and persists the new metadata.
func (r *Ring) Rotate() (*SigningKey, error) {
	return r.rotate()
}

func (r *Ring) rotate() (*SigningKey, error) {
	kid := uuid.NewString()
	if err := r.generateAndActivate(kid); err != nil {
		return nil, err
	}
	return r.GetKey(kid), nil
}

// generateAndActivate creates a new RSA key pair under kid, marks every
// other key inactive, persists metadata and the private key, and emits
// eventbus.TopicJWKSKeyRotated.
func (r *Ring) generateAndActivate(kid string) error {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("generate rsa key: %w", err)
	}

	pubPEM, err := encodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}
	privPEM := encodePrivateKeyPEM(priv)

	now := time.Now().UTC()
	key := &SigningKey{
		Kid:          kid,
		Alg:          "RS256",
		PublicKeyPEM: pubPEM,
		CreatedAt:    now,
		ExpiresAt:    now.Add(r.rotation),
		IsActive:     true,
		publicKey:    &priv.PublicKey,
	}

	if err := r.store.WriteKV(fmt.Sprintf(privateKeyPathFmt, kid), map[string]any{"pem": privPEM}); err != nil {
		return fmt.Errorf("persist private key: %w", err)
	}

	r.mu.Lock()
	for _, existing := range r.keys {
		existing.IsActive = false
	}
	r.keys[kid] = key
	snapshot := r.metadataSnapshotLocked()
	r.mu.Unlock()

	if err := r.store.WriteKV(metadataPath, snapshot); err != nil {
		return fmt.Errorf("persist metadata: %w", err)
	}

	if r.bus != nil {
		r.bus.Emit(eventbus.TopicJWKSKeyRotated, kid)
	}
	r.logger.Printf("rotated signing key, new active kid=%s", kid)
	return nil
}

// Invalidate marks kid inactive. If kid was the active key, a new key is
// rotated in synchronously so the ring is never left without an active key.
func (r *Ring) Invalidate(kid string) error {
	r.mu.Lock()
	key, ok := r.keys[kid]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("keyring: unknown kid %s", kid)
	}
	wasActive := key.IsActive
	key.IsActive = false
	snapshot := r.metadataSnapshotLocked()
	r.mu.Unlock()

	if err := r.store.WriteKV(metadataPath, snapshot); err != nil {
		return fmt.Errorf("persist metadata after invalidate: %w", err)
	}

	if r.bus != nil {
		r.bus.Emit(eventbus.TopicJWKSKeyInvalidated, kid)
	}

	if wasActive {
		_, err := r.rotate()
		return err
	}
	return nil
}

// GetActivePrivateKey fetches the PEM-encoded private material for the
// current active key from the secret store. Returns nil, "", nil when no
// active key exists; the caller (C3) surfaces that as NO_ACTIVE_KEY.
func (r *Ring) GetActivePrivateKey() (*rsa.PrivateKey, string, error) {
	active, err := r.GetActiveKey()
	if err != nil {
		return nil, "", err
	}
	if active == nil {
		return nil, "", nil
	}

	data, err := r.store.ReadKV(fmt.Sprintf(privateKeyPathFmt, active.Kid))
	if err != nil {
		return nil, "", fmt.Errorf("keyring: load private key for kid=%s: %w", active.Kid, err)
	}
	pemStr, _ := data["pem"].(string)
	priv, err := decodePrivateKeyPEM(pemStr)
	if err != nil {
		return nil, "", fmt.Errorf("keyring: decode private key for kid=%s: %w", active.Kid, err)
	}
	return priv, active.Kid, nil
}

// JWKSView renders the public JWKS view described in spec §6 using go-jose's
// JSONWebKeySet, which already produces the exact n/e base64url shape the
// spec calls for.
func (r *Ring) JWKSView() josejwk.JSONWebKeySet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := josejwk.JSONWebKeySet{}
	for _, k := range r.keys {
		if k.publicKey == nil {
			continue
		}
		set.Keys = append(set.Keys, josejwk.JSONWebKey{
			Key:       k.publicKey,
			KeyID:     k.Kid,
			Algorithm: k.Alg,
			Use:       "sig",
		})
	}
	return set
}

func (r *Ring) metadataSnapshotLocked() map[string]any {
	snapshot := make(map[string]any, len(r.keys))
	for kid, k := range r.keys {
		snapshot[kid] = map[string]any{
			"alg":          k.Alg,
			"publicKeyPem": k.PublicKeyPEM,
			"createdAt":    k.CreatedAt.Format(time.RFC3339Nano),
			"expiresAt":    k.ExpiresAt.Format(time.RFC3339Nano),
			"isActive":     k.IsActive,
		}
	}
	return snapshot
}

func decodeMetadataEntry(kid string, entry map[string]any) (*SigningKey, error) {
	pubPEM, _ := entry["publicKeyPem"].(string)
	alg, _ := entry["alg"].(string)
	isActive, _ := entry["isActive"].(bool)
	createdAt, _ := time.Parse(time.RFC3339Nano, asString(entry["createdAt"]))
	expiresAt, _ := time.Parse(time.RFC3339Nano, asString(entry["expiresAt"]))

	pub, err := decodePublicKeyPEM(pubPEM)
	if err != nil {
		return nil, err
	}

	return &SigningKey{
		Kid:          kid,
		Alg:          alg,
		PublicKeyPEM: pubPEM,
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
		IsActive:     isActive,
		publicKey:    pub,
	}, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func encodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func decodePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("keyring: invalid public key PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keyring: public key is not RSA")
	}
	return rsaKey, nil
}

func encodePrivateKeyPEM(priv *rsa.PrivateKey) string {
	der := x509.MarshalPKCS1PrivateKey(priv)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block))
}

func decodePrivateKeyPEM(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("keyring: invalid private key PEM")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}
