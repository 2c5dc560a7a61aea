package devicekeys

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/athendat/classical-server-app-sub000/internal/secretstore"
)

type fakeRepo struct {
	mu      sync.Mutex
	devices map[string]*Device
	records []RotationRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{devices: make(map[string]*Device)}
}

func (r *fakeRepo) CountActiveByUser(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, d := range r.devices {
		if d.UserID == userID && d.Status == StatusActive {
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) FindActiveByUserAndDevice(_ context.Context, userID, deviceID string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.UserID == userID && d.DeviceID == deviceID && d.Status == StatusActive {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) FindActiveByDeviceID(_ context.Context, deviceID string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.DeviceID == deviceID && d.Status == StatusActive {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) Insert(_ context.Context, device Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := device
	r.devices[device.ID] = &cp
	return nil
}

func (r *fakeRepo) MarkRotated(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.Status = StatusRotated
	}
	return nil
}

func (r *fakeRepo) AppendRotationRecord(_ context.Context, record RotationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *fakeRepo) FindExpiredActive(_ context.Context, now time.Time) ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Device
	for _, d := range r.devices {
		if d.Status == StatusActive && d.ExpiresAt.Before(now) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkExpired(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.Status = StatusExpired
	}
	return nil
}

func genDevicePublicKeyB64(t *testing.T) string {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(priv.PublicKey().Bytes())
}

func newTestExchanger(t *testing.T, maxDevices int) (*Exchanger, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	store, err := secretstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return New(repo, store, nil, maxDevices, 90*24*time.Hour, "trustcore-device-channel-v1", 32), repo
}

func TestExchangeSucceedsForFirstDevice(t *testing.T) {
	exchanger, _ := newTestExchanger(t, 5)
	pub := genDevicePublicKeyB64(t)

	resp, err := exchanger.Exchange(context.Background(), "user-1", ExchangeRequest{
		DevicePublicKey: pub,
		DeviceID:        "BP2A.250605.031.A3",
		AppVersion:      "1.0.0",
		Platform:        PlatformAndroid,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.KeyHandle)
	require.WithinDuration(t, resp.IssuedAt.Add(90*24*time.Hour), resp.ExpiresAt, time.Second)
}

func TestExchangeRejectsBadBase64Length(t *testing.T) {
	exchanger, _ := newTestExchanger(t, 5)

	_, err := exchanger.Exchange(context.Background(), "user-1", ExchangeRequest{
		DevicePublicKey: "tooshort",
		DeviceID:        "dev-1",
		AppVersion:      "1.0.0",
		Platform:        PlatformIOS,
	})
	require.Error(t, err)
}

func TestExchangeRejectsWrongPrefixByte(t *testing.T) {
	exchanger, _ := newTestExchanger(t, 5)

	raw := make([]byte, devicePublicKeyRawLen)
	raw[0] = 0x02 // compressed-point prefix, not the required 0x04
	encoded := base64.StdEncoding.EncodeToString(raw)
	require.Len(t, encoded, devicePublicKeyBase64Len)

	_, err := exchanger.Exchange(context.Background(), "user-1", ExchangeRequest{
		DevicePublicKey: encoded,
		DeviceID:        "dev-1",
		AppVersion:      "1.0.0",
		Platform:        PlatformIOS,
	})
	require.Error(t, err)
}

func TestExchangeEnforcesDeviceCap(t *testing.T) {
	exchanger, _ := newTestExchanger(t, 1)
	ctx := context.Background()

	_, err := exchanger.Exchange(ctx, "user-1", ExchangeRequest{
		DevicePublicKey: genDevicePublicKeyB64(t),
		DeviceID:        "dev-1",
		AppVersion:      "1.0.0",
		Platform:        PlatformAndroid,
	})
	require.NoError(t, err)

	_, err = exchanger.Exchange(ctx, "user-1", ExchangeRequest{
		DevicePublicKey: genDevicePublicKeyB64(t),
		DeviceID:        "dev-2",
		AppVersion:      "1.0.0",
		Platform:        PlatformAndroid,
	})
	require.Error(t, err)
}

func TestExchangeRepeatForSameDeviceRotates(t *testing.T) {
	exchanger, repo := newTestExchanger(t, 5)
	ctx := context.Background()

	first, err := exchanger.Exchange(ctx, "user-1", ExchangeRequest{
		DevicePublicKey: genDevicePublicKeyB64(t),
		DeviceID:        "dev-1",
		AppVersion:      "1.0.0",
		Platform:        PlatformAndroid,
	})
	require.NoError(t, err)

	second, err := exchanger.Exchange(ctx, "user-1", ExchangeRequest{
		DevicePublicKey: genDevicePublicKeyB64(t),
		DeviceID:        "dev-1",
		AppVersion:      "1.0.1",
		Platform:        PlatformAndroid,
	})
	require.NoError(t, err)
	require.NotEqual(t, first.KeyHandle, second.KeyHandle)

	require.Equal(t, StatusRotated, repo.devices[first.KeyHandle].Status)
	require.Len(t, repo.records, 1)
	require.Equal(t, first.KeyHandle, repo.records[0].OldKeyHandle)
	require.Equal(t, second.KeyHandle, repo.records[0].NewKeyHandle)
}

func TestRotateForDeviceReusesRegisteredPublicKey(t *testing.T) {
	exchanger, repo := newTestExchanger(t, 5)
	ctx := context.Background()

	first, err := exchanger.Exchange(ctx, "user-1", ExchangeRequest{
		DevicePublicKey: genDevicePublicKeyB64(t),
		DeviceID:        "dev-1",
		AppVersion:      "1.0.0",
		Platform:        PlatformAndroid,
	})
	require.NoError(t, err)

	rotated, err := exchanger.RotateForDevice(ctx, "dev-1")
	require.NoError(t, err)
	require.NotEqual(t, first.KeyHandle, rotated.KeyHandle)
	require.Equal(t, StatusRotated, repo.devices[first.KeyHandle].Status)
}

func TestRotateForDeviceRejectsUnknownDevice(t *testing.T) {
	exchanger, _ := newTestExchanger(t, 5)

	_, err := exchanger.RotateForDevice(context.Background(), "missing-device")
	require.Error(t, err)
}

func TestECDHDeriveSymmetric(t *testing.T) {
	curve := ecdh.P256()
	devicePriv, err := curve.GenerateKey(rand.Reader)
	require.NoError(t, err)
	serverPriv, err := curve.GenerateKey(rand.Reader)
	require.NoError(t, err)

	fromServer, err := serverPriv.ECDH(devicePriv.PublicKey())
	require.NoError(t, err)
	fromDevice, err := devicePriv.ECDH(serverPriv.PublicKey())
	require.NoError(t, err)

	require.Equal(t, fromServer, fromDevice)
}

func TestDeriveMasterKeyDeterministicAndSensitive(t *testing.T) {
	secret := []byte("shared-secret")
	salt := []byte("salt-value-salt-value-salt-value")
	info := []byte("info")

	a, err := deriveMasterKey(secret, salt, info, 32)
	require.NoError(t, err)
	b, err := deriveMasterKey(secret, salt, info, 32)
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := deriveMasterKey([]byte("other-secret"), salt, info, 32)
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}
