package server

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/athendat/classical-server-app-sub000/internal/devicekeys"
	"github.com/athendat/classical-server-app-sub000/internal/reqctx"
	"github.com/athendat/classical-server-app-sub000/internal/secretstore"
)

func newTestDeviceHandlers(t *testing.T) *deviceHandlers {
	t.Helper()
	repo := newFakeDeviceRepo()
	store, err := secretstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	exchanger := devicekeys.New(repo, store, nil, 5, 90*24*time.Hour, "trustcore-device-channel-v1", 32)
	return newDeviceHandlers(exchanger)
}

func genDevicePublicKeyB64(t *testing.T) string {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(priv.PublicKey().Bytes())
}

func withActor(r *http.Request, id string) *http.Request {
	ctx := reqctx.WithValues(r.Context(), reqctx.Values{Actor: &reqctx.Actor{ID: id, Sub: id}})
	return r.WithContext(ctx)
}

func TestExchangeThenRotateForDevice(t *testing.T) {
	h := newTestDeviceHandlers(t)

	body, _ := json.Marshal(deviceExchangeRequest{
		DevicePublicKey: genDevicePublicKeyB64(t),
		DeviceID:        "dev-1",
		AppVersion:      "1.0.0",
		Platform:        devicekeys.PlatformAndroid,
	})
	req := withActor(httptest.NewRequest(http.MethodPost, "/devices/exchange", bytes.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()
	h.exchange(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var exchanged envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&exchanged))
	data, _ := json.Marshal(exchanged.Data)
	var first devicekeys.ExchangeResponse
	require.NoError(t, json.Unmarshal(data, &first))

	rotateReq := withURLParam(httptest.NewRequest(http.MethodPost, "/devices/dev-1/rotate", nil), "deviceId", "dev-1")
	rotateRec := httptest.NewRecorder()
	h.rotate(rotateRec, rotateReq)
	require.Equal(t, http.StatusOK, rotateRec.Code)

	var rotated envelope
	require.NoError(t, json.NewDecoder(rotateRec.Body).Decode(&rotated))
	rdata, _ := json.Marshal(rotated.Data)
	var second devicekeys.ExchangeResponse
	require.NoError(t, json.Unmarshal(rdata, &second))
	require.NotEqual(t, first.KeyHandle, second.KeyHandle)
}

func TestRotateForDeviceUnknownDeviceReturnsError(t *testing.T) {
	h := newTestDeviceHandlers(t)

	rotateReq := withURLParam(httptest.NewRequest(http.MethodPost, "/devices/missing/rotate", nil), "deviceId", "missing")
	rec := httptest.NewRecorder()
	h.rotate(rec, rotateReq)
	require.NotEqual(t, http.StatusOK, rec.Code)
}

type fakeDeviceRepo struct {
	devices map[string]*devicekeys.Device
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: map[string]*devicekeys.Device{}}
}

func (r *fakeDeviceRepo) CountActiveByUser(_ context.Context, userID string) (int, error) {
	count := 0
	for _, d := range r.devices {
		if d.UserID == userID && d.Status == devicekeys.StatusActive {
			count++
		}
	}
	return count, nil
}

func (r *fakeDeviceRepo) FindActiveByUserAndDevice(_ context.Context, userID, deviceID string) (*devicekeys.Device, error) {
	for _, d := range r.devices {
		if d.UserID == userID && d.DeviceID == deviceID && d.Status == devicekeys.StatusActive {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeDeviceRepo) FindActiveByDeviceID(_ context.Context, deviceID string) (*devicekeys.Device, error) {
	for _, d := range r.devices {
		if d.DeviceID == deviceID && d.Status == devicekeys.StatusActive {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeDeviceRepo) Insert(_ context.Context, device devicekeys.Device) error {
	cp := device
	r.devices[device.ID] = &cp
	return nil
}

func (r *fakeDeviceRepo) MarkRotated(_ context.Context, id string) error {
	if d, ok := r.devices[id]; ok {
		d.Status = devicekeys.StatusRotated
	}
	return nil
}

func (r *fakeDeviceRepo) AppendRotationRecord(_ context.Context, _ devicekeys.RotationRecord) error {
	return nil
}

func (r *fakeDeviceRepo) FindExpiredActive(_ context.Context, _ time.Time) ([]devicekeys.Device, error) {
	return nil, nil
}

func (r *fakeDeviceRepo) MarkExpired(_ context.Context, id string) error {
	if d, ok := r.devices[id]; ok {
		d.Status = devicekeys.StatusExpired
	}
	return nil
}
