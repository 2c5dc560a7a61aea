package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/athendat/classical-server-app-sub000/internal/apperr"
	"github.com/athendat/classical-server-app-sub000/internal/devicekeys"
	"github.com/athendat/classical-server-app-sub000/internal/reqctx"
)

// deviceHandlers implements spec §6's /devices/exchange surface (§4.7).
type deviceHandlers struct {
	exchanger *devicekeys.Exchanger
}

func newDeviceHandlers(exchanger *devicekeys.Exchanger) *deviceHandlers {
	return &deviceHandlers{exchanger: exchanger}
}

type deviceExchangeRequest struct {
	DevicePublicKey string              `json:"devicePublicKey"`
	DeviceID        string              `json:"deviceId"`
	AppVersion      string              `json:"appVersion"`
	Platform        devicekeys.Platform `json:"platform"`
	DeviceName      string              `json:"deviceName"`
}

func (h *deviceHandlers) exchange(w http.ResponseWriter, r *http.Request) {
	actor := reqctx.GetActor(r.Context())
	if actor == nil {
		writeError(w, r, apperr.New(apperr.InvalidCredentials, "no authenticated actor"))
		return
	}

	var req deviceExchangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}

	resp, err := h.exchanger.Exchange(r.Context(), actor.ID, devicekeys.ExchangeRequest{
		DevicePublicKey: req.DevicePublicKey,
		DeviceID:        req.DeviceID,
		AppVersion:      req.AppVersion,
		Platform:        req.Platform,
		DeviceName:      req.DeviceName,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, resp)
}

func (h *deviceHandlers) rotate(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")

	resp, err := h.exchanger.RotateForDevice(r.Context(), deviceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, resp)
}
