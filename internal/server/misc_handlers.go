package server

import (
	"encoding/json"
	"net/http"

	"github.com/athendat/classical-server-app-sub000/internal/keyring"
)

// newJWKSHandler exposes the Key Ring's public keys at the conventional
// well-known path (spec §6), grounded on keyring.Ring.JWKSView's go-jose
// JSONWebKeySet marshaling.
func newJWKSHandler(ring *keyring.Ring) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ring.JWKSView())
	}
}

// newMetricsHandler reports a minimal operational snapshot: how many
// signing keys are currently tracked. Public per spec §6's allowlist.
func newMetricsHandler(opts RouterOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := map[string]any{}
		if opts.Keyring != nil {
			snapshot["signingKeys"] = len(opts.Keyring.ListKeys())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	}
}
