package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/athendat/classical-server-app-sub000/internal/apperr"
	"github.com/athendat/classical-server-app-sub000/internal/eventbus"
	"github.com/athendat/classical-server-app-sub000/internal/keyring"
	"github.com/athendat/classical-server-app-sub000/internal/replay"
	"github.com/athendat/classical-server-app-sub000/internal/secretstore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := secretstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	bus := eventbus.NewInProcess()
	ring, err := keyring.New(store, bus)
	require.NoError(t, err)
	return New(ring, replay.NewInMemory(), bus, "trustcore", "trustcore-clients", 10*time.Second)
}

func TestSignThenVerifySucceeds(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Sign(ctx, SignRequest{Sub: "user-1", Aud: "trustcore-clients", Scope: "cards.read", Lifetime: time.Hour})
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)

	claims, err := engine.Verify(ctx, result.Token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Sub)
	require.Equal(t, "cards.read", claims.Scope)
}

func TestVerifySameAccessTokenTwiceIsReplay(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Sign(ctx, SignRequest{Sub: "user-1", Aud: "trustcore-clients", Lifetime: time.Hour})
	require.NoError(t, err)

	_, err = engine.Verify(ctx, result.Token)
	require.NoError(t, err)

	_, err = engine.Verify(ctx, result.Token)
	require.Error(t, err)
	require.True(t, apperr.As(err, apperr.ReplayDetected))
}

func TestRefreshTokenReusableWithinValidity(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Sign(ctx, SignRequest{Sub: "user-1", Aud: "trustcore-clients", Lifetime: time.Hour, Refresh: true})
	require.NoError(t, err)

	_, err = engine.Verify(ctx, result.Token)
	require.NoError(t, err)
	_, err = engine.Verify(ctx, result.Token)
	require.NoError(t, err, "refresh tokens must verify repeatedly within validity")
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Sign(ctx, SignRequest{Sub: "user-1", Aud: "trustcore-clients", Lifetime: time.Hour})
	require.NoError(t, err)

	other := New(engine.ring, replay.NewInMemory(), nil, "different-issuer", "trustcore-clients", 10*time.Second)
	_, err = other.Verify(ctx, result.Token)
	require.Error(t, err)
	require.True(t, apperr.As(err, apperr.JWTInvalid))
}

func TestVerifyAcceptsInvalidatedButPresentKid(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Sign(ctx, SignRequest{Sub: "user-1", Aud: "trustcore-clients", Lifetime: time.Hour})
	require.NoError(t, err)

	require.NoError(t, engine.ring.Invalidate(result.Kid))
	// Invalidate rotates in a new active key but keeps the old metadata,
	// so a token signed under the old kid still verifies.
	_, err = engine.Verify(ctx, result.Token)
	require.NoError(t, err, "an invalidated but still-present kid remains verifiable")
}

func TestGetActiveKidMatchesSignedToken(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Sign(ctx, SignRequest{Sub: "user-1", Aud: "trustcore-clients", Lifetime: time.Hour})
	require.NoError(t, err)
	require.Equal(t, engine.GetActiveKid(), result.Kid)
}
