// Package tokens implements the Token Engine (C3): signs and verifies
// RS256 JWTs, enforcing issuer/audience/exp/nbf/kid/jti rules, integrating
// the Key Ring (C1) and the Anti-Replay Set (C2).
package tokens

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/athendat/classical-server-app-sub000/internal/apperr"
	"github.com/athendat/classical-server-app-sub000/internal/eventbus"
	"github.com/athendat/classical-server-app-sub000/internal/keyring"
	"github.com/athendat/classical-server-app-sub000/internal/replay"
)

// Claims is the JwtClaims entity from spec §3.
type Claims struct {
	Sub   string
	Iss   string
	Aud   string
	Scope string
	Jti   string
	Iat   time.Time
	Exp   time.Time
	Type  string // "" or "refresh"
}

// SignRequest carries the inputs to Sign; Iss is filled from config, Jti/Iat
// are generated, Exp is derived from lifetime.
type SignRequest struct {
	Sub      string
	Aud      string
	Scope    string
	Lifetime time.Duration
	Refresh  bool
}

// SignResult is the outcome of a successful Sign.
type SignResult struct {
	Token     string
	Kid       string
	ExpiresAt time.Time
}

// Engine is the Token Engine (C3).
type Engine struct {
	ring      *keyring.Ring
	replay    replay.Store
	bus       eventbus.Bus
	issuer    string
	audience  string
	clockSkew time.Duration
}

// New constructs an Engine bound to the given Key Ring and Anti-Replay Set.
func New(ring *keyring.Ring, replayStore replay.Store, bus eventbus.Bus, issuer, audience string, clockSkew time.Duration) *Engine {
	return &Engine{ring: ring, replay: replayStore, bus: bus, issuer: issuer, audience: audience, clockSkew: clockSkew}
}

// Sign implements spec §4.3's sign algorithm.
func (e *Engine) Sign(ctx context.Context, req SignRequest) (*SignResult, error) {
	active, err := e.ring.GetActiveKey()
	if err != nil {
		return nil, apperr.Wrap(apperr.JWTSignFailed, "load active key", err)
	}
	if active == nil {
		return nil, apperr.New(apperr.NoActiveKey, "no active signing key")
	}

	priv, kid, err := e.ring.GetActivePrivateKey()
	if err != nil {
		return nil, apperr.Wrap(apperr.NoActiveKey, "load active private key", err)
	}
	if priv == nil {
		return nil, apperr.New(apperr.NoActiveKey, "no active private key")
	}

	now := time.Now().UTC()
	exp := now.Add(req.Lifetime)
	jti := uuid.NewString()

	aud := req.Aud
	if aud == "" {
		aud = e.audience
	}

	claims := jwt.MapClaims{
		"sub":   req.Sub,
		"iss":   e.issuer,
		"aud":   aud,
		"scope": req.Scope,
		"jti":   jti,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}
	if req.Refresh {
		claims["type"] = "refresh"
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(priv)
	if err != nil {
		return nil, apperr.Wrap(apperr.JWTSignFailed, "sign token", err)
	}

	// Registration failure aborts the sign: do not emit a token that
	// cannot be tracked for replay (spec §4.3 step 4).
	if !req.Refresh {
		registered, err := e.replay.Register(ctx, jti, exp.UnixMilli())
		if err != nil {
			return nil, apperr.Wrap(apperr.JTIRegistrationFailed, "register jti", err)
		}
		if !registered {
			return nil, apperr.New(apperr.JTIRegistrationFailed, "jti collision on sign")
		}
	}

	if e.bus != nil {
		e.bus.Emit(eventbus.TopicJWTGenerated, jti)
	}

	return &SignResult{Token: signed, Kid: kid, ExpiresAt: exp}, nil
}

// Verify implements spec §4.3's verify algorithm.
func (e *Engine) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := e.verifyInternal(ctx, tokenString)
	if err != nil {
		if e.bus != nil {
			e.bus.Emit(eventbus.TopicJWTValidationFailed, tokenString)
		}
		return nil, err
	}
	if e.bus != nil {
		e.bus.Emit(eventbus.TopicJWTValidated, claims.Jti)
	}
	return claims, nil
}

func (e *Engine) verifyInternal(ctx context.Context, tokenString string) (*Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("missing kid")
		}
		key := e.ring.GetKey(kid)
		if key == nil {
			return nil, fmt.Errorf("unknown kid %s", kid)
		}
		return rsaPublicKeyFromPEM(key.PublicKeyPEM)
	}, jwt.WithLeeway(e.clockSkew), jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))

	if err != nil {
		return nil, apperr.Wrap(apperr.JWTInvalid, "parse/verify token", err)
	}
	if !parsed.Valid {
		return nil, apperr.New(apperr.JWTInvalid, "token not valid")
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperr.New(apperr.JWTInvalid, "unexpected claims shape")
	}

	claims, err := claimsFromMap(mapClaims)
	if err != nil {
		return nil, apperr.Wrap(apperr.JWTInvalid, "decode claims", err)
	}

	if claims.Iss != e.issuer {
		return nil, apperr.New(apperr.JWTInvalid, "issuer mismatch")
	}
	if e.audience != "" && claims.Aud != e.audience {
		return nil, apperr.New(apperr.JWTInvalid, "audience mismatch")
	}
	if claims.Jti == "" {
		return nil, apperr.New(apperr.JWTInvalid, "missing jti")
	}

	// Sign already registered this jti (registered, not yet consumed); the
	// first IsConsumed call here marks it consumed and lets this Verify
	// through, matching the spec's "reject if consumed; else mark
	// consumed" step without double-counting the sign-time registration
	// as a use.
	if claims.Type != "refresh" {
		consumed, err := e.replay.IsConsumed(ctx, claims.Jti)
		if err != nil {
			return nil, apperr.Wrap(apperr.AuthzCheckFailed, "check replay", err)
		}
		if consumed {
			if e.bus != nil {
				e.bus.Emit(eventbus.TopicReplayDetected, claims.Jti)
			}
			return nil, apperr.New(apperr.ReplayDetected, "token already consumed")
		}
	}

	return claims, nil
}

// Decode implements spec §4.3's decode: header + payload + kid, without
// signature verification (used for diagnostics, never for trust decisions).
func (e *Engine) Decode(tokenString string) (header map[string]any, payload map[string]any, kid string, err error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, nil, "", apperr.Wrap(apperr.JWTDecodeFailed, "parse unverified", err)
	}
	claims, _ := token.Claims.(jwt.MapClaims)
	kid, _ = token.Header["kid"].(string)
	return token.Header, claims, kid, nil
}

// GetActiveKid returns the active signing key's kid, or "" if none.
func (e *Engine) GetActiveKid() string {
	active, err := e.ring.GetActiveKey()
	if err != nil || active == nil {
		return ""
	}
	return active.Kid
}

func claimsFromMap(m jwt.MapClaims) (*Claims, error) {
	sub, _ := m["sub"].(string)
	iss, _ := m["iss"].(string)
	aud, _ := m["aud"].(string)
	scope, _ := m["scope"].(string)
	jti, _ := m["jti"].(string)
	typ, _ := m["type"].(string)

	iat, err := floatClaim(m["iat"])
	if err != nil {
		return nil, fmt.Errorf("iat: %w", err)
	}
	exp, err := floatClaim(m["exp"])
	if err != nil {
		return nil, fmt.Errorf("exp: %w", err)
	}

	return &Claims{
		Sub:   sub,
		Iss:   iss,
		Aud:   aud,
		Scope: strings.TrimSpace(scope),
		Jti:   jti,
		Iat:   time.Unix(int64(iat), 0).UTC(),
		Exp:   time.Unix(int64(exp), 0).UTC(),
		Type:  typ,
	}, nil
}

func floatClaim(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not numeric")
	}
}

func rsaPublicKeyFromPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("invalid public key PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaKey, nil
}
