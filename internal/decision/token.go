package decision

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ashita-ai/kessai/internal/identity"
	"github.com/ashita-ai/kessai/internal/model"
)

const (
	// MaxTokenTTL is the hard ceiling on capability token lifetime.
	MaxTokenTTL = time.Hour
	// DefaultTokenTTL applies when no TTL is configured.
	DefaultTokenTTL = 15 * time.Minute

	tokenIssuer = "kessai"
)

// capabilityClaims is the JWT payload of a capability token. The scope is
// frozen to the request the token was minted for.
type capabilityClaims struct {
	jwt.RegisteredClaims
	Scope model.TokenScope `json:"scope"`
}

// TokenMinter mints and verifies EdDSA capability tokens with the gateway's
// signing key.
type TokenMinter struct {
	signer *identity.Signer
	ttl    time.Duration
}

// NewTokenMinter creates a minter. ttl <= 0 selects DefaultTokenTTL; a ttl
// beyond MaxTokenTTL is rejected.
func NewTokenMinter(signer *identity.Signer, ttl time.Duration) (*TokenMinter, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if ttl > MaxTokenTTL {
		return nil, model.NewError(model.KindConfiguration,
			"decision: token ttl %s exceeds maximum %s", ttl, MaxTokenTTL)
	}
	return &TokenMinter{signer: signer, ttl: ttl}, nil
}

// Mint issues a capability token scoped to the request.
func (m *TokenMinter) Mint(req model.DecisionRequest, now time.Time) (model.CapabilityToken, error) {
	now = now.UTC()
	scope := model.TokenScope{
		Actor:       req.Actor,
		Action:      req.Action,
		Tool:        req.Tool,
		DataClasses: req.DataClasses,
	}
	tokenID := "cap_" + uuid.NewString()
	expiry := now.Add(m.ttl)

	claims := capabilityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    tokenIssuer,
			Subject:   req.Actor,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
		Scope: scope,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(m.signer.PrivateKey())
	if err != nil {
		return model.CapabilityToken{}, fmt.Errorf("decision: sign capability token: %w", err)
	}
	return model.CapabilityToken{
		TokenID:   tokenID,
		Scope:     scope,
		GrantedAt: now,
		Expiry:    expiry,
		Token:     signed,
	}, nil
}

// Verify parses tokenString, checks the EdDSA signature and expiry, and
// returns the embedded scope.
func (m *TokenMinter) Verify(tokenString string) (model.CapabilityToken, error) {
	var claims capabilityClaims
	tok, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.signer.PublicKey(), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return model.CapabilityToken{}, model.WrapError(model.KindAuthorization, err, "decision: verify capability token")
	}
	if !tok.Valid {
		return model.CapabilityToken{}, model.NewError(model.KindAuthorization, "decision: capability token invalid")
	}
	return model.CapabilityToken{
		TokenID:   claims.ID,
		Scope:     claims.Scope,
		GrantedAt: claims.IssuedAt.Time,
		Expiry:    claims.ExpiresAt.Time,
		Token:     tokenString,
	}, nil
}
