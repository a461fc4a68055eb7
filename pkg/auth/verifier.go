package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// maxTokenLifetime is the cap on exp-iat, regardless of what the token claims.
	maxTokenLifetime = 15 * time.Minute

	// clockSkew is the tolerance applied to expiry and issuance checks.
	clockSkew = 2 * time.Minute

	// tenantClaim is the claim carrying the tenant identifier.
	tenantClaim = "tenant"

	bearerPrefix = "Bearer "
)

var (
	hmacMethods = []string{"HS256", "HS384", "HS512"}
	rsaMethods  = []string{"RS256", "RS384", "RS512"}
)

// Config configures the token verifier.
type Config struct {
	// Audience is the expected audience claim, a fixed service identifier.
	Audience string

	// HMACSecret verifies tokens signed with a shared secret.
	HMACSecret []byte

	// RSAPublicKey verifies tokens signed with the matching private key.
	RSAPublicKey *rsa.PublicKey

	// JWKSURL fetches verification keys from an endpoint instead.
	JWKSURL string

	// DevBypass skips verification entirely and resolves a fixed development
	// identity with full scope. Never enable outside development.
	DevBypass bool
}

// Verifier validates bearer credentials and produces an AuthContext.
type Verifier struct {
	cfg  Config
	keys *KeyFetcher
	now  func() time.Time
}

// NewVerifier creates a verifier from config. Exactly one key source must be
// configured unless the development bypass is enabled.
func NewVerifier(cfg Config) (*Verifier, error) {
	v := &Verifier{cfg: cfg, now: time.Now}

	if cfg.DevBypass {
		slog.Warn("auth: development bypass enabled, all calls resolve a fixed identity with full scope")
		return v, nil
	}

	sources := 0
	if len(cfg.HMACSecret) > 0 {
		sources++
	}
	if cfg.RSAPublicKey != nil {
		sources++
	}
	if cfg.JWKSURL != "" {
		sources++
		v.keys = NewKeyFetcher(cfg.JWKSURL)
	}
	if sources != 1 {
		return nil, fmt.Errorf("exactly one verification key source required, got %d", sources)
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}

	return v, nil
}

// Verify validates a raw bearer credential and returns the resolved identity.
// Failures are classified as ErrTokenMissing, ErrTokenInvalid, or
// ErrKeysUnavailable; there is no anonymous fallback.
func (v *Verifier) Verify(ctx context.Context, raw string) (*AuthContext, error) {
	if v.cfg.DevBypass {
		return &AuthContext{
			User:   "dev",
			Tenant: "dev",
			Scopes: NewScopeSet(ScopeAll),
		}, nil
	}

	raw = strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	if raw == "" {
		return nil, ErrTokenMissing
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.validMethods()),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)

	token, err := parser.Parse(raw, v.keyFor(ctx))
	if err != nil {
		if errors.Is(err, ErrKeysUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type %T", ErrTokenInvalid, token.Claims)
	}

	if err := v.checkLifetime(claims); err != nil {
		return nil, err
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrTokenInvalid)
	}
	tenant, _ := claims[tenantClaim].(string)
	if tenant == "" {
		return nil, fmt.Errorf("%w: missing tenant claim", ErrTokenInvalid)
	}

	return &AuthContext{
		User:   sub,
		Tenant: tenant,
		Scopes: ParseScopeClaim(claims),
		Token:  raw,
	}, nil
}

// checkLifetime enforces the total lifetime cap from issuance.
func (v *Verifier) checkLifetime(claims jwt.MapClaims) error {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fmt.Errorf("%w: missing exp claim", ErrTokenInvalid)
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return fmt.Errorf("%w: missing iat claim", ErrTokenInvalid)
	}
	if lifetime := exp.Sub(iat.Time); lifetime > maxTokenLifetime {
		return fmt.Errorf("%w: token lifetime %s exceeds %s cap", ErrTokenInvalid, lifetime, maxTokenLifetime)
	}
	return nil
}

// validMethods returns the signing algorithms acceptable for the configured
// key source. Restricting by source rejects algorithm-confusion tokens.
func (v *Verifier) validMethods() []string {
	if len(v.cfg.HMACSecret) > 0 {
		return hmacMethods
	}
	return rsaMethods
}

// keyFor builds the jwt keyfunc for the configured key source. JWKS lookup
// may block on a network fetch; it carries its own timeout and must not be
// called while holding any store lock.
func (v *Verifier) keyFor(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(v.cfg.HMACSecret) == 0 {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return v.cfg.HMACSecret, nil
		case *jwt.SigningMethodRSA:
			if v.cfg.RSAPublicKey != nil {
				return v.cfg.RSAPublicKey, nil
			}
			if v.keys == nil {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			kid, _ := t.Header["kid"].(string)
			return v.keys.Key(ctx, kid)
		default:
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
	}
}
