package servicetoken

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"messageai/internal/util"
)

const (
	// DefaultTTL is the lifetime of internal service tokens.
	DefaultTTL = 60 * time.Second
	// DefaultLeeway tolerates clock skew between services.
	DefaultLeeway = 15 * time.Second

	// Header carries service tokens on internal requests.
	Header = "X-Service-Token"
)

// Signer issues short-lived HS256 JWTs for service-to-service calls.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewSigner builds a signer from a shared secret.
func NewSigner(secret, issuer string, ttl time.Duration) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("service token secret is required")
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("service token issuer is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Sign issues a token addressed to the given audience service.
func (s *Signer) Sign(audience string) (string, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return "", errors.New("service token audience is required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        util.NewID(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verifier validates internal service tokens against an issuer allowlist.
type Verifier struct {
	secret         []byte
	audience       string
	allowedIssuers map[string]struct{}
	leeway         time.Duration
}

// NewVerifier builds a verifier for tokens addressed to this service.
func NewVerifier(secret, audience string, allowedIssuers []string, leeway time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("service token secret is required")
	}
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return nil, errors.New("service token audience is required")
	}
	issuers := make(map[string]struct{})
	for _, issuer := range allowedIssuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			issuers[issuer] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Verifier{secret: []byte(secret), audience: audience, allowedIssuers: issuers, leeway: leeway}, nil
}

// Verify checks signature, expiry, audience, and issuer, returning the
// calling service name.
func (v *Verifier) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token required")
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unsupported signing method")
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return "", err
	}
	if _, ok := v.allowedIssuers[claims.Issuer]; !ok {
		return "", errors.New("issuer not allowed")
	}
	return claims.Issuer, nil
}

// FromRequest extracts the service token header.
func FromRequest(r *http.Request) (string, bool) {
	token := strings.TrimSpace(r.Header.Get(Header))
	return token, token != ""
}
