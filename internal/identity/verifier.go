package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors.
var (
	ErrMissingToken = errors.New("identity token is required")
	ErrInvalidToken = errors.New("identity token is invalid")
	ErrTokenExpired = errors.New("identity token is expired")
)

// Claims are the identity-provider session token claims.
type Claims struct {
	jwt.RegisteredClaims
	Email         *string `json:"email,omitempty"`
	EmailVerified *bool   `json:"email_verified,omitempty"`
	Name          *string `json:"name,omitempty"`
	Picture       *string `json:"picture,omitempty"`
}

// VerifierConfig configures token verification.
type VerifierConfig struct {
	Secret   []byte
	Issuer   string // optional
	Audience string // optional
	Now      func() time.Time
}

// Verifier validates HS256 session tokens issued by the identity provider.
type Verifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewVerifier creates a Verifier. The secret must not be empty.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("identity verifier secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}

	return &Verifier{secret: cfg.Secret, opts: opts}, nil
}

// Verify parses and validates a raw token and returns the identity it carries.
func (v *Verifier) Verify(raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, v.opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}

	return &Identity{
		ID:                   claims.Subject,
		PrimaryEmail:         claims.Email,
		DisplayName:          claims.Name,
		PrimaryEmailVerified: claims.EmailVerified,
		ProfileImageURL:      claims.Picture,
	}, nil
}
