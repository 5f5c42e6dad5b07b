package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenPurpose scopes a signed account token to one flow.
type TokenPurpose string

const (
	PurposeVerifyEmail   TokenPurpose = "verify"
	PurposePasswordReset TokenPurpose = "reset"
)

const (
	VerifyTokenTTL = 24 * time.Hour
	ResetTokenTTL  = time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid or malformed token")
	ErrTokenExpired = errors.New("token has expired")
)

type TokenClaims struct {
	jwt.RegisteredClaims
	Purpose TokenPurpose `json:"purpose"`
	Kind    Kind         `json:"kind"`
}

// TokenIssuer signs and verifies HS256 tokens for email verification and
// password reset. Callers also store the token on the account row so a used
// token can be invalidated.
type TokenIssuer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

func NewTokenIssuer(key []byte) *TokenIssuer {
	return &TokenIssuer{key: key, issuer: "clinicq", now: time.Now}
}

func (t *TokenIssuer) Issue(subject string, kind Kind, purpose TokenPurpose, ttl time.Duration) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(ttl)
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    t.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Purpose: purpose,
		Kind:    kind,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies signature, issuer, expiry and purpose.
func (t *TokenIssuer) Parse(token string, purpose TokenPurpose) (*TokenClaims, error) {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != purpose || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
