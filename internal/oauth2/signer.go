package oauth2

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"track-enricher/internal/common/errors"
)

// Signer produces a signed assertion for an account.
type Signer interface {
	Sign(account ServiceAccount) (string, error)
}

// AssertionSigner builds RS256 JWT assertions for the jwt-bearer grant.
type AssertionSigner struct {
	audience string
	scope    string
	lifetime time.Duration
	now      func() time.Time
}

// NewAssertionSigner creates a signer for the given audience and scope
func NewAssertionSigner(audience, scope string) *AssertionSigner {
	return &AssertionSigner{
		audience: audience,
		scope:    scope,
		lifetime: DefaultAssertionLifetime,
		now:      time.Now,
	}
}

// Sign returns header.payload.signature with header {kid, alg, typ} and
// claims {iss, sub, aud, iat, exp, scope}.
func (s *AssertionSigner) Sign(account ServiceAccount) (string, error) {
	if account.ClientEmail == "" {
		return "", errors.AuthError("service account email is empty", nil)
	}
	if account.PrivateKey == "" {
		return "", errors.AuthError("service account private key is empty", nil)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(normalizePrivateKey(account.PrivateKey)))
	if err != nil {
		return "", errors.AuthError("failed to parse service account private key", err)
	}

	issued := s.now().Unix()
	claims := jwt.MapClaims{
		"iss":   account.ClientEmail,
		"sub":   account.ClientEmail,
		"aud":   s.audience,
		"iat":   issued,
		"exp":   issued + int64(s.lifetime/time.Second),
		"scope": s.scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = account.PrivateKeyID

	signed, err := token.SignedString(key)
	if err != nil {
		return "", errors.AuthError("failed to sign assertion", err)
	}
	if signed == "" {
		return "", errors.AuthError("empty assertion", nil)
	}
	return signed, nil
}
