package oauth2

import (
	"strings"
	"time"
)

const (
	// DefaultTokenURL is the endpoint assertions are exchanged at.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	// DefaultAudience is the aud claim Google expects in assertions.
	DefaultAudience = "https://www.googleapis.com/oauth2/v4/token"
	// DefaultScope grants access to the Firestore document API.
	DefaultScope = "https://www.googleapis.com/auth/datastore"
	// DefaultAssertionLifetime is how long a signed assertion is valid.
	DefaultAssertionLifetime = time.Hour
	// DefaultSafetyMargin is how long before expiry a token stops being used.
	DefaultSafetyMargin = 10 * time.Second
)

// Token is an access token with its absolute expiry.
type Token struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry"`
}

// Valid reports whether the token can still be handed out at now, i.e. more
// than margin remains before expiry. A token with no expiry is never valid.
func (t *Token) Valid(now time.Time, margin time.Duration) bool {
	if t == nil || t.AccessToken == "" || t.Expiry.IsZero() {
		return false
	}
	return t.Expiry.Sub(now) > margin
}

// ServiceAccount holds the credentials an assertion is signed with.
type ServiceAccount struct {
	ClientEmail  string
	PrivateKey   string
	PrivateKeyID string
}

// key identifies the account in caches and shared storage.
func (a ServiceAccount) key() string {
	return a.ClientEmail + "/" + a.PrivateKeyID
}

// normalizePrivateKey turns literal "\n" sequences, as found in keys pasted
// into environment variables, into newlines.
func normalizePrivateKey(pem string) string {
	return strings.ReplaceAll(pem, `\n`, "\n")
}
