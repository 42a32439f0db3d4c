package oauth2

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"track-enricher/internal/common/errors"
	commonhttp "track-enricher/internal/common/http"
)

const jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// Exchanger trades a signed assertion for an access token.
type Exchanger interface {
	Exchange(ctx context.Context, assertion string) (*Token, error)
}

// tokenResponse is the subset of RFC 6749 section 5.1 the exchange needs.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenExchanger posts jwt-bearer grants to a token endpoint.
type TokenExchanger struct {
	tokenURL string
	client   commonhttp.Doer
	now      func() time.Time
}

// NewTokenExchanger creates an exchanger for tokenURL
func NewTokenExchanger(tokenURL string, client commonhttp.Doer) *TokenExchanger {
	if client == nil {
		client = commonhttp.NewHTTPClient()
	}
	return &TokenExchanger{
		tokenURL: tokenURL,
		client:   client,
		now:      time.Now,
	}
}

// Exchange posts the assertion and returns the token with expiry set to
// now + expires_in, at second precision.
func (x *TokenExchanger) Exchange(ctx context.Context, assertion string) (*Token, error) {
	if assertion == "" {
		return nil, errors.AuthError("empty assertion", nil)
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.AuthError("failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := x.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.TimeoutError("token exchange", err)
		}
		return nil, errors.AuthError("token request failed", err)
	}
	defer commonhttp.DrainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, errors.AuthError(fmt.Sprintf("token endpoint returned status %d", resp.StatusCode), nil).
			WithContext("status", resp.StatusCode)
	}

	var body tokenResponse
	if err := commonhttp.DecodeJSON(resp, &body); err != nil {
		return nil, errors.AuthError("invalid token response", err)
	}
	if body.AccessToken == "" {
		return nil, errors.AuthError("token endpoint returned an empty access_token", nil)
	}

	return &Token{
		AccessToken: body.AccessToken,
		Expiry:      time.Unix(x.now().Unix()+body.ExpiresIn, 0),
	}, nil
}
