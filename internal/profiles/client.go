// Package profiles looks up a user's contact traits in the profile store.
package profiles

import (
	"context"
	"net/http"
	"net/url"

	"track-enricher/internal/common/errors"
	commonhttp "track-enricher/internal/common/http"
	"track-enricher/internal/common/logging"
)

// DefaultBaseURL is the public profile API
const DefaultBaseURL = "https://profiles.segment.com"

// includedTraits limits the response to the traits destinations need.
const includedTraits = "email,phone"

// Client queries the profile API
type Client struct {
	baseURL string
	client  commonhttp.Doer
	logger  logging.Logger
}

// NewClient creates a profile client
func NewClient(baseURL string, client commonhttp.Doer, logger logging.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = commonhttp.NewHTTPClient()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Client{baseURL: baseURL, client: client, logger: logger}
}

// Traits returns the traits of userID in spaceID. An unknown user yields an
// empty map, not an error.
func (c *Client) Traits(ctx context.Context, spaceID, accessToken, userID string) (map[string]interface{}, error) {
	endpoint := c.baseURL + "/v1/spaces/" + url.PathEscape(spaceID) +
		"/collections/users/profiles/user_id:" + url.PathEscape(userID) +
		"/traits?include=" + includedTraits

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.ProfileLookupError(0, err)
	}
	commonhttp.SetAPIKeyAuth(req, accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.TimeoutError("profile lookup", err)
		}
		return nil, errors.ProfileLookupError(0, err)
	}
	defer commonhttp.DrainAndClose(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		c.logger.WithContext(ctx).Debug("Profile not found", logging.Field{Key: "user_id", Value: userID})
		return map[string]interface{}{}, nil
	default:
		return nil, errors.ProfileLookupError(resp.StatusCode, nil)
	}

	var body struct {
		Traits map[string]interface{} `json:"traits"`
	}
	if err := commonhttp.DecodeJSON(resp, &body); err != nil {
		return nil, errors.ProfileLookupError(resp.StatusCode, err)
	}
	if body.Traits == nil {
		return map[string]interface{}{}, nil
	}
	return body.Traits, nil
}
