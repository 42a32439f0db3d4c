package oauth2

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"track-enricher/internal/common/errors"
)

func TestTokenExchanger_Exchange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))
		assert.Equal(t, "signed.jwt.value", r.PostForm.Get("assertion"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ya29.token","token_type":"Bearer","expires_in":3599}`))
	}))
	defer server.Close()

	x := NewTokenExchanger(server.URL, server.Client())
	x.now = func() time.Time { return time.Unix(1700000000, 500) }

	token, err := x.Exchange(context.Background(), "signed.jwt.value")
	require.NoError(t, err)
	assert.Equal(t, "ya29.token", token.AccessToken)
	assert.Equal(t, int64(1700003599), token.Expiry.Unix())
}

func TestTokenExchanger_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		assertion string
	}{
		{name: "empty assertion", status: http.StatusOK, body: `{"access_token":"x","expires_in":10}`, assertion: ""},
		{name: "non-200", status: http.StatusBadRequest, body: `{"error":"invalid_grant"}`, assertion: "a.b.c"},
		{name: "empty token", status: http.StatusOK, body: `{"access_token":"","expires_in":3600}`, assertion: "a.b.c"},
		{name: "invalid body", status: http.StatusOK, body: `<html>`, assertion: "a.b.c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			token, err := NewTokenExchanger(server.URL, nil).Exchange(context.Background(), tt.assertion)
			assert.Nil(t, token)
			assert.True(t, errors.IsType(err, errors.ErrTypeAuth), "got %v", err)
			if tt.assertion == "" {
				assert.Zero(t, calls, "no request without an assertion")
			}
		})
	}
}

func TestTokenExchanger_StatusInContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewTokenExchanger(server.URL, nil).Exchange(context.Background(), "a.b.c")
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, appErr.Context["status"])
}
