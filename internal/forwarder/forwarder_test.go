package forwarder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"track-enricher/internal/common/errors"
	"track-enricher/internal/models"
)

var (
	_ Forwarder = (*HTTPForwarder)(nil)
	_ Forwarder = (*WriterForwarder)(nil)
)

func testEvent(t *testing.T) *models.Event {
	t.Helper()
	evt, err := models.ParseEvent([]byte(`{"type":"track","event":"Order Completed","messageId":"m-1","properties":{"price":650,"currency":"DKK"}}`))
	require.NoError(t, err)
	return evt
}

func TestHTTPForwarder_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "write-key", user)
		assert.Equal(t, " ", pass)
		assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("write-key: ")), r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"type":"track","event":"Order Completed","properties":{"price":650,"currency":"DKK"}}`, string(body))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	err := NewHTTPForwarder(server.URL, server.Client()).Send(context.Background(), testEvent(t), "write-key")
	assert.NoError(t, err)
}

func TestHTTPForwarder_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewHTTPForwarder(server.URL, nil).Send(context.Background(), testEvent(t), "write-key")

	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrTypeForward, appErr.Type)
	assert.Equal(t, http.StatusBadRequest, appErr.Context["status"])
	assert.Contains(t, appErr.Message, "Bad Request")
}

func TestHTTPForwarder_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewHTTPForwarder(url, nil).Send(context.Background(), testEvent(t), "write-key")
	assert.True(t, errors.IsType(err, errors.ErrTypeForward))
}

func TestWriterForwarder_Send(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriterForwarder(&buf).Send(context.Background(), testEvent(t), ""))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "track", decoded["type"])
	assert.NotContains(t, decoded, "messageId")
}
