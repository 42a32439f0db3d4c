// Package forwarder delivers enriched events.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"track-enricher/internal/common/errors"
	commonhttp "track-enricher/internal/common/http"
	"track-enricher/internal/models"
)

// DefaultCollectionURL is the tracking API events are posted to
const DefaultCollectionURL = "https://api.segment.io/v1/track"

// Forwarder sends a finished event downstream
type Forwarder interface {
	Send(ctx context.Context, evt *models.Event, apiKey string) error
}

// HTTPForwarder posts events to the collection endpoint.
type HTTPForwarder struct {
	url    string
	client commonhttp.Doer
}

// NewHTTPForwarder creates a forwarder posting to url
func NewHTTPForwarder(url string, client commonhttp.Doer) *HTTPForwarder {
	if url == "" {
		url = DefaultCollectionURL
	}
	if client == nil {
		client = commonhttp.NewHTTPClient()
	}
	return &HTTPForwarder{url: url, client: client}
}

// Send posts the event as JSON with apiKey as the basic-auth user. Any
// status other than 200 is a ForwardError.
func (f *HTTPForwarder) Send(ctx context.Context, evt *models.Event, apiKey string) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return errors.InternalError("failed to encode event", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return errors.ForwardError(0, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	commonhttp.SetAPIKeyAuth(req, apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.TimeoutError("forward", err)
		}
		return errors.ForwardError(0, "", err)
	}
	defer commonhttp.DrainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return errors.ForwardError(resp.StatusCode, commonhttp.Reason(resp), nil)
	}
	return nil
}

// WriterForwarder writes events as indented JSON, one per Send. It backs
// dry runs.
type WriterForwarder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterForwarder creates a forwarder writing to w
func NewWriterForwarder(w io.Writer) *WriterForwarder {
	return &WriterForwarder{w: w}
}

func (f *WriterForwarder) Send(_ context.Context, evt *models.Event, _ string) error {
	body, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return errors.InternalError("failed to encode event", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.w.Write(append(body, '\n')); err != nil {
		return errors.ForwardError(0, "write failed", err)
	}
	return nil
}
