package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/matzehuels/storyline/pkg/cache"
	"github.com/matzehuels/storyline/pkg/errors"
)

const httpTimeout = 30 * time.Second

// maxResultSize caps backend payloads.
const maxResultSize = 64 << 20

// Request is the body an [HTTPSource] posts to the backend.
type Request struct {
	View       *View       `json:"view"`
	Constraint *Constraint `json:"constraint,omitempty"`
}

// HTTPSource asks a search backend for timelines over HTTP. Transport
// failures and 5xx responses are retried with backoff.
type HTTPSource struct {
	URL     string
	Client  *http.Client
	Headers map[string]string

	// Limiter, if set, throttles outgoing requests.
	Limiter *rate.Limiter
}

// NewHTTPSource creates a source posting to url.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{URL: url, Client: &http.Client{Timeout: httpTimeout}}
}

// Fetch implements [Source].
func (s *HTTPSource) Fetch(ctx context.Context, view *View, constraint *Constraint) (*Result, error) {
	body, err := json.Marshal(Request{View: view, Constraint: constraint})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidQuery, err, "encode view")
	}

	var res *Result
	err = cache.RetryWithBackoff(ctx, func() error {
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		res, err = s.post(ctx, body)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.GetCode(err) != "" {
			return nil, err
		}
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "query %s", s.URL)
	}
	return res, nil
}

func (s *HTTPSource) post(ctx context.Context, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, cache.Retryable(fmt.Errorf("%w: %v", cache.ErrNetwork, err))
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultSize))
	if err != nil {
		return nil, cache.Retryable(fmt.Errorf("%w: %v", cache.ErrNetwork, err))
	}
	return DecodeResult(data, FormatJSON)
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests:
		return cache.Retryable(errors.New(errors.ErrCodeRateLimited, "backend status %d", code))
	case code >= 500:
		return cache.Retryable(fmt.Errorf("%w: status %d", cache.ErrNetwork, code))
	default:
		return errors.New(errors.ErrCodeBackend, "backend status %d", code)
	}
}
