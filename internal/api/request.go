package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rickgao/goldstream/internal/auth"
)

// maxRetryAfter caps how long a Retry-After header can stall a request.
const maxRetryAfter = time.Minute

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Code       string // provider errorCode, e.g. "error.not-found.epic"
	Message    string
	Body       []byte
	RetryAfter time.Duration // from the Retry-After header, if any
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code
	}
	return fmt.Sprintf("capital api error %d: %s", e.StatusCode, msg)
}

// IsRetryable reports whether the request may succeed if repeated.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsUnauthorized reports whether the session tokens were rejected.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// transportError is a failure to get any response at all.
type transportError struct{ err error }

func (e *transportError) Error() string { return "do request: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		Body:       body,
	}

	var payload struct {
		ErrorCode string `json:"errorCode"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Code = payload.ErrorCode
	}

	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = min(time.Duration(secs)*time.Second, maxRetryAfter)
	}
	return apiErr
}

// doRequest sends one request with the current session tokens.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	sess, err := c.sessions.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", "1")
	req.Header.Set(auth.HeaderAPIKey, c.sessions.APIKey())
	sess.Apply(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		return nil, newAPIError(resp, body)
	}
	return body, nil
}

// doWithRetry retries transient failures with jittered exponential backoff.
// The first 401 invalidates the session and repeats the request at once,
// outside the retry budget.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	var (
		lastErr  error
		backoff  = c.retryBackoff
		reauthed bool
	)

	for attempt := 0; ; {
		body, err := c.doRequest(ctx, method, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsUnauthorized() && !reauthed {
			c.logger.Warn("session rejected, re-authenticating", "path", path)
			c.sessions.Invalidate()
			reauthed = true
			continue
		}
		if !retryable(err) {
			return nil, err
		}

		attempt++
		if attempt > c.maxRetries {
			break
		}

		// backoff * [0.5, 1.5), or longer if the server asked for it
		wait := backoff/2 + time.Duration(rand.Int63n(int64(backoff)+1))
		if apiErr != nil && apiErr.RetryAfter > wait {
			wait = apiErr.RetryAfter
		}
		c.logger.Debug("retrying request",
			"attempt", attempt,
			"wait", wait,
			"path", path,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}

// get performs a GET with retries and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
