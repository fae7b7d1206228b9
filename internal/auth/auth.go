// Package auth provides provider session authentication.
//
// Login posts the account credentials once and receives two tokens in the
// response headers (CST and X-SECURITY-TOKEN). Both REST and streaming
// requests carry these tokens until the provider rejects them, at which
// point the session is invalidated and a fresh login is performed.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ErrAuth is returned when the provider rejects credentials or tokens.
var ErrAuth = errors.New("authentication failed")

// Provider endpoints and headers.
const (
	DemoBaseURL  = "https://demo-api-capital.backend-capital.com"
	LiveBaseURL  = "https://api-capital.backend-capital.com"
	StreamingURL = "wss://api-streaming-capital.backend-capital.com/connect"

	SessionPath = "/api/v1/session"

	HeaderAPIKey        = "X-CAP-API-KEY"
	HeaderCST           = "CST"
	HeaderSecurityToken = "X-SECURITY-TOKEN"
)

// Credentials identify the account used to open sessions.
type Credentials struct {
	APIKey     string
	Identifier string // account email
	Password   string
}

// Validate checks that all credential fields are set.
func (c Credentials) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.Identifier == "" {
		return fmt.Errorf("identifier is required")
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

// Session holds the tokens of one authenticated session.
type Session struct {
	SessionToken  string    // CST header
	SecurityToken string    // X-SECURITY-TOKEN header
	AccountID     string    // currentAccountId from the login body
	ClientID      string    // clientId from the login body
	CreatedAt     time.Time // when the login succeeded
}

// Apply sets the session token headers on h.
func (s *Session) Apply(h http.Header) {
	h.Set(HeaderCST, s.SessionToken)
	h.Set(HeaderSecurityToken, s.SecurityToken)
}

// Header returns a new header carrying the session tokens.
func (s *Session) Header() http.Header {
	h := http.Header{}
	s.Apply(h)
	return h
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	CurrentAccountID string `json:"currentAccountId"`
	ClientID         string `json:"clientId"`
}

// Authenticator opens and caches provider sessions.
type Authenticator struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	session *Session
	logins  int
}

// NewAuthenticator creates an Authenticator against baseURL.
func NewAuthenticator(baseURL string, creds Credentials, httpClient *http.Client, logger *slog.Logger) *Authenticator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		baseURL:    baseURL,
		creds:      creds,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

// APIKey returns the API key sent with every request.
func (a *Authenticator) APIKey() string {
	return a.creds.APIKey
}

// Session returns the cached session, logging in first if there is none.
func (a *Authenticator) Session(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return a.session, nil
	}
	return a.loginLocked(ctx)
}

// Login always opens a new session and replaces the cached one.
func (a *Authenticator) Login(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loginLocked(ctx)
}

// Invalidate drops the cached session so the next call re-authenticates.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		a.logger.Info("session invalidated", "account_id", a.session.AccountID)
	}
	a.session = nil
}

// Current returns the cached session without logging in.
func (a *Authenticator) Current() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Logins returns how many successful logins have been performed.
func (a *Authenticator) Logins() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logins
}

func (a *Authenticator) loginLocked(ctx context.Context) (*Session, error) {
	if err := a.creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	body, err := json.Marshal(loginRequest{
		Identifier: a.creds.Identifier,
		Password:   a.creds.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("encode login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+SessionPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(HeaderAPIKey, a.creds.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Version", "1")

	a.logger.Info("authenticating", "base_url", a.baseURL)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrAuth, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	sess := &Session{
		SessionToken:  resp.Header.Get(HeaderCST),
		SecurityToken: resp.Header.Get(HeaderSecurityToken),
		CreatedAt:     a.now(),
	}
	if sess.SessionToken == "" || sess.SecurityToken == "" {
		return nil, fmt.Errorf("%w: missing session tokens in response", ErrAuth)
	}

	var lr loginResponse
	if err := json.Unmarshal(respBody, &lr); err != nil {
		a.logger.Warn("could not decode login body", "error", err)
	}
	sess.AccountID = lr.CurrentAccountID
	sess.ClientID = lr.ClientID

	a.session = sess
	a.logins++

	a.logger.Info("authenticated", "account_id", sess.AccountID)
	return sess, nil
}
