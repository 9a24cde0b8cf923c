// Package identity talks to the hosted identity provider: the service of
// record for credentials and email-code verification. The provider is opaque;
// only its session lifecycle matters here.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// StatusComplete means the provider established an active session.
	StatusComplete = "complete"
	// StatusNeedsSecondFactor and StatusSessionExists are soft successes:
	// the backend is the final authority on identity, so the handshake
	// proceeds to the backend sync rather than surfacing an error.
	StatusNeedsSecondFactor = "needs_second_factor"
	StatusSessionExists     = "session_exists"
)

type SignInResult struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

type SignUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type SignUpResult struct {
	SignUpID string `json:"sign_up_id"`
	Status   string `json:"status"`
}

// Error is a rejection reported by the provider itself, as opposed to a
// transport failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	var result SignInResult
	err := c.do(ctx, http.MethodPost, "/sign_in", map[string]string{
		"identifier": email,
		"password":   password,
	}, &result)
	return result, err
}

func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (SignUpResult, error) {
	var result SignUpResult
	err := c.do(ctx, http.MethodPost, "/sign_up", req, &result)
	return result, err
}

// PrepareVerification asks the provider to send the email code for a pending
// sign-up.
func (c *Client) PrepareVerification(ctx context.Context, signUpID string) error {
	return c.do(ctx, http.MethodPost, "/sign_up/"+signUpID+"/prepare_verification", map[string]string{
		"strategy": "email_code",
	}, nil)
}

// AttemptVerification submits the email code. On success the provider
// activates a session, completing the sign-up.
func (c *Client) AttemptVerification(ctx context.Context, signUpID, code string) (SignInResult, error) {
	var result SignInResult
	err := c.do(ctx, http.MethodPost, "/sign_up/"+signUpID+"/attempt_verification", map[string]string{
		"code": code,
	}, &result)
	return result, err
}

func (c *Client) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	var result struct {
		Active bool `json:"active"`
	}
	err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID, nil, &result)
	if err != nil {
		var provider *Error
		if errors.As(err, &provider) && provider.Code == "session_not_found" {
			return false, nil
		}
		return false, err
	}
	return result.Active, nil
}

func (c *Client) SignOut(ctx context.Context, sessionID string) error {
	err := c.do(ctx, http.MethodDelete, "/sessions/"+sessionID, nil, nil)
	var provider *Error
	if errors.As(err, &provider) && provider.Code == "session_not_found" {
		// Already gone, which is the state sign-out wants.
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error Error `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error.Code != "" {
			return &payload.Error
		}
		return &Error{Code: fmt.Sprintf("status_%d", resp.StatusCode)}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
