package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a thin HTTP wrapper over the backend REST API. The backend owns
// every User and Project record; the portal only holds ephemeral copies.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) SearchUsers(ctx context.Context, name string) ([]SearchResult, error) {
	var results []SearchResult
	query := url.Values{"name": {name}}
	if err := c.do(ctx, http.MethodGet, "/users/search?"+query.Encode(), nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) GetUserByID(ctx context.Context, id int64) (User, error) {
	var user User
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%d", id), nil, &user)
	return user, err
}

func (c *Client) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := c.do(ctx, http.MethodGet, "/users/u/"+url.PathEscape(username), nil, &user)
	return user, err
}

func (c *Client) FindUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	query := url.Values{"email": {email}}
	err := c.do(ctx, http.MethodGet, "/users/find?"+query.Encode(), nil, &user)
	return user, err
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (User, error) {
	var user User
	err := c.do(ctx, http.MethodPost, "/users/register", req, &user)
	return user, err
}

func (c *Client) UpdateUser(ctx context.Context, id int64, user User) (User, error) {
	var updated User
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/users/%d", id), user, &updated)
	return updated, err
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.do(ctx, http.MethodGet, "/users/stats", nil, &stats)
	return stats, err
}

func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/users/%d", id), nil, nil)
}

func (c *Client) AdminAddUser(ctx context.Context, req RegisterRequest) (User, error) {
	var user User
	err := c.do(ctx, http.MethodPost, "/users/add", req, &user)
	return user, err
}

func (c *Client) ListUserProjects(ctx context.Context, userID int64) ([]Project, error) {
	var projects []Project
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/user/%d", userID), nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (c *Client) AddProject(ctx context.Context, project Project) (Project, error) {
	var created Project
	err := c.do(ctx, http.MethodPost, "/projects/add", project, &created)
	return created, err
}

func (c *Client) DeleteProject(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/projects/%d", id), nil, nil)
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

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusConflict {
		return &ValidationError{Message: errorMessage(resp.Body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NetworkError{Op: method + " " + path, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	return nil
}

func errorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(data))
}
