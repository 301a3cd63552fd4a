// Package stackauth resolves user IDs to notification contacts via the
// Stack Auth server API.
package stackauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pireu2/spotyfire-backend/internal/domain"
)

// placeholderSuffix marks seeded accounts that never had a real address.
const placeholderSuffix = "@example.com"

// Client implements monitor.Directory against Stack Auth.
type Client struct {
	projectID  string
	serverKey  string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Stack Auth directory client.
func NewClient(projectID, serverKey, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		projectID:  projectID,
		serverKey:  serverKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Resolve looks up a user's primary email and display name. Users without a
// deliverable address, including seeded placeholder accounts, resolve to
// domain.ErrContactUnresolved.
func (c *Client) Resolve(ctx context.Context, userID string) (domain.Contact, error) {
	u := fmt.Sprintf("%s/api/v1/users/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Contact{}, fmt.Errorf("create user lookup request: %w", err)
	}
	req.Header.Set("x-stack-project-id", c.projectID)
	req.Header.Set("x-stack-secret-server-key", c.serverKey)
	req.Header.Set("x-stack-access-type", "server")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Contact{}, fmt.Errorf("user lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Contact{}, domain.ErrContactUnresolved
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.Contact{}, fmt.Errorf("stack auth error: status %d: %s", resp.StatusCode, body)
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return domain.Contact{}, fmt.Errorf("decode user response: %w", err)
	}

	email := user.PrimaryEmail
	if email == "" && user.PrimaryEmailAuthMethod != nil {
		email = user.PrimaryEmailAuthMethod.Value
	}
	if email == "" || strings.HasSuffix(email, placeholderSuffix) {
		return domain.Contact{}, domain.ErrContactUnresolved
	}

	name := user.DisplayName
	if name == "" {
		name = email
	}
	return domain.Contact{Email: email, Name: name}, nil
}

// Stack Auth API response types.

type userResponse struct {
	DisplayName            string           `json:"display_name"`
	PrimaryEmail           string           `json:"primary_email"`
	PrimaryEmailAuthMethod *emailAuthMethod `json:"primary_email_auth_method"`
}

type emailAuthMethod struct {
	Value string `json:"value"`
}
