package authclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"messageai/internal/servicetoken"
	"messageai/pkg/domain"
)

// Client calls the auth service over HTTP. User-facing calls forward the
// caller's bearer token; directory calls authenticate with a service token.
type Client struct {
	baseURL    string
	signer     *servicetoken.Signer
	httpClient *http.Client
}

// NewClient constructs an auth service client. signer may be nil when the
// directory endpoints are not needed.
func NewClient(baseURL string, signer *servicetoken.Signer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		signer:     signer,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Me validates a bearer token and returns the current user.
func (c *Client) Me(token string) (domain.User, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/auth/me", nil)
	if err != nil {
		return domain.User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.User{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.User{}, &APIError{Status: resp.StatusCode, Message: resp.Status}
	}
	var user domain.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// UsersByIDs resolves users in bulk through the internal directory endpoint.
func (c *Client) UsersByIDs(ids []string) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	endpoint := c.baseURL + "/internal/users/lookup?ids=" + url.QueryEscape(strings.Join(ids, ","))
	return c.listUsers(endpoint)
}

// SearchUsers runs a relevance-ordered user search.
func (c *Client) SearchUsers(query string) ([]domain.User, error) {
	endpoint := c.baseURL + "/internal/users/search?q=" + url.QueryEscape(query)
	return c.listUsers(endpoint)
}

func (c *Client) listUsers(endpoint string) ([]domain.User, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("service token signer not configured")
	}
	token, err := c.signer.Sign("auth")
	if err != nil {
		return nil, fmt.Errorf("sign service token: %w", err)
	}
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(servicetoken.Header, token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &APIError{Status: resp.StatusCode, Message: resp.Status}
	}
	var payload struct {
		Items []domain.User `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// APIError represents an auth service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}
