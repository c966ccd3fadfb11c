package convclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"messageai/internal/servicetoken"
)

// Client fetches conversation context from the conversation service over its
// internal, service-token-guarded API.
type Client struct {
	baseURL    string
	signer     *servicetoken.Signer
	httpClient *http.Client
}

// NewClient constructs a conversation service client.
func NewClient(baseURL string, signer *servicetoken.Signer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		signer:     signer,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ContextMessage is one message of a chat's conversation context.
type ContextMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// Context is the conversation context for one chat.
type Context struct {
	ChatID       string           `json:"chatId"`
	Name         string           `json:"name"`
	IsGroup      bool             `json:"isGroup"`
	Participants []string         `json:"participants"`
	Messages     []ContextMessage `json:"messages"`
}

// ChatContext fetches a chat's context. limit <= 0 uses the server default.
func (c *Client) ChatContext(chatID string, limit int) (Context, error) {
	if c.signer == nil {
		return Context{}, fmt.Errorf("service token signer not configured")
	}
	token, err := c.signer.Sign("conversation")
	if err != nil {
		return Context{}, fmt.Errorf("sign service token: %w", err)
	}
	endpoint := c.baseURL + "/internal/chats/" + url.PathEscape(chatID) + "/context"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return Context{}, err
	}
	req.Header.Set(servicetoken.Header, token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Context{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Context{}, &APIError{Status: resp.StatusCode, Message: resp.Status}
	}
	var out Context
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Context{}, err
	}
	return out, nil
}

// APIError represents a conversation service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}
