package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MailpitClient provides access to the Mailpit REST API.
type MailpitClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMailpitClient creates a client for the container's API port.
func NewMailpitClient(c *MailpitContainer) *MailpitClient {
	return &MailpitClient{
		baseURL:    fmt.Sprintf("http://%s:%d", c.APIHost, c.APIPort),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// MailpitMessage is a received message.
type MailpitMessage struct {
	ID          string              `json:"ID"`
	From        MailpitAddress      `json:"From"`
	To          []MailpitAddress    `json:"To"`
	Cc          []MailpitAddress    `json:"Cc"`
	Bcc         []MailpitAddress    `json:"Bcc"`
	Subject     string              `json:"Subject"`
	Text        string              `json:"Text"`
	HTML        string              `json:"HTML"`
	Attachments []MailpitAttachment `json:"Attachments"`
	Inline      []MailpitAttachment `json:"Inline"`
}

// MailpitAddress is a parsed address.
type MailpitAddress struct {
	Address string `json:"Address"`
	Name    string `json:"Name"`
}

// MailpitAttachment describes a MIME part stored as a file.
type MailpitAttachment struct {
	FileName    string `json:"FileName"`
	ContentType string `json:"ContentType"`
	ContentID   string `json:"ContentID"`
}

type messagesResponse struct {
	Messages []MailpitMessage `json:"messages"`
}

// Messages returns message summaries, newest first.
func (c *MailpitClient) Messages() ([]MailpitMessage, error) {
	var result messagesResponse
	if err := c.get("/api/v1/messages", &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// Message returns a single message with bodies and attachments.
func (c *MailpitClient) Message(id string) (*MailpitMessage, error) {
	var msg MailpitMessage
	if err := c.get("/api/v1/message/"+id, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Headers returns the raw headers of a message.
func (c *MailpitClient) Headers(id string) (map[string][]string, error) {
	headers := make(map[string][]string)
	if err := c.get("/api/v1/message/"+id+"/headers", &headers); err != nil {
		return nil, err
	}
	return headers, nil
}

// DeleteAll clears the mailbox.
func (c *MailpitClient) DeleteAll() error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/api/v1/messages", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete messages: status %d", resp.StatusCode)
	}
	return nil
}

// WaitForMessages polls until at least count messages arrived or timeout elapses.
func (c *MailpitClient) WaitForMessages(count int, timeout time.Duration) ([]MailpitMessage, error) {
	deadline := time.Now().Add(timeout)
	var (
		messages []MailpitMessage
		lastErr  error
	)

	for time.Now().Before(deadline) {
		messages, lastErr = c.Messages()
		if lastErr == nil && len(messages) >= count {
			return messages, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if lastErr != nil {
		return messages, fmt.Errorf("timeout waiting for %d messages (got %d): %w", count, len(messages), lastErr)
	}
	return messages, fmt.Errorf("timeout waiting for %d messages, got %d", count, len(messages))
}

func (c *MailpitClient) get(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
