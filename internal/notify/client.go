package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Kinds of outbound notifications the control plane emits. Template lookup
// and rendering happen on the notification service side.
const (
	KindOfferSent = "waitlist_offer"
	KindDayRecap  = "day_recap"
)

// Notification is one fire-and-forget delivery request.
type Notification struct {
	Kind      string            `json:"kind"`
	Recipient string            `json:"recipient"`
	Params    map[string]string `json:"params,omitempty"`
}

// Client calls the transactional notification service. Delivery failures are
// logged and dropped; they never roll back the state change that queued them.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip enabled, Send just logs.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers one notification.
func (c *Client) Send(ctx context.Context, n Notification) error {
	if c.Skip {
		log.Printf("notify (skipped): kind=%s recipient=%s", n.Kind, n.Recipient)
		return nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/notifications", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify service status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// Health pings the notification service.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify service status %d", resp.StatusCode)
	}
	return nil
}
