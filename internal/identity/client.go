package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"camphq/internal/fault"
)

// Staff is the resolved identity of an acting staff member.
type Staff struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Client calls the platform identity service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip enabled, Verify returns a fixed dev staffer
// so the control plane runs without the identity service.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify exchanges credentials for the staff identity behind them. A rejected
// credential surfaces as an unauthorized fault, not an infrastructure error.
func (c *Client) Verify(ctx context.Context, email, password string) (Staff, error) {
	if c.Skip {
		return Staff{ID: "dev-staff", Name: "Dev Staffer", Email: email, Role: "staff"}, nil
	}

	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return Staff{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/verify", bytes.NewReader(payload))
	if err != nil {
		return Staff{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Staff{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var staff Staff
		if err := json.NewDecoder(resp.Body).Decode(&staff); err != nil {
			return Staff{}, err
		}
		return staff, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return Staff{}, fault.New(fault.Unauthorized, "staff", "credentials rejected")
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Staff{}, fmt.Errorf("identity service status %d: %s", resp.StatusCode, body)
	}
}

// Health pings the identity service.
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
		return fmt.Errorf("identity service status %d", resp.StatusCode)
	}
	return nil
}
