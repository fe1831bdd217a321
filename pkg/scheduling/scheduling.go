// Package scheduling is the HTTP client for the practice's scheduling
// capability. The engine only ever talks to it through the Scheduler
// contract; slot-level concurrency control stays on the remote side.
package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
)

type Config struct {
	URL     string        `split_words:"true" required:"true"`
	Token   string        `split_words:"true" required:"true"`
	Timeout time.Duration `split_words:"true" default:"10s"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ contractx.Scheduler = (*Client)(nil)

const maxResponseSizeBytes = 2 << 20

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("scheduling url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

func (c *Client) ListSlots(ctx context.Context, q contractx.SlotQuery) ([]contractx.Slot, error) {
	var out struct {
		Slots []contractx.Slot `json:"slots"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/slots/search", q, &out); err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return out.Slots, nil
}

func (c *Client) CreateAppointment(ctx context.Context, req contractx.CreateAppointmentRequest) (*contractx.Appointment, error) {
	var out contractx.Appointment
	if err := c.doJSON(ctx, http.MethodPost, "/v1/appointments", req, &out); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return &out, nil
}

func (c *Client) Reschedule(ctx context.Context, appointmentID string, newStart time.Time) error {
	id := strings.TrimSpace(appointmentID)
	if id == "" {
		return errors.New("appointment id is required")
	}
	body := map[string]any{"start": newStart.UTC().Format(time.RFC3339)}
	path := "/v1/appointments/" + url.PathEscape(id) + "/reschedule"
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("reschedule appointment: %w", err)
	}
	return nil
}

func (c *Client) Cancel(ctx context.Context, appointmentID string) error {
	id := strings.TrimSpace(appointmentID)
	if id == "" {
		return errors.New("appointment id is required")
	}
	path := "/v1/appointments/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("cancel appointment: %w", err)
	}
	return nil
}

// FindUpcoming returns the caller's next appointment, or nil when there is
// none.
func (c *Client) FindUpcoming(ctx context.Context, patientRef string) (*contractx.Appointment, error) {
	ref := strings.TrimSpace(patientRef)
	if ref == "" {
		return nil, errors.New("patient ref is required")
	}

	var out struct {
		Appointment *contractx.Appointment `json:"appointment"`
	}
	path := "/v1/appointments/upcoming?patient_ref=" + url.QueryEscape(ref)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("find upcoming appointment: %w", err)
	}
	return out.Appointment, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("scheduling api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
