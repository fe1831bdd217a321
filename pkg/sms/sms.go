// Package sms sends outbound text messages through the practice's messaging
// gateway. Sends are best effort; every failure is surfaced as an error and
// the caller decides whether it matters.
package sms

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
	URL         string        `split_words:"true" required:"true"`
	Token       string        `split_words:"true" required:"true"`
	From        string        `split_words:"true"`
	IntakeForm  string        `envconfig:"INTAKE_FORM_URL" split_words:"true"`
	MapLinkBase string        `envconfig:"MAP_LINK_BASE" split_words:"true" default:"https://maps.google.com/?q="`
	Timeout     time.Duration `split_words:"true" default:"10s"`
}

type Client struct {
	baseURL     string
	token       string
	from        string
	intakeForm  string
	mapLinkBase string
	httpClient  *http.Client
}

var _ contractx.Notifier = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("sms gateway url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       strings.TrimSpace(cfg.Token),
		from:        strings.TrimSpace(cfg.From),
		intakeForm:  strings.TrimSpace(cfg.IntakeForm),
		mapLinkBase: strings.TrimSpace(cfg.MapLinkBase),
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

func (c *Client) SendConfirmation(ctx context.Context, msg contractx.ConfirmationMessage) error {
	body := fmt.Sprintf(
		"Hi %s, your appointment at %s is confirmed for %s. Reply to this number if anything changes.",
		msg.PartyName, msg.TenantName, msg.Spoken,
	)
	return c.send(ctx, msg.To, body)
}

func (c *Client) SendIntakeForm(ctx context.Context, to, tenantName string) error {
	body := fmt.Sprintf("Welcome to %s! Please fill in your new patient form before your visit", tenantName)
	if c.intakeForm != "" {
		body += ": " + c.intakeForm
	} else {
		body += "."
	}
	return c.send(ctx, to, body)
}

func (c *Client) SendMapLink(ctx context.Context, to, address string) error {
	body := fmt.Sprintf("Here's how to find us: %s%s", c.mapLinkBase, url.QueryEscape(address))
	return c.send(ctx, to, body)
}

func (c *Client) SendFallback(ctx context.Context, to, tenantName string) error {
	body := fmt.Sprintf(
		"Sorry, we hit a snag finalizing your booking with %s. The team will call you back shortly to get it sorted.",
		tenantName,
	)
	return c.send(ctx, to, body)
}

func (c *Client) send(ctx context.Context, to, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("recipient is required")
	}

	payload, err := json.Marshal(map[string]string{
		"to":   to,
		"from": c.from,
		"body": body,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sms gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
