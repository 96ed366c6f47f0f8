package sendgrid

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/heatflow/oilshop-backend/pkg/config"
)

// Message is a dynamic-template email to a single recipient.
type Message struct {
	TemplateID string
	ToEmail    string
	ToName     string
	Data       map[string]any
	// Category tags the message in the provider's activity feed.
	Category string
}

// Mailer sends templated transactional mail.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Client relays through the SendGrid v3 mail API.
type Client struct {
	send     func(ctx context.Context, email *mail.SGMailV3) (int, string, map[string][]string, error)
	fromAddr string
	fromName string
}

// NewClient builds a client from config; the API key is required.
func NewClient(cfg config.SendgridConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	api := sg.NewSendClient(cfg.APIKey)
	return &Client{
		send: func(ctx context.Context, email *mail.SGMailV3) (int, string, map[string][]string, error) {
			resp, err := api.SendWithContext(ctx, email)
			if err != nil {
				return 0, "", nil, err
			}
			return resp.StatusCode, resp.Body, resp.Headers, nil
		},
		fromAddr: cfg.DefaultFrom,
		fromName: cfg.FromName,
	}, nil
}

// Send delivers msg and returns the provider message id when present.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if c == nil || c.send == nil {
		return "", errors.New("sendgrid client not initialized")
	}
	email, err := c.build(msg)
	if err != nil {
		return "", err
	}

	status, body, headers, err := c.send(ctx, email)
	if err != nil {
		return "", fmt.Errorf("sendgrid send: %w", err)
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("sendgrid send: status %d: %s", status, truncate(body, 256))
	}
	if ids := headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}

func (c *Client) build(msg Message) (*mail.SGMailV3, error) {
	if strings.TrimSpace(msg.TemplateID) == "" {
		return nil, errors.New("template id is required")
	}
	if strings.TrimSpace(msg.ToEmail) == "" {
		return nil, errors.New("recipient is required")
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(c.fromName, c.fromAddr))
	m.SetTemplateID(msg.TemplateID)
	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(msg.ToName, msg.ToEmail))
	for k, v := range msg.Data {
		p.SetDynamicTemplateData(k, v)
	}
	m.AddPersonalizations(p)
	return m, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
