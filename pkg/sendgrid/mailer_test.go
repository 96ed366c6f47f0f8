package sendgrid

import (
	"context"
	"errors"
	"testing"

	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatflow/oilshop-backend/pkg/config"
)

func stubClient(status int, headers map[string][]string, err error, captured **mail.SGMailV3) *Client {
	return &Client{
		fromAddr: "orders@shop.example",
		fromName: "Heizöl",
		send: func(_ context.Context, email *mail.SGMailV3) (int, string, map[string][]string, error) {
			if captured != nil {
				*captured = email
			}
			return status, "body", headers, err
		},
	}
}

func TestSendBuildsDynamicTemplateMail(t *testing.T) {
	var got *mail.SGMailV3
	c := stubClient(202, map[string][]string{"X-Message-Id": {"msg-1"}}, nil, &got)

	id, err := c.Send(context.Background(), Message{
		TemplateID: "d-123",
		ToEmail:    "anna@example.com",
		ToName:     "Anna",
		Data:       map[string]any{"order_number": "H123456"},
		Category:   "invoice",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	require.NotNil(t, got)
	assert.Equal(t, "d-123", got.TemplateID)
	assert.Equal(t, "orders@shop.example", got.From.Address)
	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, "anna@example.com", got.Personalizations[0].To[0].Address)
	assert.Equal(t, "H123456", got.Personalizations[0].DynamicTemplateData["order_number"])
	assert.Equal(t, []string{"invoice"}, got.Categories)
}

func TestSendRejectsNon2xx(t *testing.T) {
	c := stubClient(400, nil, nil, nil)
	_, err := c.Send(context.Background(), Message{TemplateID: "d-1", ToEmail: "a@b.c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestSendPropagatesTransportError(t *testing.T) {
	c := stubClient(0, nil, errors.New("dial tcp"), nil)
	_, err := c.Send(context.Background(), Message{TemplateID: "d-1", ToEmail: "a@b.c"})
	require.ErrorContains(t, err, "dial tcp")
}

func TestSendValidatesMessage(t *testing.T) {
	c := stubClient(202, nil, nil, nil)
	_, err := c.Send(context.Background(), Message{ToEmail: "a@b.c"})
	require.Error(t, err)
	_, err = c.Send(context.Background(), Message{TemplateID: "d-1"})
	require.Error(t, err)
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(config.SendgridConfig{})
	require.Error(t, err)

	c, err := NewClient(config.SendgridConfig{APIKey: "SG.key", DefaultFrom: "a@b.c"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}
