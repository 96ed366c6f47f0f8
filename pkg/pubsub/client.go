// Package pubsub owns the Pub/Sub connection for the orders topic and the
// analytics subscription.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/multierr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/heatflow/oilshop-backend/pkg/config"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	ps        *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// NewClient connects and checks that the orders topic exists. Topics and
// subscriptions are provisioned outside the service.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	ps, err := pubsub.NewClient(ctx, project, gcp.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client for %s: %w", project, err)
	}
	c := &Client{ps: ps, projectID: project, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		return nil, multierr.Append(err, ps.Close())
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", cfg.OrdersTopic), "pubsub ready")
	}
	return c, nil
}

// Ping looks up the orders topic.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return errNotInitialized
	}
	name := resourceName(c.projectID, "topics", c.cfg.OrdersTopic)
	if name == "" {
		return errors.New("pubsub orders topic is required")
	}
	_, err := c.ps.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	return lookupError("topic", c.cfg.OrdersTopic, err)
}

// Publisher returns a handle for topic, an id or a full resource name, or nil
// when the name cannot be resolved.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.ps == nil {
		return nil
	}
	name := resourceName(c.projectID, "topics", topic)
	if name == "" {
		return nil
	}
	return c.ps.Publisher(name)
}

// AnalyticsSubscription checks the configured subscription exists and
// returns its subscriber.
func (c *Client) AnalyticsSubscription(ctx context.Context) (*pubsub.Subscriber, error) {
	if c == nil || c.ps == nil {
		return nil, errNotInitialized
	}
	name := resourceName(c.projectID, "subscriptions", c.cfg.AnalyticsSubscription)
	if name == "" {
		return nil, errors.New("pubsub analytics subscription is required")
	}
	_, err := c.ps.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
	if err := lookupError("subscription", c.cfg.AnalyticsSubscription, err); err != nil {
		return nil, err
	}
	return c.ps.Subscriber(name), nil
}

func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	return c.ps.Close()
}

func lookupError(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("pubsub %s %q does not exist", kind, name)
	default:
		return fmt.Errorf("pubsub %s %q: %w", kind, name, err)
	}
}

// resourceName expands a short id to projects/<project>/<collection>/<id>.
// Full names for the same collection pass through unchanged.
func resourceName(projectID, collection, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+collection+"/") {
		return name
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ""
	}
	return "projects/" + projectID + "/" + collection + "/" + name
}
