package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	cloudstorage "cloud.google.com/go/storage"
	"github.com/jaevor/go-nanoid"

	"github.com/heatflow/oilshop-backend/pkg/config"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

const (
	pingTimeout  = 5 * time.Second
	objectSuffix = 12
)

// Pinger is satisfied by anything that can report bucket reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Uploader stores rendered artifacts and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, objectName, contentType string, data []byte) (string, error)
}

// Client wraps a Cloud Storage client bound to the invoice bucket.
type Client struct {
	client        *cloudstorage.Client
	bucket        string
	prefix        string
	publicBaseURL string
	suffix        func() string
}

// NewClient builds a Cloud Storage client for the invoice bucket.
func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BucketName) == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	sc, err := cloudstorage.NewClient(ctx, gcp.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	gen, err := nanoid.Standard(objectSuffix)
	if err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("object suffix generator: %w", err)
	}

	client := &Client{
		client:        sc,
		bucket:        cfg.BucketName,
		prefix:        strings.Trim(cfg.InvoicePrefix, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		suffix:        gen,
	}

	if err := client.Ping(ctx); err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.BucketName), "gcs client initialized")
	}
	return client, nil
}

// Upload writes data under the configured prefix with a random suffix and
// returns the object's public URL.
func (c *Client) Upload(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("gcs client not initialized")
	}
	name := c.ObjectName(objectName)

	w := c.client.Bucket(c.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "private, max-age=0"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", name, err)
	}
	return PublicURL(c.publicBaseURL, c.bucket, name), nil
}

// ObjectName places base under the prefix and appends the random suffix
// before the extension: invoices/DE-2026-000001-<suffix>.html.
func (c *Client) ObjectName(base string) string {
	base = strings.Trim(strings.TrimSpace(base), "/")
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	suffix := ""
	if c.suffix != nil {
		suffix = "-" + c.suffix()
	}
	name := stem + suffix + ext
	if c.prefix != "" {
		name = c.prefix + "/" + name
	}
	return name
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("gcs client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := c.client.Bucket(c.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// PublicURL joins the base URL, bucket and escaped object path.
func PublicURL(baseURL, bucket, object string) string {
	segments := strings.Split(object, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(baseURL, "/") + "/" + bucket + "/" + strings.Join(segments, "/")
}
