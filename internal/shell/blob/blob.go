// Package blob is the object storage adapter. It pushes rendered artifact
// sets to an S3-compatible bucket (Cloudflare R2 in production) under
// versioned per-user prefixes.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/leger-labs/leger/internal/core/domain"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds S3-compatible storage settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool

	// PublicBaseURL is the externally reachable URL prefix for uploaded
	// objects, without a trailing slash.
	PublicBaseURL string
}

// =============================================================================
// Client
// =============================================================================

// Client wraps a minio client bound to one bucket.
type Client struct {
	mc     *minio.Client
	config Config
	logger *slog.Logger
}

// New creates a storage client. It does not touch the network; the first
// operation does.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("blob client: %w", err)
	}
	return &Client{mc: mc, config: cfg, logger: logger}, nil
}

// =============================================================================
// Object Operations
// =============================================================================

// Put writes one object. The content type is derived from the key's
// extension.
func (c *Client) Put(ctx context.Context, key string, content []byte) error {
	_, err := c.mc.PutObject(ctx, c.config.Bucket, key,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: ContentTypeFor(key)})
	if err != nil {
		return &domain.UploadError{Key: key, Err: err}
	}
	c.logger.Debug("uploaded object", "key", key, "size", len(content))
	return nil
}

// Get reads one object in full.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, c.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether the object is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.mc.StatObject(ctx, c.config.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// List returns the keys under a prefix, in listing order.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range c.mc.ListObjects(ctx, c.config.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Delete removes one object. Deleting a missing object is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.mc.RemoveObject(ctx, c.config.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// RemovePrefix deletes every object under a prefix. Used when a release is
// deleted to clear its uploaded artifact sets.
func (c *Client) RemovePrefix(ctx context.Context, prefix string) error {
	keys, err := c.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := c.Delete(ctx, key); err != nil {
			return err
		}
	}
	c.logger.Info("removed object prefix", "prefix", prefix, "objects", len(keys))
	return nil
}

// =============================================================================
// Path Helpers
// =============================================================================

// ObjectPath builds the canonical object key for one artifact:
// {userUUID}/{releaseID}/v{version}/{filename}. The release id keeps
// sibling releases of one user from sharing a version prefix.
func ObjectPath(userUUID, releaseID string, version int, filename string) string {
	return path.Join(userUUID, releaseID, fmt.Sprintf("v%d", version), filename)
}

// ContentTypeFor maps a key's extension to its upload content type.
func ContentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".yaml"), strings.HasSuffix(key, ".yml"):
		return "application/yaml"
	default:
		return "text/plain"
	}
}

// PublicURL returns the externally reachable URL for an object key.
func (c *Client) PublicURL(key string) string {
	return c.config.PublicBaseURL + "/" + key
}
