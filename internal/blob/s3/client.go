// Package s3blob is the cold storage layer: aged ledger records are
// serialized and parked in an S3-compatible bucket. Any provider with an S3
// API works (AWS, MinIO, R2) via the Endpoint override.
package s3blob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds credentials and addressing for the archive bucket.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for S3-compatible providers.
	// Empty means standard AWS S3.
	Endpoint string
	Region   string
	Bucket   string

	AccessKey string
	SecretKey string

	// UseSSL picks the scheme when Endpoint is given without one.
	UseSSL bool
	// ForcePathStyle puts the bucket in the URL path instead of the
	// subdomain. Most non-AWS providers need it.
	ForcePathStyle bool
}

// Client holds the SDK client and the archive bucket name.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds the SDK client with static credentials and the optional
// endpoint override.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := withScheme(cfg.Endpoint, cfg.UseSSL)
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		opts = append(opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Client{
		s3:     s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Health verifies the bucket is reachable with the configured credentials.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	}); err != nil {
		return fmt.Errorf("s3blob: bucket %s unreachable: %w", c.bucket, err)
	}
	return nil
}

// Close exists for wiring symmetry; the SDK client has no teardown.
func (c *Client) Close() error {
	return nil
}

// S3 returns the underlying SDK client.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the archive bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// withScheme prepends https:// or http:// when the endpoint lacks a scheme.
func withScheme(endpoint string, useSSL bool) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Scheme != "" {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}
