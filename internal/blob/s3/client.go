// Package s3blob implements domain.BlobWriter over an S3-compatible object
// store. The engine writes cold archives of settled key transactions here;
// MinIO and Cloudflare R2 work as well as AWS proper via the endpoint
// override.
package s3blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds connection parameters for the archive bucket.
type ClientConfig struct {
	// Endpoint overrides the S3 endpoint for compatible providers. Empty
	// means AWS proper. A bare host is allowed; the scheme is derived from
	// UseSSL.
	Endpoint string

	Region string

	// Bucket is the archive bucket all writes target.
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL picks the scheme when Endpoint carries none.
	UseSSL bool

	// ForcePathStyle puts the bucket in the URL path instead of the host,
	// which most self-hosted providers require.
	ForcePathStyle bool
}

// endpointURL returns the endpoint with a scheme, or "" for AWS proper.
func (cfg ClientConfig) endpointURL() string {
	ep := cfg.Endpoint
	if ep == "" || strings.Contains(ep, "://") {
		return ep
	}
	if cfg.UseSSL {
		return "https://" + ep
	}
	return "http://" + ep
}

// Client holds the configured driver and the archive bucket name for the
// writer in this package.
type Client struct {
	api    *s3.Client
	bucket string
}

// New builds the S3 client from static credentials and the optional endpoint
// override. It does not touch the network; call Health to verify the bucket
// is reachable.
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

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if ep := cfg.endpointURL(); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{api: api, bucket: cfg.Bucket}, nil
}

// Health verifies the archive bucket exists and the credentials can reach it.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: bucket %s unreachable: %w", c.bucket, err)
	}
	return nil
}

// Close exists for symmetry with the other clients; the SDK's HTTP client
// needs no teardown.
func (c *Client) Close() error {
	return nil
}
