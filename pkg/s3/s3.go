package s3

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client is a thin wrapper around the AWS SDK v2 S3 client for S3-compatible storage
// endpoints (Supabase storage, SeaweedFS, MinIO).
type Client struct {
	api     *s3.Client
	presign *s3.PresignClient

	endpoint      string
	publicBaseURL string
}

// NewClientFromEnv initialises a Client using environment variables expected by the project.
//
// Required environment variables:
//   - S3_ENDPOINT: host:port or full URL to the S3 endpoint.
//   - S3_ACCESS_KEY / S3_SECRET_KEY: static credentials.
//
// Optional environment variables:
//   - S3_REGION (default "us-east-1").
//   - S3_DISABLE_TLS (bool; default false) to toggle TLS usage.
//   - S3_FORCE_PATH_STYLE (bool; default true).
//   - S3_PUBLIC_URL: base URL objects are publicly served from. Defaults to the endpoint.
func NewClientFromEnv(ctx context.Context) (*Client, error) {
	endpoint := strings.TrimSpace(os.Getenv("S3_ENDPOINT"))
	accessKey := os.Getenv("S3_ACCESS_KEY")
	secretKey := os.Getenv("S3_SECRET_KEY")
	region := os.Getenv("S3_REGION")
	if region == "" {
		region = "us-east-1"
	}

	if endpoint == "" {
		return nil, errors.New("S3_ENDPOINT is required")
	}
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}

	disableTLS, _ := strconv.ParseBool(os.Getenv("S3_DISABLE_TLS"))
	forcePathStyle := true
	if v := strings.TrimSpace(os.Getenv("S3_FORCE_PATH_STYLE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			forcePathStyle = parsed
		}
	}

	endpoint = normalizeEndpoint(endpoint, disableTLS)

	cfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithHTTPClient(&http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = forcePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	publicBase := strings.TrimSpace(os.Getenv("S3_PUBLIC_URL"))
	if publicBase == "" {
		publicBase = endpoint
	}

	return &Client{
		api:           client,
		presign:       s3.NewPresignClient(client),
		endpoint:      endpoint,
		publicBaseURL: strings.TrimRight(publicBase, "/"),
	}, nil
}

func normalizeEndpoint(endpoint string, disableTLS bool) string {
	scheme := "https"
	if disableTLS {
		scheme = "http"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = fmt.Sprintf("%s://%s", scheme, endpoint)
	}
	return strings.TrimRight(endpoint, "/")
}

// PutObject uploads data to the given bucket/key. When sha256 is non-empty it is sent
// as the object checksum and stored in the object metadata.
func (c *Client) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType, sha256 string) error {
	if c == nil {
		return errors.New("nil client")
	}

	input := &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          r,
		ContentLength: &size,
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if sha256 != "" {
		checksum, err := encodeSHA256(sha256)
		if err != nil {
			return err
		}
		input.ChecksumAlgorithm = s3types.ChecksumAlgorithmSha256
		input.ChecksumSHA256 = &checksum
		input.Metadata = map[string]string{"sha256": sha256}
	}

	_, err := c.api.PutObject(ctx, input)
	return err
}

// PublicURL returns the URL an object is publicly served from, path-style:
// {base}/{bucket}/{key}. Key segments are escaped individually.
func (c *Client) PublicURL(bucket, key string) string {
	if c == nil {
		return ""
	}
	return publicObjectURL(c.publicBaseURL, bucket, key)
}

func publicObjectURL(base, bucket, key string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	bucket = strings.Trim(bucket, "/")
	key = strings.TrimLeft(key, "/")
	if base == "" || bucket == "" || key == "" {
		return ""
	}

	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return base + "/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}

// PresignGet generates a presigned GET URL for the provided key and TTL.
func (c *Client) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if c == nil {
		return "", errors.New("nil client")
	}

	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", err
	}

	return req.URL, nil
}

// HeadBucket checks that the bucket exists and the credentials can reach it.
func (c *Client) HeadBucket(ctx context.Context, bucket string) error {
	if c == nil {
		return errors.New("nil client")
	}
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucket})
	return err
}

func encodeSHA256(hexDigest string) (string, error) {
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("sha256 digest must be 32 bytes, got %d", len(raw))
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
