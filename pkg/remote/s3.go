package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CTAG07/Frond/pkg/preview"
	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"
)

// S3Config locates the object store for s3:// asset URLs.
type S3Config struct {
	Region string `json:"region"`
	// Endpoint overrides the AWS endpoint, e.g. for MinIO.
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
	UsePathStyle    bool   `json:"use_path_style"`
}

// DefaultS3Config targets us-east-1 anonymously.
func DefaultS3Config() S3Config {
	return S3Config{Region: "us-east-1"}
}

// S3API is the part of *s3.Client the fetcher needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds an S3 client from cfg. Without an access key requests
// are sent unsigned, which works for public buckets.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
		Credentials:  aws.AnonymousCredentials{},
	}
	if opts.Region == "" {
		opts.Region = DefaultS3Config().Region
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		creds := aws.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			SessionToken:    cfg.SessionToken,
			Source:          "frond config",
		}
		opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		})
	}
	return s3.New(opts)
}

// S3Fetcher downloads s3://bucket/key asset URLs.
type S3Fetcher struct {
	client   S3API
	maxBytes int64
	logger   *slog.Logger
}

var _ preview.Fetcher = (*S3Fetcher)(nil)

// NewS3Fetcher wraps client, usually the result of NewS3Client.
func NewS3Fetcher(client S3API, maxBytes int64, logger *slog.Logger) *S3Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Fetcher{client: client, maxBytes: maxBytes, logger: logger}
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 url: %q", rawURL)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url needs a bucket and a key: %q", rawURL)
	}
	return bucket, key, nil
}

func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string) (*preview.Fetched, error) {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return nil, &preview.FetchError{URL: rawURL, Err: err}
	}

	start := time.Now()
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &preview.FetchError{URL: rawURL, StatusCode: s3StatusCode(err), Err: err}
	}
	defer out.Body.Close()

	if f.maxBytes > 0 && out.ContentLength != nil && *out.ContentLength > f.maxBytes {
		return nil, &preview.FetchError{URL: rawURL, StatusCode: http.StatusOK,
			Err: fmt.Errorf("%w: %s announced", ErrTooLarge, humanize.IBytes(uint64(*out.ContentLength)))}
	}
	body, err := readLimited(out.Body, f.maxBytes)
	if err != nil {
		return nil, &preview.FetchError{URL: rawURL, StatusCode: http.StatusOK, Err: err}
	}

	f.logger.Debug("Fetched S3 asset", "bucket", bucket, "key", key, "size", humanize.Bytes(uint64(len(body))), "duration", time.Since(start))
	return &preview.Fetched{ContentType: aws.ToString(out.ContentType), Body: body}, nil
}

// s3StatusCode extracts the HTTP status from an SDK error, 0 if none.
func s3StatusCode(err error) int {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return http.StatusNotFound
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}
