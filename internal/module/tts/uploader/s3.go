package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	apperrors "github.com/vocalize/tts-server/internal/shared/errors"
)

// Uploader publishes task artifacts to object storage and returns their
// public URLs. The file name is joined with the configured remote path to
// form the object key.
type Uploader interface {
	Upload(ctx context.Context, filename string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, filename string) error
}

// Config holds object storage configuration.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	RemotePath      string
}

// S3Uploader uploads artifacts to an S3-compatible bucket. Uploads retry
// with exponential backoff; upload failure is not fatal to a task, the
// local files remain the source of truth.
type S3Uploader struct {
	client     *s3.Client
	bucket     string
	endpoint   string
	remotePath string

	maxAttempts int
	retryDelay  time.Duration
}

// NewS3Uploader creates an uploader from the given configuration.
func NewS3Uploader(cfg *Config) (*S3Uploader, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return nil, errors.New("incomplete object storage configuration")
	}

	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &S3Uploader{
		client:      client,
		bucket:      cfg.Bucket,
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		remotePath:  cfg.RemotePath,
		maxAttempts: 3,
		retryDelay:  time.Second,
	}, nil
}

// Key builds the object key for an artifact file name by prefixing the
// configured remote path.
func (u *S3Uploader) Key(filename string) string {
	return path.Join(u.remotePath, filename)
}

// Upload puts an object under the remote path and returns its public URL.
func (u *S3Uploader) Upload(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	key := u.Key(filename)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	var lastErr error
	delay := u.retryDelay
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		input.Body = bytes.NewReader(data)
		_, err := u.client.PutObject(ctx, input)
		if err == nil {
			return fmt.Sprintf("%s/%s/%s", u.endpoint, u.bucket, key), nil
		}
		lastErr = err

		if attempt < u.maxAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return "", apperrors.Upload(
		fmt.Sprintf("put object %s after %d attempts", key, u.maxAttempts), lastErr)
}

// Delete removes an object. Deleting a missing object is not an error.
func (u *S3Uploader) Delete(ctx context.Context, filename string) error {
	_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(u.Key(filename)),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
