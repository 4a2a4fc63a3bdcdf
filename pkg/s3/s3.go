package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"ai-influencer/pkg/config"
	"ai-influencer/pkg/retry"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
)

type Client struct {
	s3Client s3iface.S3API
	bucket   string
	tempDir  string
	retry    retry.Config
}

func NewClient(cfg *config.Config) (*Client, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.AWSRegion),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWSAccessKeyID,
			cfg.AWSSecretAccessKey,
			"",
		),
	}

	// Support MinIO for local development
	if cfg.AWSEndpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.AWSEndpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
		if cfg.S3UseSSL == "false" {
			awsConfig.DisableSSL = aws.Bool(true)
		}
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewWithAPI(s3.New(sess), cfg.S3BucketName, cfg.MediaTempDir), nil
}

// NewWithAPI wraps an existing S3 API implementation.
func NewWithAPI(api s3iface.S3API, bucket, tempDir string) *Client {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Client{
		s3Client: api,
		bucket:   bucket,
		tempDir:  tempDir,
		retry:    retry.DefaultConfig(),
	}
}

func (c *Client) UploadFile(key string, file io.Reader, contentType string) (string, error) {
	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, file); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	_, err := c.s3Client.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file to S3: %w", err)
	}

	return key, nil
}

// FetchMedia makes every media reference available as a local file. Absolute
// paths that already exist are passed through; anything else is treated as an
// object key or bucket URL and downloaded. cleanup removes downloaded files only.
func (c *Client) FetchMedia(ctx context.Context, refs []string) ([]string, func(), error) {
	var downloaded []string
	cleanup := func() {
		for _, p := range downloaded {
			os.Remove(p)
		}
	}

	paths := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if filepath.IsAbs(ref) {
			if _, err := os.Stat(ref); err == nil {
				paths = append(paths, ref)
				continue
			}
		}

		key, err := KeyFromRef(c.bucket, ref)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}

		local, err := c.download(ctx, key)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		downloaded = append(downloaded, local)
		paths = append(paths, local)
	}

	return paths, cleanup, nil
}

// download streams the object into a temp file. A retried attempt starts the
// file over so a body that broke mid-copy never leaves a partial prefix behind.
func (c *Client) download(ctx context.Context, key string) (string, error) {
	cfg := c.retry
	cfg.ShouldRetry = isRetryable

	local := filepath.Join(c.tempDir, uuid.New().String()+path.Ext(key))
	f, err := os.OpenFile(local, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create media file: %w", err)
	}
	defer f.Close()

	err = retry.Run(ctx, cfg, func() error {
		if err := f.Truncate(0); err != nil {
			return err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		out, err := c.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		_, err = io.Copy(f, out.Body)
		return err
	})
	if err != nil {
		os.Remove(local)
		return "", fmt.Errorf("failed to download %s from S3: %w", key, err)
	}
	return local, nil
}

func isRetryable(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "AccessDenied", "NotFound":
			return false
		}
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// KeyFromRef turns an object key, path-style URL or virtual-hosted URL into an object key.
func KeyFromRef(bucket, ref string) (string, error) {
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		key := strings.TrimPrefix(ref, "/")
		if key == "" {
			return "", fmt.Errorf("empty media reference")
		}
		return key, nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid media url %q: %w", ref, err)
	}

	p := strings.TrimPrefix(u.Path, "/")
	if strings.HasPrefix(u.Host, bucket+".") {
		return p, nil
	}
	if strings.HasPrefix(p, bucket+"/") {
		return strings.TrimPrefix(p, bucket+"/"), nil
	}
	return "", fmt.Errorf("media url %q is not in bucket %s", ref, bucket)
}
