// Package objectstore presigns downloads from an S3-compatible bucket (Cloudflare R2 in production).
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/config"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

const (
	minPresignTTL = time.Minute
	maxPresignTTL = 7 * 24 * time.Hour // S3 signature v4 limit
)

type Store struct {
	client       *s3.S3
	bucket       string
	customDomain string
}

func New(cfg config.ObjectStoreConfig) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("objectstore.bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg := &aws.Config{
		Region:           aws.String(region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("object store session: %w", err)
	}

	return &Store{
		client:       s3.New(sess),
		bucket:       cfg.Bucket,
		customDomain: strings.TrimSpace(cfg.CustomDomain),
	}, nil
}

// PresignGet returns a URL that downloads key for ttl. When fileName is set the object
// is served as an attachment under that name.
func (s *Store) PresignGet(key, fileName string, ttl time.Duration) (string, error) {
	ttl = min(max(ttl, minPresignTTL), maxPresignTTL)

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if fileName != "" {
		input.ResponseContentDisposition = aws.String(
			mime.FormatMediaType("attachment", map[string]string{"filename": fileName}),
		)
	}

	req, _ := s.client.GetObjectRequest(input)
	signed, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}

	if s.customDomain == "" {
		return signed, nil
	}

	// Keep path and query (the signature) and swap only the host.
	u, err := url.Parse(signed)
	if err != nil {
		return "", fmt.Errorf("parse presigned url: %w", err)
	}
	u.Scheme = "https"
	u.Host = s.customDomain
	return u.String(), nil
}

// Delete removes key from the bucket. Deleting a missing key succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
