// Package avatar stores profile images in an S3-compatible bucket and hands
// back publicly reachable URLs.
package avatar

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"promptdeck/api/internal/util"
)

const maxAvatarBytes = 5 << 20

type Service struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewService connects to the object store and ensures the avatar bucket
// exists with anonymous read access.
func NewService(endpoint, accessKey, secretKey, bucket, publicURL string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	if publicURL == "" {
		publicURL = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	s := &Service{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}

	policy := fmt.Sprintf(`{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"AWS": ["*"]},
			"Action": ["s3:GetObject"],
			"Resource": ["arn:aws:s3:::%s/*"]
		}]
	}`, s.bucket)
	if err := s.client.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
		return fmt.Errorf("set bucket policy: %w", err)
	}
	return nil
}

// Upload stores an avatar image and returns its public URL. Each upload gets
// a fresh object name so cached copies of the old avatar never mask the new
// one.
func (s *Service) Upload(ctx context.Context, userID, contentType string, size int64, body io.Reader) (string, error) {
	ext, ok := extensionFor(contentType)
	if !ok {
		return "", fmt.Errorf("unsupported avatar content type %q", contentType)
	}
	if size <= 0 || size > maxAvatarBytes {
		return "", fmt.Errorf("avatar size %d out of bounds", size)
	}

	objectName := fmt.Sprintf("%s/%s%s", userID, util.NewID(""), ext)
	_, err := s.client.PutObject(ctx, s.bucket, objectName, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("store avatar: %w", err)
	}

	return objectURL(s.publicURL, s.bucket, objectName), nil
}

func extensionFor(contentType string) (string, bool) {
	switch contentType {
	case "image/png":
		return ".png", true
	case "image/jpeg":
		return ".jpg", true
	case "image/webp":
		return ".webp", true
	case "image/gif":
		return ".gif", true
	default:
		return "", false
	}
}

func objectURL(base, bucket, objectName string) string {
	return fmt.Sprintf("%s/%s/%s", base, bucket, objectName)
}
