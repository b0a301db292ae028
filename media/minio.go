// Package media stores report attachments in S3-compatible object storage,
// keyed by report id prefix so a report's whole media set can be listed and
// deleted together.
package media

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apex/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Upload is one attachment to store.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// Storage handles report media in a single bucket.
type Storage struct {
	client *minio.Client
	bucket string
}

// NewStorage builds a MinIO-backed storage and ensures the bucket exists.
func NewStorage(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		log.Warnf("Failed to check bucket %s, continuing: %v", bucket, err)
	} else if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		log.Infof("Bucket %s created", bucket)
	}

	return &Storage{client: client, bucket: bucket}, nil
}

// UploadAll stores every file under the key prefix. All uploads must succeed;
// report publish depends on the media set being complete before the document
// is written.
func (s *Storage) UploadAll(ctx context.Context, keyPrefix string, files []Upload) error {
	for _, f := range files {
		key := keyPrefix + "/" + f.Name
		_, err := s.client.PutObject(ctx, s.bucket, key, f.Reader, f.Size, minio.PutObjectOptions{
			ContentType: f.ContentType,
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
	}
	return nil
}

// ListURLs returns presigned download URLs for every object under the prefix.
func (s *Storage) ListURLs(ctx context.Context, keyPrefix string) ([]string, error) {
	urls := make([]string, 0)
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    keyPrefix + "/",
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, object.Err
		}
		u, err := s.client.PresignedGetObject(ctx, s.bucket, object.Key, 24*time.Hour, nil)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u.String())
	}
	return urls, nil
}

// DeleteAll removes every object under the prefix. Used by the report delete
// cascade and to clear orphans left by a crashed publish.
func (s *Storage) DeleteAll(ctx context.Context, keyPrefix string) error {
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    keyPrefix + "/",
		Recursive: true,
	}) {
		if object.Err != nil {
			return object.Err
		}
		if err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return err
		}
	}
	return nil
}
