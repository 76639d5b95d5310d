package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/farm-fe/farm-sub000/internal/config"
)

// S3Store keeps cache entries in an S3-compatible bucket
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Store(options config.S3Options) (*S3Store, error) {
	client, err := minio.New(options.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(options.AccessKey, options.SecretKey, ""),
		Secure: options.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create s3 client for %q: %w", options.Endpoint, err)
	}
	return &S3Store{client: client, bucket: options.Bucket, prefix: options.Prefix}, nil
}

func (s *S3Store) Name() string {
	return "s3"
}

func (s *S3Store) objectName(key string) string {
	return s.prefix + key + ".mp"
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	object, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, false, err
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/msgpack",
	})
	return err
}

func (s *S3Store) Clear(ctx context.Context) error {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true})
	for object := range objects {
		if object.Err != nil {
			return object.Err
		}
		if err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return err
		}
	}
	return nil
}
