package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	Region   string
	UseSSL   bool
}

// MinioStore is the object-storage variant of the asset store. Objects are
// written public-read and located by their path-style bucket URL.
type MinioStore struct {
	minio    *minio.Client
	bucket   string
	endpoint string
	useSSL   bool
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioStore{
		minio:    mc,
		bucket:   cfg.Bucket,
		endpoint: cfg.Endpoint,
		useSSL:   cfg.UseSSL,
	}, nil
}

func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.minio.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.minio.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := s.minio.BucketExists(ctx, s.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, namespace string, data []byte, contentType string) (AssetDescriptor, error) {
	key := path.Join(namespace, newFilename(contentType))
	if err := s.write(ctx, key, data, contentType); err != nil {
		return AssetDescriptor{}, unavailable("put object", err)
	}

	if isImage(contentType) {
		thumb, err := makeThumbnail(data)
		if err != nil {
			return AssetDescriptor{}, fmt.Errorf("derive thumbnail for %s: %w", key, err)
		}
		if err := s.write(ctx, companionKey(key), thumb, "image/jpeg"); err != nil {
			return AssetDescriptor{}, unavailable("put thumbnail", err)
		}
	}

	return AssetDescriptor{
		Key:         key,
		URL:         s.Locate(key),
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

// PutStream hands the reader straight to the object client; minio chunks the
// upload itself, so nothing is buffered here.
func (s *MinioStore) PutStream(ctx context.Context, namespace string, r io.Reader, size int64, contentType string) (AssetDescriptor, error) {
	key := path.Join(namespace, newFilename(contentType))
	if _, err := s.minio.PutObject(
		ctx,
		s.bucket,
		key,
		r,
		size,
		minio.PutObjectOptions{ContentType: contentType},
	); err != nil {
		return AssetDescriptor{}, unavailable("put object", err)
	}

	return AssetDescriptor{
		Key:         key,
		URL:         s.Locate(key),
		Size:        size,
		ContentType: contentType,
	}, nil
}

func (s *MinioStore) write(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.minio.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	return err
}

// Delete removes the primary object and its thumbnail companion. RemoveObject
// succeeds for absent keys, which gives the idempotent-delete contract for
// free.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.minio.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return unavailable("delete object", err)
	}
	if err := s.minio.RemoveObject(ctx, s.bucket, companionKey(key), minio.RemoveObjectOptions{}); err != nil {
		return unavailable("delete thumbnail", err)
	}
	return nil
}

func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.minio.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject" {
		return false, nil
	}
	return false, unavailable("stat object", err)
}

func (s *MinioStore) Locate(key string) string {
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, key)
}

func (s *MinioStore) Open(ctx context.Context, key string) (ReadSeekCloser, int64, error) {
	stat, err := s.minio.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject" {
			return nil, 0, fmt.Errorf("open object %s: %w", key, os.ErrNotExist)
		}
		return nil, 0, unavailable("stat object", err)
	}

	obj, err := s.minio.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, unavailable("get object", err)
	}
	return obj, stat.Size, nil
}
