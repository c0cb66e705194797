package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStore keeps assets on the filesystem under a configured root and
// serves them from a configured public URL prefix.
type LocalStore struct {
	root      string
	publicURL string
}

func NewLocalStore(root, publicURL string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{
		root:      root,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

func (s *LocalStore) Put(ctx context.Context, namespace string, data []byte, contentType string) (AssetDescriptor, error) {
	select {
	case <-ctx.Done():
		return AssetDescriptor{}, ctx.Err()
	default:
	}

	key := path.Join(namespace, newFilename(contentType))
	if err := s.write(key, data); err != nil {
		return AssetDescriptor{}, unavailable("put asset", err)
	}

	if isImage(contentType) {
		thumb, err := makeThumbnail(data)
		if err != nil {
			return AssetDescriptor{}, fmt.Errorf("derive thumbnail for %s: %w", key, err)
		}
		if err := s.write(companionKey(key), thumb); err != nil {
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

// PutStream writes the asset straight from the reader. The descriptor size is
// the byte count actually copied.
func (s *LocalStore) PutStream(ctx context.Context, namespace string, r io.Reader, _ int64, contentType string) (AssetDescriptor, error) {
	select {
	case <-ctx.Done():
		return AssetDescriptor{}, ctx.Err()
	default:
	}

	key := path.Join(namespace, newFilename(contentType))
	full := s.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return AssetDescriptor{}, unavailable("put asset", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return AssetDescriptor{}, unavailable("put asset", err)
	}
	written, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return AssetDescriptor{}, unavailable("put asset", err)
	}
	if err := f.Close(); err != nil {
		return AssetDescriptor{}, unavailable("put asset", err)
	}

	return AssetDescriptor{
		Key:         key,
		URL:         s.Locate(key),
		Size:        written,
		ContentType: contentType,
	}, nil
}

func (s *LocalStore) write(key string, data []byte) error {
	full := s.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

// Delete removes the primary asset and its thumbnail companion. Absent keys
// are a no-op so repeated deletes never fail.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.Remove(s.fullPath(key)); err != nil && !os.IsNotExist(err) {
		return unavailable("delete asset", err)
	}
	if err := os.Remove(s.fullPath(companionKey(key))); err != nil && !os.IsNotExist(err) {
		return unavailable("delete thumbnail", err)
	}
	return nil
}

func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.fullPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, unavailable("stat asset", err)
}

func (s *LocalStore) Locate(key string) string {
	return s.publicURL + "/" + key
}

func (s *LocalStore) Open(_ context.Context, key string) (ReadSeekCloser, int64, error) {
	f, err := os.Open(s.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("open asset %s: %w", key, os.ErrNotExist)
		}
		return nil, 0, unavailable("open asset", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, unavailable("stat asset", err)
	}
	return f, info.Size(), nil
}

func (s *LocalStore) fullPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}
