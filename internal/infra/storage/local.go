package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound means no artifact is stored under the key.
	ErrNotFound = errors.New("artifact not found")
	// ErrExists means the key is taken; artifacts are write-once.
	ErrExists = errors.New("artifact already exists")
	// ErrInvalidKey means the key escapes the store root.
	ErrInvalidKey = errors.New("invalid artifact key")
)

// LocalStore keeps artifacts under Root on the local filesystem.
type LocalStore struct {
	Root    string
	BaseURL string // optional public prefix; file:// URLs otherwise
}

func NewLocal(root, baseURL string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{Root: abs, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.Root, filepath.FromSlash(key)), nil
}

func (s *LocalStore) url(key, path string) string {
	if s.BaseURL != "" {
		return s.BaseURL + "/" + key
	}
	return "file://" + filepath.ToSlash(path)
}

// Upload copies localPath into the store.
func (s *LocalStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return "", fmt.Errorf("%w: %s", ErrExists, key)
	}
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", err
	}
	return s.url(key, dst), nil
}

// UploadAndCleanup stores localPath and removes it.
func (s *LocalStore) UploadAndCleanup(ctx context.Context, localPath, key string) (string, error) {
	url, err := s.Upload(ctx, localPath, key)
	if err != nil {
		return "", err
	}
	if err := os.Remove(localPath); err != nil {
		log.Printf("storage: remove local file=%s err=%v", localPath, err)
	}
	return url, nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, err
}
