package localfs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

// Storage keeps session artifacts as files under basePath.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/sessions"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

// Save writes data to a temp file and renames it into place, so a crash
// never leaves a partial artifact under key.
func (s *Storage) Save(_ context.Context, key string, data io.Reader) (domain.ArtifactRef, error) {
	target, err := s.resolve(key)
	if err != nil {
		return domain.ArtifactRef{}, err
	}
	content, err := io.ReadAll(data)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("read artifact data: %w", err)
	}
	if err := writeFileAtomic(target, content); err != nil {
		return domain.ArtifactRef{}, err
	}
	return domain.ArtifactRef{Key: key, Digest: digest(key, content)}, nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, classify("open file", err)
	}
	return f, nil
}

func (s *Storage) Exists(_ context.Context, key string) (bool, error) {
	target, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, classify("stat file", err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *Storage) Digest(_ context.Context, key string) (string, error) {
	target, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(target)
	if err != nil {
		return "", classify("read file", err)
	}
	return digest(key, content), nil
}

// Path returns the filesystem location of key, for callers that hand files to users.
func (s *Storage) Path(key string) (string, error) {
	return s.resolve(key)
}

func (s *Storage) resolve(key string) (string, error) {
	clean := path.Clean(strings.TrimSpace(key))
	if clean == "." || clean == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve artifact key", fmt.Errorf("unsafe key %q", key))
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}

// digest hashes the canonical form of JSON artifacts so formatting-only
// rewrites keep their digest. Other artifacts hash their raw bytes.
func digest(key string, content []byte) string {
	if strings.HasSuffix(key, ".json") {
		if canonical, err := jcs.Transform(content); err == nil {
			content = canonical
		}
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func writeFileAtomic(target string, content []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, bytes.NewReader(content)); err != nil {
		tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return domain.WrapError(domain.ErrNotFound, op, err)
	case errors.Is(err, fs.ErrPermission):
		return domain.WrapError(domain.ErrAccess, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
