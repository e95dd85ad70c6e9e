package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

var DefaultExtensions = []string{".pdf", ".txt"}

// DocumentStore reads patient records from folders under root.
// A reference names a folder relative to root; subfolders are included.
type DocumentStore struct {
	root       string
	extensions []string
}

func NewDocumentStore(root string, extensions []string) *DocumentStore {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	return &DocumentStore{root: root, extensions: normalized}
}

// Fetch returns matching files sorted by relative path, which is the ingestion order.
func (s *DocumentStore) Fetch(ctx context.Context, reference string) ([]domain.RawDocument, error) {
	dir, err := s.folder(reference)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, classify("stat reference", err)
	}
	if !info.IsDir() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch documents", fmt.Errorf("reference %q is not a folder", reference))
	}

	var files []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if p != dir && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && slices.Contains(s.extensions, strings.ToLower(filepath.Ext(name))) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, classify("walk reference", err)
	}
	sort.Strings(files)

	docs := make([]domain.RawDocument, 0, len(files))
	for i, p := range files {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, classify("read document", err)
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			rel = filepath.Base(p)
		}
		docs = append(docs, domain.RawDocument{
			Name:        filepath.ToSlash(rel),
			ContentType: contentType(p),
			Data:        data,
			Order:       i,
		})
	}
	return docs, nil
}

func (s *DocumentStore) folder(reference string) (string, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "fetch documents", errors.New("reference is required"))
	}
	if filepath.IsAbs(reference) && s.root == "" {
		return filepath.Clean(reference), nil
	}
	clean := filepath.Clean(filepath.FromSlash(reference))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", domain.WrapError(domain.ErrAccess, "fetch documents", fmt.Errorf("reference %q escapes the records root", reference))
	}
	return filepath.Join(s.root, clean), nil
}

func contentType(p string) string {
	ext := strings.ToLower(filepath.Ext(p))
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
