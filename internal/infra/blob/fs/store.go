// Package fs stores report manifests under a local directory.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"labcore/internal/infra/blob"
)

const (
	defaultRoot = "./reports"
	metaSuffix  = ".meta"
)

// Store implements blob.Store on the local filesystem. Each object has a
// JSON sidecar (name + ".meta") holding its content type, metadata and
// checksum.
type Store struct {
	root string
	now  func() time.Time
}

// New returns a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		root = defaultRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Driver reports blob.DriverFilesystem.
func (s *Store) Driver() blob.Driver { return blob.DriverFilesystem }

// Root is the directory objects are written under.
func (s *Store) Root() string { return s.root }

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	WrittenAt   time.Time         `json:"written_at"`
}

func (m sidecar) info(key string) blob.Info {
	return blob.Info{Key: key, Size: m.Size, ContentType: m.ContentType, ETag: m.ETag,
		Metadata: blob.CloneMetadata(m.Metadata), LastModified: m.WrittenAt}
}

func (s *Store) paths(key string) (clean, data, meta string, err error) {
	clean, err = blob.CleanKey(key)
	if err != nil {
		return "", "", "", err
	}
	if strings.HasSuffix(clean, metaSuffix) {
		return "", "", "", blob.ErrInvalidKey
	}
	data = filepath.Join(s.root, filepath.FromSlash(clean))
	return clean, data, data + metaSuffix, nil
}

// Put streams r into a temp file and renames it into place.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts blob.PutOptions) (blob.Info, error) {
	clean, data, meta, err := s.paths(key)
	if err != nil {
		return blob.Info{}, err
	}
	if _, err := os.Stat(data); err == nil {
		return blob.Info{}, fmt.Errorf("%s: %w", clean, blob.ErrExists)
	}
	dir := filepath.Dir(data)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return blob.Info{}, err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return blob.Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return blob.Info{}, err
	}
	if err := os.Rename(tmp.Name(), data); err != nil {
		return blob.Info{}, err
	}
	side := sidecar{ContentType: opts.ContentType, Metadata: blob.CloneMetadata(opts.Metadata),
		ETag: hex.EncodeToString(h.Sum(nil)), Size: size, WrittenAt: s.now()}
	if err := writeSidecar(meta, side); err != nil {
		_ = os.Remove(data)
		return blob.Info{}, err
	}
	return side.info(clean), nil
}

// Get opens the object for reading. The caller closes the reader.
func (s *Store) Get(_ context.Context, key string) (blob.Info, io.ReadCloser, error) {
	clean, data, meta, err := s.paths(key)
	if err != nil {
		return blob.Info{}, nil, err
	}
	side, err := readSidecar(clean, meta)
	if err != nil {
		return blob.Info{}, nil, err
	}
	f, err := os.Open(data)
	if err != nil {
		return blob.Info{}, nil, notFound(clean, err)
	}
	return side.info(clean), f, nil
}

// Head returns the object's metadata.
func (s *Store) Head(_ context.Context, key string) (blob.Info, error) {
	clean, _, meta, err := s.paths(key)
	if err != nil {
		return blob.Info{}, err
	}
	side, err := readSidecar(clean, meta)
	if err != nil {
		return blob.Info{}, err
	}
	return side.info(clean), nil
}

// Delete removes the object and its sidecar, reporting whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	_, data, meta, err := s.paths(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(data); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	_ = os.Remove(meta)
	return true, nil
}

// List walks the root for sidecars whose key has prefix, ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]blob.Info, error) {
	var out []blob.Info
	err := filepath.WalkDir(s.root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(p, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		side, err := readSidecar(key, p)
		if err != nil {
			return err
		}
		out = append(out, side.info(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func writeSidecar(path string, side sidecar) error {
	b, err := json.MarshalIndent(side, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func readSidecar(key, path string) (sidecar, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return sidecar{}, notFound(key, err)
	}
	var side sidecar
	if err := json.Unmarshal(b, &side); err != nil {
		return sidecar{}, fmt.Errorf("decode sidecar for %s: %w", key, err)
	}
	return side, nil
}

func notFound(key string, err error) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("%s: %w", key, blob.ErrNotFound)
	}
	return err
}
