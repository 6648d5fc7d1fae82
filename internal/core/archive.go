package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"labcore/internal/infra/blob"
	blobfs "labcore/internal/infra/blob/fs"
	blobmemory "labcore/internal/infra/blob/memory"
	blobs3 "labcore/internal/infra/blob/s3"
	"labcore/pkg/domain"
)

const manifestContentType = "application/json"

// ArchiveConfig selects the object store issued manifests are written to.
type ArchiveConfig struct {
	Driver string        `mapstructure:"driver"`
	FSRoot string        `mapstructure:"fs_root"`
	S3     blobs3.Config `mapstructure:"s3"`
}

// BlobArchive writes report manifests as JSON objects keyed by
// ReportManifest.Key.
type BlobArchive struct {
	store blob.Store
}

// NewBlobArchive wraps store as a ReportArchive.
func NewBlobArchive(store blob.Store) *BlobArchive {
	return &BlobArchive{store: store}
}

// OpenReportArchive opens the backend named by cfg.Driver, fs when empty.
func OpenReportArchive(ctx context.Context, cfg ArchiveConfig) (*BlobArchive, error) {
	driver := blob.Driver(strings.ToLower(strings.TrimSpace(cfg.Driver)))
	if driver == "" {
		driver = blob.DriverFilesystem
	}
	var (
		store blob.Store
		err   error
	)
	switch driver {
	case blob.DriverFilesystem:
		store, err = blobfs.New(cfg.FSRoot)
	case blob.DriverMemory:
		store = blobmemory.New()
	case blob.DriverS3:
		store, err = blobs3.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
	if err != nil {
		return nil, err
	}
	return NewBlobArchive(store), nil
}

// Driver reports the backing store's driver.
func (a *BlobArchive) Driver() blob.Driver { return a.store.Driver() }

// Archive stores manifest and returns its key. A retried issue carries the
// same report id, so an existing object under the key is replaced.
func (a *BlobArchive) Archive(ctx context.Context, manifest ReportManifest) (string, error) {
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest %s: %w", manifest.ID, err)
	}
	opts := blob.PutOptions{ContentType: manifestContentType, Metadata: map[string]string{
		"report-id": manifest.ID,
		"kind":      string(manifest.Kind),
		"issued-by": manifest.IssuedBy,
	}}
	key := manifest.Key()
	info, err := a.store.Put(ctx, key, strings.NewReader(string(body)), opts)
	if errors.Is(err, blob.ErrExists) {
		if _, err = a.store.Delete(ctx, key); err == nil {
			info, err = a.store.Put(ctx, key, strings.NewReader(string(body)), opts)
		}
	}
	if err != nil {
		return "", fmt.Errorf("archive manifest %s: %w", manifest.ID, err)
	}
	return info.Key, nil
}

// Discard deletes the manifest stored under key. A missing object is not an
// error.
func (a *BlobArchive) Discard(ctx context.Context, key string) error {
	if _, err := a.store.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return fmt.Errorf("discard manifest %s: %w", key, err)
	}
	return nil
}

// Manifest loads an archived manifest by key.
func (a *BlobArchive) Manifest(ctx context.Context, key string) (ReportManifest, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey) {
			return ReportManifest{}, domain.NotFound("manifest", domain.EntityReport, key)
		}
		return ReportManifest{}, err
	}
	defer rc.Close()
	var m ReportManifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return ReportManifest{}, fmt.Errorf("decode manifest %s: %w", key, err)
	}
	return m, nil
}

// Manifests lists archived manifests, optionally restricted to one kind.
func (a *BlobArchive) Manifests(ctx context.Context, kind string) ([]blob.Info, error) {
	prefix := "reports/"
	if kind = strings.TrimSpace(kind); kind != "" {
		k, err := domain.ParseReportKind(kind)
		if err != nil {
			return nil, err
		}
		prefix = path.Join("reports", string(k)) + "/"
	}
	return a.store.List(ctx, prefix)
}
