package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hfsql/hfsql/internal/observability"
	"github.com/hfsql/hfsql/internal/query"
	"github.com/hfsql/hfsql/internal/storage"
)

var (
	ErrExportsDisabled = errors.New("result exports are not configured")
	ErrInvalidKey      = errors.New("invalid export key")
)

type Result struct {
	Key         string    `json:"key"`
	RecordCount int64     `json:"record_count"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	DownloadURL string    `json:"download_url,omitempty"`
}

type Options struct {
	Logger        *slog.Logger
	PresignExpiry time.Duration
	Now           func() time.Time
}

// Service writes accumulated query results to the object store.
type Service struct {
	store         storage.ObjectStore
	logger        *slog.Logger
	presignExpiry time.Duration
	now           func() time.Time
}

// NewService returns a service over store. A nil store yields a service whose
// operations fail with ErrExportsDisabled.
func NewService(store storage.ObjectStore, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, logger: logger, presignExpiry: opts.PresignExpiry, now: now}
}

func (s *Service) Enabled() bool {
	return s != nil && s.store != nil
}

func (s *Service) Export(ctx context.Context, principal, name string, fields []query.Field, rows []query.Row) (Result, error) {
	if !s.Enabled() {
		return Result{}, ErrExportsDisabled
	}
	createdAt := s.now().UTC()
	key, err := storage.BuildExportKey(principal, name, createdAt)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	encoded, err := EncodeRowsToParquet(fields, rows)
	if err != nil {
		observability.ObserveExport(false)
		return Result{}, fmt.Errorf("encode export: %w", err)
	}
	info, err := s.store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{ContentType: storage.ContentTypeParquet})
	if err != nil {
		observability.ObserveExport(false)
		return Result{}, fmt.Errorf("store export: %w", err)
	}
	observability.ObserveExport(true)

	result := Result{
		Key:         key,
		RecordCount: encoded.RecordCount,
		SizeBytes:   int64(len(encoded.Data)),
		ETag:        info.ETag,
		CreatedAt:   createdAt,
	}
	if presigner, ok := s.store.(storage.Presigner); ok {
		link, err := presigner.PresignGet(ctx, key, s.presignExpiry)
		if err != nil {
			s.logger.WarnContext(ctx, "presign export failed", "key", key, "error", err)
		} else {
			result.DownloadURL = link
		}
	}
	s.logger.InfoContext(ctx, "result exported", "key", key, "rows", result.RecordCount, "bytes", result.SizeBytes)
	return result, nil
}

// List returns the exports owned by principal, or every export when
// principal is empty.
func (s *Service) List(ctx context.Context, principal string) ([]storage.ObjectInfo, error) {
	if !s.Enabled() {
		return nil, ErrExportsDisabled
	}
	prefix := "exports"
	if principal != "" {
		if err := storage.ValidateExportName(principal); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		prefix += "/" + principal
	}
	return s.store.List(ctx, prefix)
}

func (s *Service) Open(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	if !s.Enabled() {
		return nil, storage.ObjectInfo{}, ErrExportsDisabled
	}
	if err := validateKey(key); err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	info, err := s.store.Stat(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	body, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	return body, info, nil
}

func (s *Service) Delete(ctx context.Context, key string) error {
	if !s.Enabled() {
		return ErrExportsDisabled
	}
	if err := validateKey(key); err != nil {
		return err
	}
	return s.store.Delete(ctx, key)
}

// OwnedBy reports whether key lies under principal's export prefix.
func OwnedBy(key, principal string) bool {
	return principal != "" && strings.HasPrefix(key, "exports/"+principal+"/")
}

func validateKey(key string) error {
	if !strings.HasPrefix(key, "exports/") || !strings.HasSuffix(key, ".parquet") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
