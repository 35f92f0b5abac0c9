// Package images validates and stores uploaded chat images. Filenames are
// UUID-based so a hostile original name can never traverse outside the
// upload directory.
package images

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"chatd/domain"
	"chatd/errors"
)

// URLPrefix is where the HTTP layer serves stored images from.
const URLPrefix = "/uploads/images/"

var allowedTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/bmp":  "bmp",
}

type Service struct {
	log      *slog.Logger
	dir      string
	maxBytes int64
}

func NewService(log *slog.Logger, dir string, maxBytes int64) *Service {
	return &Service{log: log, dir: dir, maxBytes: maxBytes}
}

// Save validates the raw image bytes and writes them under a fresh UUID
// filename. The content type comes from sniffing the bytes, never from the
// client's headers.
func (s *Service) Save(data []byte) (domain.ImageMeta, error) {
	if len(data) == 0 {
		return domain.ImageMeta{}, fmt.Errorf("%w: uploaded file is empty", errors.ErrInvalidMessage)
	}
	if int64(len(data)) > s.maxBytes {
		return domain.ImageMeta{}, fmt.Errorf("%w: image exceeds %d bytes", errors.ErrPayloadTooLarge, s.maxBytes)
	}

	detected := mimetype.Detect(data)
	kind := strings.ToLower(detected.String())
	ext, ok := allowedTypes[kind]
	if !ok {
		return domain.ImageMeta{}, fmt.Errorf("%w: %s", errors.ErrUnsupportedMediaKind, kind)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return domain.ImageMeta{}, fmt.Errorf("create upload dir: %w", err)
	}
	filename := uuid.NewString() + "." + ext
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.ImageMeta{}, fmt.Errorf("write image: %w", err)
	}

	s.log.Info("Image saved", "file", filename, "bytes", len(data), "type", kind)
	return domain.ImageMeta{
		URL:         URLPrefix + filename,
		ContentType: kind,
		SizeBytes:   int64(len(data)),
	}, nil
}

// Delete removes a stored image by the URL Save returned. Missing files are
// reported as false, not as errors.
func (s *Service) Delete(imageURL string) (bool, error) {
	if !strings.HasPrefix(imageURL, URLPrefix) {
		return false, nil
	}
	filename := filepath.Base(strings.TrimPrefix(imageURL, URLPrefix))
	err := os.Remove(filepath.Join(s.dir, filename))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.Info("Image deleted", "file", filename)
	return true, nil
}

// Dir exposes the storage directory for the static file handler.
func (s *Service) Dir() string {
	return s.dir
}

// MaxBytes exposes the size cap so transports can bound uploads before
// reading them.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}
