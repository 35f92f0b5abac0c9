package images

import (
	"bytes"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chatd/errors"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestImageService_Save_PNG(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	service := NewService(slog.Default(), dir, 1<<20)

	data := pngBytes(t)
	meta, err := service.Save(data)
	req.NoError(err)

	req.True(strings.HasPrefix(meta.URL, URLPrefix))
	req.True(strings.HasSuffix(meta.URL, ".png"))
	req.Equal("image/png", meta.ContentType)
	req.Equal(int64(len(data)), meta.SizeBytes)

	// The file landed on disk under the served name
	stored, err := os.ReadFile(filepath.Join(dir, filepath.Base(meta.URL)))
	req.NoError(err)
	req.Equal(data, stored)
}

func TestImageService_Save_Empty(t *testing.T) {
	req := require.New(t)
	service := NewService(slog.Default(), t.TempDir(), 1<<20)

	_, err := service.Save(nil)
	req.ErrorIs(err, errors.ErrInvalidMessage)
}

func TestImageService_Save_TooLarge(t *testing.T) {
	req := require.New(t)
	service := NewService(slog.Default(), t.TempDir(), 16)

	_, err := service.Save(pngBytes(t))
	req.ErrorIs(err, errors.ErrPayloadTooLarge)
}

func TestImageService_Save_NotAnImage(t *testing.T) {
	req := require.New(t)
	service := NewService(slog.Default(), t.TempDir(), 1<<20)

	// Sniffing looks at the bytes, the claimed filename never matters
	_, err := service.Save([]byte("definitely plain text, not pixels"))
	req.ErrorIs(err, errors.ErrUnsupportedMediaKind)
}

func TestImageService_Delete(t *testing.T) {
	req := require.New(t)
	service := NewService(slog.Default(), t.TempDir(), 1<<20)

	meta, err := service.Save(pngBytes(t))
	req.NoError(err)

	deleted, err := service.Delete(meta.URL)
	req.NoError(err)
	req.True(deleted)

	// Second delete finds nothing, which is not an error
	deleted, err = service.Delete(meta.URL)
	req.NoError(err)
	req.False(deleted)

	// URLs outside the upload prefix are ignored outright
	deleted, err = service.Delete("/etc/passwd")
	req.NoError(err)
	req.False(deleted)
}
