package upload

import (
	"fmt"
	"image"
	_ "image/gif"  // Register decoder
	_ "image/jpeg" // Register decoder
	_ "image/png"  // Register decoder
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"imagehost/pkg/httperr"
)

// maxPixels bounds the decoded canvas so a tiny file cannot claim a huge one.
const maxPixels = 64 << 20

// Validator enforces the upload policy.
type Validator struct {
	maxSize    int64
	extensions map[string]bool
	types      map[string]bool
}

// NewValidator builds a validator. Extensions are bare ("png") and compared
// case-insensitively; types are MIME types ("image/png").
func NewValidator(maxSize int64, extensions, types []string) *Validator {
	v := &Validator{
		maxSize:    maxSize,
		extensions: make(map[string]bool, len(extensions)),
		types:      make(map[string]bool, len(types)),
	}
	for _, e := range extensions {
		v.extensions[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	for _, t := range types {
		v.types[strings.ToLower(t)] = true
	}
	return v
}

// MaxSize returns the request size ceiling in bytes.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// CheckSize rejects a declared request length over the ceiling.
// It must run before any body byte is read.
func (v *Validator) CheckSize(declared int64) error {
	if declared < 0 {
		return httperr.BadRequest("Content-Length required")
	}
	if declared > v.maxSize {
		return httperr.TooLarge("File too large: %d bytes exceeds the %d byte limit", declared, v.maxSize)
	}
	return nil
}

// CheckExtension validates the client filename and returns its lower-case
// extension without the dot.
func (v *Validator) CheckExtension(filename string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return "", httperr.BadRequest("File has no extension")
	}
	if !v.extensions[ext] {
		return "", httperr.BadRequest("File type .%s is not allowed", ext)
	}
	return ext, nil
}

// CheckContent sniffs the MIME type from the leading bytes and returns it.
// The client's filename and Content-Type are not consulted.
func (v *Validator) CheckContent(data []byte) (string, error) {
	if len(data) == 0 {
		return "", httperr.BadRequest("File is empty")
	}
	mimeType := http.DetectContentType(data)
	if !v.types[mimeType] {
		return "", httperr.BadRequest("File content is not an allowed image (detected %s)", mimeType)
	}
	return mimeType, nil
}

// Verify decodes the stored file and checks it is a supported image.
func (v *Validator) Verify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return httperr.Internal("Failed to read stored file", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return httperr.Wrap(http.StatusBadRequest, "File is not a valid image", err)
	}
	if !v.types["image/"+format] {
		return httperr.BadRequest("Image format %s is not allowed", format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return httperr.BadRequest("Image dimensions %dx%d are not supported", cfg.Width, cfg.Height)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return httperr.Internal("Failed to read stored file", err)
	}
	if _, _, err := image.Decode(f); err != nil {
		return httperr.Wrap(http.StatusBadRequest, "File is not a valid image", fmt.Errorf("decode %s: %w", format, err))
	}
	return nil
}
