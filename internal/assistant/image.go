package assistant

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"krishimitra/internal/gemini"
)

var (
	ErrNoImage       = errors.New("an image is required")
	ErrImageTooLarge = errors.New("image is too large")
	ErrNotAnImage    = errors.New("uploaded file is not an image")
)

// NewImage validates an upload. An empty or generic declared type is replaced
// by the sniffed one.
func NewImage(data []byte, declared string, maxBytes int64) (*gemini.Image, error) {
	if len(data) == 0 {
		return nil, ErrNoImage
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrImageTooLarge, len(data), maxBytes)
	}
	mt := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "" || mt == "application/octet-stream" {
		mt = http.DetectContentType(data)
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = mt[:i]
		}
	}
	if !strings.HasPrefix(mt, "image/") {
		return nil, ErrNotAnImage
	}
	return &gemini.Image{Data: data, MediaType: mt}, nil
}
