// Package capture holds the candidate image handed to the orchestrator and
// the loaders that build one from local files or raw bytes.
package capture

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
)

// Media types accepted by the analysis service by default.
const (
	MediaTypeJPEG = "image/jpeg"
	MediaTypePNG  = "image/png"
)

// sniffLen is the number of leading bytes net/http's sniffer looks at.
const sniffLen = 512

// Image is a candidate image. Size is authoritative: loaders leave Data nil
// when the payload already exceeds the caller's limit, so the validator can
// reject it without the bytes ever being read.
type Image struct {
	Name      string
	MediaType string
	Size      int64
	Data      []byte
}

// New builds an image from raw bytes. An empty mediaType is sniffed from
// the payload.
func New(name string, data []byte, mediaType string) *Image {
	if mediaType == "" {
		mediaType = DetectMediaType(name, data)
	}
	return &Image{
		Name:      name,
		MediaType: NormalizeMediaType(mediaType),
		Size:      int64(len(data)),
		Data:      data,
	}
}

// Open loads an image from disk. Files larger than limit are not read past
// the sniffing window (limit <= 0 disables the check).
func Open(path string, limit int64) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat image")
	}
	name := filepath.Base(path)

	if limit > 0 && info.Size() > limit {
		head := make([]byte, sniffLen)
		n, err := io.ReadFull(f, head)
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, errors.Wrap(err, "failed to read image header")
		}
		slog.Info("image_over_limit_not_loaded", "path", path, "size", info.Size(), "limit", limit)
		return &Image{
			Name:      name,
			MediaType: DetectMediaType(name, head[:n]),
			Size:      info.Size(),
		}, nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image")
	}
	slog.Info("image_loaded", "path", path, "size", len(data))
	return New(name, data, ""), nil
}

// Filename is the name used for the multipart part. The extension follows
// the media type so the service does not have to sniff.
func (i *Image) Filename() string {
	switch i.MediaType {
	case MediaTypePNG:
		return "scalp-image.png"
	default:
		return "scalp-image.jpg"
	}
}

// DetectMediaType sniffs the payload and falls back to the file extension
// when the content is not recognized.
func DetectMediaType(name string, head []byte) string {
	if len(head) > 0 {
		if sniffed := http.DetectContentType(head); strings.HasPrefix(sniffed, "image/") {
			return NormalizeMediaType(sniffed)
		}
	}
	if ext := filepath.Ext(name); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return NormalizeMediaType(byExt)
		}
	}
	return "application/octet-stream"
}

// NormalizeMediaType lowercases, strips parameters and folds aliases.
func NormalizeMediaType(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	if mt == "image/jpg" || mt == "image/pjpeg" {
		return MediaTypeJPEG
	}
	return mt
}
