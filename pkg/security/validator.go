// Package security validates candidate images (presence, size, declared
// media type) before they are allowed anywhere near the network.
package security

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/scalpcheck/scalp-analyzer/pkg/capture"
	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
)

// Validator checks candidate images before any network activity.
type Validator struct {
	maxImageSize int64
	accepted     map[string]struct{}
}

// NewValidator creates a new image validator
func NewValidator(maxImageSize int64, acceptedTypes []string) *Validator {
	accepted := make(map[string]struct{}, len(acceptedTypes))
	for _, mt := range acceptedTypes {
		accepted[capture.NormalizeMediaType(mt)] = struct{}{}
	}

	slog.Info("security_validator_init",
		"max_image_size_mb", float64(maxImageSize)/1024/1024,
		"accepted_types", strings.Join(acceptedTypes, ","))

	return &Validator{
		maxImageSize: maxImageSize,
		accepted:     accepted,
	}
}

// ValidateImage returns nil when img may be submitted. It is pure and never
// blocks.
func (v *Validator) ValidateImage(img *capture.Image) *errors.Classified {
	if img == nil || img.Size <= 0 {
		slog.Warn("security_image_validation_failed", "reason", "empty")
		return errors.New(errors.CodeImageEmpty)
	}

	if img.Size > v.maxImageSize {
		slog.Warn("security_image_size_exceeded",
			"image", img.Name,
			"size", img.Size,
			"max_image_size", v.maxImageSize)
		return errors.New(errors.CodeImageTooLarge).
			WithDetails(formatSize(img.Size, v.maxImageSize))
	}

	if !v.Accepts(img.MediaType) {
		slog.Warn("security_image_format_rejected", "image", img.Name, "media_type", img.MediaType)
		return errors.New(errors.CodeImageFormatInvalid).WithDetails("media_type=" + img.MediaType)
	}

	return nil
}

// Accepts reports whether mediaType is in the accepted set.
func (v *Validator) Accepts(mediaType string) bool {
	_, ok := v.accepted[capture.NormalizeMediaType(mediaType)]
	return ok
}

// MaxImageSize returns the configured limit in bytes.
func (v *Validator) MaxImageSize() int64 {
	return v.maxImageSize
}

func formatSize(size, limit int64) string {
	return fmt.Sprintf("size %d exceeds max %d", size, limit)
}
