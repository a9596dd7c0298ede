package capture

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

var (
	pngHeader  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}
	jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
)

func TestDetectMediaType(t *testing.T) {
	tests := []struct {
		name string
		file string
		head []byte
		want string
	}{
		{"png bytes", "photo.bin", pngHeader, MediaTypePNG},
		{"jpeg bytes", "photo.bin", jpegHeader, MediaTypeJPEG},
		{"content wins over extension", "photo.png", jpegHeader, MediaTypeJPEG},
		{"extension fallback", "photo.jpg", []byte("not an image at all"), MediaTypeJPEG},
		{"unknown", "notes", []byte("plain text"), "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMediaType(tt.file, tt.head); got != tt.want {
				t.Errorf("DetectMediaType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeMediaType(t *testing.T) {
	tests := map[string]string{
		"IMAGE/PNG":               MediaTypePNG,
		"image/jpg":               MediaTypeJPEG,
		" image/jpeg; charset=x ": MediaTypeJPEG,
		"image/heic":              "image/heic",
	}
	for in, want := range tests {
		if got := NormalizeMediaType(in); got != want {
			t.Errorf("NormalizeMediaType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOpen_LoadsPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scalp.png")
	data := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{1}, 100)...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	img, err := Open(path, 1024)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if img.Size != int64(len(data)) || !bytes.Equal(img.Data, data) {
		t.Errorf("payload mismatch: size=%d", img.Size)
	}
	if img.MediaType != MediaTypePNG {
		t.Errorf("media type = %q", img.MediaType)
	}
	if img.Filename() != "scalp-image.png" {
		t.Errorf("filename = %q", img.Filename())
	}
}

func TestOpen_OverLimitSkipsPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.jpg")
	data := append(append([]byte{}, jpegHeader...), bytes.Repeat([]byte{7}, 4096)...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	img, err := Open(path, 1024)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if img.Data != nil {
		t.Error("payload over the limit should not be loaded")
	}
	if img.Size != int64(len(data)) {
		t.Errorf("size = %d, want %d", img.Size, len(data))
	}
	if img.MediaType != MediaTypeJPEG {
		t.Errorf("media type should still be sniffed, got %q", img.MediaType)
	}
}

func TestOpen_Missing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope.jpg"), 0); err == nil {
		t.Error("expected error for missing file")
	}
}
