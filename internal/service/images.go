package service

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// imageSniffs maps magic byte prefixes to file extensions. Pasted images
// from the shell are overwhelmingly PNG; the rest covers drag-and-drop.
var imageSniffs = []struct {
	prefix []byte
	ext    string
}{
	{[]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, ".png"},
	{[]byte{0xff, 0xd8, 0xff}, ".jpg"},
	{[]byte("GIF8"), ".gif"},
	{[]byte("RIFF"), ".webp"},
}

// SaveImagesToTemp decodes base64 images (raw or data-URI) into temp files
// and returns their paths, for referencing from agent prompts. Files are
// private to the daemon user.
func (s *Service) SaveImagesToTemp(images []string) ([]string, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("no images given: %w", ErrInvalid)
	}
	dir := filepath.Join(os.TempDir(), "workbench-images")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}

	paths := make([]string, 0, len(images))
	for i, img := range images {
		data, err := decodeImage(img)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		path := filepath.Join(dir, uuid.New().String()+sniffImageExt(data))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, fmt.Errorf("writing image %d: %w", i, err)
		}
		paths = append(paths, path)
	}
	s.logger.Debug("images saved", "count", len(paths), "dir", dir)
	return paths, nil
}

func decodeImage(img string) ([]byte, error) {
	// Strip a data-URI header: "data:image/png;base64,...."
	if strings.HasPrefix(img, "data:") {
		idx := strings.Index(img, ",")
		if idx < 0 {
			return nil, fmt.Errorf("malformed data URI: %w", ErrInvalid)
		}
		img = img[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(img)
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w: %v", ErrInvalid, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image: %w", ErrInvalid)
	}
	return data, nil
}

func sniffImageExt(data []byte) string {
	for _, sniff := range imageSniffs {
		if bytes.HasPrefix(data, sniff.prefix) {
			return sniff.ext
		}
	}
	return ".png"
}
