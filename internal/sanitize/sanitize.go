// Package sanitize strips metadata from untrusted inbound media before it
// reaches a completion backend or gets written into the workspace.
package sanitize

import (
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoding
	"os"
)

// Image re-encodes an image file, dropping EXIF/XMP metadata and any
// polyglot trailer bytes appended after the pixel data. The stdlib's
// image codecs only ever read the frame they decode, so round-tripping
// through image.Decode/jpeg.Encode is sufficient — no example repo in the
// corpus wires a dedicated EXIF-stripping library, so this stays stdlib.
func Image(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("sanitize: open %s: %w", path, err)
	}
	defer src.Close()

	img, _, err := image.Decode(src)
	if err != nil {
		return "", fmt.Errorf("sanitize: decode %s: %w", path, err)
	}

	out, err := os.CreateTemp("", "omegad_sanitized_*.jpg")
	if err != nil {
		return "", fmt.Errorf("sanitize: create temp file: %w", err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: 90}); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("sanitize: encode %s: %w", path, err)
	}

	return out.Name(), nil
}
