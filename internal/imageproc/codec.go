package imageproc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// MaxUploadBytes bounds a single uploaded image.
const MaxUploadBytes = 10 * 1024 * 1024

var ErrEmptyImage = errors.New("image has no pixels")

// Validate reports whether data is an acceptable upload, with a reason a user
// can read.
func Validate(data []byte) (bool, string) {
	if len(data) == 0 {
		return false, "No image file provided"
	}
	if len(data) > MaxUploadBytes {
		return false, fmt.Sprintf("File size too large. Maximum allowed: %dMB", MaxUploadBytes/(1024*1024))
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return false, fmt.Sprintf("Invalid image file: %v", err)
	}
	return true, "Valid image"
}

// Decode decodes PNG, JPEG, GIF or WebP bytes.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, "", ErrEmptyImage
	}
	return img, format, nil
}

// ToRGB copies img into an opaque NRGBA image. Alpha is dropped, not
// composited, so color values are kept as stored.
func ToRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	flatten(dst)
	return dst
}

func flatten(img *image.NRGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ToBase64 returns the standard base64 encoding of img as PNG.
func ToBase64(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
