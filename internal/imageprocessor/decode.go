// Package imageprocessor decodes uploaded image buffers and provides the
// resampling and pixel statistics shared by the verification stages.
package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrEmptyImage is returned when the buffer holds no bytes at all.
var ErrEmptyImage = errors.New("empty image buffer")

// DecodeError reports a byte stream that is not a decodable image. It is the
// only image failure the pipeline propagates to callers.
type DecodeError struct {
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e == nil || e.Err == nil {
		return "image decode failed"
	}
	return fmt.Sprintf("image decode failed: %v", e.Err)
}

// Unwrap returns the underlying decoder error.
func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsDecodeError reports whether err is, or wraps, a *DecodeError.
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

// MaxPixels bounds the decoded frame size. Headers above it are rejected
// before any pixel buffer is allocated.
const MaxPixels = 50_000_000

// ErrTooManyPixels is wrapped in a DecodeError for oversized frames.
var ErrTooManyPixels = errors.New("image dimensions exceed pixel limit")

// Decode parses data with every registered image format.
func Decode(data []byte) (image.Image, error) {
	cfg, _, err := DecodeConfig(data)
	if err != nil {
		return nil, err
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &DecodeError{Err: errors.New("image has no pixels")}
	}
	return img, nil
}

// DecodeConfig reads only the header of data, returning the format name and
// dimensions.
func DecodeConfig(data []byte) (image.Config, string, error) {
	if len(data) == 0 {
		return image.Config{}, "", &DecodeError{Err: ErrEmptyImage}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", &DecodeError{Err: err}
	}
	return cfg, format, nil
}
