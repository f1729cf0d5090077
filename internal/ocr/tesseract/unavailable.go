//go:build !tesseract

// Package tesseract recognises document text in-process with libtesseract.
// This build was compiled without the tesseract tag, so New always reports
// ocr.ErrEngineUnavailable.
package tesseract

import (
	"context"

	"github.com/example/idverify/internal/ocr"
)

// Engine is a placeholder that never recognises anything.
type Engine struct{}

// New reports that the engine is not compiled in.
func New([]string) (*Engine, error) {
	return nil, ocr.ErrEngineUnavailable
}

// Recognize implements ocr.Engine.
func (*Engine) Recognize(context.Context, []byte, []string) (string, error) {
	return "", ocr.ErrEngineUnavailable
}

// Close is a no-op.
func (*Engine) Close() error { return nil }
