//go:build tesseract

// Package tesseract recognises document text in-process with libtesseract.
// Build with -tags tesseract and the tesseract-ocr development headers
// installed; without the tag New reports ocr.ErrEngineUnavailable.
package tesseract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/example/idverify/internal/ocr"
)

// Engine is an ocr.Engine backed by a pool of gosseract clients.
type Engine struct {
	pool *sync.Pool
}

// New checks that languages are installed and returns a pooled engine.
func New(languages []string) (*Engine, error) {
	check := gosseract.NewClient()
	if err := check.SetLanguage(languages...); err != nil {
		check.Close()
		return nil, fmt.Errorf("%w: set languages %s: %v", ocr.ErrEngineUnavailable, strings.Join(languages, "+"), err)
	}
	check.Close()

	return &Engine{pool: &sync.Pool{
		New: func() any {
			return gosseract.NewClient()
		},
	}}, nil
}

// Recognize implements ocr.Engine.
func (e *Engine) Recognize(ctx context.Context, image []byte, languages []string) (string, error) {
	if e == nil || e.pool == nil {
		return "", ocr.ErrEngineUnavailable
	}
	client := e.pool.Get().(*gosseract.Client)

	type result struct {
		text string
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		defer e.pool.Put(client)
		text, err := recognize(client, image, languages)
		resultCh <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		return res.text, res.err
	}
}

func recognize(client *gosseract.Client, image []byte, languages []string) (string, error) {
	if err := client.SetLanguage(languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return text, nil
}

// Close drops the client pool.
func (e *Engine) Close() error {
	e.pool = nil
	return nil
}
