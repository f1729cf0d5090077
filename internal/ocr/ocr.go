// Package ocr reads identity documents: it preprocesses the image, runs a
// text recognition engine under a deadline, extracts the candidate identity
// number and name, and validates them.
package ocr

import (
	"context"
	"errors"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/example/idverify/internal/imageprocessor"
)

// ErrEngineUnavailable is returned by engines that are not installed or not
// reachable.
var ErrEngineUnavailable = errors.New("ocr engine unavailable")

// Engine recognises text in a losslessly encoded greyscale image.
type Engine interface {
	Recognize(ctx context.Context, image []byte, languages []string) (string, error)
}

// UnavailableEngine is the engine used when no recognizer is configured.
type UnavailableEngine struct{}

// Recognize always fails with ErrEngineUnavailable.
func (UnavailableEngine) Recognize(context.Context, []byte, []string) (string, error) {
	return "", ErrEngineUnavailable
}

// Result is the transient output of one recognition. Empty fields were not
// found.
type Result struct {
	RawText       string `json:"raw_text"`
	ExtractedID   string `json:"extracted_id,omitempty"`
	ExtractedName string `json:"extracted_name,omitempty"`
}

// Empty reports whether no candidate field was extracted.
func (r Result) Empty() bool {
	return r.ExtractedID == "" && r.ExtractedName == ""
}

// Config tunes preprocessing and recognition.
type Config struct {
	Languages    []string
	Timeout      time.Duration
	MaxDimension int
	MaxUpscale   float64
}

// DefaultConfig recognises English and Hindi within 50 seconds on images no
// larger than 2000px.
func DefaultConfig() Config {
	return Config{
		Languages:    []string{"eng", "hin"},
		Timeout:      50 * time.Second,
		MaxDimension: 2000,
		MaxUpscale:   2,
	}
}

// Extractor preprocesses documents and runs the engine.
type Extractor struct {
	engine Engine
	cfg    Config
	logger *zap.Logger
}

// NewExtractor builds an extractor. A nil engine behaves like
// UnavailableEngine; zero config fields take their defaults.
func NewExtractor(engine Engine, cfg Config, logger *zap.Logger) *Extractor {
	if engine == nil {
		engine = UnavailableEngine{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if len(cfg.Languages) == 0 {
		cfg.Languages = def.Languages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = def.MaxDimension
	}
	if cfg.MaxUpscale < 1 {
		cfg.MaxUpscale = def.MaxUpscale
	}
	return &Extractor{engine: engine, cfg: cfg, logger: logger.Named("ocr")}
}

// Extract decodes data and reads it. Only an *imageprocessor.DecodeError is
// returned; engine failures and timeouts yield an empty Result.
func (e *Extractor) Extract(ctx context.Context, data []byte) (Result, error) {
	img, err := imageprocessor.Decode(data)
	if err != nil {
		return Result{}, err
	}
	return e.ExtractImage(ctx, img), nil
}

// ExtractImage reads an already decoded document.
func (e *Extractor) ExtractImage(ctx context.Context, img image.Image) Result {
	prepared, err := e.preprocess(img)
	if err != nil {
		e.logger.Warn("document preprocessing failed", zap.Error(err))
		return Result{}
	}

	text := e.recognize(ctx, prepared)
	return Result{
		RawText:       text,
		ExtractedID:   ExtractID(text),
		ExtractedName: ExtractName(text),
	}
}

func (e *Extractor) preprocess(img image.Image) ([]byte, error) {
	scaled := imageprocessor.FitWithin(img, e.cfg.MaxDimension, e.cfg.MaxUpscale)
	gray := imageprocessor.StretchContrast(imageprocessor.Grayscale(scaled))
	return imageprocessor.EncodePNG(gray)
}

type recognition struct {
	text string
	err  error
}

// recognize races the engine against the configured deadline.
func (e *Extractor) recognize(ctx context.Context, prepared []byte) string {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	// Buffered so the engine goroutine can always finish after a timeout.
	resultCh := make(chan recognition, 1)
	go func() {
		text, err := e.engine.Recognize(ctx, prepared, e.cfg.Languages)
		resultCh <- recognition{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		e.logger.Warn("text recognition abandoned", zap.Duration("timeout", e.cfg.Timeout), zap.Error(ctx.Err()))
		return ""
	case res := <-resultCh:
		if res.err != nil {
			e.logger.Warn("text recognition failed", zap.Error(res.err))
			return ""
		}
		return res.text
	}
}
