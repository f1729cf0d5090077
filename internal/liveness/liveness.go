// Package liveness screens a single face frame for obvious replay or spoof
// captures with cheap image heuristics.
package liveness

import (
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/example/idverify/internal/imageprocessor"
)

// Verdict is the outcome of one liveness check.
type Verdict struct {
	IsLive     bool    `json:"is_live"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

const (
	ReasonLowResolution      = "resolution too low"
	ReasonInsufficientDetail = "insufficient detail"
	ReasonAspectRatio        = "unusual aspect ratio"
	ReasonPassed             = "checks passed"
	ReasonUnverifiable       = "unable to verify"
)

// Config holds the heuristic thresholds. FailOpen decides the verdict when the
// image cannot be analysed at all.
type Config struct {
	MinDimension int
	MinStdDev    float64
	MinAspect    float64
	MaxAspect    float64
	FailOpen     bool
}

// DefaultConfig mirrors the onboarding defaults: 200px, std-dev 10, aspect
// ratio within [0.5, 2], failing open.
func DefaultConfig() Config {
	return Config{
		MinDimension: 200,
		MinStdDev:    10,
		MinAspect:    0.5,
		MaxAspect:    2.0,
		FailOpen:     true,
	}
}

// Detector runs the checks in order; the first failing check decides.
type Detector struct {
	cfg    Config
	logger *zap.Logger
}

// NewDetector returns a detector for cfg.
func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{cfg: cfg, logger: logger.Named("liveness")}
}

// Check decodes face and evaluates it. It never fails; undecodable input
// produces the unable-to-verify verdict.
func (d *Detector) Check(face []byte) Verdict {
	img, err := imageprocessor.Decode(face)
	if err != nil {
		return d.unverifiable(err)
	}
	return d.CheckImage(img)
}

// CheckImage evaluates an already decoded face.
func (d *Detector) CheckImage(img image.Image) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = d.unverifiable(fmt.Errorf("analysis panicked: %v", r))
		}
	}()

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width < d.cfg.MinDimension || height < d.cfg.MinDimension {
		return Verdict{IsLive: false, Confidence: 0.3, Reason: ReasonLowResolution}
	}
	if imageprocessor.MeanChannelStdDev(img) < d.cfg.MinStdDev {
		return Verdict{IsLive: false, Confidence: 0.4, Reason: ReasonInsufficientDetail}
	}
	ratio := float64(width) / float64(height)
	if ratio < d.cfg.MinAspect || ratio > d.cfg.MaxAspect {
		return Verdict{IsLive: false, Confidence: 0.5, Reason: ReasonAspectRatio}
	}
	return Verdict{IsLive: true, Confidence: 0.85, Reason: ReasonPassed}
}

func (d *Detector) unverifiable(err error) Verdict {
	d.logger.Warn("liveness analysis failed", zap.Bool("fail_open", d.cfg.FailOpen), zap.Error(err))
	if d.cfg.FailOpen {
		return Verdict{IsLive: true, Confidence: 0.5, Reason: ReasonUnverifiable}
	}
	return Verdict{IsLive: false, Confidence: 0, Reason: ReasonUnverifiable}
}
