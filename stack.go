package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/idverify/internal/config"
	"github.com/example/idverify/internal/dochash"
	"github.com/example/idverify/internal/embedding"
	"github.com/example/idverify/internal/grpcclient"
	"github.com/example/idverify/internal/liveness"
	"github.com/example/idverify/internal/ocr"
	"github.com/example/idverify/internal/ocr/tesseract"
	"github.com/example/idverify/internal/pipeline"
)

// stack holds the pipeline stages built from configuration. Backends are
// chosen once here and never re-resolved per request.
type stack struct {
	embedder     *embedding.Extractor
	hasher       *dochash.Hasher
	reader       *ocr.Extractor
	validator    *ocr.Validator
	detector     *liveness.Detector
	orchestrator *pipeline.Orchestrator
	closers      []func() error
}

func buildStack(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stack, error) {
	s := &stack{hasher: dochash.NewHasher()}

	backend, err := buildEmbeddingBackend(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	s.embedder = embedding.NewExtractor(backend, logger)

	engine, err := s.buildOCREngine(ctx, cfg.OCR, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.reader = ocr.NewExtractor(engine, ocr.Config{
		Languages:    cfg.OCR.Languages,
		Timeout:      cfg.OCR.Timeout,
		MaxDimension: cfg.OCR.MaxDimension,
		MaxUpscale:   cfg.OCR.MaxUpscale,
	}, logger)

	docType, err := ocr.ParseDocumentType(cfg.OCR.DocumentType)
	if err != nil {
		s.Close()
		return nil, err
	}
	if s.validator, err = ocr.NewValidator(docType, cfg.OCR.Lenient); err != nil {
		s.Close()
		return nil, err
	}

	s.detector = liveness.NewDetector(liveness.Config{
		MinDimension: cfg.Liveness.MinDimension,
		MinStdDev:    cfg.Liveness.MinStdDev,
		MinAspect:    cfg.Liveness.MinAspect,
		MaxAspect:    cfg.Liveness.MaxAspect,
		FailOpen:     cfg.Liveness.FailOpen,
	}, logger)

	s.orchestrator, err = pipeline.New(pipeline.Stages{
		Embedder:  s.embedder,
		Hasher:    s.hasher,
		Reader:    s.reader,
		Validator: s.validator,
		Liveness:  s.detector,
	}, pipeline.Policy{
		EnforceLivenessOnEnrollment: cfg.Pipeline.EnforceLivenessOnEnrollment,
		EnforceDocumentOnEnrollment: cfg.Pipeline.EnforceDocumentOnEnrollment,
		ExcerptLength:               cfg.Pipeline.ExcerptLength,
	}, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	logger.Info("pipeline ready",
		zap.String("embedding_backend", s.embedder.Backend()),
		zap.String("ocr_engine", cfg.OCR.Engine),
		zap.String("document_type", string(s.validator.DocumentType())),
		zap.Bool("liveness_fail_open", cfg.Liveness.FailOpen),
		zap.Bool("ocr_lenient", s.validator.Lenient()),
	)
	return s, nil
}

// buildEmbeddingBackend returns nil for the perceptual hash: the extractor
// uses it whenever no primary backend is set.
func buildEmbeddingBackend(cfg config.Embedding) (embedding.Backend, error) {
	switch cfg.Backend {
	case config.BackendPHash:
		return nil, nil
	case config.BackendCNN:
		weights, err := embedding.LoadWeightsFile(cfg.WeightsPath)
		if err != nil {
			return nil, fmt.Errorf("load embedding weights: %w", err)
		}
		backend, err := embedding.NewTrainedCNNBackend(weights)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}

func (s *stack) buildOCREngine(ctx context.Context, cfg config.OCR, logger *zap.Logger) (ocr.Engine, error) {
	switch cfg.Engine {
	case config.EngineNone:
		return ocr.UnavailableEngine{}, nil
	case config.EngineTesseract:
		engine, err := tesseract.New(cfg.Languages)
		if errors.Is(err, ocr.ErrEngineUnavailable) {
			logger.Warn("tesseract unavailable, OCR disabled", zap.Error(err))
			return ocr.UnavailableEngine{}, nil
		}
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, engine.Close)
		return engine, nil
	case config.EngineRemote:
		engine, conn, err := grpcclient.DialOCREngine(ctx, cfg.RemoteAddr, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to OCR service: %w", err)
		}
		s.closers = append(s.closers, conn.Close)
		return engine, nil
	default:
		return nil, fmt.Errorf("unknown ocr engine %q", cfg.Engine)
	}
}

// Close releases engine resources in reverse order of acquisition.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
