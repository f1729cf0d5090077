// Package pipeline composes the embedding, hashing, OCR and liveness stages
// into the enrollment and comparison workflows.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/idverify/internal/dochash"
	"github.com/example/idverify/internal/embedding"
	"github.com/example/idverify/internal/imageprocessor"
	"github.com/example/idverify/internal/liveness"
	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/ocr"
)

// ErrInvalidRequest is returned for requests that are missing inputs.
var ErrInvalidRequest = errors.New("invalid verification request")

// FaceEmbedder turns a decoded face into an embedding.
type FaceEmbedder interface {
	ExtractImage(ctx context.Context, img image.Image) (embedding.Embedding, error)
	Backend() string
}

// DocumentHasher fingerprints raw document bytes.
type DocumentHasher interface {
	Hash(document []byte, transactionID, salt string) (dochash.Fingerprint, error)
}

// TextReader recognises document text.
type TextReader interface {
	ExtractImage(ctx context.Context, img image.Image) ocr.Result
}

// DocumentValidator checks recognised text.
type DocumentValidator interface {
	Validate(res ocr.Result) bool
	CrossValidate(res ocr.Result, declaredName, declaredID string) ocr.CrossValidation
}

// LivenessChecker screens a decoded face.
type LivenessChecker interface {
	CheckImage(img image.Image) liveness.Verdict
}

// Policy holds the decision switches that are not owned by a single stage.
type Policy struct {
	// EnforceLivenessOnEnrollment makes a failed liveness check reject an
	// enrollment instead of only being reported.
	EnforceLivenessOnEnrollment bool
	// EnforceDocumentOnEnrollment does the same for document format validity.
	EnforceDocumentOnEnrollment bool
	// ExcerptLength bounds the OCR excerpt kept on the decision.
	ExcerptLength int
}

// DefaultPolicy keeps OCR cross-validation as the only enrollment gate.
func DefaultPolicy() Policy {
	return Policy{ExcerptLength: 120}
}

// Stages bundles the stage implementations.
type Stages struct {
	Embedder  FaceEmbedder
	Hasher    DocumentHasher
	Reader    TextReader
	Validator DocumentValidator
	Liveness  LivenessChecker
}

// Orchestrator runs verifications. It holds no per-call state and is safe for
// concurrent use.
type Orchestrator struct {
	stages Stages
	policy Policy
	logger *zap.Logger
}

// New returns an orchestrator over stages.
func New(stages Stages, policy Policy, logger *zap.Logger) (*Orchestrator, error) {
	if stages.Embedder == nil || stages.Hasher == nil || stages.Reader == nil || stages.Validator == nil || stages.Liveness == nil {
		return nil, errors.New("pipeline: every stage must be provided")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{stages: stages, policy: policy, logger: logger.Named("pipeline")}, nil
}

// Verify dispatches req to the workflow selected by req.Mode.
func (o *Orchestrator) Verify(ctx context.Context, req Request) (*Decision, error) {
	switch req.Mode {
	case ModeComparison:
		return o.Compare(ctx, req)
	case ModeEnrollment:
		return o.Enroll(ctx, req)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
}

// Compare re-verifies req.Face against the reference image in req.Document.
// Rejections are reported on the decision; errors are limited to invalid
// requests, undecodable images and embedding shape mismatches.
func (o *Orchestrator) Compare(ctx context.Context, req Request) (*Decision, error) {
	if err := checkCommon(req); err != nil {
		return nil, err
	}
	if math.IsNaN(req.Threshold) || req.Threshold < -1 || req.Threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v outside [-1, 1]", ErrInvalidRequest, req.Threshold)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	face, reference, err := decodePair(req.Face, req.Document)
	if err != nil {
		return nil, err
	}

	var (
		faceVec, refVec embedding.Embedding
		fingerprint     dochash.Fingerprint
		text            ocr.Result
		verdict         liveness.Verdict
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		faceVec, err = o.stages.Embedder.ExtractImage(gctx, face)
		return err
	})
	g.Go(func() (err error) {
		refVec, err = o.stages.Embedder.ExtractImage(gctx, reference)
		return err
	})
	g.Go(func() (err error) {
		fingerprint, err = o.stages.Hasher.Hash(req.Document, req.TransactionID, "")
		return err
	})
	g.Go(func() error {
		text = o.stages.Reader.ExtractImage(gctx, reference)
		return nil
	})
	g.Go(func() error {
		verdict = o.stages.Liveness.CheckImage(face)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	score, err := embedding.Cosine(faceVec, refVec)
	if err != nil {
		return nil, err
	}
	threshold := req.Threshold

	d := &Decision{
		Mode:           ModeComparison,
		TransactionID:  req.TransactionID,
		Score:          &score,
		Threshold:      &threshold,
		Liveness:       verdict,
		DocumentValid:  o.stages.Validator.Validate(text),
		Fingerprint:    fingerprint,
		EmbeddingModel: o.stages.Embedder.Backend(),
		OCRExcerpt:     ocr.Excerpt(text.RawText, o.policy.ExcerptLength),
	}
	if score < threshold {
		d.reject(StageBiometric, fmt.Sprintf("face similarity %.2f below threshold %.2f", score, threshold))
	}
	if !verdict.IsLive {
		d.reject(StageBiometric, "liveness check failed: "+verdict.Reason)
	}
	if !d.DocumentValid {
		d.reject(StageBiometric, "document format invalid")
	}
	d.finish()

	o.logDecision("pipeline.compare", d, time.Since(start))
	return d, nil
}

// Enroll captures a new identity from req.Face and the identity document in
// req.Document. By default only an OCR cross-validation mismatch, or a
// disagreement with a supplied authoritative identity, rejects.
func (o *Orchestrator) Enroll(ctx context.Context, req Request) (*Decision, error) {
	if err := checkCommon(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.DeclaredName) == "" || ocr.StripSpace(req.DeclaredID) == "" {
		return nil, fmt.Errorf("%w: declared name and id are required for enrollment", ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	face, document, err := decodePair(req.Face, req.Document)
	if err != nil {
		return nil, err
	}

	var (
		faceVec     embedding.Embedding
		fingerprint dochash.Fingerprint
		text        ocr.Result
		verdict     liveness.Verdict
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		faceVec, err = o.stages.Embedder.ExtractImage(gctx, face)
		return err
	})
	g.Go(func() (err error) {
		fingerprint, err = o.stages.Hasher.Hash(req.Document, req.TransactionID, "")
		return err
	})
	g.Go(func() error {
		text = o.stages.Reader.ExtractImage(gctx, document)
		return nil
	})
	g.Go(func() error {
		verdict = o.stages.Liveness.CheckImage(face)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := &Decision{
		Mode:           ModeEnrollment,
		TransactionID:  req.TransactionID,
		Liveness:       verdict,
		DocumentValid:  o.stages.Validator.Validate(text),
		Fingerprint:    fingerprint,
		EmbeddingModel: o.stages.Embedder.Backend(),
		OCRExcerpt:     ocr.Excerpt(text.RawText, o.policy.ExcerptLength),
	}

	expectedName, expectedID := req.DeclaredName, req.DeclaredID
	if auth := req.Authority; auth != nil {
		declared := o.stages.Validator.CrossValidate(ocr.Result{ExtractedName: auth.Name, ExtractedID: auth.ID}, req.DeclaredName, req.DeclaredID)
		if !declared.Verified {
			d.reject(StageDigiLocker, "declared identity does not match "+authoritySource(auth))
		}
		if auth.Name != "" {
			expectedName = auth.Name
		}
		if auth.ID != "" {
			expectedID = auth.ID
		}
	}

	cv := o.stages.Validator.CrossValidate(text, expectedName, expectedID)
	d.CrossValidation = &cv
	if !cv.Verified {
		d.reject(StageOCR, crossValidationReason(cv))
	}
	if o.policy.EnforceLivenessOnEnrollment && !verdict.IsLive {
		d.reject(StageBiometric, "liveness check failed: "+verdict.Reason)
	}
	if o.policy.EnforceDocumentOnEnrollment && !d.DocumentValid {
		d.reject(StageOCR, "document format invalid")
	}
	d.finish()
	if d.Verified {
		d.Embedding = faceVec
	}

	o.logDecision("pipeline.enroll", d, time.Since(start))
	return d, nil
}

func (o *Orchestrator) logDecision(operation string, d *Decision, elapsed time.Duration) {
	fields := []zap.Field{
		zap.Bool("verified", d.Verified),
		zap.Bool("live", d.Liveness.IsLive),
		zap.Bool("document_valid", d.DocumentValid),
		zap.Duration("elapsed", elapsed),
	}
	if d.Score != nil {
		fields = append(fields, zap.Float64("score", *d.Score))
	}
	if d.FailureStage != "" {
		fields = append(fields, zap.String("failure_stage", string(d.FailureStage)), zap.Strings("reasons", d.Reasons))
	}
	logging.WithOperation(o.logger, operation, d.TransactionID).Info("verification decided", fields...)
}

func checkCommon(req Request) error {
	switch {
	case req.TransactionID == "":
		return fmt.Errorf("%w: transaction id is required", ErrInvalidRequest)
	case len(req.Face) == 0:
		return fmt.Errorf("%w: face image is required", ErrInvalidRequest)
	case len(req.Document) == 0:
		return fmt.Errorf("%w: document image is required", ErrInvalidRequest)
	}
	return nil
}

func decodePair(face, document []byte) (image.Image, image.Image, error) {
	faceImg, err := imageprocessor.Decode(face)
	if err != nil {
		return nil, nil, fmt.Errorf("face image: %w", err)
	}
	docImg, err := imageprocessor.Decode(document)
	if err != nil {
		return nil, nil, fmt.Errorf("document image: %w", err)
	}
	return faceImg, docImg, nil
}

func crossValidationReason(cv ocr.CrossValidation) string {
	switch {
	case cv.IDExtracted && !cv.IDMatch:
		return "document id does not match declared id"
	case cv.NameExtracted && !cv.NameMatch:
		return "document name does not match declared name"
	default:
		return "document fields could not be read"
	}
}

func authoritySource(auth *AuthoritativeIdentity) string {
	if auth.Source != "" {
		return auth.Source
	}
	return "authoritative identity"
}
