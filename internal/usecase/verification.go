package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/pipeline"
	"github.com/example/idverify/internal/repository"
	"github.com/example/idverify/internal/retry"
)

const (
	// SucceededChannel receives an event for every verified request.
	SucceededChannel = "idverify.verification.succeeded"

	// DefaultComparisonThreshold applies to re-authentication requests that
	// carry no threshold of their own.
	DefaultComparisonThreshold = 0.65

	resultTTL     = 5 * time.Minute
	processingTTL = time.Minute
)

// Pipeline runs a single verification.
type Pipeline interface {
	Verify(ctx context.Context, req pipeline.Request) (*pipeline.Decision, error)
}

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveRecord(ctx context.Context, record *repository.VerificationRecord) error
	FindByRequestIDAndApplicant(ctx context.Context, requestID, applicantID string) (*repository.VerificationRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// EnrollRequest captures a new applicant.
type EnrollRequest struct {
	ApplicantID  string
	Face         []byte
	Document     []byte
	DeclaredName string
	DeclaredID   string
	Authority    *pipeline.AuthoritativeIdentity
}

// CompareRequest re-verifies an applicant against a reference image. A nil
// Threshold selects the use case default.
type CompareRequest struct {
	ApplicantID string
	Face        []byte
	Reference   []byte
	Threshold   *float64
}

// Outcome is returned for a freshly processed request.
type Outcome struct {
	RequestID   string             `json:"request_id"`
	ApplicantID string             `json:"applicant_id"`
	Decision    *pipeline.Decision `json:"decision"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Result is the stored view of a processed request.
type Result struct {
	RequestID           string    `json:"request_id"`
	ApplicantID         string    `json:"applicant_id"`
	TransactionID       string    `json:"transaction_id"`
	Mode                string    `json:"mode"`
	Verified            bool      `json:"verified"`
	Score               *float64  `json:"score,omitempty"`
	Threshold           *float64  `json:"threshold,omitempty"`
	FailureStage        string    `json:"failure_stage,omitempty"`
	Reasons             []string  `json:"reasons,omitempty"`
	Live                bool      `json:"live"`
	LivenessReason      string    `json:"liveness_reason"`
	DocumentValid       bool      `json:"document_valid"`
	FingerprintHash     string    `json:"fingerprint_hash"`
	FingerprintSalt     string    `json:"fingerprint_salt"`
	EmbeddingModel      string    `json:"embedding_model"`
	OCRExcerpt          string    `json:"ocr_excerpt"`
	ProcessingLatencyMs int64     `json:"processing_latency_ms"`
	CreatedAt           time.Time `json:"created_at"`
}

type succeededEvent struct {
	RequestID     string    `json:"request_id"`
	ApplicantID   string    `json:"applicant_id"`
	TransactionID string    `json:"transaction_id"`
	Mode          string    `json:"mode"`
	CreatedAt     time.Time `json:"created_at"`
}

// Option customises a VerificationUseCase.
type Option func(*VerificationUseCase)

// WithComparisonThreshold overrides DefaultComparisonThreshold.
func WithComparisonThreshold(threshold float64) Option {
	return func(uc *VerificationUseCase) {
		uc.comparisonThreshold = threshold
	}
}

// WithNotifier enables success notifications.
func WithNotifier(n Notifier) Option {
	return func(uc *VerificationUseCase) {
		uc.notifier = n
	}
}

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	pipeline            Pipeline
	repo                VerificationRepository
	cache               Cache
	notifier            Notifier
	logger              *zap.Logger
	comparisonThreshold float64
	retry               retry.Policy
	now                 func() time.Time
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(p Pipeline, repo VerificationRepository, cache Cache, logger *zap.Logger, opts ...Option) *VerificationUseCase {
	uc := &VerificationUseCase{
		pipeline:            p,
		repo:                repo,
		cache:               cache,
		logger:              logger.Named("verification_usecase"),
		comparisonThreshold: DefaultComparisonThreshold,
		retry:               cachePolicy(),
		now:                 func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Enroll verifies a new applicant from a face capture and identity document.
func (uc *VerificationUseCase) Enroll(ctx context.Context, req EnrollRequest) (*Outcome, error) {
	return uc.process(ctx, "usecase.enroll", req.ApplicantID, pipeline.Request{
		Mode:         pipeline.ModeEnrollment,
		Face:         req.Face,
		Document:     req.Document,
		DeclaredName: req.DeclaredName,
		DeclaredID:   req.DeclaredID,
		Authority:    req.Authority,
	})
}

// Compare re-verifies an applicant against a reference image.
func (uc *VerificationUseCase) Compare(ctx context.Context, req CompareRequest) (*Outcome, error) {
	threshold := uc.comparisonThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	return uc.process(ctx, "usecase.compare", req.ApplicantID, pipeline.Request{
		Mode:      pipeline.ModeComparison,
		Face:      req.Face,
		Document:  req.Reference,
		Threshold: threshold,
	})
}

func (uc *VerificationUseCase) process(ctx context.Context, operation, applicantID string, req pipeline.Request) (*Outcome, error) {
	requestID := uuid.NewString()
	req.TransactionID = uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, operation, requestID)

	cacheKey := resultKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	start := time.Now()
	decision, err := uc.pipeline.Verify(ctx, req)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.pipeline", requestID, err)
		opLogger.Warn("pipeline returned an error", zap.Error(wrapped))
		return nil, wrapped
	}
	latency := time.Since(start)

	record := recordFromDecision(requestID, applicantID, decision, latency, uc.now())
	if err := uc.repo.SaveRecord(ctx, record); err != nil {
		wrapped := logging.NewOperationError("usecase.save_record", requestID, err)
		opLogger.Error("failed to persist verification record", zap.Error(wrapped))
		return nil, wrapped
	}

	serialized, err := json.Marshal(resultFromRecord(record))
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache verification result", zap.Error(err))
		return nil, err
	}

	if decision.Verified {
		uc.notifySucceeded(ctx, record)
	}

	return &Outcome{
		RequestID:   requestID,
		ApplicantID: applicantID,
		Decision:    decision,
		CreatedAt:   record.CreatedAt,
	}, nil
}

// GetResult retrieves a cached verification outcome or loads from persistence.
func (uc *VerificationUseCase) GetResult(ctx context.Context, applicantID, requestID string) (*Result, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID))
	switch {
	case err == nil:
		var payload Result
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			// "processing" and corrupt entries fall through to the database.
			opLogger.Debug("cached value is not a result", zap.Error(err))
		} else if payload.ApplicantID == applicantID {
			return &payload, nil
		}
	case !errors.Is(err, redis.Nil):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	record, err := uc.repo.FindByRequestIDAndApplicant(ctx, requestID, applicantID)
	if err != nil {
		return nil, err
	}
	return resultFromRecord(record), nil
}

func (uc *VerificationUseCase) notifySucceeded(ctx context.Context, record *repository.VerificationRecord) {
	if uc.notifier == nil {
		return
	}
	payload, err := json.Marshal(succeededEvent{
		RequestID:     record.RequestID,
		ApplicantID:   record.ApplicantID,
		TransactionID: record.TransactionID,
		Mode:          record.Mode,
		CreatedAt:     record.CreatedAt,
	})
	if err != nil {
		return
	}
	err = uc.withRedisRetry(ctx, record.RequestID, "notify.succeeded", func() error {
		return uc.notifier.Publish(ctx, SucceededChannel, string(payload))
	})
	if err != nil {
		// The decision is already persisted; a lost event is not fatal.
		logging.WithOperation(uc.logger, "notify.succeeded", record.RequestID).Warn("failed to publish event", zap.Error(err))
	}
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	return retry.Do(ctx, uc.retry, uc.logger, operation, requestID, fn)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// cachePolicy treats redis.Nil as an ordinary miss.
func cachePolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Expected = func(err error) bool { return errors.Is(err, redis.Nil) }
	return p
}

func resultKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

func recordFromDecision(requestID, applicantID string, d *pipeline.Decision, latency time.Duration, now time.Time) *repository.VerificationRecord {
	return &repository.VerificationRecord{
		RequestID:           requestID,
		ApplicantID:         applicantID,
		TransactionID:       d.TransactionID,
		Mode:                string(d.Mode),
		Verified:            d.Verified,
		Score:               d.Score,
		Threshold:           d.Threshold,
		FailureStage:        string(d.FailureStage),
		Reasons:             d.Reasons,
		Live:                d.Liveness.IsLive,
		LivenessReason:      d.Liveness.Reason,
		DocumentValid:       d.DocumentValid,
		FingerprintHash:     d.Fingerprint.Hash,
		FingerprintSalt:     d.Fingerprint.Salt,
		Embedding:           d.Embedding,
		EmbeddingModel:      d.EmbeddingModel,
		OCRExcerpt:          d.OCRExcerpt,
		ProcessingLatencyMs: latency.Milliseconds(),
		CreatedAt:           now,
	}
}

func resultFromRecord(r *repository.VerificationRecord) *Result {
	return &Result{
		RequestID:           r.RequestID,
		ApplicantID:         r.ApplicantID,
		TransactionID:       r.TransactionID,
		Mode:                r.Mode,
		Verified:            r.Verified,
		Score:               r.Score,
		Threshold:           r.Threshold,
		FailureStage:        r.FailureStage,
		Reasons:             r.Reasons,
		Live:                r.Live,
		LivenessReason:      r.LivenessReason,
		DocumentValid:       r.DocumentValid,
		FingerprintHash:     r.FingerprintHash,
		FingerprintSalt:     r.FingerprintSalt,
		EmbeddingModel:      r.EmbeddingModel,
		OCRExcerpt:          r.OCRExcerpt,
		ProcessingLatencyMs: r.ProcessingLatencyMs,
		CreatedAt:           r.CreatedAt,
	}
}
