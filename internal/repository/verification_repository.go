package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/idverify/internal/retry"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("verification record not found")

// VerificationRecord is the persisted outcome of one verification. It holds
// only derived artifacts: the face embedding, the document fingerprint and a
// short OCR excerpt. Raw images are never stored.
type VerificationRecord struct {
	ID                  uint      `gorm:"primaryKey"`
	RequestID           string    `gorm:"column:request_id;uniqueIndex;size:64"`
	ApplicantID         string    `gorm:"column:applicant_id;index;size:64"`
	TransactionID       string    `gorm:"column:transaction_id;size:64"`
	Mode                string    `gorm:"column:mode;size:16"`
	Verified            bool      `gorm:"column:verified"`
	Score               *float64  `gorm:"column:score"`
	Threshold           *float64  `gorm:"column:threshold"`
	FailureStage        string    `gorm:"column:failure_stage;size:32"`
	Reasons             []string  `gorm:"column:reasons;serializer:json"`
	Live                bool      `gorm:"column:live"`
	LivenessReason      string    `gorm:"column:liveness_reason;size:64"`
	DocumentValid       bool      `gorm:"column:document_valid"`
	FingerprintHash     string    `gorm:"column:fingerprint_hash;size:64;index"`
	FingerprintSalt     string    `gorm:"column:fingerprint_salt;size:32"`
	Embedding           []float64 `gorm:"column:embedding;serializer:json"`
	EmbeddingModel      string    `gorm:"column:embedding_model;size:32"`
	OCRExcerpt          string    `gorm:"column:ocr_excerpt;type:text"`
	ProcessingLatencyMs int64     `gorm:"column:processing_latency_ms"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationRecord) TableName() string {
	return "verification_records"
}

// MetricsAggregation is the raw aggregate over all records.
type MetricsAggregation struct {
	TotalCount                 int64
	SuccessCount               int64
	AverageScore               float64
	AverageProcessingLatencyMs float64
	FailuresByStage            map[string]int64
}

// VerificationRepository provides persistence APIs for verification records.
type VerificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	policy := retry.DefaultPolicy()
	return &VerificationRepository{
		db:             db,
		logger:         logger.Named("verification_repository"),
		retryAttempts:  policy.Attempts,
		initialBackoff: policy.InitialBackoff,
		maxBackoff:     policy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationRecord{})
}

// SaveRecord persists a verification record.
func (r *VerificationRepository) SaveRecord(ctx context.Context, record *VerificationRecord) error {
	return r.executeWithRetry(ctx, "repository.save_record", record.RequestID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// FindByRequestIDAndApplicant retrieves the record for a request owned by
// applicantID.
func (r *VerificationRepository) FindByRequestIDAndApplicant(ctx context.Context, requestID, applicantID string) (*VerificationRecord, error) {
	var record VerificationRecord
	err := r.executeWithRetry(ctx, "repository.find_record", requestID, func() error {
		return notFound(r.db.WithContext(ctx).First(&record, "request_id = ? AND applicant_id = ?", requestID, applicantID).Error)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// AggregateMetrics summarises all persisted verifications.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount   int64
		SuccessCount int64
		AvgScore     *float64
		AvgLatency   *float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationRecord{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN verified THEN 1 ELSE 0 END), 0) AS success_count, " +
				"AVG(score) AS avg_score, " +
				"AVG(processing_latency_ms) AS avg_latency").
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}

	var stages []struct {
		FailureStage string
		Count        int64
	}
	err = r.executeWithRetry(ctx, "repository.aggregate_failures", "", func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationRecord{}).
			Select("failure_stage, COUNT(*) AS count").
			Where("verified = ? AND failure_stage <> ''", false).
			Group("failure_stage").
			Scan(&stages).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &MetricsAggregation{
		TotalCount:      row.TotalCount,
		SuccessCount:    row.SuccessCount,
		FailuresByStage: make(map[string]int64, len(stages)),
	}
	for _, s := range stages {
		agg.FailuresByStage[s.FailureStage] = s.Count
	}
	if row.AvgScore != nil {
		agg.AverageScore = *row.AvgScore
	}
	if row.AvgLatency != nil {
		agg.AverageProcessingLatencyMs = *row.AvgLatency
	}
	return agg, nil
}

func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
		Expected:       isNotFound,
	}
	return retry.Do(ctx, policy, r.logger, operation, requestID, fn)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
