package usecase

import "context"

// MetricsSummary is the aggregate view over every persisted verification.
type MetricsSummary struct {
	TotalRequests              int64            `json:"total_requests"`
	SuccessfulRequests         int64            `json:"successful_requests"`
	SuccessRate                float64          `json:"success_rate"`
	AverageScore               float64          `json:"average_score"`
	AverageProcessingLatencyMs float64          `json:"average_processing_latency_ms"`
	FailuresByStage            map[string]int64 `json:"failures_by_stage"`
}

// GetMetricsSummary reports success rate, mean comparison score, mean
// pipeline latency and rejections per failure stage.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	agg, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              agg.TotalCount,
		SuccessfulRequests:         agg.SuccessCount,
		AverageScore:               agg.AverageScore,
		AverageProcessingLatencyMs: agg.AverageProcessingLatencyMs,
		FailuresByStage:            agg.FailuresByStage,
	}
	if summary.FailuresByStage == nil {
		summary.FailuresByStage = map[string]int64{}
	}
	if agg.TotalCount > 0 {
		summary.SuccessRate = float64(agg.SuccessCount) / float64(agg.TotalCount)
	}
	return summary, nil
}
