package pipeline

import (
	"github.com/example/idverify/internal/dochash"
	"github.com/example/idverify/internal/embedding"
	"github.com/example/idverify/internal/liveness"
	"github.com/example/idverify/internal/ocr"
)

// Mode selects the verification workflow.
type Mode string

const (
	// ModeEnrollment captures a new identity: no prior reference exists.
	ModeEnrollment Mode = "enrollment"
	// ModeComparison re-verifies a face against a reference image.
	ModeComparison Mode = "comparison"
)

// Stage identifies where a rejection originated so callers can render
// targeted remediation.
type Stage string

const (
	// StageDigiLocker rejects declared values that disagree with an
	// authoritative identity.
	StageDigiLocker Stage = "digilocker"
	// StageBiometric covers face similarity, liveness and, in comparison
	// mode, the reference document format.
	StageBiometric Stage = "biometric"
	// StageOCR covers document cross-validation and, when enforced, the
	// document format at enrollment.
	StageOCR Stage = "ocr"
)

// AuthoritativeIdentity is a name and id pair supplied by an external document
// verification service. When present it replaces the declared values as the
// reference for OCR cross-validation.
type AuthoritativeIdentity struct {
	Source string `json:"source"`
	Name   string `json:"name"`
	ID     string `json:"id"`
}

// Request carries the inputs of one verification. Document is the identity
// document in enrollment mode and the reference image in comparison mode.
type Request struct {
	Mode          Mode
	Face          []byte
	Document      []byte
	TransactionID string

	// Comparison mode.
	Threshold float64

	// Enrollment mode.
	DeclaredName string
	DeclaredID   string
	Authority    *AuthoritativeIdentity
}

// Decision is the terminal, immutable output of the pipeline.
type Decision struct {
	Verified        bool                 `json:"verified"`
	Mode            Mode                 `json:"mode"`
	TransactionID   string               `json:"transaction_id"`
	Score           *float64             `json:"score,omitempty"`
	Threshold       *float64             `json:"threshold,omitempty"`
	Liveness        liveness.Verdict     `json:"liveness"`
	DocumentValid   bool                 `json:"document_valid"`
	Fingerprint     dochash.Fingerprint  `json:"fingerprint"`
	Embedding       embedding.Embedding  `json:"embedding,omitempty"`
	EmbeddingModel  string               `json:"embedding_model"`
	OCRExcerpt      string               `json:"ocr_excerpt"`
	CrossValidation *ocr.CrossValidation `json:"cross_validation,omitempty"`
	FailureStage    Stage                `json:"failure_stage,omitempty"`
	Error           string               `json:"error,omitempty"`
	Reasons         []string             `json:"reasons,omitempty"`
}

// reject records a failure; the first stage reported wins.
func (d *Decision) reject(stage Stage, reason string) {
	if d.FailureStage == "" {
		d.FailureStage = stage
	}
	d.Reasons = append(d.Reasons, reason)
}

func (d *Decision) finish() {
	d.Verified = len(d.Reasons) == 0
	if !d.Verified {
		d.Error = d.Reasons[0]
	}
}
