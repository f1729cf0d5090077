package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/example/idverify/internal/dochash"
	"github.com/example/idverify/internal/ocr"
	"github.com/example/idverify/internal/pipeline"
)

func newEnrollCmd(root *rootOptions) *cobra.Command {
	var (
		facePath, documentPath string
		name, id               string
		authority              pipeline.AuthoritativeIdentity
		txn                    string
	)
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll a face against an identity document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			face, document, err := readPair(facePath, documentPath)
			if err != nil {
				return err
			}
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			s, err := buildStack(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			req := pipeline.Request{
				Mode:          pipeline.ModeEnrollment,
				Face:          face,
				Document:      document,
				TransactionID: transactionID(txn),
				DeclaredName:  name,
				DeclaredID:    id,
			}
			if authority.Source != "" {
				req.Authority = &authority
			}
			decision, err := s.orchestrator.Verify(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), decision)
		},
	}
	cmd.Flags().StringVar(&facePath, "face", "", "face image")
	cmd.Flags().StringVar(&documentPath, "document", "", "identity document image")
	cmd.Flags().StringVar(&name, "name", "", "declared name")
	cmd.Flags().StringVar(&id, "id", "", "declared identity number")
	cmd.Flags().StringVar(&authority.Source, "authority-source", "", "source of an authoritative identity, e.g. digilocker")
	cmd.Flags().StringVar(&authority.Name, "authority-name", "", "authoritative name")
	cmd.Flags().StringVar(&authority.ID, "authority-id", "", "authoritative identity number")
	cmd.Flags().StringVar(&txn, "txn", "", "transaction id (random when empty)")
	_ = cmd.MarkFlagRequired("face")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}

func newCompareCmd(root *rootOptions) *cobra.Command {
	var (
		facePath, referencePath string
		threshold               float64
		onboarding              bool
		txn                     string
	)
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare a face with a reference image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			face, reference, err := readPair(facePath, referencePath)
			if err != nil {
				return err
			}
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if !cmd.Flags().Changed("threshold") {
				threshold = cfg.Pipeline.ComparisonThreshold
				if onboarding {
					threshold = cfg.Pipeline.OnboardingThreshold
				}
			}

			s, err := buildStack(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			decision, err := s.orchestrator.Verify(cmd.Context(), pipeline.Request{
				Mode:          pipeline.ModeComparison,
				Face:          face,
				Document:      reference,
				TransactionID: transactionID(txn),
				Threshold:     threshold,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), decision)
		},
	}
	cmd.Flags().StringVar(&facePath, "face", "", "face image")
	cmd.Flags().StringVar(&referencePath, "reference", "", "reference image")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum cosine similarity (defaults to the configured threshold)")
	cmd.Flags().BoolVar(&onboarding, "onboarding", false, "use the onboarding threshold instead of the re-authentication one")
	cmd.Flags().StringVar(&txn, "txn", "", "transaction id (random when empty)")
	_ = cmd.MarkFlagRequired("face")
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}

func newHashCmd(_ *rootOptions) *cobra.Command {
	var (
		documentPath, txn, salt, expected string
	)
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Fingerprint a document, or check it against a stored fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			document, err := os.ReadFile(documentPath)
			if err != nil {
				return err
			}
			hasher := dochash.NewHasher()

			if expected != "" {
				if salt == "" {
					return errors.New("--salt is required with --verify")
				}
				fp := dochash.Fingerprint{Hash: expected, Salt: salt}
				if !hasher.Verify(document, txn, fp) {
					return dochash.ErrFingerprintMismatch
				}
				return writeJSON(cmd.OutOrStdout(), map[string]bool{"match": true})
			}

			fp, err := hasher.Hash(document, txn, salt)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), fp)
		},
	}
	cmd.Flags().StringVar(&documentPath, "document", "", "document file")
	cmd.Flags().StringVar(&txn, "txn", "", "transaction id the fingerprint is bound to")
	cmd.Flags().StringVar(&salt, "salt", "", "hex salt (random when empty)")
	cmd.Flags().StringVar(&expected, "verify", "", "expected fingerprint hash")
	_ = cmd.MarkFlagRequired("document")
	_ = cmd.MarkFlagRequired("txn")
	return cmd
}

func newLivenessCmd(root *rootOptions) *cobra.Command {
	var facePath string
	cmd := &cobra.Command{
		Use:   "liveness",
		Short: "Run the liveness heuristics on a face image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			face, err := os.ReadFile(facePath)
			if err != nil {
				return err
			}
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			s, err := buildStack(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			return writeJSON(cmd.OutOrStdout(), s.detector.Check(face))
		},
	}
	cmd.Flags().StringVar(&facePath, "face", "", "face image")
	_ = cmd.MarkFlagRequired("face")
	return cmd
}

type ocrReport struct {
	ocr.Result
	DocumentValid   bool                 `json:"document_valid"`
	CrossValidation *ocr.CrossValidation `json:"cross_validation,omitempty"`
}

func newOCRCmd(root *rootOptions) *cobra.Command {
	var documentPath, name, id string
	cmd := &cobra.Command{
		Use:   "ocr",
		Short: "Extract and validate identity fields from a document image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			document, err := os.ReadFile(documentPath)
			if err != nil {
				return err
			}
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			s, err := buildStack(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.reader.Extract(cmd.Context(), document)
			if err != nil {
				return err
			}
			report := ocrReport{Result: res, DocumentValid: s.validator.Validate(res)}
			if name != "" || id != "" {
				cv := s.validator.CrossValidate(res, name, id)
				report.CrossValidation = &cv
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&documentPath, "document", "", "document image")
	cmd.Flags().StringVar(&name, "name", "", "declared name to cross-validate")
	cmd.Flags().StringVar(&id, "id", "", "declared identity number to cross-validate")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}

func readPair(facePath, otherPath string) ([]byte, []byte, error) {
	face, err := os.ReadFile(facePath)
	if err != nil {
		return nil, nil, fmt.Errorf("read face: %w", err)
	}
	other, err := os.ReadFile(otherPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", otherPath, err)
	}
	return face, other, nil
}

func transactionID(flag string) string {
	if flag != "" {
		return flag
	}
	return uuid.NewString()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
