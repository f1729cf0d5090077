package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(values map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Liveness.FailOpen || !cfg.OCR.Lenient {
		t.Fatal("expected fail-open liveness and lenient OCR by default")
	}
	if cfg.Pipeline.ComparisonThreshold != 0.65 || cfg.Pipeline.OnboardingThreshold != 0.6 {
		t.Fatalf("unexpected thresholds %+v", cfg.Pipeline)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	raw := []byte(`
log:
  level: debug
embedding:
  backend: cnn
  weights_path: /models/face.idvw
ocr:
  engine: remote
  remote_addr: ocr:50051
  languages: [eng]
  timeout: 20s
liveness:
  fail_open: false
`)
	cfg := Default()
	if err := Parse(raw, cfg); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Embedding.Backend != BackendCNN {
		t.Fatalf("values not applied: %+v", cfg)
	}
	if cfg.OCR.Timeout != 20*time.Second || len(cfg.OCR.Languages) != 1 {
		t.Fatalf("ocr not applied: %+v", cfg.OCR)
	}
	if cfg.Liveness.FailOpen {
		t.Fatal("expected fail-closed liveness")
	}
	if cfg.Liveness.MinDimension != 200 {
		t.Fatalf("untouched defaults should survive, got %d", cfg.Liveness.MinDimension)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "bogus: true\n",
		"bad engine":       "ocr:\n  engine: paddle\n",
		"bad duration":     "http:\n  shutdown_timeout: soon\n",
		"threshold range":  "pipeline:\n  comparison_threshold: 1.5\n",
		"negative min dim": "liveness:\n  min_dimension: 0\n",
	}
	for name, raw := range cases {
		err := Parse([]byte(raw), Default())
		var schemaErr *SchemaError
		if !errors.As(err, &schemaErr) {
			t.Errorf("%s: expected SchemaError, got %v", name, err)
		}
	}
}

func TestParseEmptyDocument(t *testing.T) {
	cfg := Default()
	if err := Parse([]byte("   \n"), cfg); err != nil {
		t.Fatalf("expected empty document to be accepted, got %v", err)
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	cfg := Default()
	cfg.Embedding.Backend = BackendCNN
	cfg.OCR.Engine = EngineRemote
	cfg.Liveness.MinAspect = 3

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"weights_path", "remote_addr", "min_aspect"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := applyEnv(cfg, env(map[string]string{
		"DATABASE_DSN":                  "postgres://x",
		"JWT_SECRET":                    "s",
		"IDVERIFY_OCR_LANGUAGES":        "eng+hin+tam",
		"IDVERIFY_LIVENESS_FAIL_OPEN":   "false",
		"IDVERIFY_COMPARISON_THRESHOLD": "0.7",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Database.DSN != "postgres://x" || cfg.Auth.JWTSecret != "s" {
		t.Fatalf("string overrides missing: %+v", cfg)
	}
	if strings.Join(cfg.OCR.Languages, ",") != "eng,hin,tam" {
		t.Fatalf("unexpected languages %v", cfg.OCR.Languages)
	}
	if cfg.Liveness.FailOpen {
		t.Fatal("expected fail-open override")
	}
	if cfg.Pipeline.ComparisonThreshold != 0.7 {
		t.Fatalf("unexpected threshold %v", cfg.Pipeline.ComparisonThreshold)
	}
}

func TestApplyEnvRejectsBadBool(t *testing.T) {
	if err := applyEnv(Default(), env(map[string]string{"IDVERIFY_OCR_LENIENT": "sometimes"})); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idverify.yaml")
	if err := os.WriteFile(path, []byte("http:\n  addr: \":9090\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IDVERIFY_HTTP_ADDR", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("unexpected addr %q", cfg.HTTP.Addr)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
