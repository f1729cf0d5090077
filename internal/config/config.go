// Package config loads the service configuration: a YAML file checked against
// an embedded JSON schema, then environment overrides on top.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

// Embedding backends.
const (
	BackendCNN   = "cnn"
	BackendPHash = "phash"
)

// OCR engines.
const (
	EngineNone      = "none"
	EngineTesseract = "tesseract"
	EngineRemote    = "remote"
)

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Audience  string        `yaml:"audience"`
	Issuer    string        `yaml:"issuer"`
	Leeway    time.Duration `yaml:"leeway"`
}

type Database struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Embedding struct {
	Backend     string `yaml:"backend"`
	WeightsPath string `yaml:"weights_path"`
}

type OCR struct {
	Engine       string        `yaml:"engine"`
	RemoteAddr   string        `yaml:"remote_addr"`
	Languages    []string      `yaml:"languages"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxDimension int           `yaml:"max_dimension"`
	MaxUpscale   float64       `yaml:"max_upscale"`
	DocumentType string        `yaml:"document_type"`
	Lenient      bool          `yaml:"lenient"`
}

type Liveness struct {
	MinDimension int     `yaml:"min_dimension"`
	MinStdDev    float64 `yaml:"min_std_dev"`
	MinAspect    float64 `yaml:"min_aspect"`
	MaxAspect    float64 `yaml:"max_aspect"`
	FailOpen     bool    `yaml:"fail_open"`
}

type Pipeline struct {
	ComparisonThreshold         float64 `yaml:"comparison_threshold"`
	OnboardingThreshold         float64 `yaml:"onboarding_threshold"`
	EnforceLivenessOnEnrollment bool    `yaml:"enforce_liveness_on_enrollment"`
	EnforceDocumentOnEnrollment bool    `yaml:"enforce_document_on_enrollment"`
	ExcerptLength               int     `yaml:"excerpt_length"`
}

// Config is the complete service configuration.
type Config struct {
	Log       Log       `yaml:"log"`
	HTTP      HTTP      `yaml:"http"`
	Auth      Auth      `yaml:"auth"`
	Database  Database  `yaml:"database"`
	Redis     Redis     `yaml:"redis"`
	Embedding Embedding `yaml:"embedding"`
	OCR       OCR       `yaml:"ocr"`
	Liveness  Liveness  `yaml:"liveness"`
	Pipeline  Pipeline  `yaml:"pipeline"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:  Log{Level: "info"},
		HTTP: HTTP{Addr: ":8080", ShutdownTimeout: 15 * time.Second},
		Database: Database{
			DSN:          "host=postgres user=postgres password=postgres dbname=idverify port=5432 sslmode=disable",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Redis:     Redis{Addr: "redis:6379"},
		Embedding: Embedding{Backend: BackendPHash},
		OCR: OCR{
			Engine:       EngineNone,
			Languages:    []string{"eng", "hin"},
			Timeout:      50 * time.Second,
			MaxDimension: 2000,
			MaxUpscale:   2,
			DocumentType: "national_id",
			Lenient:      true,
		},
		Liveness: Liveness{
			MinDimension: 200,
			MinStdDev:    10,
			MinAspect:    0.5,
			MaxAspect:    2.0,
			FailOpen:     true,
		},
		Pipeline: Pipeline{
			ComparisonThreshold: 0.65,
			OnboardingThreshold: 0.6,
			ExcerptLength:       120,
		},
	}
}

// Load reads path (optional), applies environment overrides and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Parse(raw, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse validates raw YAML against the schema and decodes it over cfg.
func Parse(raw []byte, cfg *Config) error {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		return nil
	}

	problems, err := validateSchema(doc)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return &SchemaError{Problems: problems}
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// SchemaError lists every schema violation found in a config document.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "schema validation failed: " + strings.Join(e.Problems, "; ")
}

func validateSchema(doc interface{}) ([]string, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("validate schema: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}

// Validate checks constraints that span fields.
func (c *Config) Validate() error {
	var errs []error
	if c.Embedding.Backend == BackendCNN && c.Embedding.WeightsPath == "" {
		errs = append(errs, errors.New("embedding.weights_path is required for the cnn backend"))
	}
	if c.OCR.Engine == EngineRemote && c.OCR.RemoteAddr == "" {
		errs = append(errs, errors.New("ocr.remote_addr is required for the remote engine"))
	}
	if t := c.Pipeline.ComparisonThreshold; t < -1 || t > 1 {
		errs = append(errs, fmt.Errorf("pipeline.comparison_threshold %v outside [-1, 1]", t))
	}
	if c.Liveness.MinAspect > c.Liveness.MaxAspect {
		errs = append(errs, errors.New("liveness.min_aspect exceeds liveness.max_aspect"))
	}
	switch c.Embedding.Backend {
	case BackendCNN, BackendPHash:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding backend %q", c.Embedding.Backend))
	}
	switch c.OCR.Engine {
	case EngineNone, EngineTesseract, EngineRemote:
	default:
		errs = append(errs, fmt.Errorf("unknown ocr engine %q", c.OCR.Engine))
	}
	return errors.Join(errs...)
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("IDVERIFY_LOG_LEVEL", &cfg.Log.Level)
	str("IDVERIFY_HTTP_ADDR", &cfg.HTTP.Addr)
	str("IDVERIFY_EMBEDDING_BACKEND", &cfg.Embedding.Backend)
	str("IDVERIFY_WEIGHTS_PATH", &cfg.Embedding.WeightsPath)
	str("IDVERIFY_OCR_ENGINE", &cfg.OCR.Engine)
	str("IDVERIFY_OCR_ADDR", &cfg.OCR.RemoteAddr)
	str("DATABASE_DSN", &cfg.Database.DSN)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	str("JWT_AUDIENCE", &cfg.Auth.Audience)

	if v, ok := lookup("IDVERIFY_OCR_LANGUAGES"); ok && v != "" {
		cfg.OCR.Languages = strings.FieldsFunc(v, func(r rune) bool { return r == '+' || r == ',' })
	}

	bools := map[string]*bool{
		"IDVERIFY_LIVENESS_FAIL_OPEN":         &cfg.Liveness.FailOpen,
		"IDVERIFY_OCR_LENIENT":                &cfg.OCR.Lenient,
		"IDVERIFY_ENFORCE_LIVENESS_ON_ENROLL": &cfg.Pipeline.EnforceLivenessOnEnrollment,
		"IDVERIFY_ENFORCE_DOCUMENT_ON_ENROLL": &cfg.Pipeline.EnforceDocumentOnEnrollment,
		"IDVERIFY_LOG_DEVELOPMENT":            &cfg.Log.Development,
	}
	for key, dst := range bools {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = parsed
	}

	if v, ok := lookup("IDVERIFY_COMPARISON_THRESHOLD"); ok && v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("IDVERIFY_COMPARISON_THRESHOLD: %w", err)
		}
		cfg.Pipeline.ComparisonThreshold = parsed
	}
	return nil
}
