package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/idverify/internal/auth"
	"github.com/example/idverify/internal/imageprocessor"
	"github.com/example/idverify/internal/pipeline"
	"github.com/example/idverify/internal/repository"
	"github.com/example/idverify/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubService struct {
	enrollReq  usecase.EnrollRequest
	compareReq usecase.CompareRequest
	outcome    *usecase.Outcome
	result     *usecase.Result
	err        error
}

func (s *stubService) Enroll(ctx context.Context, req usecase.EnrollRequest) (*usecase.Outcome, error) {
	s.enrollReq = req
	return s.outcome, s.err
}

func (s *stubService) Compare(ctx context.Context, req usecase.CompareRequest) (*usecase.Outcome, error) {
	s.compareReq = req
	return s.outcome, s.err
}

func (s *stubService) GetResult(ctx context.Context, applicantID, requestID string) (*usecase.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubService) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	return &usecase.MetricsSummary{TotalRequests: 2, SuccessfulRequests: 1, SuccessRate: 0.5}, s.err
}

type part struct {
	field       string
	contentType string
	payload     []byte
}

func newTestRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, svc, auth.JWTMiddleware(auth.Config{Secret: testJWTSecret}), zap.NewNop())
	return router
}

func TestEnrollmentRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(&stubService{})

	body, contentType := buildMultipartBody(t, nil, part{"face", "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1)})
	resp := serve(t, router, http.MethodPost, "/v1/verifications/enrollment", body, contentType)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestEnrollmentRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(&stubService{})

	body, contentType := buildMultipartBody(t, nil, part{"face", "text/plain", []byte("hello")})
	resp := serve(t, router, http.MethodPost, "/v1/verifications/enrollment", body, contentType)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestEnrollmentRequiresDocument(t *testing.T) {
	router := newTestRouter(&stubService{})

	body, contentType := buildMultipartBody(t, nil, part{"face", "image/png", []byte("png")})
	resp := serve(t, router, http.MethodPost, "/v1/verifications/enrollment", body, contentType)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestEnrollmentPassesFormFields(t *testing.T) {
	svc := &stubService{outcome: &usecase.Outcome{RequestID: "req-1", Decision: &pipeline.Decision{Verified: true}}}
	router := newTestRouter(svc)

	fields := map[string]string{
		"declared_name":    "Rahul Kumar",
		"declared_id":      "647774509944",
		"authority_source": "digilocker",
		"authority_name":   "Rahul Kumar Sharma",
		"authority_id":     "647774509944",
	}
	body, contentType := buildMultipartBody(t, fields,
		part{"face", "image/png", []byte("face")},
		part{"document", "image/jpeg", []byte("doc")},
	)
	resp := serve(t, router, http.MethodPost, "/v1/verifications/enrollment", body, contentType)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	got := svc.enrollReq
	if got.ApplicantID != "user-123" || string(got.Face) != "face" || string(got.Document) != "doc" {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.DeclaredName != "Rahul Kumar" || got.Authority == nil || got.Authority.Source != "digilocker" {
		t.Fatalf("form fields not forwarded: %+v", got)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if payload["request_id"] != "req-1" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestComparisonThresholdParsing(t *testing.T) {
	svc := &stubService{outcome: &usecase.Outcome{RequestID: "req-2", Decision: &pipeline.Decision{}}}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, map[string]string{"threshold": "0.6"},
		part{"face", "image/png", []byte("face")},
		part{"reference", "image/png", []byte("ref")},
	)
	resp := serve(t, router, http.MethodPost, "/v1/verifications/comparison", body, contentType)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.compareReq.Threshold == nil || *svc.compareReq.Threshold != 0.6 {
		t.Fatalf("threshold not forwarded: %+v", svc.compareReq)
	}

	body, contentType = buildMultipartBody(t, map[string]string{"threshold": "high"},
		part{"face", "image/png", []byte("face")},
		part{"reference", "image/png", []byte("ref")},
	)
	resp = serve(t, router, http.MethodPost, "/v1/verifications/comparison", body, contentType)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad threshold, got %d", resp.Code)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"invalid request": {fmt.Errorf("%w: empty face", pipeline.ErrInvalidRequest), http.StatusBadRequest},
		"decode":          {&imageprocessor.DecodeError{Err: fmt.Errorf("bad header")}, http.StatusUnprocessableEntity},
		"infrastructure":  {fmt.Errorf("db down"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		router := newTestRouter(&stubService{err: tc.err})
		body, contentType := buildMultipartBody(t, nil,
			part{"face", "image/png", []byte("face")},
			part{"reference", "image/png", []byte("ref")},
		)
		resp := serve(t, router, http.MethodPost, "/v1/verifications/comparison", body, contentType)
		if resp.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", name, tc.want, resp.Code)
		}
	}
}

func TestResultNotFound(t *testing.T) {
	router := newTestRouter(&stubService{err: repository.ErrNotFound})

	resp := serve(t, router, http.MethodGet, "/v1/verifications/req-9", nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestResultFound(t *testing.T) {
	router := newTestRouter(&stubService{result: &usecase.Result{RequestID: "req-9", Verified: true}})

	resp := serve(t, router, http.MethodGet, "/v1/verifications/req-9", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := newTestRouter(&stubService{})

	resp := serve(t, router, http.MethodGet, "/v1/metrics", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var summary usecase.MetricsSummary
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if summary.SuccessRate != 0.5 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRoutesRequireToken(t *testing.T) {
	router := newTestRouter(&stubService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", resp.Code)
	}
}

func serve(t *testing.T, router *gin.Engine, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func buildMultipartBody(t *testing.T, fields map[string]string, parts ...part) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}

	for _, p := range parts {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="upload"`, p.field))
		header.Set("Content-Type", p.contentType)

		w, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create multipart part: %v", err)
		}
		if _, err := w.Write(p.payload); err != nil {
			t.Fatalf("failed to write payload: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	signed, err := auth.IssueToken(auth.Config{Secret: testJWTSecret}, subject, time.Hour)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
