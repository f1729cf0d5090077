package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/idverify/internal/auth"
	"github.com/example/idverify/internal/imageprocessor"
	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/pipeline"
	"github.com/example/idverify/internal/repository"
	"github.com/example/idverify/internal/usecase"
)

// MaxUploadSize bounds each uploaded image.
const MaxUploadSize = 10 << 20

// maxRequestSize leaves room for two images plus form fields.
const maxRequestSize = 2*MaxUploadSize + 1<<20

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
	"image/bmp":  {},
	"image/tiff": {},
}

// Service is the verification API consumed by the handlers.
type Service interface {
	Enroll(ctx context.Context, req usecase.EnrollRequest) (*usecase.Outcome, error)
	Compare(ctx context.Context, req usecase.CompareRequest) (*usecase.Outcome, error)
	GetResult(ctx context.Context, applicantID, requestID string) (*usecase.Result, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type uploadError struct {
	status  int
	message string
}

func (e *uploadError) Error() string { return e.message }

type handler struct {
	svc    Service
	logger *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc, logger *zap.Logger) {
	h := &handler{svc: svc, logger: logger.Named("http")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1", authMiddleware)
	v1.POST("/verifications/enrollment", h.enroll)
	v1.POST("/verifications/comparison", h.compare)
	v1.GET("/verifications/:id", h.result)
	v1.GET("/metrics", h.metrics)
}

func (h *handler) enroll(c *gin.Context) {
	applicantID, ok := auth.ApplicantID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	limitBody(c)

	face, ok := readImage(c, "face")
	if !ok {
		return
	}
	document, ok := readImage(c, "document")
	if !ok {
		return
	}

	req := usecase.EnrollRequest{
		ApplicantID:  applicantID,
		Face:         face,
		Document:     document,
		DeclaredName: strings.TrimSpace(c.PostForm("declared_name")),
		DeclaredID:   strings.TrimSpace(c.PostForm("declared_id")),
	}
	if source := strings.TrimSpace(c.PostForm("authority_source")); source != "" {
		req.Authority = &pipeline.AuthoritativeIdentity{
			Source: source,
			Name:   strings.TrimSpace(c.PostForm("authority_name")),
			ID:     strings.TrimSpace(c.PostForm("authority_id")),
		}
	}

	outcome, err := h.svc.Enroll(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "http.enroll", err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *handler) compare(c *gin.Context) {
	applicantID, ok := auth.ApplicantID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	limitBody(c)

	face, ok := readImage(c, "face")
	if !ok {
		return
	}
	reference, ok := readImage(c, "reference")
	if !ok {
		return
	}

	req := usecase.CompareRequest{ApplicantID: applicantID, Face: face, Reference: reference}
	if raw := strings.TrimSpace(c.PostForm("threshold")); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be a number"})
			return
		}
		req.Threshold = &threshold
	}

	outcome, err := h.svc.Compare(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "http.compare", err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *handler) result(c *gin.Context) {
	applicantID, ok := auth.ApplicantID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	res, err := h.svc.GetResult(c.Request.Context(), applicantID, requestID)
	if err != nil {
		h.fail(c, "http.result", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) metrics(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.fail(c, "http.metrics", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) fail(c *gin.Context, operation string, err error) {
	status := statusFor(err)
	opLogger := logging.WithOperation(h.logger, operation, "")
	if status >= http.StatusInternalServerError {
		opLogger.Error("request failed", zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	opLogger.Info("request rejected", zap.Int("status", status), zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest
	case imageprocessor.IsDecodeError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestSize)
}

// readImage loads the multipart file named field, writing the error response
// itself when the upload is missing, too large or not an image.
func readImage(c *gin.Context, field string) ([]byte, bool) {
	data, err := loadImage(c, field)
	if err != nil {
		var upErr *uploadError
		if errors.As(err, &upErr) {
			c.JSON(upErr.status, gin.H{"error": upErr.message})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return data, true
}

func loadImage(c *gin.Context, field string) ([]byte, error) {
	file, err := c.FormFile(field)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &uploadError{http.StatusRequestEntityTooLarge, "request too large"}
		}
		return nil, &uploadError{http.StatusBadRequest, field + " image is required"}
	}
	if file.Size > MaxUploadSize {
		return nil, &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("%s image exceeds %d bytes", field, MaxUploadSize)}
	}
	if !isImageType(file) {
		return nil, &uploadError{http.StatusUnsupportedMediaType, field + " must be an image"}
	}

	src, err := file.Open()
	if err != nil {
		return nil, &uploadError{http.StatusBadRequest, "unable to open " + field}
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		return nil, &uploadError{http.StatusInternalServerError, "failed to read " + field}
	}
	if len(data) > MaxUploadSize {
		return nil, &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("%s image exceeds %d bytes", field, MaxUploadSize)}
	}
	return data, nil
}

func isImageType(file *multipart.FileHeader) bool {
	mediaType, _, err := mime.ParseMediaType(file.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	_, ok := allowedImageTypes[strings.ToLower(mediaType)]
	return ok
}
