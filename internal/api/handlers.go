// handlers.go - HTTP handlers for prediction, ingestion and vendor sweeps

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stakbuild/docmatch/internal/accounting"
	"github.com/stakbuild/docmatch/internal/ai"
	"github.com/stakbuild/docmatch/internal/common"
	"github.com/stakbuild/docmatch/internal/model"
	"github.com/stakbuild/docmatch/internal/processor"
	"github.com/stakbuild/docmatch/internal/reconcile"
	"github.com/stakbuild/docmatch/internal/storage"
)

const (
	defaultRequestTimeout = 3 * time.Minute
	defaultMaxUploadBytes = 20 << 20
	accountTokenHeader    = "X-Account-Token"
	requestIDHeader       = "X-Request-ID"
)

// DocumentService is the prediction and ingestion surface of
// processor.DocumentProcessor.
type DocumentService interface {
	PredictProject(ctx context.Context, companyID string, entities []model.ExtractedEntity, fullText string) (model.ProjectPrediction, error)
	PredictVendor(ctx context.Context, companyID string, entities []model.ExtractedEntity, fullText string) (model.RawVendorGuess, model.VendorPrediction, error)
	Ingest(ctx context.Context, companyID string, kind model.DocKind, mimeType string, data []byte) (*model.DocumentRecord, error)
	IngestBatch(ctx context.Context, companyID string, uploads []processor.Upload) ([]processor.BatchResult, error)
}

// Sweeper runs a vendor re-match sweep.
type Sweeper interface {
	Reconcile(ctx context.Context, companyID string) (*reconcile.Summary, error)
}

// VendorSyncer pulls vendors from the accounting system.
type VendorSyncer interface {
	Sync(ctx context.Context, companyID, accountToken string) (*accounting.SyncResult, error)
}

// Deps groups what the handlers need. Syncer may be nil when no accounting
// system is configured.
type Deps struct {
	Documents      storage.DocumentStore
	Processor      DocumentService
	Reconciler     Sweeper
	Syncer         VendorSyncer
	Logger         *zap.Logger
	RequestTimeout time.Duration
	MaxUploadBytes int64
}

// Handler serves the HTTP API.
type Handler struct {
	documents  storage.DocumentStore
	processor  DocumentService
	reconciler Sweeper
	syncer     VendorSyncer
	logger     *zap.Logger

	timeout   time.Duration
	maxUpload int64
}

// NewHandler creates a Handler.
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		documents:  deps.Documents,
		processor:  deps.Processor,
		reconciler: deps.Reconciler,
		syncer:     deps.Syncer,
		logger:     deps.Logger,
		timeout:    deps.RequestTimeout,
		maxUpload:  deps.MaxUploadBytes,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.timeout <= 0 {
		h.timeout = defaultRequestTimeout
	}
	if h.maxUpload <= 0 {
		h.maxUpload = defaultMaxUploadBytes
	}
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1/companies/:company_id")
	v1.POST("/predict-project", h.PredictProject)
	v1.POST("/predict-vendor", h.PredictVendor)
	v1.POST("/documents", h.UploadDocument)
	v1.POST("/documents/batch", h.UploadDocuments)
	v1.GET("/documents/:doc_id", h.GetDocument)
	v1.POST("/reconcile-vendors", h.ReconcileVendors)
	v1.POST("/sync-vendors", h.SyncVendors)
}

// PredictRequest is the body of both prediction endpoints.
type PredictRequest struct {
	Entities []model.ExtractedEntity `json:"entities"`
	FullText string                  `json:"full_text"`
}

// VendorResponse is the answer of predict-vendor.
type VendorResponse struct {
	Guess      model.RawVendorGuess   `json:"guess"`
	Prediction model.VendorPrediction `json:"prediction"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "docmatch",
		"version": "1.0.0",
	})
}

// begin starts request tracking and bounds the request with the handler
// timeout.
func (h *Handler) begin(c *gin.Context) (context.Context, context.CancelFunc, *common.RequestContext) {
	rc := common.NewRequestContext(h.logger, c.Param("company_id"))
	c.Header(requestIDHeader, rc.RequestID)
	ctx, cancel := context.WithTimeout(common.WithRequestContext(c.Request.Context(), rc), h.timeout)
	return ctx, cancel, rc
}

func (h *Handler) PredictProject(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format", err)
		return
	}
	ctx, cancel, rc := h.begin(c)
	defer cancel()

	rc.StartStep("predict_project")
	pred, err := h.processor.PredictProject(ctx, rc.CompanyID, req.Entities, req.FullText)
	rc.EndStep("predict_project", stepStatus(err), nil, err)
	if err != nil {
		h.fail(c, rc, "Failed to predict project", err)
		return
	}
	rc.GetSummary()
	c.JSON(http.StatusOK, pred)
}

func (h *Handler) PredictVendor(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format", err)
		return
	}
	ctx, cancel, rc := h.begin(c)
	defer cancel()

	rc.StartStep("predict_vendor")
	guess, pred, err := h.processor.PredictVendor(ctx, rc.CompanyID, req.Entities, req.FullText)
	rc.EndStep("predict_vendor", stepStatus(err), nil, err)
	if err != nil {
		h.fail(c, rc, "Failed to predict vendor", err)
		return
	}
	rc.GetSummary()
	c.JSON(http.StatusOK, VendorResponse{Guess: guess, Prediction: pred})
}

// UploadDocument takes a multipart "file" and "kind", extracts, predicts and
// stores the document.
func (h *Handler) UploadDocument(c *gin.Context) {
	kind := model.DocKind(strings.TrimSpace(c.PostForm("kind")))
	if !kind.Valid() {
		badRequest(c, "kind must be invoice, client_bill_invoice or contract", fmt.Errorf("got %q", kind))
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required", err)
		return
	}
	data, mimeType, ok := h.readUpload(c, header)
	if !ok {
		return
	}

	ctx, cancel, rc := h.begin(c)
	defer cancel()

	doc, err := h.processor.Ingest(ctx, rc.CompanyID, kind, mimeType, data)
	if err != nil {
		h.fail(c, rc, "Failed to process document", err)
		return
	}
	rc.GetSummary()
	c.JSON(http.StatusCreated, doc)
}

// BatchItem is one file of an UploadDocuments answer.
type BatchItem struct {
	File     string                `json:"file"`
	Document *model.DocumentRecord `json:"document,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// UploadDocuments takes several multipart "files" of one "kind" and ingests
// them as one batch. Per-file failures are reported in the answer.
func (h *Handler) UploadDocuments(c *gin.Context) {
	kind := model.DocKind(strings.TrimSpace(c.PostForm("kind")))
	if !kind.Valid() {
		badRequest(c, "kind must be invoice, client_bill_invoice or contract", fmt.Errorf("got %q", kind))
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "multipart form is required", err)
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		badRequest(c, "files is required", errors.New("no files in form"))
		return
	}

	uploads := make([]processor.Upload, 0, len(headers))
	for _, header := range headers {
		data, mimeType, ok := h.readUpload(c, header)
		if !ok {
			return
		}
		uploads = append(uploads, processor.Upload{Name: header.Filename, Kind: kind, MimeType: mimeType, Data: data})
	}

	ctx, cancel, rc := h.begin(c)
	defer cancel()

	results, err := h.processor.IngestBatch(ctx, rc.CompanyID, uploads)
	if err != nil {
		h.fail(c, rc, "Failed to process documents", err)
		return
	}
	items := make([]BatchItem, len(results))
	for i, res := range results {
		items[i] = BatchItem{File: uploads[i].Name, Document: res.Document}
		if res.Err != nil {
			items[i].Error = res.Err.Error()
		}
	}
	rc.GetSummary()
	c.JSON(http.StatusOK, gin.H{"documents": items, "request_id": rc.RequestID})
}

// readUpload reads one multipart file within the upload limit and settles
// its MIME type. It writes the error response itself and reports false.
func (h *Handler) readUpload(c *gin.Context, header *multipart.FileHeader) ([]byte, string, bool) {
	if header.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "File too large",
			"details": fmt.Sprintf("%s: %d bytes, limit %d", header.Filename, header.Size, h.maxUpload),
		})
		return nil, "", false
	}
	f, err := header.Open()
	if err != nil {
		badRequest(c, "Cannot read file", err)
		return nil, "", false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload))
	if err != nil {
		badRequest(c, "Cannot read file", err)
		return nil, "", false
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, true
}

func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.documents.GetDocument(c.Request.Context(), c.Param("company_id"), c.Param("doc_id"))
	if err != nil {
		h.fail(c, nil, "Failed to load document", err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) ReconcileVendors(c *gin.Context) {
	ctx, cancel, rc := h.begin(c)
	defer cancel()

	summary, err := h.reconciler.Reconcile(ctx, rc.CompanyID)
	if err != nil {
		h.fail(c, rc, "Failed to reconcile vendors", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) SyncVendors(c *gin.Context) {
	if h.syncer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Accounting system is not configured"})
		return
	}
	ctx, cancel, rc := h.begin(c)
	defer cancel()

	res, err := h.syncer.Sync(ctx, rc.CompanyID, c.GetHeader(accountTokenHeader))
	if err != nil {
		h.fail(c, rc, "Failed to sync vendors", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func badRequest(c *gin.Context, msg string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

// fail writes err with the status its kind maps to.
func (h *Handler) fail(c *gin.Context, rc *common.RequestContext, msg string, err error) {
	status := statusFor(err)
	body := gin.H{
		"error":   msg,
		"details": err.Error(),
	}
	logger := h.logger
	if rc != nil {
		body["request_id"] = rc.RequestID
		logger = rc.Logger()
	}
	if status >= http.StatusInternalServerError {
		logger.Error(msg, zap.Int("status", status), zap.Error(err))
	} else {
		logger.Warn(msg, zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	var (
		providerErr  *ai.ProviderError
		transientErr *ai.TransientProviderError
		malformedErr *ai.MalformedResponseError
		apiErr       *accounting.APIError
	)
	switch {
	case errors.Is(err, processor.ErrInvalidKind), errors.Is(err, accounting.ErrNoAccountToken):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, processor.ErrNoExtractor):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.As(err, &providerErr), errors.As(err, &transientErr),
		errors.As(err, &malformedErr), errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func stepStatus(err error) string {
	if err != nil {
		return common.StatusFailed
	}
	return common.StatusSuccess
}
