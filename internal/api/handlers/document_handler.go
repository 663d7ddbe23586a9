package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// DocumentService is what the handlers need from the service layer.
type DocumentService interface {
	Submit(ctx context.Context, p *models.UploadPayload) (*models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	RequestReingest(ctx context.Context, id string) (*models.Document, error)
	ReingestMatching(ctx context.Context, filter models.DocumentFilter) (*models.BulkResult, error)
}

type DocumentHandler struct {
	svc       DocumentService
	maxUpload int64
	logger    *zap.Logger
}

func NewDocumentHandler(svc DocumentService, maxUpload int64, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{svc: svc, maxUpload: maxUpload, logger: logger}
}

// multipart overhead allowed on top of the file itself
const formSlack = 1 << 20

// UploadDocument accepts a multipart upload and queues it for ingestion.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUpload+formSlack {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds maximum size")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+formSlack)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds maximum size")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}

	p := &models.UploadPayload{
		Title:          r.FormValue("title"),
		OwnerID:        r.FormValue("owner_id"),
		OrganizationID: r.FormValue("organization_id"),
		EventID:        r.FormValue("event_id"),
		Tags:           splitTags(r.MultipartForm.Value["tags"]),
		FileName:       filepath.Base(header.Filename),
		ContentType:    header.Header.Get("Content-Type"),
		Data:           data,
	}
	if p.Data == nil {
		p.Data = []byte{}
	}
	h.submit(w, r, p)
}

type textRequest struct {
	Title          string   `json:"title"`
	OwnerID        string   `json:"owner_id"`
	OrganizationID string   `json:"organization_id"`
	EventID        string   `json:"event_id"`
	Tags           []string `json:"tags"`
	FileName       string   `json:"file_name"`
	Text           string   `json:"text"`
}

// SubmitText accepts pre-extracted text and queues it for ingestion.
func (h *DocumentHandler) SubmitText(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+formSlack)
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request exceeds maximum size")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	h.submit(w, r, &models.UploadPayload{
		Title:          req.Title,
		OwnerID:        req.OwnerID,
		OrganizationID: req.OrganizationID,
		EventID:        req.EventID,
		Tags:           req.Tags,
		FileName:       req.FileName,
		Text:           req.Text,
	})
}

func (h *DocumentHandler) submit(w http.ResponseWriter, r *http.Request, p *models.UploadPayload) {
	if strings.TrimSpace(p.OrganizationID) == "" {
		writeError(w, http.StatusBadRequest, "organization_id is required")
		return
	}
	doc, err := h.svc.Submit(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

// GetDocument returns the catalog record with status, progress and error.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ReingestDocument queues a rebuild of one document.
func (h *DocumentHandler) ReingestDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.RequestReingest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"document_id": doc.ID,
		"status":      "queued",
	})
}

// ReingestMatching rebuilds every matching document and reports the
// counts. It keeps going if the client disconnects.
func (h *DocumentHandler) ReingestMatching(w http.ResponseWriter, r *http.Request) {
	var filter models.DocumentFilter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch filter.Status {
	case "", models.StatusPending, models.StatusIngesting, models.StatusIngested, models.StatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(filter.Status))
		return
	}

	res, err := h.svc.ReingestMatching(context.WithoutCancel(r.Context()), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *DocumentHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *DocumentHandler) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

// StatusFor maps an ingestion failure to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrOversizedInput):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrUnsupportedFormat), errors.Is(err, core.ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrChunking), errors.Is(err, core.ErrTooManyChunks), errors.Is(err, core.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrEmbeddingService), errors.Is(err, core.ErrDimensionMismatch):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func splitTags(values []string) []string {
	var out []string
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
