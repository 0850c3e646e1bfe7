package handlers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsight/internal/api/middleware"
	"github.com/dvloznov/finsight/internal/blob"
	"github.com/dvloznov/finsight/internal/domain"
	"github.com/dvloznov/finsight/internal/jobs"
	"github.com/dvloznov/finsight/internal/pipeline"
	"github.com/dvloznov/finsight/internal/store"
)

// MsgQueueUnavailable is stored on a statement whose job could not be queued.
const MsgQueueUnavailable = "Could not queue the statement for processing. Please upload it again."

var pdfMagic = []byte("%PDF-")

// StatementStore is the statement persistence used by the handlers.
type StatementStore interface {
	CreateStatement(ctx context.Context, in store.NewStatement) (*domain.Statement, error)
	GetStatementForUser(ctx context.Context, userID, id string) (*domain.Statement, error)
	ListStatements(ctx context.Context, userID string) ([]*domain.Statement, error)
	CountInFlight(ctx context.Context, userID string) (int, error)
	FailStatement(ctx context.Context, id, message string) error
	DeleteStatement(ctx context.Context, userID, id string) error
	SetDefault(ctx context.Context, userID, id string) error
	ListTransactions(ctx context.Context, userID, statementID string) ([]domain.Transaction, error)
}

// Ingestor runs the synchronous ingestion path.
type Ingestor interface {
	IngestUpload(ctx context.Context, userID, filename string, content []byte) (*pipeline.Result, *domain.Statement, error)
}

// Exporter renders a statement as a spreadsheet.
type Exporter interface {
	StatementXLSX(ctx context.Context, userID, statementID string) ([]byte, string, error)
}

// StatementMirror is notified when a statement is deleted.
type StatementMirror interface {
	DeleteStatement(ctx context.Context, statementID string) error
}

// StatementsDeps are the collaborators of StatementsHandler. Mirror is optional.
type StatementsDeps struct {
	Store          StatementStore
	Files          blob.FileStore
	Publisher      jobs.Publisher
	Ingestor       Ingestor
	Exporter       Exporter
	Mirror         StatementMirror
	MaxUploadBytes int64
}

// StatementsHandler handles statement-related endpoints.
type StatementsHandler struct {
	deps StatementsDeps
	log  zerolog.Logger
}

// NewStatementsHandler creates a new statements handler.
func NewStatementsHandler(deps StatementsDeps, log zerolog.Logger) *StatementsHandler {
	return &StatementsHandler{deps: deps, log: log}
}

// uploadedFile is a validated multipart upload.
type uploadedFile struct {
	name   string
	reader io.Reader
	closer io.Closer
}

// readUpload validates the "file" field: present, within the size limit,
// named *.pdf or sent as application/pdf, and starting with the PDF magic.
// On failure it writes the response and returns nil.
func (h *StatementsHandler) readUpload(w http.ResponseWriter, r *http.Request) *uploadedFile {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			middleware.WriteError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File exceeds the %d byte limit", h.deps.MaxUploadBytes))
		case errors.Is(err, http.ErrMissingFile):
			middleware.WriteError(w, http.StatusBadRequest, "A PDF file is required in the \"file\" field")
		default:
			middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart upload")
		}
		return nil
	}

	if !looksLikePDF(header) {
		file.Close()
		middleware.WriteError(w, http.StatusBadRequest, "Only PDF files are accepted")
		return nil
	}
	br := bufio.NewReader(file)
	head, err := br.Peek(len(pdfMagic))
	if err != nil || !bytes.Equal(head, pdfMagic) {
		file.Close()
		middleware.WriteError(w, http.StatusBadRequest, "File is not a valid PDF")
		return nil
	}

	return &uploadedFile{name: filepath.Base(header.Filename), reader: br, closer: file}
}

func looksLikePDF(h *multipart.FileHeader) bool {
	if strings.EqualFold(filepath.Ext(h.Filename), ".pdf") {
		return true
	}
	return strings.HasPrefix(h.Header.Get("Content-Type"), "application/pdf")
}

// Upload handles POST /api/statements. The statement is created pending,
// the file is stored and a processing job is queued.
func (h *StatementsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	up := h.readUpload(w, r)
	if up == nil {
		return
	}
	defer up.closer.Close()

	st, err := h.deps.Store.CreateStatement(ctx, store.NewStatement{
		UserID:   userID,
		Filename: up.name,
		Status:   domain.StatusPending,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create statement")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create statement")
		return
	}
	log := h.log.With().Str("statement_id", st.ID).Str("user_id", userID).Logger()

	uri, err := h.deps.Files.Save(ctx, st.ID+".pdf", up.reader)
	if err != nil {
		log.Error().Err(err).Msg("Failed to store upload")
		h.failQueued(ctx, st, "Failed to store the uploaded file.", log)
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	job := &jobs.ProcessStatementJob{
		StatementID: st.ID,
		UserID:      userID,
		FilePath:    uri,
		Filename:    st.Filename,
	}
	if err := h.deps.Publisher.PublishStatement(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue statement job")
		h.failQueued(ctx, st, MsgQueueUnavailable, log)
		if derr := h.deps.Files.Delete(context.WithoutCancel(ctx), uri); derr != nil {
			log.Warn().Err(derr).Msg("Failed to delete orphaned upload")
		}
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue statement for processing")
		return
	}

	inFlight, err := h.deps.Store.CountInFlight(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count in-flight statements")
	}
	log.Info().Str("file", uri).Msg("Statement queued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"statement":        st,
		"estimatedMinutes": max(1, inFlight),
	})
}

func (h *StatementsHandler) failQueued(ctx context.Context, st *domain.Statement, msg string, log zerolog.Logger) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := h.deps.Store.FailStatement(fctx, st.ID, msg); err != nil {
		log.Error().Err(err).Msg("Failed to mark statement failed")
		return
	}
	st.Status = domain.StatusFailed
	st.ProcessingError = &msg
}

// UploadSync handles POST /api/statements/sync. Ingestion runs inside the
// request.
func (h *StatementsHandler) UploadSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	up := h.readUpload(w, r)
	if up == nil {
		return
	}
	defer up.closer.Close()

	content, err := io.ReadAll(up.reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "File is too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	res, st, err := h.deps.Ingestor.IngestUpload(ctx, userID, up.name, content)
	if err != nil {
		if st == nil {
			h.log.Error().Err(err).Msg("Synchronous ingestion failed before the statement was created")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to process statement")
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Statement was deleted during processing")
			return
		}
		middleware.WriteJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"statement": st,
			"error":     pipeline.FailureMessage(err),
		})
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"statement":        res.Statement,
		"transactionCount": res.TransactionCount,
	})
}

// List handles GET /api/statements
func (h *StatementsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	statements, err := h.deps.Store.ListStatements(ctx, middleware.UserID(ctx))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list statements")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list statements")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"statements": statements,
		"count":      len(statements),
	})
}

// Get handles GET /api/statements/{id}
func (h *StatementsHandler) Get(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	st, err := h.deps.Store.GetStatementForUser(ctx, middleware.UserID(ctx), id)
	if err != nil {
		h.writeStoreError(w, err, "Failed to get statement")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, st)
}

// Delete handles DELETE /api/statements/{id}. Allowed in any status.
func (h *StatementsHandler) Delete(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	if err := h.deps.Store.DeleteStatement(ctx, middleware.UserID(ctx), id); err != nil {
		h.writeStoreError(w, err, "Failed to delete statement")
		return
	}
	if h.deps.Mirror != nil {
		if err := h.deps.Mirror.DeleteStatement(ctx, id); err != nil {
			// Rows streamed minutes ago cannot be deleted yet.
			h.log.Warn().Err(err).Str("statement_id", id).Msg("Failed to delete mirrored transactions")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetDefault handles POST /api/statements/{id}/default
func (h *StatementsHandler) SetDefault(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	if err := h.deps.Store.SetDefault(ctx, userID, id); err != nil {
		h.writeStoreError(w, err, "Failed to set default statement")
		return
	}
	st, err := h.deps.Store.GetStatementForUser(ctx, userID, id)
	if err != nil {
		h.writeStoreError(w, err, "Failed to get statement")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, st)
}

// Transactions handles GET /api/statements/{id}/transactions
func (h *StatementsHandler) Transactions(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	if _, err := h.deps.Store.GetStatementForUser(ctx, userID, id); err != nil {
		h.writeStoreError(w, err, "Failed to get statement")
		return
	}
	txs, err := h.deps.Store.ListTransactions(ctx, userID, id)
	if err != nil {
		h.writeStoreError(w, err, "Failed to list transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// Export handles GET /api/statements/{id}/export
func (h *StatementsHandler) Export(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	data, filename, err := h.deps.Exporter.StatementXLSX(ctx, middleware.UserID(ctx), id)
	if err != nil {
		h.writeStoreError(w, err, "Failed to export statement")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *StatementsHandler) writeStoreError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Statement not found")
		return
	}
	h.log.Error().Err(err).Msg(msg)
	middleware.WriteError(w, http.StatusInternalServerError, msg)
}
