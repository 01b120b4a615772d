package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ruteri/artifact-resolver/interfaces"
	"github.com/ruteri/artifact-resolver/router"
)

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ArtifactRouter is the dispatch layer the handler serves.
type ArtifactRouter interface {
	GetInputStream(ctx context.Context, repositoryID, path string) (io.ReadCloser, error)
	GetOutputStream(ctx context.Context, repositoryID, path string) (interfaces.ArtifactWriter, error)
	Delete(ctx context.Context, repositoryID, path string, force bool) error
	DeleteTrash(ctx context.Context, repositoryID string) error
	DeleteAllTrash(ctx context.Context) error
	Records(ctx context.Context, alias string) ([]interfaces.ResourceRecord, error)
}

// Handler serves artifact and maintenance requests.
type Handler struct {
	router ArtifactRouter
	log    *slog.Logger
}

// NewHandler creates a new HTTP request handler.
//
// Parameters:
//   - r: Router dispatching to the location resolvers
//   - log: Structured logger for operational insights
//
// Returns a configured Handler instance.
func NewHandler(r ArtifactRouter, log *slog.Logger) *Handler {
	return &Handler{
		router: r,
		log:    log,
	}
}

// HandleGetArtifact streams a committed artifact.
//
// URL format: GET /storages/{repositoryId}/{path...}
func (h *Handler) HandleGetArtifact(w http.ResponseWriter, r *http.Request) {
	repositoryID, path := artifactParams(r)

	rc, err := h.router.GetInputStream(r.Context(), repositoryID, path)
	if err != nil {
		h.writeError(w, err, repositoryID, path)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are sent; the client sees a truncated body.
		h.log.Error("Failed to stream artifact", "err", err,
			slog.String("repository", repositoryID), slog.String("path", path))
	}
}

// HandlePutArtifact stores the request body and commits it once the body was
// read completely. An interrupted upload leaves nothing behind.
//
// URL format: PUT /storages/{repositoryId}/{path...}
func (h *Handler) HandlePutArtifact(w http.ResponseWriter, r *http.Request) {
	repositoryID, path := artifactParams(r)

	aw, err := h.router.GetOutputStream(r.Context(), repositoryID, path)
	if err != nil {
		h.writeError(w, err, repositoryID, path)
		return
	}
	defer aw.Close()

	if _, err := io.Copy(aw, r.Body); err != nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("failed to read request body: %w", err)}, repositoryID, path)
		return
	}
	if err := aw.Commit(); err != nil {
		h.writeError(w, err, repositoryID, path)
		return
	}

	h.log.Debug("Stored artifact", slog.String("repository", repositoryID), slog.String("path", path))
	w.WriteHeader(http.StatusCreated)
}

// HandleDeleteArtifact removes an artifact or version directory.
//
// URL format: DELETE /storages/{repositoryId}/{path...}[?force=true]
func (h *Handler) HandleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	repositoryID, path := artifactParams(r)

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid force parameter %q", raw)}, repositoryID, path)
			return
		}
		force = parsed
	}

	if err := h.router.Delete(r.Context(), repositoryID, path, force); err != nil {
		h.writeError(w, err, repositoryID, path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteTrash empties the trash of one repository.
//
// URL format: DELETE /api/v1/trash/{repositoryId}
func (h *Handler) HandleDeleteTrash(w http.ResponseWriter, r *http.Request) {
	repositoryID := chi.URLParam(r, "repositoryId")
	if err := h.router.DeleteTrash(r.Context(), repositoryID); err != nil {
		h.writeError(w, err, repositoryID, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteAllTrash empties the trash of every resolver.
//
// URL format: DELETE /api/v1/trash
func (h *Handler) HandleDeleteAllTrash(w http.ResponseWriter, r *http.Request) {
	if err := h.router.DeleteAllTrash(r.Context()); err != nil {
		h.writeError(w, err, "", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRecords returns the resource records kept by a resolver.
//
// URL format: GET /api/v1/records/{alias}
//
// Response: JSON array of records.
func (h *Handler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")

	records, err := h.router.Records(r.Context(), alias)
	if err != nil {
		h.writeError(w, err, "", "")
		return
	}
	if records == nil {
		records = []interfaces.ResourceRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func artifactParams(r *http.Request) (repositoryID, path string) {
	return chi.URLParam(r, "repositoryId"), chi.URLParam(r, "*")
}

// statusFor maps resolution errors to HTTP status codes.
func statusFor(err error) int {
	var reqErr *RequestError
	var ioErr *interfaces.IOError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.Is(err, interfaces.ErrArtifactNotFound),
		errors.Is(err, interfaces.ErrRepositoryNotFound),
		errors.Is(err, router.ErrNotTracked):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrMalformedPath):
		return http.StatusBadRequest
	case errors.As(err, &ioErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error, repositoryID, path string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err,
			slog.String("repository", repositoryID), slog.String("path", path))
	} else {
		h.log.Debug("Request rejected", "err", err, slog.Int("status", status),
			slog.String("repository", repositoryID), slog.String("path", path))
	}
	http.Error(w, err.Error(), status)
}
