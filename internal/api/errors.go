package api

import (
	"errors"
	"net/http"

	"github.com/hfsql/hfsql/internal/datasets"
	"github.com/hfsql/hfsql/internal/explorer"
	"github.com/hfsql/hfsql/internal/export"
	"github.com/hfsql/hfsql/internal/paging"
	"github.com/hfsql/hfsql/internal/query"
	"github.com/hfsql/hfsql/internal/storage"
)

// writeExplorerError maps session, query and export failures to API errors.
func writeExplorerError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var execErr *query.ExecutionError
	var apiErr *datasets.APIError
	var partial *query.ViewRegistrationError
	switch {
	case errors.Is(err, query.ErrNotInitialized):
		writeError(ctx, w, http.StatusServiceUnavailable, "NOT_INITIALIZED", err.Error(), true, nil)
	case errors.Is(err, query.ErrQueryAlreadyRunning):
		writeError(ctx, w, http.StatusConflict, "QUERY_ALREADY_RUNNING", err.Error(), true, nil)
	case errors.Is(err, paging.ErrPageFetchFailed):
		writeError(ctx, w, http.StatusInternalServerError, "PAGE_FETCH_FAILED", "Error fetching next batch of data", false, map[string]any{"details": err.Error()})
	case errors.As(err, &execErr):
		writeError(ctx, w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", execErr.Message, false, nil)
	case errors.Is(err, query.ErrQueryCancelled):
		writeError(ctx, w, http.StatusConflict, "QUERY_CANCELLED", err.Error(), false, nil)
	case errors.Is(err, datasets.ErrAuthRequired):
		writeError(ctx, w, http.StatusUnauthorized, "AUTH_REQUIRED", err.Error(), false, nil)
	case errors.As(err, &apiErr):
		writeError(ctx, w, http.StatusBadGateway, "VIEWS_UNAVAILABLE", apiErr.Error(), true, map[string]any{"status_code": apiErr.StatusCode})
	case errors.As(err, &partial):
		writeError(ctx, w, http.StatusBadGateway, "VIEWS_UNAVAILABLE", err.Error(), true, nil)
	case errors.Is(err, explorer.ErrViewsUnavailable):
		writeError(ctx, w, http.StatusBadGateway, "VIEWS_UNAVAILABLE", err.Error(), false, nil)
	case errors.Is(err, explorer.ErrEmptyQuery):
		writeError(ctx, w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
	case errors.Is(err, explorer.ErrNoDataset):
		writeError(ctx, w, http.StatusBadRequest, "DATASET_REQUIRED", err.Error(), false, nil)
	case errors.Is(err, explorer.ErrNoResult):
		writeError(ctx, w, http.StatusConflict, "NO_RESULT", err.Error(), false, nil)
	case errors.Is(err, export.ErrExportsDisabled):
		writeError(ctx, w, http.StatusNotImplemented, "EXPORTS_NOT_CONFIGURED", err.Error(), false, nil)
	case errors.Is(err, export.ErrNothingToExport), errors.Is(err, export.ErrInvalidKey):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_EXPORT", err.Error(), false, nil)
	case errors.Is(err, storage.ErrObjectNotFound):
		writeError(ctx, w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export was not found", false, nil)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", err.Error(), true, nil)
	}
}
