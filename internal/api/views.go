package api

import (
	"net/http"
	"strings"

	"github.com/hfsql/hfsql/internal/auth"
	"github.com/hfsql/hfsql/internal/observability"
)

type loadViewsRequest struct {
	Dataset string `json:"dataset"`
	URL     string `json:"url"`
}

type registerViewsRequest struct {
	Views map[string][]string `json:"views"`
}

func handleListViews(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	views, err := deps.Explorer.Views(r.Context())
	if err != nil {
		writeExplorerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"views": views})
}

func handleLoadViews(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	var request loadViewsRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &request) {
		return
	}
	dataset := strings.TrimSpace(request.Dataset)
	if dataset == "" {
		dataset = strings.TrimSpace(request.URL)
	}

	result, err := deps.Explorer.LoadDatasetViews(r.Context(), dataset)
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "load views failed",
				"trace_id", observability.TraceIDFromContext(r.Context()),
				"dataset", dataset,
				"error", err,
			)
		}
		writeExplorerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleRegisterViews(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleExplorerAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	var request registerViewsRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	if len(request.Views) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "VIEWS_REQUIRED", "at least one view is required", false, nil)
		return
	}
	result, err := deps.Explorer.RegisterViews(r.Context(), request.Views)
	if err != nil {
		writeExplorerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
