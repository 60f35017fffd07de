package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/hfsql/hfsql/internal/auth"
	"github.com/hfsql/hfsql/internal/query"
)

type queryRequest struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

type pageResponse struct {
	StartRow int         `json:"start_row"`
	Rows     []query.Row `json:"rows"`
	LastRow  int         `json:"last_row"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	var request queryRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	result, err := deps.Explorer.RunQuery(r.Context(), request.SQL, request.Params...)
	if err != nil {
		writeExplorerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleQueryRows(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	start := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("start")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_START", "start must be a non-negative integer", false, map[string]any{"start": raw})
			return
		}
		start = parsed
	}

	page, lastRow, err := deps.Explorer.Page(r.Context(), start)
	if err != nil {
		writeExplorerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{StartRow: page.StartIndex, Rows: page.Rows, LastRow: lastRow})
}

func handleQueryCancel(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	deps.Explorer.Cancel(r.Context())
	writeJSON(w, http.StatusOK, deps.Explorer.Status())
}

func handleQueryStatus(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, deps.Explorer.Status())
}
