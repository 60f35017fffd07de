package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hfsql/hfsql/internal/auth"
	"github.com/hfsql/hfsql/internal/export"
	"github.com/hfsql/hfsql/internal/storage"
)

type exportRequest struct {
	Name string `json:"name"`
}

func handleCreateExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	var request exportRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.Name) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "NAME_REQUIRED", "name is required", false, nil)
		return
	}
	result, err := deps.Explorer.Export(r.Context(), principalFromRequest(r), strings.TrimSpace(request.Name))
	if err != nil {
		writeExplorerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func handleListExports(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	principal := principalFromRequest(r)
	if isAdmin(r) {
		principal = strings.TrimSpace(r.URL.Query().Get("principal"))
	}
	objects, err := deps.Explorer.Exports().List(r.Context(), principal)
	if err != nil {
		writeExplorerError(w, r, err)
		return
	}
	if objects == nil {
		objects = []storage.ObjectInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": objects})
}

func handleGetExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	key := r.PathValue("key")
	if !canAccessExport(r, key) {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", "export belongs to another principal", false, nil)
		return
	}
	body, info, err := deps.Explorer.Exports().Open(r.Context(), key)
	if err != nil {
		writeExplorerError(w, r, err)
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", storage.ContentTypeParquet)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	if info.ETag != "" {
		w.Header().Set("ETag", info.ETag)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func handleDeleteExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	key := r.PathValue("key")
	if !canAccessExport(r, key) {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", "export belongs to another principal", false, nil)
		return
	}
	if err := deps.Explorer.Exports().Delete(r.Context(), key); err != nil {
		writeExplorerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func canAccessExport(r *http.Request, key string) bool {
	if isAdmin(r) {
		return true
	}
	return export.OwnedBy(key, principalFromRequest(r))
}
