package api

import (
	"net/http"

	"github.com/hfsql/hfsql/internal/auth"
	"github.com/hfsql/hfsql/internal/preferences"
)

type preferencesRequest struct {
	LoadViewsOnStartup *bool   `json:"load_views_on_startup"`
	ShowExplorer       *bool   `json:"show_explorer"`
	APIToken           *string `json:"api_token"`
}

func handleGetPreferences(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	prefs, err := deps.Explorer.Preferences(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "PREFERENCES_ERROR", "failed to load preferences", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, prefs.Redacted())
}

// handlePutPreferences applies only the toggles present in the body.
func handlePutPreferences(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleExplorerAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	var request preferencesRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	prefs, err := deps.Explorer.Preferences(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "PREFERENCES_ERROR", "failed to load preferences", true, map[string]any{"details": err.Error()})
		return
	}
	prefs = applyPreferences(prefs, request)
	if err := deps.Explorer.SavePreferences(r.Context(), prefs); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "PREFERENCES_ERROR", "failed to save preferences", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, prefs.Redacted())
}

func applyPreferences(prefs preferences.Preferences, request preferencesRequest) preferences.Preferences {
	if request.LoadViewsOnStartup != nil {
		prefs.LoadViewsOnStartup = *request.LoadViewsOnStartup
	}
	if request.ShowExplorer != nil {
		prefs.ShowExplorer = *request.ShowExplorer
	}
	if request.APIToken != nil {
		prefs.APIToken = *request.APIToken
	}
	return prefs
}
