package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/identity"
)

// handleMerge handles POST /api/v1/admin/profiles/{targetID}/merge/{sourceID}.
//
// Authorization: requires the global sysadmin role
// Response: the merge counts
func (h *handlers) handleMerge(w http.ResponseWriter, r *http.Request) {
	result, err := h.merger.MergeProfiles(r.Context(), chi.URLParam(r, "targetID"), chi.URLParam(r, "sourceID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListAccounts handles GET /api/v1/admin/accounts?filter=<bexpr>.
func (h *handlers) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.accounts.ListAccounts(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	views := make([]accountView, 0, len(list))
	for _, a := range list {
		views = append(views, toAccountView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleMatrix handles GET /api/v1/admin/discussions/{discussionID}/matrix.
func (h *handlers) handleMatrix(w http.ResponseWriter, r *http.Request) {
	cells, err := h.iam.DiscussionPermissions(r.Context(), chi.URLParam(r, "discussionID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cells)
}

// handleRefreshPolicies handles POST /api/v1/admin/policies/refresh.
// Reloads the authorization matrix and purges the permission cache.
func (h *handlers) handleRefreshPolicies(w http.ResponseWriter, r *http.Request) {
	if err := h.iam.RefreshPolicies(r.Context()); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"refreshed_at": time.Now().UTC(),
	})
}

func toAccountView(a *models.Account) accountView {
	return accountView{
		ID:          a.ID,
		ProfileID:   a.ProfileID,
		Kind:        a.Kind,
		DisplayName: identity.DisplayName(a),
		Email:       a.Email,
		Verified:    a.Verified,
		Preferred:   a.Preferred,
	}
}
