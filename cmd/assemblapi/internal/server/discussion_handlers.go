package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/iam"
)

type permissionsResponse struct {
	DiscussionID string   `json:"discussion_id"`
	Roles        []string `json:"roles"`
	Permissions  []string `json:"permissions"`
}

// handlePermissions handles GET /api/v1/discussions/{discussionID}/permissions.
// Anonymous callers get the permissions of r:everyone.
func (h *handlers) handlePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	discussionID := chi.URLParam(r, "discussionID")
	principal := auth.PrincipalFromContext(ctx)

	roles, err := h.iam.Roles(ctx, principal.ProfileID, discussionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	perms, err := h.iam.EffectivePermissions(ctx, principal.ProfileID, discussionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionsResponse{DiscussionID: discussionID, Roles: roles, Permissions: perms})
}

// handleGetSubscriptions handles GET /api/v1/discussions/{discussionID}/subscriptions.
// ?reset=true reapplies template defaults the caller never chose.
func (h *handlers) handleGetSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	discussionID := chi.URLParam(r, "discussionID")

	reset := false
	if raw := r.URL.Query().Get("reset"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, h.logger, fmt.Errorf("reset must be a boolean: %w", sentinel.ErrInvalidInput))
			return
		}
		reset = v
	}

	subs, err := h.subscriptions.GetOrMaterialize(ctx, auth.PrincipalFromContext(ctx).ProfileID, discussionID, reset)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	views := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, toSubscriptionView(sub))
	}
	writeJSON(w, http.StatusOK, views)
}

type setSubscriptionRequest struct {
	Status string `json:"status"`
}

// handleSetSubscription handles PUT /api/v1/discussions/{discussionID}/subscriptions/{class}.
func (h *handlers) handleSetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	sub, err := h.subscriptions.SetSubscriptionStatus(ctx,
		auth.PrincipalFromContext(ctx).ProfileID,
		chi.URLParam(r, "discussionID"),
		chi.URLParam(r, "class"),
		req.Status,
	)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionView(sub))
}

type addLocalRoleRequest struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	Requested bool   `json:"requested"`
}

// handleAddLocalRole handles POST /api/v1/discussions/{discussionID}/roles.
// Self-registration when user_id is empty or the caller; an admin grant
// otherwise.
func (h *handlers) handleAddLocalRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addLocalRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	lur, err := h.iam.AddLocalRole(ctx, auth.PrincipalFromContext(ctx).ProfileID, iam.LocalRoleRequest{
		UserID:       req.UserID,
		DiscussionID: chi.URLParam(r, "discussionID"),
		Role:         req.Role,
		Requested:    req.Requested,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, localRoleView{
		ID:           lur.ID,
		UserID:       lur.UserID,
		DiscussionID: lur.DiscussionID,
		RoleID:       lur.RoleID,
		Requested:    lur.Requested,
	})
}
