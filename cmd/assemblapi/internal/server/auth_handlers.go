package server

import (
	"net/http"
	"strings"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
)

type tokenRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// handleToken handles POST /api/v1/token.
// Exchanges a username, password login or verified email plus password
// for a bearer token.
func (h *handlers) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	token, err := h.accounts.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// handleLogout handles POST /api/v1/logout by revoking the bearer token
// used for the request.
func (h *handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		writeError(w, r, h.logger, auth.ErrInvalidToken)
		return
	}
	if err := h.accounts.RevokeToken(r.Context(), strings.TrimSpace(token)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type whoAmIResponse struct {
	ProfileID      string        `json:"profile_id"`
	Name           string        `json:"name"`
	Kind           string        `json:"kind"`
	PreferredEmail string        `json:"preferred_email,omitempty"`
	Accounts       []accountView `json:"accounts"`
	Sysadmin       bool          `json:"sysadmin"`
}

// handleWhoAmI handles GET /api/v1/me.
func (h *handlers) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := auth.PrincipalFromContext(ctx)

	profile, err := h.accounts.Profile(ctx, principal.ProfileID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	accounts, err := h.accounts.Accounts(ctx, principal.ProfileID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	// accounts is loaded, so the preferred email is ranked in memory.
	email, err := h.accounts.PreferredEmail(ctx, principal.ProfileID, accounts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	sysadmin, err := h.iam.IsSysadmin(ctx, principal.ProfileID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	items, _ := accounts.Items()
	resp := whoAmIResponse{
		ProfileID:      profile.ID,
		Name:           profile.Name,
		Kind:           profile.Kind,
		PreferredEmail: email,
		Accounts:       make([]accountView, 0, len(items)),
		Sysadmin:       sysadmin,
	}
	for _, a := range items {
		resp.Accounts = append(resp.Accounts, toAccountView(a))
	}
	writeJSON(w, http.StatusOK, resp)
}
