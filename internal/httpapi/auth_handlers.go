package httpapi

import (
	"errors"
	"net/http"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

type registerRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	auth.TokenPair
	Principal *auth.Principal `json:"principal"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type rotatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleRegister creates a principal. Self-signup is open for members;
// granting any higher role requires a caller whose own role dominates it,
// and scoped callers can only create into their own organization.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	role := auth.RoleMember
	if req.Role != "" {
		parsed, err := auth.ParseRole(req.Role)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "unknown role")
			return
		}
		role = parsed
	}

	orgID := req.OrganizationID
	if role != auth.RoleMember {
		sc, err := requireScope(r, role)
		if err != nil {
			writeAuthzError(w, r, err)
			return
		}
		if !sc.PlatformWide {
			if orgID == "" {
				orgID = sc.OrganizationID
			}
			if orgID != sc.OrganizationID {
				writeError(w, r, http.StatusForbidden, "cannot create principals outside your organization")
				return
			}
		}
	}

	p, err := a.auth.Register(r.Context(), req.Email, req.Password, orgID, role)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrAlreadyExists):
			writeError(w, r, http.StatusConflict, "email already registered")
		case clientClosedRequest(err):
			writeError(w, r, statusClientClosedRequest, "request canceled")
		default:
			writeError(w, r, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	a.audit(r.Context(), "auth.register", "principal", p.ID, map[string]string{
		"email": p.Email,
		"role":  string(p.Role),
	})
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, principal, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if clientClosedRequest(err) {
			writeError(w, r, statusClientClosedRequest, "request canceled")
			return
		}
		obs.ObserveLogin("failure")
		a.audit(r.Context(), "auth.login_failed", "", "", map[string]string{"email": req.Email})
		if errors.Is(err, auth.ErrUnauthenticated) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	obs.ObserveLogin("success")
	a.audit(r.Context(), "auth.login", "principal", principal.ID, nil)
	writeJSON(w, http.StatusOK, loginResponse{TokenPair: pair, Principal: principal})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRefreshExpired):
			obs.ObserveRefresh("expired")
			writeError(w, r, http.StatusUnauthorized, "refresh window closed")
		case errors.Is(err, auth.ErrRefreshAlreadyUsed):
			obs.ObserveRefresh("reused")
			a.audit(r.Context(), "auth.refresh_reuse", "", "", nil)
			writeError(w, r, http.StatusUnauthorized, "refresh token already used")
		case errors.Is(err, auth.ErrPrincipalInactive):
			obs.ObserveRefresh("inactive")
			writeError(w, r, http.StatusUnauthorized, "principal deactivated")
		case errors.Is(err, auth.ErrUnauthenticated):
			obs.ObserveRefresh("failure")
			writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		case clientClosedRequest(err):
			obs.ObserveRefresh("canceled")
			writeError(w, r, statusClientClosedRequest, "request canceled")
		default:
			obs.ObserveRefresh("error")
			writeError(w, r, http.StatusInternalServerError, "refresh failed")
		}
		return
	}

	obs.ObserveRefresh("success")
	a.audit(r.Context(), "auth.refresh", "", "", nil)
	writeJSON(w, http.StatusOK, pair)
}

// handleLogout revokes every refresh token of the caller and denylists the
// presented access token for the rest of its lifetime.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	sc, err := requireScope(r, auth.RoleMember)
	if err != nil {
		writeAuthzError(w, r, err)
		return
	}
	ctx := auth.ContextWithScope(r.Context(), sc)

	revoked, err := a.auth.RevokeTokens(ctx, sc.PrincipalID)
	if err != nil {
		if clientClosedRequest(err) {
			writeError(w, r, statusClientClosedRequest, "request canceled")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}

	if claims, ok := auth.TokenFromContext(ctx); ok && claims.ExpiresAt != nil {
		if err := a.denylist.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
			obs.Emit(map[string]any{
				"level": "error",
				"msg":   "denylist_revoke_failed",
				"error": err.Error(),
			})
		}
	}

	a.audit(ctx, "auth.logout", "principal", sc.PrincipalID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}

func (a *API) handlePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	sc, err := requireScope(r, auth.RoleMember)
	if err != nil {
		writeAuthzError(w, r, err)
		return
	}
	ctx := auth.ContextWithScope(r.Context(), sc)

	var req rotatePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.auth.RotatePassword(ctx, sc.PrincipalID, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrUnauthenticated):
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		case clientClosedRequest(err):
			writeError(w, r, statusClientClosedRequest, "request canceled")
		default:
			writeError(w, r, http.StatusInternalServerError, "password rotation failed")
		}
		return
	}

	a.audit(ctx, "auth.password_rotate", "principal", sc.PrincipalID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handlePrincipalResource serves DELETE /v1/principals/{id}: soft-delete the
// principal and revoke its sessions. Scoped admins stay inside their org.
func (a *API) handlePrincipalResource(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}

	sc, err := requireScope(r, auth.RoleOrgAdmin)
	if err != nil {
		writeAuthzError(w, r, err)
		return
	}
	ctx := auth.ContextWithScope(r.Context(), sc)

	target, err := a.auth.Principal(ctx, id)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "principal not found")
			return
		}
		if clientClosedRequest(err) {
			writeError(w, r, statusClientClosedRequest, "request canceled")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !sc.PlatformWide && target.OrganizationID != sc.OrganizationID {
		// Do not leak existence across tenants.
		writeError(w, r, http.StatusNotFound, "principal not found")
		return
	}
	if !target.Active() {
		writeError(w, r, http.StatusConflict, "principal already deactivated")
		return
	}

	if err := a.auth.Deactivate(ctx, id); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusConflict, "principal already deactivated")
			return
		}
		if clientClosedRequest(err) {
			writeError(w, r, statusClientClosedRequest, "request canceled")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "deactivation failed")
		return
	}

	a.audit(ctx, "principal.deactivate", "principal", id, nil)
	w.WriteHeader(http.StatusNoContent)
}
