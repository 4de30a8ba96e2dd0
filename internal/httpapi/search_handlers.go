package httpapi

import (
	"errors"
	"net/http"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/query"
)

// handleSearch serves POST /v1/{resource}/search. The scope applied to the
// query comes from the verified token, derived at the guard, never from the
// request body.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request, resource string) {
	res, ok := a.resources.Lookup(resource)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown resource")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	sc, err := requireScope(r, res.RequiredRole)
	if err != nil {
		obs.ObserveSearch(resource, "denied")
		writeAuthzError(w, r, err)
		return
	}
	ctx := auth.ContextWithScope(r.Context(), sc)

	var req query.FilterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	page, err := a.engine.Search(ctx, res.Schema, query.Scope{
		OrganizationID: sc.OrganizationID,
		PlatformWide:   sc.PlatformWide,
	}, req)
	if err != nil {
		switch {
		case errors.Is(err, query.ErrUnknownField),
			errors.Is(err, query.ErrInvalidValue),
			errors.Is(err, query.ErrInvalidPagination):
			obs.ObserveSearch(resource, "invalid")
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, query.ErrStoreTimeout):
			obs.ObserveSearch(resource, "timeout")
			writeError(w, r, http.StatusGatewayTimeout, "store timeout")
		case clientClosedRequest(err):
			obs.ObserveSearch(resource, "canceled")
			writeError(w, r, statusClientClosedRequest, "request canceled")
		case errors.Is(err, query.ErrStoreUnavailable):
			obs.ObserveSearch(resource, "unavailable")
			writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
		default:
			obs.ObserveSearch(resource, "error")
			writeError(w, r, http.StatusInternalServerError, "search failed")
		}
		return
	}

	obs.ObserveSearch(resource, "success")
	a.audit(ctx, "search", "resource", resource, map[string]string{
		"resource": resource,
	})
	writeJSON(w, http.StatusOK, page)
}
