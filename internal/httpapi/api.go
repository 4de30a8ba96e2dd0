package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/query"
	"gatehouse.org/internal/store/denylist"
)

const serviceName = "gatehouse-api"

// ReadyProbe checks the dependencies a serving instance needs.
type ReadyProbe struct {
	DB       *sql.DB
	Denylist *denylist.Denylist
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	return rp.Denylist.Ping(ctx)
}

// Deps wires the HTTP layer to the rest of the service.
type Deps struct {
	Auth      *auth.Service
	Engine    *query.Engine
	Trail     *audit.Trail
	Denylist  *denylist.Denylist
	Resources *Registry
	Ready     ReadyProbe
	Version   string
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	auth      *auth.Service
	engine    *query.Engine
	trail     *audit.Trail
	denylist  *denylist.Denylist
	resources *Registry

	readyProbe ReadyProbe
	version    string
}

func New(d Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       d.Auth,
		engine:     d.Engine,
		trail:      d.Trail,
		denylist:   d.Denylist,
		resources:  d.Resources,
		readyProbe: d.Ready,
		version:    d.Version,
	}
	if a.resources == nil {
		a.resources = NewRegistry()
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// session lifecycle
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/password", a.handlePassword)

	// principal administration + resource search share the /v1/ subtree
	a.mux.HandleFunc("/v1/", a.handleV1)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// handleV1 dispatches the dynamic part of the API surface:
//
//	DELETE /v1/principals/{id}        deactivate
//	POST   /v1/{resource}/search      filtered pagination
func (a *API) handleV1(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/")

	// The search suffix is matched first: "search" is a reserved path
	// segment, never a principal id.
	if resource, ok := strings.CutSuffix(path, "/search"); ok && resource != "" && !strings.Contains(resource, "/") {
		a.handleSearch(w, r, resource)
		return
	}

	if rest, ok := strings.CutPrefix(path, "principals/"); ok && rest != "" && rest != "search" && !strings.Contains(rest, "/") {
		a.handlePrincipalResource(w, r, rest)
		return
	}

	writeError(w, r, http.StatusNotFound, "resource not found")
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// 499, the nginx convention for a client that hung up.
const statusClientClosedRequest = 499

// clientClosedRequest reports whether a failure traces back to the caller
// abandoning the request rather than a server fault.
func clientClosedRequest(err error) bool {
	return errors.Is(err, query.ErrStoreCanceled) || errors.Is(err, context.Canceled)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// audit records an event; recorder failures are logged by the trail and do
// not fail the request.
func (a *API) audit(ctx context.Context, action, resourceType, resourceID string, meta map[string]string) {
	if a.trail == nil {
		return
	}
	if err := a.trail.Event(ctx, action, resourceType, resourceID, meta); err != nil {
		obs.Emit(map[string]any{
			"level": "error",
			"msg":   "audit_append_failed",
			"event": action,
			"error": err.Error(),
		})
	}
}
