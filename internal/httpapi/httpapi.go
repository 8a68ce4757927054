// Package httpapi is the HTTP surface: routing, middleware and the mapping
// from service errors to status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lakegate.org/internal/accessreq"
	"lakegate.org/internal/auth"
	"lakegate.org/internal/catalog"
	"lakegate.org/internal/docstore"
	"lakegate.org/internal/fault"
	"lakegate.org/internal/obs"
	"lakegate.org/internal/passport"
	"lakegate.org/internal/vault"
	"lakegate.org/internal/visa"
)

// API is the HTTP layer over the wired services.
type API struct {
	mux      *http.ServeMux
	auth     *auth.Service
	users    *passport.Service
	visas    *visa.Service
	vault    *vault.Service
	catalog  *catalog.Service
	requests *accessreq.Service
	version  string

	// adminPrefixes are route prefixes only admins may enter.
	adminPrefixes []string
}

func New(authSvc *auth.Service, users *passport.Service, visas *visa.Service, vaultSvc *vault.Service, cat *catalog.Service, requests *accessreq.Service, version string) *API {
	a := &API{
		mux:           http.NewServeMux(),
		auth:          authSvc,
		users:         users,
		visas:         visas,
		vault:         vaultSvc,
		catalog:       cat,
		requests:      requests,
		version:       version,
		adminPrefixes: []string{"/v1/visas", "/v1/credentials"},
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/token", a.issueToken)
	a.mux.HandleFunc("POST /v1/auth/refresh", a.refreshToken)

	a.mux.HandleFunc("POST /v1/users", a.createUser)
	a.mux.HandleFunc("GET /v1/users", a.listUsers)
	a.mux.HandleFunc("POST /v1/users/recovery", a.requestRecovery)
	a.mux.HandleFunc("POST /v1/users/password", a.changePassword)
	a.mux.HandleFunc("GET /v1/users/{id}", a.getUser)
	a.mux.HandleFunc("DELETE /v1/users/{id}", a.deleteUser)
	a.mux.HandleFunc("GET /v1/users/{id}/passport", a.getPassport)
	a.mux.HandleFunc("POST /v1/users/{id}/passport/grant", a.grantVisas)
	a.mux.HandleFunc("POST /v1/users/{id}/passport/revoke", a.revokeVisas)

	a.mux.HandleFunc("POST /v1/visas", a.createVisa)
	a.mux.HandleFunc("GET /v1/visas", a.listVisas)
	a.mux.HandleFunc("GET /v1/visas/{id}", a.getVisa)
	a.mux.HandleFunc("PUT /v1/visas/{id}", a.updateVisa)
	a.mux.HandleFunc("DELETE /v1/visas/{id}", a.deleteVisa)

	a.mux.HandleFunc("POST /v1/credentials", a.createCredential)
	a.mux.HandleFunc("GET /v1/credentials", a.listCredentials)
	a.mux.HandleFunc("GET /v1/credentials/buckets", a.listBuckets)
	a.mux.HandleFunc("GET /v1/credentials/{id}", a.getCredential)
	a.mux.HandleFunc("DELETE /v1/credentials/{id}", a.deleteCredential)

	a.mux.HandleFunc("GET /v1/collections", a.listCollections)
	a.mux.HandleFunc("POST /v1/collections", a.createCollection)
	a.mux.HandleFunc("POST /v1/collections/filter", a.filterCollections)
	a.mux.HandleFunc("GET /v1/collections/{id}", a.getCollection)
	a.mux.HandleFunc("PUT /v1/collections/{id}/status", a.setCollectionStatus)
	a.mux.HandleFunc("DELETE /v1/collections/{id}", a.deleteCollection)

	a.mux.HandleFunc("GET /v1/files", a.listFiles)
	a.mux.HandleFunc("POST /v1/files/filter", a.filterFiles)
	a.mux.HandleFunc("POST /v1/files/upload", a.requestUpload)
	a.mux.HandleFunc("GET /v1/files/{id}", a.getFile)
	a.mux.HandleFunc("GET /v1/files/{id}/download", a.requestDownload)
	a.mux.HandleFunc("PUT /v1/files/{id}/status", a.setFileStatus)
	a.mux.HandleFunc("DELETE /v1/files/{id}", a.deleteFile)

	a.mux.HandleFunc("POST /v1/access-requests", a.createAccessRequest)
	a.mux.HandleFunc("POST /v1/access-requests/search", a.searchAccessRequests)
	a.mux.HandleFunc("POST /v1/access-requests/{id}/grant", a.grantAccessRequest)
	a.mux.HandleFunc("POST /v1/access-requests/{id}/revoke", a.revokeAccessRequest)
	a.mux.HandleFunc("DELETE /v1/access-requests/{id}", a.deleteAccessRequest)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RequestID(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 50, 25)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "lakegate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
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

// respondFault translates the error taxonomy into HTTP statuses. Anything
// unclassified is an internal error and its message is not exposed.
func respondFault(w http.ResponseWriter, r *http.Request, err error) {
	var fe *fault.Error
	if errors.As(err, &fe) {
		writeError(w, r, statusOf(fe.Kind), fe.Message())
		return
	}
	if errors.Is(err, docstore.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if errors.Is(err, docstore.ErrExists) {
		writeError(w, r, http.StatusConflict, "already exists")
		return
	}
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

func statusOf(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindAccessDenied:
		return http.StatusForbidden
	case fault.KindInvalidState:
		return http.StatusConflict
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindTokenExpired, fault.KindInvalidToken:
		return http.StatusUnauthorized
	case fault.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
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

// pageParam reads the 1-based ?page= query value, defaulting to 1.
func pageParam(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("page"))
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("page must be an integer")
	}
	return page, nil
}

// callerID returns the authenticated user id, or "" for anonymous callers.
func callerID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}
