package httpapi

import (
	"net/http"

	"lakegate.org/internal/accessreq"
	"lakegate.org/internal/auth"
)

type createAccessRequest struct {
	CollectionID string `json:"collection_id"`
	OwnerID      string `json:"owner_id"`
}

func (a *API) createAccessRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req createAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.requests.Create(r.Context(), req.CollectionID, req.OwnerID, caller.UserID)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) searchAccessRequests(w http.ResponseWriter, r *http.Request) {
	var filter accessreq.SearchFilter
	if err := decodeJSON(w, r, &filter); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	results, err := a.requests.Search(r.Context(), filter)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	if results == nil {
		results = []accessreq.Request{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (a *API) grantAccessRequest(w http.ResponseWriter, r *http.Request) {
	next, err := a.requests.Grant(r.Context(), callerID(r), r.PathValue("id"))
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (a *API) revokeAccessRequest(w http.ResponseWriter, r *http.Request) {
	next, err := a.requests.Revoke(r.Context(), callerID(r), r.PathValue("id"))
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (a *API) deleteAccessRequest(w http.ResponseWriter, r *http.Request) {
	if err := a.requests.Delete(r.Context(), callerID(r), r.PathValue("id")); err != nil {
		respondFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
