package httpapi

import (
	"net/http"

	"lakegate.org/internal/auth"
	"lakegate.org/internal/catalog"
)

type filterRequest struct {
	Predicates []catalog.Predicate `json:"predicates"`
	Page       int                 `json:"page"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (a *API) listCollections(w http.ResponseWriter, r *http.Request) {
	page, err := pageParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.catalog.ListCollections(r.Context(), callerID(r), page)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) filterCollections(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	result, err := a.catalog.FilterCollections(r.Context(), callerID(r), req.Predicates, req.Page)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) createCollection(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var p catalog.NewCollectionParams
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.catalog.CreateCollection(r.Context(), caller.UserID, caller.Email, p)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) getCollection(w http.ResponseWriter, r *http.Request) {
	c, err := a.catalog.GetCollection(r.Context(), callerID(r), r.PathValue("id"))
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) setCollectionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.catalog.SetCollectionStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) deleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := a.catalog.DeleteCollection(r.Context(), callerID(r), r.PathValue("id")); err != nil {
		respondFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listFiles(w http.ResponseWriter, r *http.Request) {
	page, err := pageParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.catalog.ListFiles(r.Context(), callerID(r), page)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) filterFiles(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	result, err := a.catalog.FilterFiles(r.Context(), callerID(r), req.Predicates, req.Page)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) getFile(w http.ResponseWriter, r *http.Request) {
	f, err := a.catalog.GetFile(r.Context(), callerID(r), r.PathValue("id"))
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (a *API) setFileStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f, err := a.catalog.SetFileStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (a *API) deleteFile(w http.ResponseWriter, r *http.Request) {
	if err := a.catalog.DeleteFile(r.Context(), callerID(r), r.PathValue("id")); err != nil {
		respondFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) requestUpload(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var p catalog.UploadParams
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := a.catalog.RequestUpload(r.Context(), caller.UserID, caller.Email, p)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) requestDownload(w http.ResponseWriter, r *http.Request) {
	signed, err := a.catalog.RequestDownload(r.Context(), callerID(r), r.PathValue("id"))
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}
