package httpapi

import (
	"net/http"

	"lakegate.org/internal/visa"
)

// Visa and credential routes sit behind the admin-only prefix check in
// withAuth; handlers assume an admin identity.

type createVisaRequest struct {
	Name        string `json:"name"`
	Issuer      string `json:"issuer"`
	Description string `json:"description"`
}

type createCredentialRequest struct {
	StorageType string         `json:"storage_type"`
	BucketNames []string       `json:"bucket_names"`
	VisaIDs     []string       `json:"visa_ids"`
	Secret      map[string]any `json:"secret"`
}

func (a *API) createVisa(w http.ResponseWriter, r *http.Request) {
	var req createVisaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	v, err := a.visas.Create(r.Context(), req.Name, req.Issuer, req.Description)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) listVisas(w http.ResponseWriter, r *http.Request) {
	all, err := a.visas.List(r.Context())
	if err != nil {
		respondFault(w, r, err)
		return
	}
	if all == nil {
		all = []visa.Visa{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (a *API) getVisa(w http.ResponseWriter, r *http.Request) {
	v, err := a.visas.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) updateVisa(w http.ResponseWriter, r *http.Request) {
	var v visa.Visa
	if err := decodeJSON(w, r, &v); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	v.ID = r.PathValue("id")
	updated, err := a.visas.Update(r.Context(), v)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deleteVisa(w http.ResponseWriter, r *http.Request) {
	if err := a.visas.Delete(r.Context(), r.PathValue("id")); err != nil {
		respondFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) createCredential(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	cred, err := a.vault.Create(r.Context(), req.StorageType, req.BucketNames, req.VisaIDs, req.Secret)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	// the sealed payload stays inside the vault
	cred.Secret = ""
	writeJSON(w, http.StatusCreated, cred)
}

func (a *API) listCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := a.vault.List(r.Context())
	if err != nil {
		respondFault(w, r, err)
		return
	}
	for i := range creds {
		creds[i].Secret = ""
	}
	writeJSON(w, http.StatusOK, creds)
}

func (a *API) getCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := a.vault.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondFault(w, r, err)
		return
	}
	cred.Secret = ""
	writeJSON(w, http.StatusOK, cred)
}

func (a *API) deleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := a.vault.Delete(r.Context(), r.PathValue("id")); err != nil {
		respondFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := a.vault.ListBuckets(r.Context())
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}
