package httpapi

import (
	"net/http"
	"time"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, _, err := a.auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	identity, err := a.auth.Decode(req.RefreshToken, true)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	token, expires, err := a.auth.Refresh(identity)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: token, AccessExpiresAt: expires})
}
