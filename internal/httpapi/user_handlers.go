package httpapi

import (
	"net/http"
	"strings"

	"lakegate.org/internal/auth"
	"lakegate.org/internal/obs"
	"lakegate.org/internal/visa"
)

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type visaIDsRequest struct {
	VisaIDs []string `json:"visa_ids"`
}

type recoveryRequest struct {
	Email string `json:"email"`
}

type changePasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// only admins can create other admins
	if req.Role == "admin" && !auth.IsAdmin(r.Context()) {
		writeError(w, r, http.StatusForbidden, "admin role required to create admin accounts")
		return
	}
	u, err := a.users.CreateUser(r.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if !auth.IsAdmin(r.Context()) {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	users, err := a.users.ListUsers(r.Context())
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller, _ := auth.IdentityFromContext(r.Context())
	if caller.UserID != id && caller.Role != "admin" {
		writeError(w, r, http.StatusForbidden, "access denied")
		return
	}
	u, err := a.users.GetUser(r.Context(), id)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	newOwner := strings.TrimSpace(r.URL.Query().Get("new_owner"))
	if err := a.users.DeleteUser(r.Context(), id, newOwner); err != nil {
		respondFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getPassport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller, _ := auth.IdentityFromContext(r.Context())
	if caller.UserID != id && caller.Role != "admin" {
		writeError(w, r, http.StatusForbidden, "access denied")
		return
	}
	assertions, err := a.users.PassportFor(r.Context(), id)
	if err != nil {
		respondFault(w, r, err)
		return
	}
	if assertions == nil {
		assertions = []visa.Assertion{}
	}
	writeJSON(w, http.StatusOK, assertions)
}

func (a *API) grantVisas(w http.ResponseWriter, r *http.Request) {
	if !auth.IsAdmin(r.Context()) {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	var req visaIDsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.users.Grant(r.Context(), r.PathValue("id"), req.VisaIDs); err != nil {
		respondFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) revokeVisas(w http.ResponseWriter, r *http.Request) {
	if !auth.IsAdmin(r.Context()) {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	var req visaIDsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.users.Revoke(r.Context(), r.PathValue("id"), req.VisaIDs); err != nil {
		respondFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) requestRecovery(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// a missing account is not revealed to the caller
	if err := a.users.RequestPasswordRecovery(r.Context(), req.Email); err != nil {
		obs.Warn("password recovery failed", map[string]any{"email": req.Email, "error": err.Error()})
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.users.ChangePassword(r.Context(), req.Token, req.NewPassword); err != nil {
		respondFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
