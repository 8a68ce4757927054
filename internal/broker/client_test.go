package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"lakegate.org/internal/fault"
	"lakegate.org/internal/visa"
)

// fakeBroker records calls and serves a tiny visa/user registry.
type fakeBroker struct {
	t     *testing.T
	visas map[string]visa.Visa
	users map[string][]visa.Assertion
	calls []string
}

func newFakeBroker(t *testing.T) (*fakeBroker, *httptest.Server) {
	fb := &fakeBroker{
		t:     t,
		visas: map[string]visa.Visa{},
		users: map[string][]visa.Assertion{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/ga4gh/passport/v1/visas", func(w http.ResponseWriter, r *http.Request) {
		fb.calls = append(fb.calls, "create_visa")
		var v visa.Visa
		require.NoError(t, json.NewDecoder(r.Body).Decode(&v))
		fb.visas[v.ID] = v
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /admin/ga4gh/passport/v1/visas", func(w http.ResponseWriter, r *http.Request) {
		out := make([]visa.Visa, 0, len(fb.visas))
		for _, v := range fb.visas {
			out = append(out, v)
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("GET /admin/ga4gh/passport/v1/visas/{id}", func(w http.ResponseWriter, r *http.Request) {
		v, ok := fb.visas[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(v)
	})
	mux.HandleFunc("PUT /admin/ga4gh/passport/v1/visas/{id}", func(w http.ResponseWriter, r *http.Request) {
		var v visa.Visa
		require.NoError(t, json.NewDecoder(r.Body).Decode(&v))
		if _, ok := fb.visas[r.PathValue("id")]; !ok {
			http.NotFound(w, r)
			return
		}
		fb.visas[v.ID] = v
		_ = json.NewEncoder(w).Encode(v)
	})
	mux.HandleFunc("DELETE /admin/ga4gh/passport/v1/visas/{id}", func(w http.ResponseWriter, r *http.Request) {
		delete(fb.visas, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /admin/ga4gh/passport/v1/users", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fb.users[body["id"]] = nil
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("PUT /admin/ga4gh/passport/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Assertions []visa.Assertion `json:"passportVisaAssertions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fb.users[r.PathValue("id")] = body.Assertions
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("DELETE /admin/ga4gh/passport/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		delete(fb.users, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fb, srv
}

func TestVisaLifecycleAgainstBroker(t *testing.T) {
	fb, srv := newFakeBroker(t)
	c := New(srv.URL)
	ctx := context.Background()

	v := visa.Visa{ID: "v-1", Name: "c-1:genomics", Issuer: "lakegate"}
	require.NoError(t, c.CreateVisa(ctx, v))
	require.Equal(t, v, fb.visas["v-1"])

	got, err := c.GetVisa(ctx, "v-1")
	require.NoError(t, err)
	require.Equal(t, v, got)

	all, err := c.ListVisas(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	v.Description = "updated"
	updated, err := c.UpdateVisa(ctx, v)
	require.NoError(t, err)
	require.Equal(t, "updated", updated.Description)

	require.NoError(t, c.DeleteVisa(ctx, "v-1"))
	_, err = c.GetVisa(ctx, "v-1")
	require.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestPassportWriteThrough(t *testing.T) {
	fb, srv := newFakeBroker(t)
	c := New(srv.URL)
	ctx := context.Background()

	require.NoError(t, c.RegisterUser(ctx, "u-1"))
	_, ok := fb.users["u-1"]
	require.True(t, ok)

	assertions := []visa.Assertion{
		{Visa: visa.Visa{ID: "v-1", Name: "c-1:genomics"}, Status: visa.StatusActive, AssertedAt: 1700000000},
	}
	require.NoError(t, c.PutPassport(ctx, "u-1", assertions))
	require.Len(t, fb.users["u-1"], 1)

	// a nil set is an explicit empty replace, not a skip
	require.NoError(t, c.PutPassport(ctx, "u-1", nil))
	require.Empty(t, fb.users["u-1"])

	require.NoError(t, c.RemoveUser(ctx, "u-1"))
	_, ok = fb.users["u-1"]
	require.False(t, ok)
}

func TestUnexpectedStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	err := c.CreateVisa(context.Background(), visa.Visa{ID: "v-1"})
	require.Error(t, err)
	require.False(t, fault.IsKind(err, fault.KindNotFound))
}
