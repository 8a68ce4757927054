package couchbase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"lakegate.org/internal/docstore"
)

// rewriteTransport redirects every request to the fake query service,
// regardless of the host and port the store composed.
type rewriteTransport struct {
	target string
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.target
	return http.DefaultTransport.RoundTrip(req)
}

type queryReq struct {
	Statement string `json:"statement"`
	Args      []any  `json:"args"`
}

// newFakeQueryService serves canned query-service responses and records the
// last statement it received.
func newFakeQueryService(t *testing.T, respond func(q queryReq) string) (*Store, *queryReq) {
	t.Helper()
	var last queryReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query/service", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&last))
		_, _ = w.Write([]byte(respond(last)))
	}))
	t.Cleanup(srv.Close)

	st := New(Config{Host: "db", User: "u", Password: "p", Bucket: "lakegate"}, "users")
	st.client = &http.Client{Transport: rewriteTransport{target: srv.Listener.Addr().String()}}
	return st, &last
}

func TestDeleteReportsMutation(t *testing.T) {
	st, last := newFakeQueryService(t, func(queryReq) string {
		return `{"status":"success","results":[],"metrics":{"mutationCount":1}}`
	})

	err := st.Delete(context.Background(), "info", "u-1")
	require.NoError(t, err)
	require.Contains(t, last.Statement, "DELETE FROM `lakegate`.`users`.`info`")
	require.Equal(t, []any{"u-1"}, last.Args)
}

func TestDeleteMissingKey(t *testing.T) {
	// The query service reports success for a DELETE that matched nothing;
	// a zero mutation count has to surface as not found, same as the other
	// backends.
	st, _ := newFakeQueryService(t, func(queryReq) string {
		return `{"status":"success","results":[],"metrics":{"mutationCount":0}}`
	})

	err := st.Delete(context.Background(), "info", "absent")
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestInsertDuplicateKey(t *testing.T) {
	st, _ := newFakeQueryService(t, func(queryReq) string {
		return `{"status":"errors","errors":[{"code":12009,"msg":"Duplicate Key u-1"}]}`
	})

	err := st.Insert(context.Background(), "info", "u-1", map[string]string{"id": "u-1"})
	require.ErrorIs(t, err, docstore.ErrExists)
}
