package docstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestN1QLCompile(t *testing.T) {
	q := NewQuery("collections").
		Where("status", OpNeq, "deleted").
		Match("name", "Gen").
		OrderBy("inserted_at", true).
		LimitTo(5)

	stmt, args, err := q.N1QL("lakegate", "catalogs")
	require.NoError(t, err)
	require.Equal(t,
		"SELECT META(d).id AS __key, d.* FROM `lakegate`.`catalogs`.`collections` AS d"+
			" WHERE d.status != $1 AND LOWER(d.name) LIKE $2"+
			" ORDER BY d.inserted_at DESC LIMIT 5",
		stmt)
	require.Equal(t, []any{"deleted", "%gen%"}, args)
}

func TestN1QLArrayPredicates(t *testing.T) {
	q := NewQuery("visa").
		AnyEquals("a", "passportVisaAssertions", "passportVisa.id", "v-1")
	stmt, args, err := q.N1QL("lakegate", "users")
	require.NoError(t, err)
	require.Contains(t, stmt, "ANY a IN d.passportVisaAssertions SATISFIES a.passportVisa.id = $1 END")
	require.Equal(t, []any{"v-1"}, args)

	q = NewQuery("cloud").ContainsValue("visa_uuids", "v-2")
	stmt, args, err = q.N1QL("lakegate", "credentials")
	require.NoError(t, err)
	require.Contains(t, stmt, "$1 IN d.visa_uuids")
	require.Equal(t, []any{"v-2"}, args)
}

func TestSQLCompile(t *testing.T) {
	q := NewQuery("files").
		Where("collection_id", OpEq, "c-1").
		Where("version", OpGt, 2).
		Where("public", OpEq, true).
		OrderBy("inserted_at", false)

	stmt, args, err := q.SQL("documents", "catalogs")
	require.NoError(t, err)
	require.Equal(t,
		"select key, doc from documents where scope = $1 and collection = $2"+
			" and doc->>'collection_id' = $3"+
			" and (doc->>'version')::numeric > $4"+
			" and (doc->>'public')::boolean = $5"+
			" order by doc->'inserted_at' asc",
		stmt)
	require.Equal(t, []any{"catalogs", "files", "c-1", 2, true}, args)
}

func TestSQLArrayPredicates(t *testing.T) {
	q := NewQuery("visa").
		AnyEquals("a", "passportVisaAssertions", "passportVisa.id", "v-1").
		ContainsValue("bucket_names", "b1")
	stmt, args, err := q.SQL("documents", "users")
	require.NoError(t, err)
	require.Contains(t, stmt,
		"exists (select 1 from jsonb_array_elements(doc->'passportVisaAssertions') as elem"+
			" where elem->'passportVisa'->>'id' = $3)")
	require.Contains(t, stmt, "doc->'bucket_names' ? $4")
	require.Equal(t, []any{"users", "visa", "v-1", "b1"}, args)
}

func TestCompileRejectsBadIdentifiers(t *testing.T) {
	for _, field := range []string{"name; drop", "na me", "1bad", "a..b", ""} {
		q := NewQuery("files").Where(field, OpEq, "x")
		if _, _, err := q.N1QL("b", "s"); err == nil {
			t.Fatalf("expected N1QL error for field %q", field)
		}
		if _, _, err := q.SQL("documents", "s"); err == nil {
			t.Fatalf("expected SQL error for field %q", field)
		}
	}
}

func TestValidOp(t *testing.T) {
	for _, op := range []string{"=", "<", ">", "<=", ">=", "!="} {
		require.True(t, ValidOp(op), op)
	}
	require.False(t, ValidOp("*"))
	require.False(t, ValidOp("like"))
}
