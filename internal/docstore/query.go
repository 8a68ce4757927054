package docstore

import (
	"fmt"
	"regexp"
	"strings"
)

// Op is a comparison operator accepted by Where.
type Op string

const (
	OpEq  Op = "="
	OpLt  Op = "<"
	OpGt  Op = ">"
	OpLte Op = "<="
	OpGte Op = ">="
	OpNeq Op = "!="
)

// ValidOp reports whether s is a supported comparison operator.
func ValidOp(s string) bool {
	switch Op(s) {
	case OpEq, OpLt, OpGt, OpLte, OpGte, OpNeq:
		return true
	}
	return false
}

type predKind int

const (
	predWhere predKind = iota
	predMatch
	predAnyEq
	predContains
)

type predicate struct {
	kind  predKind
	field string
	op    Op
	value any
	bind  string // ANY ... IN binding variable
	path  string // element path inside the bound variable
}

// Query is a typed read-query expression. It is compiled to the target
// store's language with positional parameters; field names are validated
// identifiers and values never enter the statement text.
type Query struct {
	Collection string
	preds      []predicate
	orderField string
	orderDesc  bool
	limit      int
}

// NewQuery starts a query against one collection of the bound scope.
func NewQuery(collection string) *Query {
	return &Query{Collection: collection}
}

// Where adds a field comparison predicate.
func (q *Query) Where(field string, op Op, value any) *Query {
	q.preds = append(q.preds, predicate{kind: predWhere, field: field, op: op, value: value})
	return q
}

// Match adds a case-insensitive substring predicate.
func (q *Query) Match(field, substr string) *Query {
	q.preds = append(q.preds, predicate{kind: predMatch, field: field, value: substr})
	return q
}

// AnyEquals matches documents whose array field contains an element with
// path == value (ANY bind IN field SATISFIES bind.path = value END).
func (q *Query) AnyEquals(bind, field, path string, value any) *Query {
	q.preds = append(q.preds, predicate{kind: predAnyEq, field: field, bind: bind, path: path, value: value})
	return q
}

// ContainsValue matches documents whose scalar array field contains value.
func (q *Query) ContainsValue(field string, value any) *Query {
	q.preds = append(q.preds, predicate{kind: predContains, field: field, value: value})
	return q
}

// OrderBy sets the result ordering.
func (q *Query) OrderBy(field string, desc bool) *Query {
	q.orderField = field
	q.orderDesc = desc
	return q
}

// LimitTo caps the number of results.
func (q *Query) LimitTo(n int) *Query {
	q.limit = n
	return q
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("docstore: invalid field name %q", name)
	}
	return nil
}

// N1QL compiles the query for the Couchbase query service. Returned args are
// positional ($1..$n).
func (q *Query) N1QL(bucket, scope string) (string, []any, error) {
	for _, p := range q.preds {
		if err := checkIdent(p.field); err != nil {
			return "", nil, err
		}
		if p.path != "" {
			if err := checkIdent(p.path); err != nil {
				return "", nil, err
			}
		}
	}
	if q.orderField != "" {
		if err := checkIdent(q.orderField); err != nil {
			return "", nil, err
		}
	}

	var sb strings.Builder
	var args []any
	fmt.Fprintf(&sb, "SELECT META(d).id AS __key, d.* FROM `%s`.`%s`.`%s` AS d", bucket, scope, q.Collection)

	var conds []string
	for _, p := range q.preds {
		args = append(args, p.value)
		n := len(args)
		switch p.kind {
		case predWhere:
			conds = append(conds, fmt.Sprintf("d.%s %s $%d", p.field, p.op, n))
		case predMatch:
			args[n-1] = "%" + strings.ToLower(fmt.Sprint(p.value)) + "%"
			conds = append(conds, fmt.Sprintf("LOWER(d.%s) LIKE $%d", p.field, n))
		case predAnyEq:
			conds = append(conds, fmt.Sprintf("ANY %s IN d.%s SATISFIES %s.%s = $%d END", p.bind, p.field, p.bind, p.path, n))
		case predContains:
			conds = append(conds, fmt.Sprintf("$%d IN d.%s", n, p.field))
		}
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	if q.orderField != "" {
		dir := "ASC"
		if q.orderDesc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY d.%s %s", q.orderField, dir)
	}
	if q.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.limit)
	}
	return sb.String(), args, nil
}

// SQL compiles the query against the jsonb documents table used by the
// Postgres backend. scope and collection are bound as $1 and $2, so predicate
// parameters start at $3.
func (q *Query) SQL(table, scope string) (string, []any, error) {
	for _, p := range q.preds {
		if err := checkIdent(p.field); err != nil {
			return "", nil, err
		}
		if p.path != "" {
			if err := checkIdent(p.path); err != nil {
				return "", nil, err
			}
		}
	}
	if q.orderField != "" {
		if err := checkIdent(q.orderField); err != nil {
			return "", nil, err
		}
	}

	args := []any{scope, q.Collection}
	var sb strings.Builder
	fmt.Fprintf(&sb, "select key, doc from %s where scope = $1 and collection = $2", table)

	for _, p := range q.preds {
		switch p.kind {
		case predWhere:
			args = append(args, p.value)
			n := len(args)
			switch p.value.(type) {
			case int, int32, int64, float32, float64:
				fmt.Fprintf(&sb, " and (doc->>'%s')::numeric %s $%d", p.field, p.op, n)
			case bool:
				fmt.Fprintf(&sb, " and (doc->>'%s')::boolean %s $%d", p.field, p.op, n)
			default:
				fmt.Fprintf(&sb, " and doc->>'%s' %s $%d", p.field, p.op, n)
			}
		case predMatch:
			args = append(args, "%"+strings.ToLower(fmt.Sprint(p.value))+"%")
			fmt.Fprintf(&sb, " and lower(doc->>'%s') like $%d", p.field, len(args))
		case predAnyEq:
			args = append(args, p.value)
			fmt.Fprintf(&sb, " and exists (select 1 from jsonb_array_elements(doc->'%s') as elem where %s = $%d)",
				p.field, jsonbPath("elem", p.path), len(args))
		case predContains:
			args = append(args, fmt.Sprint(p.value))
			fmt.Fprintf(&sb, " and doc->'%s' ? $%d", p.field, len(args))
		}
	}
	if q.orderField != "" {
		dir := "asc"
		if q.orderDesc {
			dir = "desc"
		}
		fmt.Fprintf(&sb, " order by doc->'%s' %s", q.orderField, dir)
	}
	if q.limit > 0 {
		fmt.Fprintf(&sb, " limit %d", q.limit)
	}
	return sb.String(), args, nil
}

// jsonbPath renders elem.a.b as elem->'a'->>'b'.
func jsonbPath(base, path string) string {
	parts := strings.Split(path, ".")
	out := base
	for i, part := range parts {
		if i == len(parts)-1 {
			out += fmt.Sprintf("->>'%s'", part)
		} else {
			out += fmt.Sprintf("->'%s'", part)
		}
	}
	return out
}
