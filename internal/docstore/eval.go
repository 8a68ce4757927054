package docstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Eval applies the query's predicates to a decoded document. It is the
// in-process counterpart of the N1QL/SQL compilers, used by memstore.
func Eval(q *Query, doc map[string]any) (bool, error) {
	for _, p := range q.preds {
		ok, err := evalPred(p, doc)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalPred(p predicate, doc map[string]any) (bool, error) {
	switch p.kind {
	case predWhere:
		got, ok := lookup(doc, p.field)
		if !ok {
			return false, nil
		}
		cmp, comparable := compare(got, p.value)
		if !comparable {
			return false, nil
		}
		switch p.op {
		case OpEq:
			return cmp == 0, nil
		case OpNeq:
			return cmp != 0, nil
		case OpLt:
			return cmp < 0, nil
		case OpGt:
			return cmp > 0, nil
		case OpLte:
			return cmp <= 0, nil
		case OpGte:
			return cmp >= 0, nil
		default:
			return false, fmt.Errorf("docstore: unsupported operator %q", p.op)
		}
	case predMatch:
		got, ok := lookup(doc, p.field)
		if !ok {
			return false, nil
		}
		return strings.Contains(strings.ToLower(fmt.Sprint(got)), strings.ToLower(fmt.Sprint(p.value))), nil
	case predAnyEq:
		got, ok := lookup(doc, p.field)
		if !ok {
			return false, nil
		}
		arr, ok := got.([]any)
		if !ok {
			return false, nil
		}
		for _, elem := range arr {
			em, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			v, ok := lookup(em, p.path)
			if !ok {
				continue
			}
			if cmp, comparable := compare(v, p.value); comparable && cmp == 0 {
				return true, nil
			}
		}
		return false, nil
	case predContains:
		got, ok := lookup(doc, p.field)
		if !ok {
			return false, nil
		}
		arr, ok := got.([]any)
		if !ok {
			return false, nil
		}
		for _, elem := range arr {
			if cmp, comparable := compare(elem, p.value); comparable && cmp == 0 {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("docstore: unknown predicate kind")
}

// Order sorts documents per the query's ORDER BY clause.
func Order(q *Query, docs []Document) {
	if q.orderField == "" {
		return
	}
	field := q.orderField
	desc := q.orderDesc
	sort.SliceStable(docs, func(i, j int) bool {
		vi := fieldOf(docs[i], field)
		vj := fieldOf(docs[j], field)
		cmp, ok := compare(vi, vj)
		if !ok {
			return false
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// Limit exposes the query's limit to store implementations.
func Limit(q *Query) int { return q.limit }

func fieldOf(d Document, field string) any {
	var m map[string]any
	if err := json.Unmarshal(d.Data, &m); err != nil {
		return nil
	}
	v, _ := lookup(m, field)
	return v
}

func lookup(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, part := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// compare returns (-1|0|1, true) for comparable values. Numbers compare
// numerically (JSON decodes them as float64), everything else as strings.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			if ba == bb {
				return 0, true
			}
			if !ba {
				return -1, true
			}
			return 1, true
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	return strings.Compare(sa, sb), true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
