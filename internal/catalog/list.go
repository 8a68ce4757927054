package catalog

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"lakegate.org/internal/docstore"
	"lakegate.org/internal/fault"
)

// pageSize is fixed; pages are 1-based.
const pageSize = 1000

// dateLayout is the accepted datetime literal for date-valued filters.
const dateLayout = "2006-01-02 15:04:05"

// CollectionPage is one page of visible collections.
type CollectionPage struct {
	Items    []Collection `json:"items"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	NextPage *int         `json:"next_page"`
}

// FilePage is one page of visible files.
type FilePage struct {
	Items    []File `json:"items"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	NextPage *int   `json:"next_page"`
}

// Predicate is one property/operator/value filter triple. Operator "*" means
// case-insensitive substring match.
type Predicate struct {
	Property string `json:"property"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// pageBounds validates a 1-based page against the total and returns the
// slice window plus the next page number, nil at the last page. An empty
// result set still has one valid page.
func pageBounds(total, page int) (start, end int, next *int, err error) {
	if page < 1 {
		return 0, 0, nil, fault.Validation("invalid page %d: pages are 1-based", page)
	}
	pages := int(math.Ceil(float64(total) / float64(pageSize)))
	if pages == 0 {
		pages = 1
	}
	if page > pages {
		return 0, 0, nil, fault.Validation("invalid page %d: catalog has %d pages", page, pages)
	}
	start = (page - 1) * pageSize
	end = min(start+pageSize, total)
	if page < pages {
		n := page + 1
		next = &n
	}
	return start, end, next, nil
}

// ListCollections pages through all non-deleted collections. Anonymous
// callers see every non-deleted collection here; only the filter entry point
// narrows anonymous results to non-secret ones.
func (s *Service) ListCollections(ctx context.Context, userID string, page int) (CollectionPage, error) {
	docs, err := s.store.GetAll(ctx, collCollections)
	if err != nil {
		return CollectionPage{}, err
	}
	all, err := decodeCollections(docs)
	if err != nil {
		return CollectionPage{}, err
	}
	visible, err := s.visibleCollections(ctx, userID, all, false)
	if err != nil {
		return CollectionPage{}, err
	}
	return pageCollections(visible, page)
}

// FilterCollections pages through collections matching every predicate.
func (s *Service) FilterCollections(ctx context.Context, userID string, preds []Predicate, page int) (CollectionPage, error) {
	q := docstore.NewQuery(collCollections)
	if err := applyPredicates(q, preds, collectionFields); err != nil {
		return CollectionPage{}, err
	}
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return CollectionPage{}, err
	}
	matched, err := decodeCollections(docs)
	if err != nil {
		return CollectionPage{}, err
	}
	visible, err := s.visibleCollections(ctx, userID, matched, true)
	if err != nil {
		return CollectionPage{}, err
	}
	return pageCollections(visible, page)
}

// visibleCollections drops deleted records and applies the per-entry-point
// anonymous rule: the filter entry hides secret collections from anonymous
// callers, the list entry does not.
func (s *Service) visibleCollections(ctx context.Context, userID string, all []Collection, filtered bool) ([]Collection, error) {
	if userID == "" {
		out := make([]Collection, 0, len(all))
		for _, c := range all {
			if c.Status == StatusDeleted {
				continue
			}
			if filtered && c.Secret {
				continue
			}
			out = append(out, c)
		}
		return out, nil
	}
	names, err := s.names.AccessibleCollectionNames(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Collection, 0, len(all))
	for _, c := range all {
		if collectionVisible(c, userID, names) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListFiles pages through the files visible to the caller. Anonymous callers
// only see public files.
func (s *Service) ListFiles(ctx context.Context, userID string, page int) (FilePage, error) {
	docs, err := s.store.GetAll(ctx, collFiles)
	if err != nil {
		return FilePage{}, err
	}
	all, err := decodeFiles(docs)
	if err != nil {
		return FilePage{}, err
	}
	visible, err := s.visibleFiles(ctx, userID, all)
	if err != nil {
		return FilePage{}, err
	}
	return pageFiles(visible, page)
}

// FilterFiles pages through files matching every predicate.
func (s *Service) FilterFiles(ctx context.Context, userID string, preds []Predicate, page int) (FilePage, error) {
	q := docstore.NewQuery(collFiles)
	if err := applyPredicates(q, preds, fileFields); err != nil {
		return FilePage{}, err
	}
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return FilePage{}, err
	}
	matched, err := decodeFiles(docs)
	if err != nil {
		return FilePage{}, err
	}
	visible, err := s.visibleFiles(ctx, userID, matched)
	if err != nil {
		return FilePage{}, err
	}
	return pageFiles(visible, page)
}

func (s *Service) visibleFiles(ctx context.Context, userID string, all []File) ([]File, error) {
	names := map[string]bool{}
	if userID != "" {
		var err error
		names, err = s.names.AccessibleCollectionNames(ctx, userID)
		if err != nil {
			return nil, err
		}
	}
	out := make([]File, 0, len(all))
	for _, f := range all {
		if fileVisible(f, names) {
			out = append(out, f)
		}
	}
	return out, nil
}

var collectionFields = map[string]bool{
	"name": true, "storage_type": true, "location": true, "status": true,
	"inserted_by": true, "public": true, "secret": true, "description": true,
	"inserted_at": true,
}

var fileFields = map[string]bool{
	"name": true, "collection_id": true, "collection_name": true,
	"storage_type": true, "location": true, "processing_level": true,
	"category": true, "status": true, "version": true, "size": true,
	"public": true, "inserted_at": true, "expires_at": true,
}

var dateFields = map[string]bool{"inserted_at": true, "expires_at": true}

// applyPredicates compiles filter triples onto the query, validating
// property names and operators and coercing date values to unix seconds.
func applyPredicates(q *docstore.Query, preds []Predicate, fields map[string]bool) error {
	for _, p := range preds {
		if !fields[p.Property] {
			return fault.Validation("unknown filter property %q", p.Property)
		}
		value := p.Value
		if dateFields[p.Property] {
			ts, err := coerceDate(value)
			if err != nil {
				return err
			}
			value = ts
		}
		if p.Operator == "*" {
			q.Match(p.Property, fmt.Sprint(p.Value))
			continue
		}
		if !docstore.ValidOp(p.Operator) {
			return fault.Validation("unknown filter operator %q", p.Operator)
		}
		q.Where(p.Property, docstore.Op(p.Operator), value)
	}
	return nil
}

// coerceDate accepts a raw unix timestamp or a "2006-01-02 15:04:05"
// literal.
func coerceDate(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, nil
		}
		parsed, err := time.Parse(dateLayout, t)
		if err != nil {
			return 0, fault.Validation("date value %q is neither a unix timestamp nor %q", t, dateLayout)
		}
		return parsed.Unix(), nil
	default:
		return 0, fault.Validation("unsupported date value of type %T", v)
	}
}

func pageCollections(visible []Collection, page int) (CollectionPage, error) {
	start, end, next, err := pageBounds(len(visible), page)
	if err != nil {
		return CollectionPage{}, err
	}
	return CollectionPage{
		Items:    visible[start:end],
		Total:    len(visible),
		Page:     page,
		NextPage: next,
	}, nil
}

func pageFiles(visible []File, page int) (FilePage, error) {
	start, end, next, err := pageBounds(len(visible), page)
	if err != nil {
		return FilePage{}, err
	}
	return FilePage{
		Items:    visible[start:end],
		Total:    len(visible),
		Page:     page,
		NextPage: next,
	}, nil
}

func decodeCollections(docs []docstore.Document) ([]Collection, error) {
	out := make([]Collection, 0, len(docs))
	for _, d := range docs {
		var c Collection
		if err := d.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeFiles(docs []docstore.Document) ([]File, error) {
	out := make([]File, 0, len(docs))
	for _, d := range docs {
		var f File
		if err := d.Decode(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
