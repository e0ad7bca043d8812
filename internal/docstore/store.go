// Package docstore is a small document-database abstraction: documents are
// addressed by slash-separated paths ("results/u1-p1"), hold schema-less
// fields, and may carry a ServerTimestamp placeholder that the store resolves
// with its own clock at write time.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrBadPath       = errors.New("bad document path")
)

type Direction int

const (
	Asc Direction = iota
	Desc
)

type Document struct {
	Path       string
	ID         string
	Fields     map[string]any
	CreateTime time.Time
	UpdateTime time.Time
}

type Store interface {
	// Get returns ErrNotFound when the document is absent.
	Get(ctx context.Context, path string) (Document, error)
	// Create writes a new document and fails with ErrAlreadyExists if one is
	// already stored at path.
	Create(ctx context.Context, path string, fields map[string]any) error
	// Set replaces the document, or with merge deep-merges map fields into it.
	Set(ctx context.Context, path string, fields map[string]any, merge bool) error
	// Update deep-merges fields into an existing document. It fails with
	// ErrNotFound instead of creating one.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Delete removes the document; deleting a missing document is not an error.
	Delete(ctx context.Context, path string) error
	// Query lists a collection ordered by one field. Documents lacking the
	// field are left out, as Firestore does.
	Query(ctx context.Context, collection, orderBy string, dir Direction) ([]Document, error)
	Close() error
}

type serverTimestamp struct{}

// ServerTimestamp is a write-time placeholder replaced by the store's clock.
var ServerTimestamp any = serverTimestamp{}

func isServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Join builds a path from segments.
func Join(segments ...string) string { return strings.Join(segments, "/") }

// Split returns the collection path and id of a document path.
func Split(path string) (collection, id string, err error) {
	segs := strings.Split(path, "/")
	if len(segs) < 2 || len(segs)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q", ErrBadPath, path)
	}
	for _, s := range segs {
		if s == "" {
			return "", "", fmt.Errorf("%w: %q", ErrBadPath, path)
		}
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

func checkCollection(collection string) error {
	segs := strings.Split(collection, "/")
	if len(segs)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection", ErrBadPath, collection)
	}
	for _, s := range segs {
		if s == "" {
			return fmt.Errorf("%w: %q", ErrBadPath, collection)
		}
	}
	return nil
}

// resolve deep-copies fields, replacing ServerTimestamp with now.
func resolve(fields map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = resolveValue(v, now)
	}
	return out
}

func resolveValue(v any, now time.Time) any {
	switch x := v.(type) {
	case serverTimestamp:
		return now
	case map[string]any:
		return resolve(x, now)
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, s := range x {
			m[k] = s
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = resolveValue(e, now)
		}
		return out
	default:
		return v
	}
}

func deepCopy(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if m, ok := v.(map[string]any); ok {
			out[k] = deepCopy(m)
			continue
		}
		out[k] = v
	}
	return out
}

// mergeInto applies src over dst: nested maps merge key by key, anything else
// overwrites.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		sm, sok := v.(map[string]any)
		dm, dok := dst[k].(map[string]any)
		if sok && dok {
			mergeInto(dm, sm)
			continue
		}
		if sok {
			dst[k] = deepCopy(sm)
			continue
		}
		dst[k] = v
	}
}

func sortDocuments(docs []Document, field string, dir Direction) []Document {
	out := docs[:0]
	for _, d := range docs {
		if _, ok := d.Fields[field]; ok {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := compareValues(out[i].Fields[field], out[j].Fields[field])
		if c == 0 {
			return out[i].Path < out[j].Path
		}
		if dir == Desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

// compareValues orders nil < bool < number < time < string, mirroring the
// cross-type ordering of Firestore closely enough for our fields.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case time.Time:
		y := b.(time.Time)
		return x.Compare(y)
	case string:
		return strings.Compare(x, b.(string))
	}
	fa, _ := toFloat(a)
	fb, _ := toFloat(b)
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int32, int64, float32, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
