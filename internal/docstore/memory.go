package docstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type memDoc struct {
	fields  map[string]any
	created time.Time
	updated time.Time
}

// Memory is an in-process Store. Now stands in for the server clock.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]memDoc
	now  func() time.Time
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Memory{docs: map[string]memDoc{}, now: now}
}

func (m *Memory) Get(ctx context.Context, path string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	_, id, err := Split(path)
	if err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[path]
	if !ok {
		return Document{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return Document{Path: path, ID: id, Fields: deepCopy(d.fields), CreateTime: d.created, UpdateTime: d.updated}, nil
}

func (m *Memory) Create(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := Split(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[path]; ok {
		return fmt.Errorf("%s: %w", path, ErrAlreadyExists)
	}
	now := m.now()
	m.docs[path] = memDoc{fields: resolve(fields, now), created: now, updated: now}
	return nil
}

func (m *Memory) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := Split(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	d, ok := m.docs[path]
	if !ok {
		d = memDoc{fields: map[string]any{}, created: now}
	}
	if merge {
		mergeInto(d.fields, resolve(fields, now))
	} else {
		d.fields = resolve(fields, now)
	}
	d.updated = now
	m.docs[path] = d
	return nil
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := Split(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[path]
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	now := m.now()
	mergeInto(d.fields, resolve(fields, now))
	d.updated = now
	m.docs[path] = d
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := Split(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, path)
	return nil
}

func (m *Memory) Query(ctx context.Context, collection, orderBy string, dir Direction) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	prefix := collection + "/"
	m.mu.RLock()
	var out []Document
	for p, d := range m.docs {
		if !strings.HasPrefix(p, prefix) || strings.Contains(p[len(prefix):], "/") {
			continue
		}
		out = append(out, Document{
			Path:       p,
			ID:         p[len(prefix):],
			Fields:     deepCopy(d.fields),
			CreateTime: d.created,
			UpdateTime: d.updated,
		})
	}
	m.mu.RUnlock()
	return sortDocuments(out, orderBy, dir), nil
}

func (m *Memory) Close() error { return nil }

// Len is the number of stored documents; handy in tests.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
