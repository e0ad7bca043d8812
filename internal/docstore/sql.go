package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQL keeps every document as a JSON row of the documents table created by
// db.EnsureSchema. Works on SQLite and Postgres.
type SQL struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
	now    func() time.Time
}

func NewSQL(db *sql.DB, driver string, now func() time.Time) *SQL {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SQL{db: db, driver: driver, now: now}
}

func (s *SQL) Get(ctx context.Context, path string) (Document, error) {
	_, id, err := Split(path)
	if err != nil {
		return Document{}, err
	}
	var data string
	var created, updated int64
	err = s.db.QueryRowContext(ctx,
		`SELECT data, created_at, updated_at FROM documents WHERE path=$1`, path).
		Scan(&data, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return Document{}, err
	}
	fields, err := decodeFields(data)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return Document{
		Path:       path,
		ID:         id,
		Fields:     fields,
		CreateTime: time.Unix(0, created).UTC(),
		UpdateTime: time.Unix(0, updated).UTC(),
	}, nil
}

func (s *SQL) Create(ctx context.Context, path string, fields map[string]any) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	now := s.now()
	data, err := encodeFields(resolve(fields, now))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (path,collection,doc_id,data,created_at,updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5)
		 ON CONFLICT (path) DO NOTHING`,
		path, collection, id, data, now.UnixNano())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", path, ErrAlreadyExists)
	}
	return nil
}

func (s *SQL) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	next := resolve(fields, now)
	if merge {
		q := `SELECT data FROM documents WHERE path=$1`
		if s.driver == "postgres" {
			q += ` FOR UPDATE`
		}
		var data string
		switch err := tx.QueryRowContext(ctx, q, path).Scan(&data); {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			cur, err := decodeFields(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			mergeInto(cur, next)
			next = cur
		}
	}
	data, err := encodeFields(next)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (path,collection,doc_id,data,created_at,updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5)
		 ON CONFLICT (path) DO UPDATE SET data=EXCLUDED.data, updated_at=EXCLUDED.updated_at`,
		path, collection, id, data, now.UnixNano()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) Update(ctx context.Context, path string, fields map[string]any) error {
	if _, _, err := Split(path); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	q := `SELECT data FROM documents WHERE path=$1`
	if s.driver == "postgres" {
		q += ` FOR UPDATE`
	}
	var data string
	switch err := tx.QueryRowContext(ctx, q, path).Scan(&data); {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case err != nil:
		return err
	}
	cur, err := decodeFields(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	now := s.now()
	mergeInto(cur, resolve(fields, now))
	if data, err = encodeFields(cur); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET data=$1, updated_at=$2 WHERE path=$3`,
		data, now.UnixNano(), path); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) Delete(ctx context.Context, path string) error {
	if _, _, err := Split(path); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path=$1`, path)
	return err
}

func (s *SQL) Query(ctx context.Context, collection, orderBy string, dir Direction) ([]Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, doc_id, data, created_at, updated_at FROM documents WHERE collection=$1`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		var data string
		var created, updated int64
		if err := rows.Scan(&d.Path, &d.ID, &data, &created, &updated); err != nil {
			return nil, err
		}
		if d.Fields, err = decodeFields(data); err != nil {
			return nil, fmt.Errorf("%s: %w", d.Path, err)
		}
		d.CreateTime = time.Unix(0, created).UTC()
		d.UpdateTime = time.Unix(0, updated).UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sortDocuments(out, orderBy, dir), nil
}

func (s *SQL) Close() error { return s.db.Close() }

// JSON loses time.Time, so timestamps travel as {"$time": "<RFC3339Nano>"}.
const timeKey = "$time"

func encodeFields(fields map[string]any) (string, error) {
	buf, err := json.Marshal(encodeValue(fields))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func encodeValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return map[string]any{timeKey: x.UTC().Format(time.RFC3339Nano)}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = encodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = encodeValue(e)
		}
		return out
	default:
		return v
	}
}

func decodeFields(data string) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	return decodeValue(raw).(map[string]any), nil
}

func decodeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if s, ok := x[timeKey].(string); ok && len(x) == 1 {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t
			}
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = decodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = decodeValue(e)
		}
		return out
	default:
		return v
	}
}
