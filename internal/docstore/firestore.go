package docstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore adapts a Cloud Firestore client. Server timestamps are resolved
// by Firestore itself.
type Firestore struct {
	client *firestore.Client
}

func NewFirestore(ctx context.Context, projectID string) (*Firestore, error) {
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Firestore{client: client}, nil
}

func (f *Firestore) Get(ctx context.Context, path string) (Document, error) {
	if _, _, err := Split(path); err != nil {
		return Document{}, err
	}
	snap, err := f.client.Doc(path).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Document{}, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return Document{}, err
	}
	return fromSnapshot(snap), nil
}

func (f *Firestore) Create(ctx context.Context, path string, fields map[string]any) error {
	if _, _, err := Split(path); err != nil {
		return err
	}
	_, err := f.client.Doc(path).Create(ctx, toFirestore(fields))
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%s: %w", path, ErrAlreadyExists)
	}
	return err
}

func (f *Firestore) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	if _, _, err := Split(path); err != nil {
		return err
	}
	var err error
	if merge {
		_, err = f.client.Doc(path).Set(ctx, toFirestore(fields), firestore.MergeAll)
	} else {
		_, err = f.client.Doc(path).Set(ctx, toFirestore(fields))
	}
	return err
}

// Update sends one field path per leaf, so nested maps merge like MergeAll.
func (f *Firestore) Update(ctx context.Context, path string, fields map[string]any) error {
	if _, _, err := Split(path); err != nil {
		return err
	}
	_, err := f.client.Doc(path).Update(ctx, fieldUpdates(nil, toFirestore(fields)))
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return err
}

func fieldUpdates(prefix firestore.FieldPath, fields map[string]any) []firestore.Update {
	var out []firestore.Update
	for k, v := range fields {
		fp := append(append(firestore.FieldPath{}, prefix...), k)
		if m, ok := v.(map[string]any); ok && len(m) > 0 {
			out = append(out, fieldUpdates(fp, m)...)
			continue
		}
		out = append(out, firestore.Update{FieldPath: fp, Value: v})
	}
	return out
}

func (f *Firestore) Delete(ctx context.Context, path string) error {
	if _, _, err := Split(path); err != nil {
		return err
	}
	_, err := f.client.Doc(path).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (f *Firestore) Query(ctx context.Context, collection, orderBy string, dir Direction) ([]Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	fdir := firestore.Asc
	if dir == Desc {
		fdir = firestore.Desc
	}
	iter := f.client.Collection(collection).OrderBy(orderBy, fdir).Documents(ctx)
	defer iter.Stop()

	var out []Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, fromSnapshot(snap))
	}
	return out, nil
}

func (f *Firestore) Close() error { return f.client.Close() }

func fromSnapshot(snap *firestore.DocumentSnapshot) Document {
	fields := snap.Data()
	if fields == nil {
		fields = map[string]any{}
	}
	return Document{
		Path:       collectionPath(snap.Ref),
		ID:         snap.Ref.ID,
		Fields:     fields,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}
}

// collectionPath rebuilds the relative "coll/doc/..." path of a reference.
func collectionPath(ref *firestore.DocumentRef) string {
	p := ref.ID
	for c := ref.Parent; c != nil; {
		p = c.ID + "/" + p
		if c.Parent == nil {
			break
		}
		p = c.Parent.ID + "/" + p
		c = c.Parent.Parent
	}
	return p
}

func toFirestore(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch x := v.(type) {
		case serverTimestamp:
			out[k] = firestore.ServerTimestamp
		case map[string]any:
			out[k] = toFirestore(x)
		default:
			out[k] = v
		}
	}
	return out
}
