package identity

import (
	"context"
	"errors"
	"time"

	"github.com/mind-engage/provas/internal/docstore"
)

const (
	RoleStudent = "aluno"
	RoleAdmin   = "admin"
)

type Profile struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profiles keeps users/{uid}. An admin is anyone listed in admins/{uid} or
// whose profile role is "admin".
type Profiles struct {
	store docstore.Store
}

func NewProfiles(s docstore.Store) *Profiles { return &Profiles{store: s} }

// Ensure returns the stored profile, creating a student profile on first
// sign-in. An existing profile is never overwritten.
func (p *Profiles) Ensure(ctx context.Context, u User) (Profile, error) {
	path := docstore.Join("users", u.ID)
	doc, err := p.store.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		err = p.store.Create(ctx, path, map[string]any{
			"uid":       u.ID,
			"email":     u.Email,
			"name":      u.DisplayName,
			"role":      RoleStudent,
			"createdAt": docstore.ServerTimestamp,
		})
		if err != nil && !errors.Is(err, docstore.ErrAlreadyExists) {
			return Profile{}, err
		}
		doc, err = p.store.Get(ctx, path)
	}
	if err != nil {
		return Profile{}, err
	}
	prof := Profile{
		UID:   doc.ID,
		Email: docstore.String(doc.Fields, "email"),
		Name:  docstore.String(doc.Fields, "name"),
		Role:  docstore.String(doc.Fields, "role"),
	}
	prof.CreatedAt, _ = docstore.Time(doc.Fields, "createdAt")
	return prof, nil
}

func (p *Profiles) IsAdmin(ctx context.Context, uid string) (bool, error) {
	_, err := p.store.Get(ctx, docstore.Join("admins", uid))
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return false, err
	}
	doc, err := p.store.Get(ctx, docstore.Join("users", uid))
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return docstore.String(doc.Fields, "role") == RoleAdmin, nil
}

// Role is RoleAdmin or RoleStudent.
func (p *Profiles) Role(ctx context.Context, uid string) (string, error) {
	admin, err := p.IsAdmin(ctx, uid)
	if err != nil {
		return "", err
	}
	if admin {
		return RoleAdmin, nil
	}
	return RoleStudent, nil
}
