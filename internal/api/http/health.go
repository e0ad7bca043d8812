package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mind-engage/provas/internal/docstore"
)

func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
}

// ReadyzHandler reports ready once the document store answers a read.
func ReadyzHandler(store docstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		_, err := store.Get(ctx, docstore.Join("provas", "readyz"))
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
