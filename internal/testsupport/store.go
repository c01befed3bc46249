package testsupport

import (
	"context"
	"testing"

	"boqmatch/internal/boq"
	"boqmatch/internal/config"
	"boqmatch/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// MustSeedCatalog upserts entries (SampleCatalog when none are given) and
// returns the resulting active catalog.
func MustSeedCatalog(t testing.TB, st *store.Store, entries ...boq.CatalogEntry) *boq.Catalog {
	t.Helper()

	if len(entries) == 0 {
		entries = SampleCatalog()
	}
	ctx := context.Background()
	if _, err := st.UpsertCatalogEntries(ctx, entries); err != nil {
		t.Fatalf("store.UpsertCatalogEntries: %v", err)
	}
	catalog, err := st.ActiveCatalog(ctx)
	if err != nil {
		t.Fatalf("store.ActiveCatalog: %v", err)
	}
	return catalog
}

// MustCreateJob persists a pending job for items.
func MustCreateJob(t testing.TB, st *store.Store, method boq.Method, items []boq.LineItem) *store.Job {
	t.Helper()

	job, err := st.CreateJob(context.Background(), store.NewJob{Name: t.Name(), Method: method, Items: items})
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}
