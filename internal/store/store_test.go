package store_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"boqmatch/internal/boq"
	"boqmatch/internal/services"
	"boqmatch/internal/store"
	"boqmatch/internal/testsupport"
)

// eachBackend runs fn against SQLite and, when BOQMATCH_TEST_POSTGRES_DSN is
// set, against a throwaway Postgres schema.
func eachBackend(t *testing.T, fn func(t *testing.T, st *store.Store)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) {
		cfg := testsupport.NewConfig(t)
		fn(t, testsupport.MustOpenStore(t, cfg))
	})
	dsn := os.Getenv("BOQMATCH_TEST_POSTGRES_DSN")
	if dsn == "" {
		return
	}
	t.Run("postgres", func(t *testing.T) {
		cfg := testsupport.NewConfig(t, testsupport.WithPostgres(isolatedSchema(t, dsn)))
		fn(t, testsupport.MustOpenStore(t, cfg))
	})
}

func isolatedSchema(t *testing.T, dsn string) string {
	t.Helper()
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	schema := "boqmatch_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	if _, err := conn.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = conn.Close(context.Background())
	})
	if strings.Contains(dsn, "://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "search_path=" + schema
	}
	return dsn + " search_path=" + schema
}

func TestCatalogUpsertKeepsInsertionOrder(t *testing.T) {
	eachBackend(t, func(t *testing.T, st *store.Store) {
		ctx := context.Background()
		empty, err := st.ActiveCatalog(ctx)
		if err != nil {
			t.Fatalf("ActiveCatalog failed: %v", err)
		}
		if empty.Len() != 0 {
			t.Fatalf("expected empty catalog, got %d entries", empty.Len())
		}

		catalog := testsupport.MustSeedCatalog(t, st)
		sample := testsupport.SampleCatalog()
		if catalog.Len() != len(sample) {
			t.Fatalf("expected %d entries, got %d", len(sample), catalog.Len())
		}
		for i, entry := range catalog.Entries {
			if entry.ID != sample[i].ID {
				t.Fatalf("entry %d: expected %s, got %s", i, sample[i].ID, entry.ID)
			}
		}
		if catalog.Version == empty.Version {
			t.Fatalf("expected version to change after upsert, still %q", catalog.Version)
		}
		cn := catalog.Entries[3]
		if len(cn.Keywords) != 2 || cn.Keywords[0] != "rcc" {
			t.Fatalf("expected keywords to round-trip, got %v", cn.Keywords)
		}

		updated := sample[0]
		updated.Rate = 13
		version, err := st.UpsertCatalogEntries(ctx, []boq.CatalogEntry{updated, {ID: "NEW-1", Description: "Topsoil stripping", Unit: "m2", Rate: 3}})
		if err != nil {
			t.Fatalf("UpsertCatalogEntries failed: %v", err)
		}
		if version == catalog.Version {
			t.Fatal("expected version to change after update")
		}
		after, err := st.ActiveCatalog(ctx)
		if err != nil {
			t.Fatalf("ActiveCatalog failed: %v", err)
		}
		if after.Entries[0].ID != updated.ID || after.Entries[0].Rate != 13 {
			t.Fatalf("expected updated entry to keep its position, got %+v", after.Entries[0])
		}
		if last := after.Entries[after.Len()-1]; last.ID != "NEW-1" {
			t.Fatalf("expected new entry appended, got %s", last.ID)
		}
	})
}

func TestDeactivateCatalogEntry(t *testing.T) {
	eachBackend(t, func(t *testing.T, st *store.Store) {
		ctx := context.Background()
		catalog := testsupport.MustSeedCatalog(t, st)

		version, err := st.DeactivateCatalogEntry(ctx, "EW-002")
		if err != nil {
			t.Fatalf("DeactivateCatalogEntry failed: %v", err)
		}
		if version == catalog.Version {
			t.Fatal("expected version to change")
		}
		active, err := st.ActiveCatalog(ctx)
		if err != nil {
			t.Fatalf("ActiveCatalog failed: %v", err)
		}
		if _, ok := active.Find("EW-002"); ok {
			t.Fatal("deactivated entry still active")
		}
		all, err := st.ListCatalog(ctx, true)
		if err != nil {
			t.Fatalf("ListCatalog failed: %v", err)
		}
		if len(all) != catalog.Len() || all[1].Active {
			t.Fatalf("expected inactive entry in full listing, got %+v", all[1])
		}

		if _, err := st.DeactivateCatalogEntry(ctx, "EW-002"); !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second deactivate, got %v", err)
		}
		if _, err := st.UpsertCatalogEntries(ctx, []boq.CatalogEntry{testsupport.SampleCatalog()[1]}); err != nil {
			t.Fatalf("UpsertCatalogEntries failed: %v", err)
		}
		reactivated, err := st.ActiveCatalog(ctx)
		if err != nil {
			t.Fatalf("ActiveCatalog failed: %v", err)
		}
		if reactivated.Entries[1].ID != "EW-002" {
			t.Fatalf("expected reactivated entry back in its slot, got %s", reactivated.Entries[1].ID)
		}
	})
}

func TestUpsertCatalogRejectsInvalidEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	cases := []struct {
		name    string
		entries []boq.CatalogEntry
	}{
		{name: "none", entries: nil},
		{name: "missing id", entries: []boq.CatalogEntry{{Description: "x", Rate: 1}}},
		{name: "missing description", entries: []boq.CatalogEntry{{ID: "A"}}},
		{name: "negative rate", entries: []boq.CatalogEntry{{ID: "A", Description: "x", Rate: -1}}},
		{name: "duplicate id", entries: []boq.CatalogEntry{{ID: "A", Description: "x"}, {ID: "A", Description: "y"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := st.UpsertCatalogEntries(ctx, tc.entries); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateJobPersistsItems(t *testing.T) {
	eachBackend(t, func(t *testing.T, st *store.Store) {
		ctx := context.Background()
		qty := 42.5
		items := []boq.LineItem{
			{RowNumber: 4, Description: "Excavation in rock", Quantity: &qty, Unit: "m3", ContextHeaders: []string{"Earthworks", "Excavation"}, SheetName: "Bill 1"},
			{RowNumber: 2, Description: "Site establishment"},
		}
		job := testsupport.MustCreateJob(t, st, boq.MethodLocal, items)
		if job.Status != store.StatusPending || job.ItemCount != 2 {
			t.Fatalf("unexpected job: %+v", job)
		}

		fetched, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if fetched.Method != boq.MethodLocal || fetched.Name != t.Name() {
			t.Fatalf("unexpected fetched job: %+v", fetched)
		}

		stored, err := st.JobItems(ctx, job.ID)
		if err != nil {
			t.Fatalf("JobItems failed: %v", err)
		}
		if len(stored) != 2 || stored[0].RowNumber != 2 || stored[1].RowNumber != 4 {
			t.Fatalf("expected items ordered by row, got %+v", stored)
		}
		rock := stored[1]
		if rock.Quantity == nil || *rock.Quantity != qty {
			t.Fatalf("expected quantity %v, got %v", qty, rock.Quantity)
		}
		if len(rock.ContextHeaders) != 2 || rock.ContextHeaders[1] != "Excavation" || rock.SheetName != "Bill 1" {
			t.Fatalf("unexpected context: %+v", rock)
		}
		if stored[0].Quantity != nil {
			t.Fatalf("expected nil quantity, got %v", *stored[0].Quantity)
		}
	})
}

func TestCreateJobValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := st.CreateJob(ctx, store.NewJob{Method: boq.MethodLocal}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty job, got %v", err)
	}
	dup := []boq.LineItem{{RowNumber: 1, Description: "a"}, {RowNumber: 1, Description: "b"}}
	if _, err := st.CreateJob(ctx, store.NewJob{Method: boq.MethodLocal, Items: dup}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for duplicate rows, got %v", err)
	}
	if _, err := st.CreateJob(ctx, store.NewJob{Method: "fuzzy", Items: dup[:1]}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown method, got %v", err)
	}
	if _, err := st.GetJob(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobStatusTransitions(t *testing.T) {
	eachBackend(t, func(t *testing.T, st *store.Store) {
		ctx := context.Background()
		job := testsupport.MustCreateJob(t, st, boq.MethodLocal, testsupport.NumberedItems(3))

		if err := st.UpdateJobStatus(ctx, job.ID, store.StatusCompleted, ""); !errors.Is(err, store.ErrInvalidTransition) {
			t.Fatalf("expected pending -> completed to be rejected, got %v", err)
		}
		if err := st.UpdateJobStatus(ctx, job.ID, store.StatusMatching, ""); err != nil {
			t.Fatalf("UpdateJobStatus(matching) failed: %v", err)
		}
		matching, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if matching.StartedAt == nil {
			t.Fatal("expected started_at to be stamped")
		}
		if err := st.UpdateJobStatus(ctx, job.ID, store.StatusMatching, ""); err != nil {
			t.Fatalf("repeated matching should be a no-op, got %v", err)
		}

		if err := st.UpdateJobStatus(ctx, job.ID, store.StatusCompleted, ""); err != nil {
			t.Fatalf("UpdateJobStatus(completed) failed: %v", err)
		}
		done, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if done.Status != store.StatusCompleted || done.Progress != 100 || done.CompletedAt == nil {
			t.Fatalf("unexpected completed job: %+v", done)
		}
		if !done.StartedAt.Equal(*matching.StartedAt) {
			t.Fatalf("started_at moved: %v -> %v", matching.StartedAt, done.StartedAt)
		}

		err = st.UpdateJobStatus(ctx, job.ID, store.StatusMatching, "")
		if !errors.Is(err, store.ErrInvalidTransition) || !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected terminal job to reject transitions, got %v", err)
		}
		if err := st.UpdateJobStatus(ctx, "missing", store.StatusFailed, "boom"); !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestFailedJobKeepsMessage(t *testing.T) {
	eachBackend(t, func(t *testing.T, st *store.Store) {
		ctx := context.Background()
		job := testsupport.MustCreateJob(t, st, boq.MethodLocal, testsupport.NumberedItems(1))
		if err := st.UpdateJobStatus(ctx, job.ID, store.StatusFailed, "empty catalog"); err != nil {
			t.Fatalf("UpdateJobStatus failed: %v", err)
		}
		failed, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if failed.Error != "empty catalog" || failed.CompletedAt == nil || failed.StartedAt != nil {
			t.Fatalf("unexpected failed job: %+v", failed)
		}
	})
}

func TestUpdateJobProgressIsMonotonic(t *testing.T) {
	eachBackend(t, func(t *testing.T, st *store.Store) {
		ctx := context.Background()
		job := testsupport.MustCreateJob(t, st, boq.MethodLocal, testsupport.NumberedItems(4))
		if err := st.UpdateJobStatus(ctx, job.ID, store.StatusMatching, ""); err != nil {
			t.Fatalf("UpdateJobStatus failed: %v", err)
		}

		if err := st.UpdateJobProgress(ctx, job.ID, 3, 2); err != nil {
			t.Fatalf("UpdateJobProgress failed: %v", err)
		}
		if err := st.UpdateJobProgress(ctx, job.ID, 1, 1); err != nil {
			t.Fatalf("stale UpdateJobProgress failed: %v", err)
		}
		got, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if got.ProcessedCount != 3 || got.MatchedCount != 2 || got.Progress != 75 {
			t.Fatalf("unexpected progress: %+v", got)
		}
		if got.Remaining() != 1 {
			t.Fatalf("expected 1 remaining, got %d", got.Remaining())
		}
	})
}

func resultFor(job *store.Job, row int, entry *boq.CatalogEntry, confidence float64) boq.MatchResult {
	return boq.MatchResult{
		JobID:       job.ID,
		RowNumber:   row,
		Description: fmt.Sprintf("row %d", row),
		Entry:       entry,
		Confidence:  confidence,
		Breakdown:   boq.ScoreBreakdown{Tier: boq.TierSubstring, BaseScore: 55, FinalScore: 70, Confidence: confidence},
		Method:      job.Method,
	}
}

func TestUpsertMatchResultsIsIdempotent(t *testing.T) {
	eachBackend(t, func(t *testing.T, st *store.Store) {
		ctx := context.Background()
		catalog := testsupport.MustSeedCatalog(t, st)
		job := testsupport.MustCreateJob(t, st, boq.MethodLocal, testsupport.NumberedItems(2))

		entry := catalog.Entries[0]
		wave := []boq.MatchResult{
			resultFor(job, 1, &entry, 0.56),
			boq.Failed(job.ID, boq.LineItem{RowNumber: 2, Description: "row 2"}, job.Method, "provider unavailable"),
		}
		for i := 0; i < 2; i++ {
			if err := st.UpsertMatchResults(ctx, wave); err != nil {
				t.Fatalf("UpsertMatchResults pass %d failed: %v", i, err)
			}
		}

		results, err := st.MatchResults(ctx, job.ID)
		if err != nil {
			t.Fatalf("MatchResults failed: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(results))
		}
		first := results[0]
		if first.Entry == nil || first.Entry.ID != entry.ID || first.Breakdown.FinalScore != 70 || first.Breakdown.Tier != boq.TierSubstring {
			t.Fatalf("unexpected first result: %+v", first)
		}
		second := results[1]
		if second.Matched() || second.Confidence != 0 || second.ErrorNote != "provider unavailable" {
			t.Fatalf("unexpected failed result: %+v", second)
		}
		if second.UpdatedAt.IsZero() {
			t.Fatal("expected updated_at to be set")
		}
	})
}

func TestManualMatchSurvivesAutomaticUpsert(t *testing.T) {
	eachBackend(t, func(t *testing.T, st *store.Store) {
		ctx := context.Background()
		catalog := testsupport.MustSeedCatalog(t, st)
		job := testsupport.MustCreateJob(t, st, boq.MethodLocal, testsupport.NumberedItems(1))

		auto := catalog.Entries[0]
		if err := st.UpsertMatchResult(ctx, resultFor(job, 1, &auto, 0.4)); err != nil {
			t.Fatalf("UpsertMatchResult failed: %v", err)
		}
		manual, err := st.SetManualMatch(ctx, job.ID, 1, "CN-002")
		if err != nil {
			t.Fatalf("SetManualMatch failed: %v", err)
		}
		if !manual.ManuallyEdited || manual.Confidence != 1 || manual.Breakdown.Tier != boq.TierManual {
			t.Fatalf("unexpected manual result: %+v", manual)
		}

		if err := st.UpsertMatchResult(ctx, resultFor(job, 1, &auto, 0.9)); err != nil {
			t.Fatalf("UpsertMatchResult failed: %v", err)
		}
		kept, err := st.MatchResult(ctx, job.ID, 1)
		if err != nil {
			t.Fatalf("MatchResult failed: %v", err)
		}
		if !kept.ManuallyEdited || kept.Entry == nil || kept.Entry.ID != "CN-002" {
			t.Fatalf("manual edit was overwritten: %+v", kept)
		}

		if err := st.OverwriteMatchResult(ctx, resultFor(job, 1, &auto, 0.9)); err != nil {
			t.Fatalf("OverwriteMatchResult failed: %v", err)
		}
		replaced, err := st.MatchResult(ctx, job.ID, 1)
		if err != nil {
			t.Fatalf("MatchResult failed: %v", err)
		}
		if replaced.ManuallyEdited || replaced.Entry.ID != auto.ID {
			t.Fatalf("expected forced overwrite, got %+v", replaced)
		}

		if err := st.RecountMatches(ctx, job.ID); err != nil {
			t.Fatalf("RecountMatches failed: %v", err)
		}
		counted, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if counted.MatchedCount != 1 {
			t.Fatalf("expected matched count 1, got %d", counted.MatchedCount)
		}
	})
}

func TestSetManualMatchErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.MustSeedCatalog(t, st)
	job := testsupport.MustCreateJob(t, st, boq.MethodLocal, testsupport.NumberedItems(1))

	cases := []struct {
		name  string
		job   string
		row   int
		entry string
	}{
		{name: "unknown job", job: "nope", row: 1, entry: "EW-001"},
		{name: "unknown row", job: job.ID, row: 99, entry: "EW-001"},
		{name: "unknown entry", job: job.ID, row: 1, entry: "ZZ-999"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := st.SetManualMatch(ctx, tc.job, tc.row, tc.entry); !errors.Is(err, services.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestListAndResumableJobs(t *testing.T) {
	eachBackend(t, func(t *testing.T, st *store.Store) {
		ctx := context.Background()
		first := testsupport.MustCreateJob(t, st, boq.MethodLocal, testsupport.NumberedItems(1))
		time.Sleep(2 * time.Millisecond)
		second := testsupport.MustCreateJob(t, st, boq.MethodLocal, testsupport.NumberedItems(1))
		time.Sleep(2 * time.Millisecond)
		third := testsupport.MustCreateJob(t, st, boq.MethodLocal, testsupport.NumberedItems(1))

		if err := st.UpdateJobStatus(ctx, second.ID, store.StatusMatching, ""); err != nil {
			t.Fatalf("UpdateJobStatus failed: %v", err)
		}
		if err := st.UpdateJobStatus(ctx, third.ID, store.StatusCancelled, ""); err != nil {
			t.Fatalf("UpdateJobStatus failed: %v", err)
		}

		all, err := st.ListJobs(ctx)
		if err != nil {
			t.Fatalf("ListJobs failed: %v", err)
		}
		if len(all) != 3 || all[0].ID != third.ID {
			t.Fatalf("expected newest first, got %v", all)
		}
		cancelled, err := st.ListJobs(ctx, store.StatusCancelled)
		if err != nil {
			t.Fatalf("ListJobs failed: %v", err)
		}
		if len(cancelled) != 1 || cancelled[0].ID != third.ID {
			t.Fatalf("unexpected cancelled jobs: %v", cancelled)
		}

		resumable, err := st.ResumableJobs(ctx)
		if err != nil {
			t.Fatalf("ResumableJobs failed: %v", err)
		}
		if len(resumable) != 2 || resumable[0].ID != first.ID || resumable[1].ID != second.ID {
			t.Fatalf("expected oldest resumable first, got %v", resumable)
		}
	})
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boqmatch.db")
	ctx := context.Background()
	st, err := store.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if st.Driver() != "sqlite" || st.Location() != path {
		t.Fatalf("unexpected store identity %s %s", st.Driver(), st.Location())
	}
	if err := st.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	st.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	if _, err := store.OpenSQLite(ctx, path); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	for _, status := range store.AllStatuses() {
		parsed, ok := store.ParseStatus(strings.ToUpper(string(status)))
		if !ok || parsed != status {
			t.Fatalf("ParseStatus(%q) = %q, %v", status, parsed, ok)
		}
	}
	if _, ok := store.ParseStatus("archived"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
	if store.StatusMatching.IsTerminal() || !store.StatusCancelled.IsTerminal() {
		t.Fatal("unexpected terminal classification")
	}
}
