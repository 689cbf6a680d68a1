package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mdbin/pkg/domain"

	"github.com/pkg/errors"
)

func testStore(t *testing.T) *SQLite {
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", time.Now().UnixNano())
	s, err := NewSQLiteWithConfig(dsn, 10, 5, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func insertPaste(t *testing.T, s *SQLite, p *domain.Paste) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if err := s.CreatePaste(context.Background(), p); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAndGetPaste(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p := &domain.Paste{
		ID:        "abcdefghij",
		Title:     strPtr("hello"),
		Content:   "# Hi",
		CreatedAt: time.Now(),
	}
	insertPaste(t, s, p)
	got, err := s.GetPaste(ctx, "abcdefghij")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "# Hi" || got.Title == nil || *got.Title != "hello" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Protected() || got.ExpiresAt != nil {
		t.Fatalf("expected public, non-expiring paste: %+v", got)
	}
}

func TestGetPasteNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetPaste(context.Background(), "nosuchpast")
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("expected ErrPasteNotFound, got %v", err)
	}
}

func TestCreateDuplicateIDFails(t *testing.T) {
	s := testStore(t)
	p := &domain.Paste{ID: "duplicated", Content: "one", CreatedAt: time.Now()}
	insertPaste(t, s, p)
	err := s.CreatePaste(context.Background(), &domain.Paste{ID: "duplicated", Content: "two", CreatedAt: time.Now()})
	if err == nil {
		t.Fatal("expected primary key violation, got silent overwrite")
	}
	got, getErr := s.GetPaste(context.Background(), "duplicated")
	if getErr != nil {
		t.Fatal(getErr)
	}
	if got.Content != "one" {
		t.Fatalf("original paste was overwritten: %q", got.Content)
	}
}

func TestLazyExpirationOnGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	insertPaste(t, s, &domain.Paste{
		ID:        "expiredone",
		Content:   "gone",
		CreatedAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt: timePtr(time.Now().Add(-time.Hour)),
	})
	if _, err := s.GetPaste(ctx, "expiredone"); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("expected ErrPasteNotFound for expired paste, got %v", err)
	}
	// The read must have purged the row.
	var count int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM pastes WHERE id = ?`, "expiredone").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatal("expired paste still present after read")
	}
}

func TestConcurrentReadsOfExpiredPaste(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	insertPaste(t, s, &domain.Paste{
		ID:        "racedpaste",
		Content:   "gone",
		CreatedAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt: timePtr(time.Now().Add(-time.Hour)),
	})
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := s.GetPaste(ctx, "racedpaste")
			errs <- err
		}()
	}
	for i := 0; i < 10; i++ {
		if err := <-errs; !errors.Is(err, domain.ErrPasteNotFound) {
			t.Fatalf("concurrent reader got %v, want ErrPasteNotFound", err)
		}
	}
}

func TestDeletePasteIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	insertPaste(t, s, &domain.Paste{ID: "tobedelete", Content: "x", CreatedAt: time.Now()})
	if err := s.DeletePaste(ctx, "tobedelete"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePaste(ctx, "tobedelete"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePaste(ctx, "neverexist"); err != nil {
		t.Fatal(err)
	}
}

func TestListPastesOrderAndFields(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	insertPaste(t, s, &domain.Paste{ID: "olderpaste", Content: "12345", CreatedAt: base})
	insertPaste(t, s, &domain.Paste{ID: "newerpaste", Content: "1234567890", PasswordHash: "$argon2id$x", CreatedAt: base.Add(time.Minute)})
	insertPaste(t, s, &domain.Paste{
		ID:        "expiredout",
		Content:   "zzz",
		CreatedAt: base.Add(2 * time.Minute),
		ExpiresAt: timePtr(time.Now().Add(-time.Minute)),
	})
	sums, err := s.ListPastes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(sums))
	}
	if sums[0].ID != "newerpaste" || sums[1].ID != "olderpaste" {
		t.Fatalf("wrong order: %s, %s", sums[0].ID, sums[1].ID)
	}
	if !sums[0].Protected || sums[1].Protected {
		t.Fatal("protected flags wrong")
	}
	if sums[0].ContentLength != 10 || sums[1].ContentLength != 5 {
		t.Fatalf("content lengths wrong: %d, %d", sums[0].ContentLength, sums[1].ContentLength)
	}
}

func TestPasteExists(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	insertPaste(t, s, &domain.Paste{ID: "livepastee", Content: "x", CreatedAt: time.Now()})
	insertPaste(t, s, &domain.Paste{
		ID:        "deadpastee",
		Content:   "x",
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: timePtr(time.Now().Add(-time.Minute)),
	})
	if ok, err := s.PasteExists(ctx, "livepastee"); err != nil || !ok {
		t.Fatalf("live paste: ok=%v err=%v", ok, err)
	}
	if ok, err := s.PasteExists(ctx, "deadpastee"); err != nil || ok {
		t.Fatalf("expired paste should read as absent: ok=%v err=%v", ok, err)
	}
	if ok, err := s.PasteExists(ctx, "nosuchpast"); err != nil || ok {
		t.Fatalf("missing paste: ok=%v err=%v", ok, err)
	}
}

func TestReportsLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	insertPaste(t, s, &domain.Paste{ID: "reportedpa", Title: strPtr("spam?"), Content: "x", CreatedAt: time.Now()})

	first, err := s.InsertReport(ctx, "reportedpa", strPtr("looks like spam"), time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.InsertReport(ctx, "reportedpa", nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if second <= first {
		t.Fatalf("report ids not increasing: %d then %d", first, second)
	}

	views, err := s.ListReports(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(views))
	}
	if views[0].ReportID != second {
		t.Fatal("reports not newest first")
	}
	if !views[0].PasteExists || views[0].PasteTitle == nil || *views[0].PasteTitle != "spam?" {
		t.Fatalf("title join failed: %+v", views[0])
	}
	if views[0].Reason != nil {
		t.Fatal("empty reason should be nil")
	}
	if views[1].Reason == nil || *views[1].Reason != "looks like spam" {
		t.Fatalf("reason lost: %+v", views[1])
	}

	if err := s.DismissReport(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.DismissReport(ctx, first); err != nil {
		t.Fatal(err)
	}
	views, err = s.ListReports(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].ReportID != second {
		t.Fatalf("dismiss did not remove the right report: %+v", views)
	}
}

func TestOrphanedReportStillListed(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	insertPaste(t, s, &domain.Paste{ID: "soongonepa", Content: "x", CreatedAt: time.Now()})
	if _, err := s.InsertReport(ctx, "soongonepa", strPtr("bad"), time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePaste(ctx, "soongonepa"); err != nil {
		t.Fatal(err)
	}
	views, err := s.ListReports(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Fatalf("orphaned report dropped from listing: %+v", views)
	}
	if views[0].PasteExists || views[0].PasteTitle != nil {
		t.Fatalf("orphan not marked: %+v", views[0])
	}
}

func TestDeletePasteAndReportsCascade(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	insertPaste(t, s, &domain.Paste{ID: "cascadepas", Content: "x", CreatedAt: time.Now()})
	insertPaste(t, s, &domain.Paste{ID: "bystanderp", Content: "y", CreatedAt: time.Now()})
	if _, err := s.InsertReport(ctx, "cascadepas", nil, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertReport(ctx, "cascadepas", strPtr("again"), time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertReport(ctx, "bystanderp", nil, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePasteAndReports(ctx, "cascadepas"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetPaste(ctx, "cascadepas"); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("paste survived cascade: %v", err)
	}
	views, err := s.ListReports(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range views {
		if v.PasteID == "cascadepas" {
			t.Fatalf("report survived cascade: %+v", v)
		}
	}
	if len(views) != 1 || views[0].PasteID != "bystanderp" {
		t.Fatalf("bystander report affected: %+v", views)
	}
}

func TestCleanupExpired(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	insertPaste(t, s, &domain.Paste{ID: "sweptaway1", Content: "x", CreatedAt: time.Now().Add(-time.Hour), ExpiresAt: timePtr(time.Now().Add(-time.Minute))})
	insertPaste(t, s, &domain.Paste{ID: "sweptaway2", Content: "x", CreatedAt: time.Now().Add(-time.Hour), ExpiresAt: timePtr(time.Now().Add(-time.Second))})
	insertPaste(t, s, &domain.Paste{ID: "stillhere1", Content: "x", CreatedAt: time.Now(), ExpiresAt: timePtr(time.Now().Add(time.Hour))})
	insertPaste(t, s, &domain.Paste{ID: "stillhere2", Content: "x", CreatedAt: time.Now()})
	deleted, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 swept, got %d", deleted)
	}
	sums, err := s.ListPastes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(sums))
	}
}
