package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voice-qa-go/internal/types"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, "file:"+filepath.Join(t.TempDir(), "qa.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	clock := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestSaveAndGetCall(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	grades := &types.GradingResult{
		Grades:       []types.GradeEntry{{Criterion: "Greeting", Score: 4, Reasoning: "ok"}},
		OverallScore: 4,
		Summary:      "fine",
	}
	id, err := s.SaveCall(ctx, types.CallRecord{
		Filename:   "call1.mp3",
		Transcript: "SPEAKER_00: hi\n",
		Analysis:   "1. Greeting",
		Grades:     grades,
	})
	if err != nil {
		t.Fatalf("SaveCall: %v", err)
	}
	rec, err := s.GetCall(ctx, id)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if rec.Filename != "call1.mp3" || rec.Transcript != "SPEAKER_00: hi\n" || rec.Analysis != "1. Greeting" {
		t.Fatalf("rec = %+v", rec)
	}
	if rec.Grades == nil || rec.Grades.Grades[0].Score != 4 || rec.Grades.Summary != "fine" {
		t.Fatalf("grades = %+v", rec.Grades)
	}
	if rec.CreatedAt.IsZero() || rec.UploadTime.IsZero() {
		t.Fatalf("timestamps not set: %+v", rec)
	}
}

func TestUngradedCallHasNilGrades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.SaveCall(ctx, types.CallRecord{Filename: "a.wav", Transcript: "t", Analysis: "a"})
	if err != nil {
		t.Fatalf("SaveCall: %v", err)
	}
	rec, _ := s.GetCall(ctx, id)
	if rec.Grades != nil {
		t.Fatalf("expected nil grades, got %+v", rec.Grades)
	}
	list, _ := s.ListCalls(ctx)
	if len(list) != 1 || list[0].Graded {
		t.Fatalf("list = %+v", list)
	}
}

func TestDuplicateFilename(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if _, err := s.SaveCall(ctx, types.CallRecord{Filename: "dup.mp3"}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if ok, err := s.HasCall(ctx, "dup.mp3"); err != nil || !ok {
		t.Fatalf("HasCall = %v, %v", ok, err)
	}
	if ok, _ := s.HasCall(ctx, "other.mp3"); ok {
		t.Fatal("HasCall reported an unsaved file")
	}
	_, err := s.SaveCall(ctx, types.CallRecord{Filename: "dup.mp3"})
	if !errors.Is(err, types.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if n, _ := s.CountCalls(ctx); n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestSaveCallRequiresFilename(t *testing.T) {
	_, err := openTestStore(t).SaveCall(context.Background(), types.CallRecord{Filename: "  "})
	if !errors.Is(err, types.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestListCallsNewestFirstAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	var ids []int64
	for _, name := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		id, err := s.SaveCall(ctx, types.CallRecord{Filename: name})
		if err != nil {
			t.Fatalf("SaveCall %s: %v", name, err)
		}
		ids = append(ids, id)
	}
	list, err := s.ListCalls(ctx)
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	var names []string
	for _, c := range list {
		names = append(names, c.Filename)
	}
	if strings.Join(names, ",") != "c.mp3,b.mp3,a.mp3" {
		t.Fatalf("order = %v", names)
	}

	ok, err := s.DeleteCall(ctx, ids[1])
	if err != nil || !ok {
		t.Fatalf("DeleteCall = %v, %v", ok, err)
	}
	ok, err = s.DeleteCall(ctx, ids[1])
	if err != nil || ok {
		t.Fatalf("second DeleteCall = %v, %v", ok, err)
	}
	if _, err := s.GetCall(ctx, ids[1]); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if n, _ := s.CountCalls(ctx); n != 2 {
		t.Fatalf("count = %d", n)
	}
}

func TestScorecardVersions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.LatestScorecard(ctx); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected not found on empty store, got %v", err)
	}
	v1 := []types.ScorecardItem{{Criterion: "Greeting"}}
	v2 := []types.ScorecardItem{{Criterion: "Greeting"}, {Criterion: "Empathy", MaxScore: 5}}
	if err := s.SaveScorecard(ctx, "v1", v1); err != nil {
		t.Fatalf("SaveScorecard v1: %v", err)
	}
	if err := s.SaveScorecard(ctx, "v2", v2); err != nil {
		t.Fatalf("SaveScorecard v2: %v", err)
	}
	latest, err := s.LatestScorecard(ctx)
	if err != nil || latest.Version != "v2" || len(latest.Items) != 2 {
		t.Fatalf("latest = %+v, %v", latest, err)
	}

	// re-saving v1 replaces its items and makes it the newest
	if err := s.SaveScorecard(ctx, "v1", v2); err != nil {
		t.Fatalf("SaveScorecard v1 again: %v", err)
	}
	got, err := s.GetScorecard(ctx, "v1")
	if err != nil || len(got.Items) != 2 || got.Items[1].MaxScore != 5 {
		t.Fatalf("v1 = %+v, %v", got, err)
	}
	if latest, _ := s.LatestScorecard(ctx); latest.Version != "v1" {
		t.Fatalf("latest after upsert = %s", latest.Version)
	}
	if _, err := s.GetScorecard(ctx, "v9"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRebindPostgres(t *testing.T) {
	s := &SQLStore{driver: DriverPostgres}
	if got := s.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind = %q", got)
	}
	s.driver = DriverSQLite
	if got := s.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x"); !errors.Is(err, types.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestSchemasEmbedded(t *testing.T) {
	for _, name := range []string{SQLiteSchemaName, PostgresSchemaName} {
		s, err := LoadSchema(name)
		if err != nil || !strings.Contains(s, "CREATE TABLE IF NOT EXISTS calls") {
			t.Fatalf("%s: %v", name, err)
		}
	}
}
