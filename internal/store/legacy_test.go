package store

import (
	"database/sql"
	"testing"
)

func insertWithAccess(t *testing.T, s *Store, user, subject, content, access string, importance int) int64 {
	t.Helper()
	id, err := s.InsertMemory(InsertParams{
		SessionID:  "sess",
		UserID:     user,
		MemoryDate: "2026-08-24",
		Subject:    subject,
		Importance: importance,
		AccessMode: access,
		State:      StateActive,
		Supersedes: sql.NullInt64{},
		Confidence: 0.6,
		Source:     SourceInferred,
		Content:    content,
	})
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	return id
}

func TestRecentMemoriesHonorsSharedRows(t *testing.T) {
	s := newTestStore(t)
	insertWithAccess(t, s, "u1", "Work", "my private fact", AccessPrivate, 3)
	insertWithAccess(t, s, "u2", "Work", "their shared fact", AccessShared, 3)
	insertWithAccess(t, s, "u2", "Work", "their private fact", AccessPrivate, 3)

	contents, err := s.RecentMemories("sess", "u1", nil, 10)
	if err != nil {
		t.Fatalf("RecentMemories failed: %v", err)
	}
	if len(contents) != 2 {
		t.Fatalf("Expected own + shared = 2 rows, got %d: %v", len(contents), contents)
	}
	for _, c := range contents {
		if c == "their private fact" {
			t.Error("Another user's private row leaked")
		}
	}
}

func TestRecentMemoriesSubjectFilter(t *testing.T) {
	s := newTestStore(t)
	insertWithAccess(t, s, "u1", "Work", "work fact", AccessPrivate, 3)
	insertWithAccess(t, s, "u1", "Health", "health fact", AccessPrivate, 3)

	contents, err := s.RecentMemories("sess", "u1", []string{"Health"}, 10)
	if err != nil {
		t.Fatalf("RecentMemories failed: %v", err)
	}
	if len(contents) != 1 || contents[0] != "health fact" {
		t.Errorf("Expected only the health fact, got %v", contents)
	}
}

func TestDailyAggregationGroupsBySubject(t *testing.T) {
	s := newTestStore(t)
	insertWithAccess(t, s, "u1", "Work", "big deadline", AccessPrivate, 5)
	insertWithAccess(t, s, "u1", "Work", "minor note", AccessPrivate, 1)
	insertWithAccess(t, s, "u1", "Health", "gym session", AccessPrivate, 3)

	agg, err := s.DailyAggregation("sess", "2026-08-24", "u1", nil, 2)
	if err != nil {
		t.Fatalf("DailyAggregation failed: %v", err)
	}
	if len(agg) != 2 {
		t.Fatalf("Expected 2 subjects, got %d: %v", len(agg), agg)
	}
	work := agg["Work"]
	if len(work) != 1 || work[0].Content != "big deadline" {
		t.Errorf("Importance floor not applied: %v", work)
	}
	if len(agg["Health"]) != 1 {
		t.Errorf("Expected the health entry, got %v", agg["Health"])
	}

	// Different date: nothing.
	empty, err := s.DailyAggregation("sess", "2026-08-25", "u1", nil, 1)
	if err != nil {
		t.Fatalf("DailyAggregation failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no entries for other date, got %v", empty)
	}
}
