package store

import (
	"testing"
)

func TestRateLimitAdmitsUpToMax(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		ok, err := s.CheckRateLimit("u1", "retrieve_memory", 5, 3600)
		if err != nil {
			t.Fatalf("Check %d failed: %v", i, err)
		}
		if !ok {
			t.Fatalf("Request %d should be admitted", i+1)
		}
	}

	ok, err := s.CheckRateLimit("u1", "retrieve_memory", 5, 3600)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if ok {
		t.Error("Request over the limit should be denied")
	}
}

func TestRateLimitIsolatesUsersAndEndpoints(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if ok, _ := s.CheckRateLimit("u1", "retrieve_memory", 3, 3600); !ok {
			t.Fatalf("Request %d should be admitted", i+1)
		}
	}
	if ok, _ := s.CheckRateLimit("u1", "retrieve_memory", 3, 3600); ok {
		t.Fatal("u1 should be exhausted")
	}

	// A different user and a different endpoint each get fresh budgets.
	if ok, _ := s.CheckRateLimit("u2", "retrieve_memory", 3, 3600); !ok {
		t.Error("u2 should have its own window")
	}
	if ok, _ := s.CheckRateLimit("u1", "store_memory", 3, 3600); !ok {
		t.Error("Another endpoint should have its own window")
	}
}

func TestRateLimitPrunesExpiredWindows(t *testing.T) {
	s := newTestStore(t)

	// Plant an expired window row, then verify the next check removes it.
	if _, err := s.db.Exec(
		`INSERT INTO rate_limits (user_id, endpoint, window_start, request_count)
		 VALUES ('u1', 'retrieve_memory', 100, 50)`,
	); err != nil {
		t.Fatalf("Failed to seed expired window: %v", err)
	}

	ok, err := s.CheckRateLimit("u1", "retrieve_memory", 50, 60)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !ok {
		t.Error("Expired window must not count against the budget")
	}

	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM rate_limits WHERE window_start = 100`,
	).Scan(&n); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Error("Expired window row should have been pruned")
	}
}
