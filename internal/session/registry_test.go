package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tanq16/hoard/internal/store"
)

func openRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "hoard.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewRegistry(s), s
}

func TestFindOtherActiveSession(t *testing.T) {
	r, _ := openRegistry(t)

	if err := r.RegisterActive("page-a", "dl-1"); err != nil {
		t.Fatalf("RegisterActive: %v", err)
	}

	// Own page never counts as "other"
	other, err := r.FindOtherActiveSession("page-a")
	if err != nil {
		t.Fatalf("FindOtherActiveSession: %v", err)
	}
	if other != nil {
		t.Error("own session should be excluded")
	}

	// A different page sees the claim
	other, _ = r.FindOtherActiveSession("page-b")
	if other == nil || other.PageID != "page-a" || other.DownloadID != "dl-1" {
		t.Fatalf("expected page-a's claim to be visible, got %+v", other)
	}

	// Releasing the claim clears it
	if err := r.MarkInactive("page-a"); err != nil {
		t.Fatalf("MarkInactive: %v", err)
	}
	other, _ = r.FindOtherActiveSession("page-b")
	if other != nil {
		t.Error("inactive session should not block other pages")
	}
}

func TestStaleSessionIgnoredAndPruned(t *testing.T) {
	r, s := openRegistry(t)

	// A crashed page left an active record past the stale window
	if err := s.PutSession(&store.SessionRecord{
		PageID:     "crashed",
		IsActive:   true,
		DownloadID: "dl-9",
		LastUpdate: time.Now().Add(-2 * StaleTimeout),
	}); err != nil {
		t.Fatalf("PutSession: %v", err)
	}

	other, err := r.FindOtherActiveSession("page-b")
	if err != nil {
		t.Fatalf("FindOtherActiveSession: %v", err)
	}
	if other != nil {
		t.Error("stale session should not count as live")
	}

	if err := r.PruneExpired(); err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	rec, _ := s.GetSession("crashed")
	if rec != nil {
		t.Error("stale session should be deleted by prune")
	}
}

func TestTouchKeepsSessionFresh(t *testing.T) {
	r, s := openRegistry(t)
	if err := r.RegisterActive("page-a", "dl-1"); err != nil {
		t.Fatalf("RegisterActive: %v", err)
	}
	before, _ := s.GetSession("page-a")
	time.Sleep(5 * time.Millisecond)
	if err := r.Touch("page-a"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	after, _ := s.GetSession("page-a")
	if !after.LastUpdate.After(before.LastUpdate) {
		t.Error("Touch should advance LastUpdate")
	}
}
