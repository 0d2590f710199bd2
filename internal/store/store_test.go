package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "hoard.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMetaRoundTrip(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetMeta("nope")
	if err != nil {
		t.Fatalf("GetMeta on missing id: %v", err)
	}
	if got != nil {
		t.Fatal("missing metadata should resolve to nil, not an error")
	}

	meta := &TransferMeta{
		ID:         "abc123",
		URL:        "https://example.com/file.bin",
		FileName:   "file.bin",
		TotalBytes: 1 << 20,
		ChunkSize:  1 << 18,
		Status:     "downloading",
	}
	if err := s.PutMeta(meta); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	if meta.CreatedAt.IsZero() || meta.UpdatedAt.IsZero() {
		t.Error("PutMeta should stamp timestamps")
	}

	got, err = s.GetMeta("abc123")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if got == nil || got.URL != meta.URL || got.TotalBytes != meta.TotalBytes {
		t.Fatalf("metadata did not round-trip: %+v", got)
	}

	if err := s.DeleteMeta("abc123"); err != nil {
		t.Fatalf("DeleteMeta: %v", err)
	}
	got, _ = s.GetMeta("abc123")
	if got != nil {
		t.Fatal("metadata should be gone after delete")
	}
}

func TestChunkOrderingAndIdempotency(t *testing.T) {
	s := openTestStore(t)
	id := "transfer-1"

	// Write out of order
	for _, start := range []int64{1 << 20, 0, 3 << 20, 2 << 20} {
		if err := s.PutChunk(id, start, []byte{1, 2, 3}); err != nil {
			t.Fatalf("PutChunk(%d): %v", start, err)
		}
	}
	starts, err := s.ListChunkStarts(id)
	if err != nil {
		t.Fatalf("ListChunkStarts: %v", err)
	}
	want := []int64{0, 1 << 20, 2 << 20, 3 << 20}
	if len(starts) != len(want) {
		t.Fatalf("got %d starts, want %d", len(starts), len(want))
	}
	for i := range want {
		if starts[i] != want[i] {
			t.Errorf("starts[%d] = %d, want %d", i, starts[i], want[i])
		}
	}

	// Duplicate write leaves exactly one record
	if err := s.PutChunk(id, 0, []byte{9, 9, 9}); err != nil {
		t.Fatalf("duplicate PutChunk: %v", err)
	}
	starts, _ = s.ListChunkStarts(id)
	if len(starts) != 4 {
		t.Errorf("duplicate write should not add a record, got %d", len(starts))
	}
	if n, err := s.ChunkCount(id); err != nil || n != 4 {
		t.Errorf("ChunkCount = %d, %v; want 4", n, err)
	}

	// Other transfers are invisible
	if err := s.PutChunk("transfer-2", 0, []byte{1}); err != nil {
		t.Fatalf("PutChunk other id: %v", err)
	}
	starts, _ = s.ListChunkStarts(id)
	if len(starts) != 4 {
		t.Errorf("prefix scan leaked across transfers, got %d starts", len(starts))
	}

	if err := s.DeleteChunks(id); err != nil {
		t.Fatalf("DeleteChunks: %v", err)
	}
	starts, _ = s.ListChunkStarts(id)
	if len(starts) != 0 {
		t.Errorf("chunks should be gone, got %d", len(starts))
	}
	other, _ := s.ListChunkStarts("transfer-2")
	if len(other) != 1 {
		t.Errorf("DeleteChunks removed another transfer's chunks")
	}
}

func TestChunkValidation(t *testing.T) {
	s := openTestStore(t)
	if err := s.PutChunk("", 0, []byte{1}); err == nil {
		t.Error("empty id should be rejected")
	}
	if err := s.PutChunk("id", 0, nil); err == nil {
		t.Error("empty payload should be rejected")
	}
	if err := s.PutChunk("id", -5, []byte{1}); err == nil {
		t.Error("negative start should be rejected")
	}
}

func TestGetChunkMissing(t *testing.T) {
	s := openTestStore(t)
	data, err := s.GetChunk("id", 0)
	if err != nil {
		t.Fatalf("GetChunk on missing chunk: %v", err)
	}
	if data != nil {
		t.Error("missing chunk should resolve to nil")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	rec := &SessionRecord{
		PageID:     "page-1",
		IsActive:   true,
		DownloadID: "dl-1",
		LastUpdate: time.Now(),
	}
	if err := s.PutSession(rec); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	got, err := s.GetSession("page-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil || !got.IsActive || got.DownloadID != "dl-1" {
		t.Fatalf("session did not round-trip: %+v", got)
	}

	all, err := s.ListSessions()
	if err != nil || len(all) != 1 {
		t.Fatalf("ListSessions: %v, n=%d", err, len(all))
	}

	if err := s.DeleteSession("page-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	got, _ = s.GetSession("page-1")
	if got != nil {
		t.Error("session should be gone after delete")
	}
}

func TestReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hoard.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.PutMeta(&TransferMeta{ID: "keep", URL: "u"}); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	if err := s.PutChunk("keep", 0, []byte{42}); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	meta, _ := s2.GetMeta("keep")
	if meta == nil {
		t.Fatal("metadata lost across reopen")
	}
	data, _ := s2.GetChunk("keep", 0)
	if len(data) != 1 || data[0] != 42 {
		t.Fatal("chunk lost across reopen")
	}
}
