package internal

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tanq16/hoard/internal/session"
	"github.com/tanq16/hoard/internal/store"
	"github.com/tanq16/hoard/internal/transfer"
	"github.com/tanq16/hoard/utils"
)

func testServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Write(data)
			return
		}
		parts := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
		start, _ := strconv.ParseInt(parts[0], 10, 64)
		end, _ := strconv.ParseInt(parts[1], 10, 64)
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
	t.Cleanup(server.Close)
	return server
}

func sharedStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "hoard.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewManagerBadPath(t *testing.T) {
	_, err := NewManager(Config{StorePath: "/definitely/not/writable/hoard.db"})
	if !errors.Is(err, utils.ErrInitializationFailed) {
		t.Fatalf("expected ErrInitializationFailed, got %v", err)
	}
}

func TestStartEndToEnd(t *testing.T) {
	data := make([]byte, 3*transfer.MinChunkSize)
	for i := range data {
		data[i] = byte(i)
	}
	server := testServer(t, data)

	m, err := NewManager(Config{StorePath: filepath.Join(t.TempDir(), "hoard.db")})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	var complete *transfer.CompleteEvent
	tr, err := m.Start(StartOptions{
		URL:       server.URL + "/file.bin",
		ChunkSize: transfer.MinChunkSize,
		Notify: func(ev transfer.Event) {
			if c, ok := ev.(transfer.CompleteEvent); ok {
				complete = &c
			}
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("Transfer.Start: %v", err)
	}
	if complete == nil || complete.Size != int64(len(data)) {
		t.Fatalf("bad completion: %+v", complete)
	}
	if err := m.CompleteCleanup(tr.ID); err != nil {
		t.Fatalf("CompleteCleanup: %v", err)
	}
}

func TestInvalidSettingsRejected(t *testing.T) {
	m := NewManagerWithStore(sharedStore(t), Config{})
	defer m.Close()

	_, err := m.Start(StartOptions{URL: "https://example.com/f", Concurrency: 1000})
	if !errors.Is(err, utils.ErrInvalidSettings) {
		t.Errorf("oversized concurrency: got %v", err)
	}
	_, err = m.Start(StartOptions{URL: "https://example.com/f", ChunkSize: 16})
	if !errors.Is(err, utils.ErrInvalidSettings) {
		t.Errorf("tiny chunk size: got %v", err)
	}
	_, err = m.Start(StartOptions{})
	if !errors.Is(err, utils.ErrInvalidSettings) {
		t.Errorf("missing URL: got %v", err)
	}
}

func TestConcurrentActiveAcrossPages(t *testing.T) {
	data := make([]byte, 2*transfer.MinChunkSize)
	server := testServer(t, data)
	s := sharedStore(t)

	// Two managers over one store act like two tabs on one origin
	tabA := NewManagerWithStore(s, Config{})
	defer tabA.Close()
	tabB := NewManagerWithStore(s, Config{})
	defer tabB.Close()

	if _, err := tabA.Start(StartOptions{URL: server.URL + "/same.bin", ChunkSize: transfer.MinChunkSize}); err != nil {
		t.Fatalf("tab A Start: %v", err)
	}

	// Same URL from another tab
	_, err := tabB.Start(StartOptions{URL: server.URL + "/same.bin", ChunkSize: transfer.MinChunkSize})
	if !errors.Is(err, utils.ErrConcurrentActive) {
		t.Fatalf("same URL from tab B: expected ErrConcurrentActive, got %v", err)
	}
	// Any other active session blocks, even for an unrelated URL
	_, err = tabB.Start(StartOptions{URL: server.URL + "/other.bin", ChunkSize: transfer.MinChunkSize})
	if !errors.Is(err, utils.ErrConcurrentActive) {
		t.Fatalf("unrelated URL from tab B: expected ErrConcurrentActive, got %v", err)
	}
	// Same tab cannot start a second transfer either
	_, err = tabA.Start(StartOptions{URL: server.URL + "/other.bin", ChunkSize: transfer.MinChunkSize})
	if !errors.Is(err, utils.ErrConcurrentActive) {
		t.Fatalf("second transfer in tab A: expected ErrConcurrentActive, got %v", err)
	}
	if tabB.Active() != nil {
		t.Error("rejected start must not leave a live transfer behind")
	}
}

func TestRejectedStartLeavesNoRecords(t *testing.T) {
	data := make([]byte, 2*transfer.MinChunkSize)
	server := testServer(t, data)
	s := sharedStore(t)

	tabA := NewManagerWithStore(s, Config{})
	defer tabA.Close()
	tabB := NewManagerWithStore(s, Config{})
	defer tabB.Close()

	if _, err := tabA.Start(StartOptions{URL: server.URL + "/first.bin", ChunkSize: transfer.MinChunkSize}); err != nil {
		t.Fatalf("tab A Start: %v", err)
	}

	urlB := server.URL + "/second.bin"
	_, err := tabB.Start(StartOptions{URL: urlB, ChunkSize: transfer.MinChunkSize})
	if !errors.Is(err, utils.ErrConcurrentActive) {
		t.Fatalf("expected ErrConcurrentActive, got %v", err)
	}
	// The refused start must not have probed and persisted metadata
	meta, err := s.GetMeta(utils.DeriveTransferID(urlB))
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if meta != nil {
		t.Errorf("refused start left a ghost metadata record: %+v", meta)
	}
}

func TestReleasedSessionDoesNotBlockDiscovery(t *testing.T) {
	s := sharedStore(t)
	tabA := NewManagerWithStore(s, Config{})
	defer tabA.Close()
	tabB := NewManagerWithStore(s, Config{})
	defer tabB.Close()

	url := "https://example.com/released.bin"
	id := utils.DeriveTransferID(url)
	if err := s.PutMeta(&store.TransferMeta{ID: id, URL: url, Status: "paused"}); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}

	// Tab A released its claim cleanly; tab B may take the transfer over
	if err := s.PutSession(&store.SessionRecord{
		PageID:     tabA.PageID(),
		IsActive:   false,
		DownloadID: id,
		LastUpdate: time.Now(),
	}); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	found, err := tabB.CheckForExistingDownload()
	if err != nil {
		t.Fatalf("CheckForExistingDownload: %v", err)
	}
	if found == nil || found.ID != id {
		t.Fatalf("expected to discover %s, got %+v", id, found)
	}
	if found.FromOtherPage {
		t.Error("released session should not count as ownership")
	}

	// A claim past the stale window does not count either
	if err := s.PutSession(&store.SessionRecord{
		PageID:     tabA.PageID(),
		IsActive:   true,
		DownloadID: id,
		LastUpdate: time.Now().Add(-2 * session.StaleTimeout),
	}); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	found, err = tabB.CheckForExistingDownload()
	if err != nil {
		t.Fatalf("CheckForExistingDownload: %v", err)
	}
	if found == nil || found.FromOtherPage {
		t.Errorf("stale session should not count as ownership, got %+v", found)
	}
}

func TestSessionKeptFreshWhileActive(t *testing.T) {
	old := touchEvery
	touchEvery = 20 * time.Millisecond
	defer func() { touchEvery = old }()

	data := make([]byte, 2*transfer.MinChunkSize)
	server := testServer(t, data)
	s := sharedStore(t)
	m := NewManagerWithStore(s, Config{})
	defer m.Close()

	if _, err := m.Start(StartOptions{URL: server.URL + "/slow.bin", ChunkSize: transfer.MinChunkSize}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Backdate the claim; the refresh loop must bring it current again
	rec, err := s.GetSession(m.PageID())
	if err != nil || rec == nil {
		t.Fatalf("GetSession: %v, %+v", err, rec)
	}
	backdated := time.Now().Add(-session.StaleTimeout)
	rec.LastUpdate = backdated
	if err := s.PutSession(rec); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, _ = s.GetSession(m.PageID())
		if rec != nil && rec.LastUpdate.After(backdated) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session timestamp was never refreshed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Releasing the claim stops the refresh loop
	if err := m.CompleteCleanup(m.Active().ID); err != nil {
		t.Fatalf("CompleteCleanup: %v", err)
	}
	// Let any in-flight refresh land before sampling the timestamp
	time.Sleep(50 * time.Millisecond)
	rec, _ = s.GetSession(m.PageID())
	stamp := rec.LastUpdate
	time.Sleep(100 * time.Millisecond)
	rec, _ = s.GetSession(m.PageID())
	if !rec.LastUpdate.Equal(stamp) {
		t.Error("refresh loop kept running after the claim was released")
	}
}

func TestResumeUnavailable(t *testing.T) {
	m := NewManagerWithStore(sharedStore(t), Config{})
	defer m.Close()

	_, err := m.Resume(ResumeOptions{URL: "https://example.com/never-started.bin"})
	if !errors.Is(err, utils.ErrResumeUnavailable) {
		t.Fatalf("expected ErrResumeUnavailable, got %v", err)
	}
	_, err = m.Resume(ResumeOptions{})
	if !errors.Is(err, utils.ErrResumeUnavailable) {
		t.Fatalf("empty options: expected ErrResumeUnavailable, got %v", err)
	}
}

func TestResumeFromPersistedMetadata(t *testing.T) {
	data := make([]byte, 4*transfer.MinChunkSize)
	for i := range data {
		data[i] = byte(i * 3)
	}
	server := testServer(t, data)
	s := sharedStore(t)
	url := server.URL + "/resume.bin"
	id := utils.DeriveTransferID(url)

	// A dead session left metadata and two chunks behind
	if err := s.PutMeta(&store.TransferMeta{
		ID:              id,
		URL:             url,
		FileName:        "resume.bin",
		TotalBytes:      int64(len(data)),
		ChunkSize:       transfer.MinChunkSize,
		CompletedStarts: []int64{0, transfer.MinChunkSize},
		Status:          "paused",
	}); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	for _, start := range []int64{0, transfer.MinChunkSize} {
		if err := s.PutChunk(id, start, data[start:start+transfer.MinChunkSize]); err != nil {
			t.Fatalf("PutChunk: %v", err)
		}
	}

	m := NewManagerWithStore(s, Config{})
	defer m.Close()

	found, err := m.CheckForExistingDownload()
	if err != nil {
		t.Fatalf("CheckForExistingDownload: %v", err)
	}
	if found == nil || found.ID != id {
		t.Fatalf("expected to discover %s, got %+v", id, found)
	}
	if found.FromOtherPage {
		t.Error("orphaned transfer (no live session) should not be flagged as another page's")
	}

	var complete *transfer.CompleteEvent
	tr, err := m.Resume(ResumeOptions{ID: id, Notify: func(ev transfer.Event) {
		if c, ok := ev.(transfer.CompleteEvent); ok {
			complete = &c
		}
	}})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := tr.Resume(); err != nil {
		t.Fatalf("Transfer.Resume: %v", err)
	}
	if complete == nil {
		t.Fatal("no CompleteEvent")
	}
	if complete.Size != int64(len(data)) {
		t.Errorf("size = %d, want %d", complete.Size, len(data))
	}
	for i := range data {
		if complete.Data[i] != data[i] {
			t.Fatalf("byte %d differs", i)
		}
	}
}

func TestExistingDownloadFromOtherPage(t *testing.T) {
	s := sharedStore(t)
	tabA := NewManagerWithStore(s, Config{})
	defer tabA.Close()
	tabB := NewManagerWithStore(s, Config{})
	defer tabB.Close()

	url := "https://example.com/held.bin"
	id := utils.DeriveTransferID(url)
	if err := s.PutMeta(&store.TransferMeta{ID: id, URL: url, Status: "downloading"}); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	if err := s.PutSession(&store.SessionRecord{
		PageID:     tabA.PageID(),
		IsActive:   true,
		DownloadID: id,
		LastUpdate: time.Now(),
	}); err != nil {
		t.Fatalf("PutSession: %v", err)
	}

	found, err := tabB.CheckForExistingDownload()
	if err != nil {
		t.Fatalf("CheckForExistingDownload: %v", err)
	}
	if found == nil || !found.FromOtherPage {
		t.Fatalf("tab B should see tab A's transfer flagged FromOtherPage, got %+v", found)
	}

	foundA, err := tabA.CheckForExistingDownload()
	if err != nil {
		t.Fatalf("CheckForExistingDownload (own): %v", err)
	}
	if foundA == nil || foundA.FromOtherPage {
		t.Fatalf("tab A should see its own transfer unflagged, got %+v", foundA)
	}
}

func TestClearByID(t *testing.T) {
	s := sharedStore(t)
	m := NewManagerWithStore(s, Config{})
	defer m.Close()

	id := "stale-transfer"
	if err := s.PutMeta(&store.TransferMeta{ID: id, URL: "u", Status: "paused"}); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	if err := s.PutChunk(id, 0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	if err := m.ClearByID(id); err != nil {
		t.Fatalf("ClearByID: %v", err)
	}
	meta, _ := s.GetMeta(id)
	if meta != nil {
		t.Error("metadata should be cleared")
	}
	starts, _ := s.ListChunkStarts(id)
	if len(starts) != 0 {
		t.Error("chunks should be cleared")
	}
}

func TestQuotaFailOpenViaManager(t *testing.T) {
	m := NewManagerWithStore(sharedStore(t), Config{})
	defer m.Close()
	res := m.CheckQuota(0)
	if !res.Sufficient {
		t.Error("zero required bytes must always be sufficient")
	}
}
