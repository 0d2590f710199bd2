// Package transfer implements the download state machine: chunk
// planning, the concurrent range-fetch worker pool, progress and speed
// accounting, pause/resume/cancel, and reassembly of persisted chunks
// into the final file.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tanq16/hoard/internal/store"
	"github.com/tanq16/hoard/utils"
)

const (
	DefaultChunkSize    = int64(4 * 1024 * 1024)
	DefaultConcurrency  = 4
	DefaultFetchTimeout = 2 * time.Minute

	MinChunkSize   = int64(64 * 1024)
	MaxChunkSize   = int64(1 << 30)
	MaxConcurrency = 64

	maxProbeAttempts = 3
	probeRetryDelay  = 500 * time.Millisecond
	retryBackoff     = 500 * time.Millisecond
	// Pool-wide consecutive failure budget before the transfer errors out.
	maxPoolFailures = 10
	progressCadence = 500 * time.Millisecond
)

// Store is the persistence capability a Transfer needs. *store.Store
// satisfies it; tests may substitute fakes.
type Store interface {
	GetMeta(id string) (*store.TransferMeta, error)
	PutMeta(meta *store.TransferMeta) error
	DeleteMeta(id string) error
	PutChunk(id string, start int64, data []byte) error
	GetChunk(id string, start int64) ([]byte, error)
	ListChunkStarts(id string) ([]int64, error)
	DeleteChunks(id string) error
}

type Config struct {
	URL           string
	FileName      string
	FileSizeBytes int64
	ChunkSize     int64
	Concurrency   int
	FetchTimeout  time.Duration
	UserAgent     string
	ProxyURL      string
	// Notify receives every lifecycle event. Called from engine
	// goroutines; keep it fast and do not call Transfer methods from it.
	Notify func(Event)
}

func (c *Config) applyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = utils.ToolUserAgent
	}
}

// ValidateSettings bounds-checks the tunables shared with the Manager.
func ValidateSettings(concurrency int, chunkSize int64) error {
	if concurrency < 1 || concurrency > MaxConcurrency {
		return fmt.Errorf("%w: concurrency %d outside [1, %d]", utils.ErrInvalidSettings, concurrency, MaxConcurrency)
	}
	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize {
		return fmt.Errorf("%w: chunk size %d outside [%d, %d]", utils.ErrInvalidSettings, chunkSize, MinChunkSize, MaxChunkSize)
	}
	return nil
}

// Transfer drives one logical download. All mutation of shared transfer
// state (metadata, pending queue, persisted records) is funneled through
// one mutex so concurrent workers cannot lose updates.
type Transfer struct {
	ID string

	cfg         Config
	db          Store
	client      *http.Client
	probeClient *http.Client
	log         zerolog.Logger

	mu               sync.Mutex
	meta             *store.TransferMeta
	status           Status
	queue            []int64
	paused           bool
	cancelled        bool
	failure          error
	rangeUnsupported bool
	fallbackDone     bool
	cancelRun        context.CancelFunc
	poolDone         chan struct{}

	received    atomic.Int64
	consecFails atomic.Int32
}

func New(db Store, client *http.Client, cfg Config) (*Transfer, error) {
	cfg.applyDefaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: missing URL", utils.ErrInvalidSettings)
	}
	if err := ValidateSettings(cfg.Concurrency, cfg.ChunkSize); err != nil {
		return nil, err
	}
	if db == nil {
		return nil, fmt.Errorf("%w: missing store", utils.ErrInvalidSettings)
	}
	if client == nil {
		client = utils.CreateHTTPClient(0, 90*time.Second, cfg.ProxyURL)
	}
	id := utils.DeriveTransferID(cfg.URL)
	return &Transfer{
		ID:          id,
		cfg:         cfg,
		db:          db,
		client:      client,
		probeClient: utils.CreateHTTPClient(30*time.Second, 90*time.Second, cfg.ProxyURL),
		status:      StatusIdle,
		log:         utils.GetLogger("transfer").With().Str("transferId", id).Logger(),
	}, nil
}

func (t *Transfer) emit(ev Event) {
	if t.cfg.Notify != nil {
		t.cfg.Notify(ev)
	}
}

func (t *Transfer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transfer) TotalBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.meta == nil {
		return 0
	}
	return t.meta.TotalBytes
}

func (t *Transfer) FileName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.meta == nil {
		return ""
	}
	return t.meta.FileName
}

func (t *Transfer) ReceivedBytes() int64 {
	return t.received.Load()
}

// Meta returns a snapshot of the transfer metadata.
func (t *Transfer) Meta() *store.TransferMeta {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.meta == nil {
		return nil
	}
	snapshot := *t.meta
	snapshot.CompletedStarts = slices.Clone(t.meta.CompletedStarts)
	return &snapshot
}

// Prepare loads existing metadata for this transfer id, reconciling its
// completed-range checkpoint against the chunks actually present, or
// probes the URL for size and filename and persists fresh metadata. The
// probe is best effort: after bounded retries the transfer proceeds with
// an unknown size and a URL-derived name.
func (t *Transfer) Prepare() error {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return fmt.Errorf("transfer %s is %s", t.ID, t.status)
	}
	t.status = StatusPreparing
	t.mu.Unlock()

	existing, err := t.db.GetMeta(t.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		starts, err := t.db.ListChunkStarts(t.ID)
		if err != nil {
			return err
		}
		// Union: a crash may have persisted a chunk without the metadata
		// update, or the other way around.
		existing.CompletedStarts = unionStarts(existing.CompletedStarts, starts)
		t.mu.Lock()
		t.meta = existing
		t.status = StatusPrepared
		err = t.db.PutMeta(existing)
		t.mu.Unlock()
		if err != nil {
			return err
		}
		t.log.Debug().Int("completedRanges", len(existing.CompletedStarts)).Msg("Reloaded existing transfer metadata")
		return nil
	}

	size := t.cfg.FileSizeBytes
	probeName := ""
	for attempt := 1; attempt <= maxProbeAttempts; attempt++ {
		probedSize, name, err := utils.ProbeFileInfo(t.cfg.URL, t.cfg.UserAgent, t.probeClient)
		if err == nil || errors.Is(err, utils.ErrRangeRequestsNotSupported) {
			if probedSize > 0 {
				size = probedSize
			}
			probeName = name
			if errors.Is(err, utils.ErrRangeRequestsNotSupported) {
				t.log.Debug().Msg("Server does not advertise ranges, will fetch whole body")
				t.mu.Lock()
				t.rangeUnsupported = true
				t.mu.Unlock()
			}
			break
		}
		t.log.Debug().Err(err).Int("attempt", attempt).Msg("Metadata probe failed")
		if attempt < maxProbeAttempts {
			time.Sleep(probeRetryDelay)
		}
	}

	fileName := t.cfg.FileName
	original := fileName
	if fileName == "" {
		fileName = probeName
		original = probeName
	}
	if fileName == "" {
		fileName = utils.FilenameFromURL(t.cfg.URL)
		original = fileName
	}
	fileName = utils.SanitizeFilename(fileName)

	meta := &store.TransferMeta{
		ID:               t.ID,
		URL:              t.cfg.URL,
		FileName:         fileName,
		OriginalFileName: original,
		TotalBytes:       size,
		ChunkSize:        t.cfg.ChunkSize,
		Status:           string(StatusPrepared),
	}
	t.mu.Lock()
	t.meta = meta
	t.status = StatusPrepared
	err = t.db.PutMeta(meta)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.log.Debug().Str("fileName", fileName).Int64("totalBytes", size).Msg("Transfer prepared")
	return nil
}

// planLocked returns the full range-start plan. Callers hold t.mu.
func (t *Transfer) planLocked() []int64 {
	if t.rangeUnsupported || t.meta.TotalBytes <= 0 {
		return []int64{0}
	}
	var starts []int64
	for s := int64(0); s < t.meta.TotalBytes; s += t.meta.ChunkSize {
		starts = append(starts, s)
	}
	return starts
}

func (t *Transfer) rangeSizeLocked(start int64) int64 {
	total := t.meta.TotalBytes
	if total <= 0 {
		return 0
	}
	if start+t.meta.ChunkSize > total {
		return total - start
	}
	return t.meta.ChunkSize
}

// Start runs the worker pool until the transfer completes, pauses, is
// cancelled, or errors out. It blocks; pause and cancel are expected
// from other goroutines. Pending ranges are recomputed from a fresh
// chunk rescan so a stale in-memory checkpoint can never skip data.
func (t *Transfer) Start() error {
	t.mu.Lock()
	if t.status == StatusDownloading || t.status == StatusAssembling {
		t.mu.Unlock()
		return nil
	}
	if t.status.Terminal() {
		t.mu.Unlock()
		return fmt.Errorf("transfer %s is %s", t.ID, t.status)
	}
	if t.meta == nil {
		t.mu.Unlock()
		return errors.New("transfer not prepared")
	}
	t.paused = false
	t.failure = nil
	t.mu.Unlock()

	present, err := t.db.ListChunkStarts(t.ID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	meta := t.meta
	meta.CompletedStarts = unionStarts(meta.CompletedStarts, present)
	plan := t.planLocked()
	have := make(map[int64]bool, len(present))
	for _, s := range present {
		have[s] = true
	}
	var pending []int64
	var got int64
	for _, s := range plan {
		if have[s] {
			got += t.rangeSizeLocked(s)
		} else {
			pending = append(pending, s)
		}
	}
	t.received.Store(got)
	t.queue = pending
	totalBytes := meta.TotalBytes
	fileName := meta.FileName
	t.mu.Unlock()

	t.emit(StartEvent{TotalBytes: totalBytes, FileName: fileName})
	if len(pending) == 0 {
		return t.assemble()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.mu.Lock()
	t.cancelRun = cancel
	t.poolDone = done
	t.status = StatusDownloading
	meta.Status = string(StatusDownloading)
	if err := t.db.PutMeta(meta); err != nil {
		t.cancelRun = nil
		t.poolDone = nil
		t.mu.Unlock()
		cancel()
		return err
	}
	t.mu.Unlock()
	t.emit(StatusEvent{Status: StatusDownloading})
	t.consecFails.Store(0)

	stopTicker := make(chan struct{})
	go t.progressLoop(stopTicker)

	workers := min(t.cfg.Concurrency, len(pending))
	t.log.Debug().Int("workers", workers).Int("pendingRanges", len(pending)).Msg("Starting worker pool")
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			t.worker(runCtx, workerID)
		}(i + 1)
	}
	wg.Wait()
	close(stopTicker)
	cancel()

	t.mu.Lock()
	close(done)
	t.cancelRun = nil
	t.poolDone = nil
	wasCancelled := t.cancelled
	wasPaused := t.paused
	failure := t.failure
	t.mu.Unlock()

	if wasCancelled {
		return nil
	}
	if failure != nil {
		t.mu.Lock()
		t.status = StatusError
		meta.Status = string(StatusError)
		meta.LastError = failure.Error()
		if err := t.db.PutMeta(meta); err != nil {
			t.log.Error().Err(err).Msg("Failed to persist error checkpoint")
		}
		t.mu.Unlock()
		t.emit(ErrorEvent{Err: failure, FileName: fileName, Percent: t.percent()})
		return failure
	}
	if wasPaused {
		return nil
	}
	return t.assemble()
}

// Pause stops accepting new work and aborts in-flight range requests.
// Workers treat the abort as a clean stop, so no partial range is ever
// persisted. Idempotent.
func (t *Transfer) Pause() {
	t.mu.Lock()
	if t.status != StatusDownloading || t.paused {
		t.mu.Unlock()
		return
	}
	t.paused = true
	t.status = StatusPaused
	if t.meta != nil {
		t.meta.Status = string(StatusPaused)
		if err := t.db.PutMeta(t.meta); err != nil {
			t.log.Error().Err(err).Msg("Failed to persist paused checkpoint")
		}
	}
	cancel := t.cancelRun
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.emit(StatusEvent{Status: StatusPaused})
	t.log.Debug().Msg("Transfer paused")
}

// Resume restarts a paused or errored transfer. Pending ranges come from
// a fresh chunk rescan inside Start, so resume is correct even when the
// persisted checkpoint went stale.
func (t *Transfer) Resume() error {
	t.mu.Lock()
	if t.status == StatusDownloading || t.status == StatusAssembling {
		t.mu.Unlock()
		return nil
	}
	if t.status.Terminal() {
		t.mu.Unlock()
		return fmt.Errorf("transfer %s is %s", t.ID, t.status)
	}
	t.paused = false
	t.status = StatusResuming
	if t.meta != nil {
		t.meta.Status = string(StatusResuming)
		if err := t.db.PutMeta(t.meta); err != nil {
			t.log.Error().Err(err).Msg("Failed to persist resuming checkpoint")
		}
	}
	t.mu.Unlock()
	t.emit(StatusEvent{Status: StatusResuming})
	return t.Start()
}

// CancelAndClear aborts the transfer and deletes every persisted record
// for it. Irreversible; a later download of the same URL starts fresh.
func (t *Transfer) CancelAndClear() error {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return nil
	}
	t.cancelled = true
	t.status = StatusCancelled
	cancel := t.cancelRun
	done := t.poolDone
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if err := t.db.DeleteChunks(t.ID); err != nil {
		return err
	}
	if err := t.db.DeleteMeta(t.ID); err != nil {
		return err
	}
	t.emit(StatusEvent{Status: StatusCancelled})
	t.log.Debug().Msg("Transfer cancelled and cleared")
	return nil
}

func (t *Transfer) worker(ctx context.Context, workerID int) {
	log := t.log.With().Int("workerId", workerID).Logger()
	for {
		if ctx.Err() != nil {
			return
		}
		t.mu.Lock()
		if t.paused || t.cancelled || t.failure != nil || t.fallbackDone || len(t.queue) == 0 {
			t.mu.Unlock()
			return
		}
		start := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		err := t.fetchRange(ctx, start)
		if err == nil {
			t.consecFails.Store(0)
			continue
		}
		if ctx.Err() != nil {
			// Pause or cancel aborted the fetch: clean stop, not a failure.
			return
		}
		fails := t.consecFails.Add(1)
		t.mu.Lock()
		if t.meta != nil {
			t.meta.RetryCount++
		}
		t.queue = append([]int64{start}, t.queue...)
		t.mu.Unlock()
		log.Debug().Err(err).Int64("start", start).Int32("consecutiveFailures", fails).Msg("Range fetch failed, requeueing")
		if int(fails) >= maxPoolFailures {
			t.failPool(fmt.Errorf("%w: range at %d: %v", utils.ErrNetworkInterrupted, start, err))
			return
		}
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transfer) failPool(err error) {
	t.mu.Lock()
	if t.failure == nil {
		t.failure = err
	}
	cancel := t.cancelRun
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Transfer) fetchRange(ctx context.Context, start int64) error {
	t.mu.Lock()
	total := t.meta.TotalBytes
	chunkSize := t.meta.ChunkSize
	single := t.rangeUnsupported || total <= 0
	t.mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, t.cfg.FetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(fctx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", t.cfg.UserAgent)
	req.Header.Set("Connection", "keep-alive")
	var expected int64
	if !single {
		end := start + chunkSize - 1
		if end > total-1 {
			end = total - 1
		}
		expected = end - start + 1
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if single {
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return t.commitWhole(resp)
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// Server ignored the Range header and is sending the whole body.
		return t.enterSingleFetch(resp)
	default:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if int64(len(data)) != expected {
		return fmt.Errorf("size mismatch: expected %d bytes for range at %d, got %d", expected, start, len(data))
	}
	return t.commitChunk(start, data)
}

// commitChunk persists a fully received range and appends its start to
// the completed checkpoint. The whole read-modify-write runs under t.mu
// so two workers finishing together cannot lose an update.
func (t *Transfer) commitChunk(start int64, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return nil
	}
	if t.rangeUnsupported && start != 0 {
		// Single-fetch fallback engaged while this range was in flight;
		// its offsets no longer mean anything.
		return nil
	}
	if err := t.db.PutChunk(t.ID, start, data); err != nil {
		return err
	}
	if !slices.Contains(t.meta.CompletedStarts, start) {
		t.meta.CompletedStarts = append(t.meta.CompletedStarts, start)
		slices.Sort(t.meta.CompletedStarts)
	}
	if err := t.db.PutMeta(t.meta); err != nil {
		return err
	}
	t.received.Add(int64(len(data)))
	return nil
}

// commitWhole stores a full-body response as the transfer's single chunk.
func (t *Transfer) commitWhole(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty response body")
	}
	t.mu.Lock()
	if total := t.meta.TotalBytes; total > 0 && int64(len(data)) != total {
		t.mu.Unlock()
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", total, len(data))
	}
	if t.meta.TotalBytes <= 0 {
		t.meta.TotalBytes = int64(len(data))
	}
	t.mu.Unlock()
	return t.commitChunk(0, data)
}

// enterSingleFetch handles a 200 response to a ranged request: the first
// worker to see one wins, consumes the whole body as the single chunk,
// and invalidates previously stored ranges (their offsets cannot be
// trusted against a server that ignores ranges). No further range
// requests are issued for this transfer.
func (t *Transfer) enterSingleFetch(resp *http.Response) error {
	t.mu.Lock()
	if t.rangeUnsupported {
		// Another worker already won the fallback; discard.
		t.mu.Unlock()
		return nil
	}
	t.rangeUnsupported = true
	t.queue = nil
	t.mu.Unlock()
	t.log.Debug().Msg("Server returned 200 for a ranged request, switching to single fetch")

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty response body")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return nil
	}
	if err := t.db.DeleteChunks(t.ID); err != nil {
		return err
	}
	if t.meta.TotalBytes <= 0 {
		t.meta.TotalBytes = int64(len(data))
	}
	if err := t.db.PutChunk(t.ID, 0, data); err != nil {
		return err
	}
	t.meta.CompletedStarts = []int64{0}
	if err := t.db.PutMeta(t.meta); err != nil {
		return err
	}
	t.received.Store(int64(len(data)))
	t.fallbackDone = true
	return nil
}

func (t *Transfer) percent() float64 {
	total := t.TotalBytes()
	if total <= 0 {
		return 0
	}
	p := float64(t.received.Load()) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// progressLoop emits progress and speed events at a fixed cadence,
// decoupled from chunk completion timing. Only completed ranges move the
// counter, so consecutive emits may repeat a value.
func (t *Transfer) progressLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(progressCadence)
	defer ticker.Stop()
	lastBytes := t.received.Load()
	lastTime := time.Now()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			cur := t.received.Load()
			if elapsed := now.Sub(lastTime).Seconds(); elapsed > 0 {
				t.emit(SpeedEvent{BytesPerSec: float64(cur-lastBytes) / elapsed})
			}
			t.emit(ProgressEvent{ReceivedBytes: cur, TotalBytes: t.TotalBytes(), Percent: t.percent()})
			lastBytes = cur
			lastTime = now
		case <-stop:
			return
		}
	}
}

// assemble reads all chunks in ascending start order, validates
// contiguity, and emits the reassembled file. Any gap is fatal; a
// truncated result is never produced. Successful completion deletes the
// transfer's persisted records.
func (t *Transfer) assemble() error {
	t.mu.Lock()
	meta := t.meta
	t.status = StatusAssembling
	t.mu.Unlock()
	t.emit(StatusEvent{Status: StatusAssembling})

	starts, err := t.db.ListChunkStarts(t.ID)
	if err != nil {
		return err
	}
	if len(starts) == 0 {
		return t.failAssembly(errors.New("no chunks persisted"))
	}
	var buf []byte
	if meta.TotalBytes > 0 {
		buf = make([]byte, 0, meta.TotalBytes)
	}
	offset := int64(0)
	for _, s := range starts {
		if s != offset {
			return t.failAssembly(fmt.Errorf("gap at offset %d, next chunk starts at %d", offset, s))
		}
		data, err := t.db.GetChunk(t.ID, s)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return t.failAssembly(fmt.Errorf("chunk at %d is missing", s))
		}
		buf = append(buf, data...)
		offset += int64(len(data))
	}
	if meta.TotalBytes > 0 && offset != meta.TotalBytes {
		return t.failAssembly(fmt.Errorf("assembled %d bytes, expected %d", offset, meta.TotalBytes))
	}

	if err := t.db.DeleteChunks(t.ID); err != nil {
		return err
	}
	if err := t.db.DeleteMeta(t.ID); err != nil {
		return err
	}
	t.mu.Lock()
	t.status = StatusCompleted
	t.mu.Unlock()
	t.emit(CompleteEvent{
		Data:     buf,
		FileName: meta.FileName,
		MimeType: utils.MimeTypeFor(meta.FileName),
		Size:     offset,
	})
	t.log.Debug().Int64("size", offset).Str("fileName", meta.FileName).Msg("Transfer complete")
	return nil
}

func (t *Transfer) failAssembly(cause error) error {
	err := fmt.Errorf("%w: %v", utils.ErrAssemblyFailed, cause)
	t.mu.Lock()
	t.status = StatusError
	fileName := ""
	if t.meta != nil {
		t.meta.Status = string(StatusError)
		t.meta.LastError = err.Error()
		if perr := t.db.PutMeta(t.meta); perr != nil {
			t.log.Error().Err(perr).Msg("Failed to persist error checkpoint")
		}
		fileName = t.meta.FileName
	}
	t.mu.Unlock()
	t.emit(ErrorEvent{Err: err, FileName: fileName, Percent: t.percent()})
	return err
}

func unionStarts(a, b []int64) []int64 {
	seen := make(map[int64]bool, len(a)+len(b))
	var out []int64
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}
