// Package internal wires the engine together: one Manager per process
// owns the store connection, a page session, and at most one live
// Transfer, and exposes start/pause/resume/cancel plus existing-download
// discovery to the consumer layer.
package internal

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tanq16/hoard/internal/quota"
	"github.com/tanq16/hoard/internal/session"
	"github.com/tanq16/hoard/internal/store"
	"github.com/tanq16/hoard/internal/transfer"
	"github.com/tanq16/hoard/utils"
)

type Config struct {
	StorePath    string
	UserAgent    string
	ProxyURL     string
	FetchTimeout time.Duration
}

// StartOptions configures one download. Zero Concurrency/ChunkSize pick
// the engine defaults; explicit out-of-bounds values are rejected.
type StartOptions struct {
	URL           string
	FileName      string
	FileSizeBytes int64
	Concurrency   int
	ChunkSize     int64
	Notify        func(transfer.Event)
}

// ResumeOptions locates a persisted transfer either by id or by URL.
type ResumeOptions struct {
	ID          string
	URL         string
	FileName    string
	Concurrency int
	ChunkSize   int64
	Notify      func(transfer.Event)
}

// ExistingDownload describes an incomplete persisted transfer found at
// startup. FromOtherPage means another live session owns it; the caller
// should not resume it without that session going away.
type ExistingDownload struct {
	ID            string
	Meta          *store.TransferMeta
	FromOtherPage bool
}

type Manager struct {
	cfg      Config
	store    *store.Store
	ownStore bool
	registry *session.Registry
	pageID   string
	log      zerolog.Logger

	mu          sync.Mutex
	active      *transfer.Transfer
	closed      bool
	refreshStop chan struct{}
}

// NewManager opens the store at cfg.StorePath and builds a Manager
// around it. A store that cannot open is fatal: the caller should fall
// back to a plain non-resumable download.
func NewManager(cfg Config) (*Manager, error) {
	s, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	m := newManager(s, cfg)
	m.ownStore = true
	return m, nil
}

// NewManagerWithStore builds a Manager over a store the caller owns.
// Two Managers sharing one store act as independent page sessions; the
// session registry arbitrates between them.
func NewManagerWithStore(s *store.Store, cfg Config) *Manager {
	return newManager(s, cfg)
}

func newManager(s *store.Store, cfg Config) *Manager {
	if cfg.UserAgent == "" {
		cfg.UserAgent = utils.ToolUserAgent
	}
	pageID := uuid.NewString()
	return &Manager{
		cfg:      cfg,
		store:    s,
		registry: session.NewRegistry(s),
		pageID:   pageID,
		log:      utils.GetLogger("manager").With().Str("pageId", pageID).Logger(),
	}
}

func (m *Manager) PageID() string {
	return m.pageID
}

// Start enforces transfer exclusivity across this and other page
// sessions, then validates settings, prepares a Transfer, and claims the
// session. Exclusivity is checked before Prepare so a refused start
// never probes the URL or persists metadata; claim re-verifies it before
// registering. The caller wires listeners and invokes Transfer.Start.
func (m *Manager) Start(opts StartOptions) (*transfer.Transfer, error) {
	if err := m.ensureClaimable(); err != nil {
		return nil, err
	}
	t, err := m.buildTransfer(transfer.Config{
		URL:           opts.URL,
		FileName:      opts.FileName,
		FileSizeBytes: opts.FileSizeBytes,
		ChunkSize:     opts.ChunkSize,
		Concurrency:   opts.Concurrency,
		Notify:        opts.Notify,
	})
	if err != nil {
		return nil, err
	}
	if err := t.Prepare(); err != nil {
		return nil, err
	}
	if total := t.TotalBytes(); total > 0 {
		if res := m.CheckQuota(total); !res.Sufficient {
			return nil, fmt.Errorf("%w: need %s plus margin, %s free",
				utils.ErrStorageInsufficient, utils.FormatBytes(uint64(total)), utils.FormatBytes(res.Free))
		}
	}
	if err := m.claim(t); err != nil {
		return nil, err
	}
	m.log.Info().Str("transferId", t.ID).Str("fileName", t.FileName()).Msg("Transfer started")
	return t, nil
}

// Resume continues a persisted transfer. With a live transfer in this
// process it delegates to it; otherwise the metadata is looked up by id
// (or by the id derived from the URL) and a Transfer is reconstructed
// around it.
func (m *Manager) Resume(opts ResumeOptions) (*transfer.Transfer, error) {
	id := opts.ID
	if id == "" && opts.URL != "" {
		id = utils.DeriveTransferID(opts.URL)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: no id or url given", utils.ErrResumeUnavailable)
	}

	m.mu.Lock()
	live := m.active
	m.mu.Unlock()
	if live != nil && live.ID == id && !live.Status().Terminal() {
		return live, nil
	}

	meta, err := m.store.GetMeta(id)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: no metadata for %s", utils.ErrResumeUnavailable, id)
	}
	if err := m.ensureClaimable(); err != nil {
		return nil, err
	}
	t, err := m.buildTransfer(transfer.Config{
		URL:         meta.URL,
		FileName:    opts.FileName,
		ChunkSize:   opts.ChunkSize,
		Concurrency: opts.Concurrency,
		Notify:      opts.Notify,
	})
	if err != nil {
		return nil, err
	}
	if err := t.Prepare(); err != nil {
		return nil, err
	}
	if err := m.claim(t); err != nil {
		return nil, err
	}
	m.log.Info().Str("transferId", id).Msg("Transfer resumed from persisted metadata")
	return t, nil
}

func (m *Manager) buildTransfer(cfg transfer.Config) (*transfer.Transfer, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = m.cfg.UserAgent
	}
	if cfg.ProxyURL == "" {
		cfg.ProxyURL = m.cfg.ProxyURL
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = m.cfg.FetchTimeout
	}
	return transfer.New(m.store, nil, cfg)
}

// ensureClaimable prunes stale sessions and rejects when this or another
// live page session would block the transfer. Runs before any probe or
// metadata write so a refused start leaves no trace in the store.
func (m *Manager) ensureClaimable() error {
	if err := m.registry.PruneExpired(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimableLocked()
}

func (m *Manager) claimableLocked() error {
	if m.closed {
		return fmt.Errorf("%w: manager closed", utils.ErrInitializationFailed)
	}
	if m.active != nil && !m.active.Status().Terminal() {
		return fmt.Errorf("%w: transfer %s is live in this session", utils.ErrConcurrentActive, m.active.ID)
	}
	other, err := m.registry.FindOtherActiveSession(m.pageID)
	if err != nil {
		return err
	}
	if other != nil {
		return fmt.Errorf("%w: session %s holds transfer %s", utils.ErrConcurrentActive, other.PageID, other.DownloadID)
	}
	return nil
}

// claim enforces "one active transfer per page, none across live pages"
// and registers the session. The exclusivity check repeats here because
// the probe between ensureClaimable and claim leaves a window for
// another session to register first.
func (m *Manager) claim(t *transfer.Transfer) error {
	if err := m.registry.PruneExpired(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.claimableLocked(); err != nil {
		return err
	}
	if err := m.registry.RegisterActive(m.pageID, t.ID); err != nil {
		return err
	}
	m.active = t
	m.startSessionRefreshLocked()
	return nil
}

// touchEvery is how often a claimed session's timestamp is refreshed so
// a transfer running longer than session.StaleTimeout is not pruned out
// from under itself.
var touchEvery = session.StaleTimeout / 4

// startSessionRefreshLocked spawns the keepalive loop for the claimed
// session. Callers hold m.mu.
func (m *Manager) startSessionRefreshLocked() {
	m.stopSessionRefreshLocked()
	stop := make(chan struct{})
	m.refreshStop = stop
	go func() {
		ticker := time.NewTicker(touchEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.registry.Touch(m.pageID); err != nil {
					m.log.Debug().Err(err).Msg("Session refresh failed")
				}
			case <-stop:
				return
			}
		}
	}()
}

func (m *Manager) stopSessionRefreshLocked() {
	if m.refreshStop != nil {
		close(m.refreshStop)
		m.refreshStop = nil
	}
}

// Pause pauses this process's live transfer, if any.
func (m *Manager) Pause() {
	m.mu.Lock()
	t := m.active
	m.mu.Unlock()
	if t != nil {
		t.Pause()
	}
}

// Active returns this process's live transfer, or nil.
func (m *Manager) Active() *transfer.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) CheckQuota(requiredBytes int64) quota.Result {
	return quota.Check(filepath.Dir(m.store.Path()), requiredBytes)
}

// CheckForExistingDownload scans persisted metadata and session records
// for an incomplete transfer. One owned by the current page (or by no
// live page at all) is preferred; otherwise the most recently touched
// other-page transfer is reported with FromOtherPage set.
func (m *Manager) CheckForExistingDownload() (*ExistingDownload, error) {
	metas, err := m.store.ListMeta()
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, nil
	}
	sessions, err := m.store.ListSessions()
	if err != nil {
		return nil, err
	}
	// Only a live claim counts as ownership. A released (MarkInactive)
	// or stale session no longer blocks anyone from resuming.
	cutoff := time.Now().Add(-session.StaleTimeout)
	owner := make(map[string]*store.SessionRecord, len(sessions))
	for _, rec := range sessions {
		if !rec.IsActive || rec.LastUpdate.Before(cutoff) {
			continue
		}
		owner[rec.DownloadID] = rec
	}

	var other *ExistingDownload
	var otherTouched time.Time
	for _, meta := range metas {
		if meta.Status == string(transfer.StatusCompleted) || meta.Status == string(transfer.StatusCancelled) {
			continue
		}
		rec := owner[meta.ID]
		if rec == nil || rec.PageID == m.pageID {
			return &ExistingDownload{ID: meta.ID, Meta: meta}, nil
		}
		if other == nil || rec.LastUpdate.After(otherTouched) {
			other = &ExistingDownload{ID: meta.ID, Meta: meta, FromOtherPage: true}
			otherTouched = rec.LastUpdate
		}
	}
	return other, nil
}

// CompleteCleanup releases the session claim after a transfer finishes
// and drops the live reference.
func (m *Manager) CompleteCleanup(id string) error {
	m.mu.Lock()
	if m.active != nil && m.active.ID == id {
		m.active = nil
	}
	m.stopSessionRefreshLocked()
	m.mu.Unlock()
	return m.registry.MarkInactive(m.pageID)
}

// ClearByID deletes every persisted record for a transfer. Cancels it
// first when it is live in this process.
func (m *Manager) ClearByID(id string) error {
	m.mu.Lock()
	t := m.active
	if t != nil && t.ID == id {
		m.active = nil
		m.stopSessionRefreshLocked()
	} else {
		t = nil
	}
	m.mu.Unlock()
	if t != nil {
		if err := t.CancelAndClear(); err != nil {
			return err
		}
	} else {
		if err := m.store.DeleteChunks(id); err != nil {
			return err
		}
		if err := m.store.DeleteMeta(id); err != nil {
			return err
		}
	}
	return m.registry.MarkInactive(m.pageID)
}

// Close releases the session and, when this Manager opened the store,
// closes it.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	t := m.active
	m.active = nil
	m.stopSessionRefreshLocked()
	ownStore := m.ownStore
	m.mu.Unlock()

	if t != nil {
		t.Pause()
	}
	if err := m.registry.MarkInactive(m.pageID); err != nil {
		m.log.Debug().Err(err).Msg("Failed to release session on close")
	}
	if ownStore {
		return m.store.Close()
	}
	return nil
}
