// Package session coordinates transfer exclusivity across page sessions
// sharing one store. Each engine instance owns a page id for its
// lifetime; a session record left behind by a crashed process goes stale
// after a timeout instead of blocking future transfers forever.
package session

import (
	"time"

	"github.com/tanq16/hoard/internal/store"
	"github.com/tanq16/hoard/utils"
)

// StaleTimeout is how long a session record stays authoritative without
// a refresh.
const StaleTimeout = time.Hour

type Registry struct {
	store *store.Store
}

func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s}
}

// RegisterActive claims the page session for a download, refreshing the
// record's timestamp.
func (r *Registry) RegisterActive(pageID, downloadID string) error {
	return r.store.PutSession(&store.SessionRecord{
		PageID:     pageID,
		IsActive:   true,
		DownloadID: downloadID,
		LastUpdate: time.Now(),
	})
}

// MarkInactive releases the page session's claim but keeps the record so
// incomplete-download discovery can still attribute transfers to pages.
func (r *Registry) MarkInactive(pageID string) error {
	rec, err := r.store.GetSession(pageID)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &store.SessionRecord{PageID: pageID}
	}
	rec.IsActive = false
	rec.LastUpdate = time.Now()
	return r.store.PutSession(rec)
}

// Touch refreshes a session's timestamp so long-running transfers do not
// go stale mid-download.
func (r *Registry) Touch(pageID string) error {
	rec, err := r.store.GetSession(pageID)
	if err != nil || rec == nil {
		return err
	}
	rec.LastUpdate = time.Now()
	return r.store.PutSession(rec)
}

// FindOtherActiveSession returns the first live session belonging to a
// different page, or nil. A session counts as live when it is active and
// refreshed within StaleTimeout.
func (r *Registry) FindOtherActiveSession(excludePageID string) (*store.SessionRecord, error) {
	recs, err := r.store.ListSessions()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-StaleTimeout)
	for _, rec := range recs {
		if rec.PageID == excludePageID {
			continue
		}
		if rec.IsActive && rec.LastUpdate.After(cutoff) {
			return rec, nil
		}
	}
	return nil, nil
}

// PruneExpired deletes session records past the stale timeout. Run
// before starting a new transfer so a crashed page's claim cannot block
// indefinitely.
func (r *Registry) PruneExpired() error {
	log := utils.GetLogger("session")
	recs, err := r.store.ListSessions()
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-StaleTimeout)
	for _, rec := range recs {
		if rec.LastUpdate.Before(cutoff) {
			if err := r.store.DeleteSession(rec.PageID); err != nil {
				return err
			}
			log.Debug().Str("pageId", rec.PageID).Msg("Pruned stale session")
		}
	}
	return nil
}
