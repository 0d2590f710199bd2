// Package store persists transfer metadata, chunk payloads, and page
// session records in an embedded bbolt database. It is deliberately dumb:
// pure CRUD plus ordered chunk-start scans, one record per transaction,
// with no retry or business logic. Not-found resolves to an explicit zero
// result, never an error.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tanq16/hoard/utils"
)

const schemaVersion byte = 1

var (
	bucketMeta     = []byte("meta")
	bucketChunks   = []byte("chunks")
	bucketSessions = []byte("sessions")
	bucketSchema   = []byte("schema")
	keyVersion     = []byte("version")
)

// TransferMeta is the persisted checkpoint for one logical download.
// CompletedStarts only grows until the transfer is cleared; it is the
// resume anchor after an unplanned termination.
type TransferMeta struct {
	ID               string    `json:"id"`
	URL              string    `json:"url"`
	FileName         string    `json:"fileName"`
	OriginalFileName string    `json:"originalFileName"`
	TotalBytes       int64     `json:"totalBytes"`
	ChunkSize        int64     `json:"chunkSize"`
	CompletedStarts  []int64   `json:"completedStarts"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	RetryCount       int       `json:"retryCount"`
	LastError        string    `json:"lastError,omitempty"`
}

// SessionRecord marks one live page session for cross-session transfer
// exclusivity. Stale records (LastUpdate beyond the registry timeout) are
// pruned opportunistically before new transfers start.
type SessionRecord struct {
	PageID     string    `json:"pageId"`
	IsActive   bool      `json:"isActive"`
	DownloadID string    `json:"downloadId"`
	LastUpdate time.Time `json:"lastUpdate"`
}

type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path and ensures the schema. A
// version mismatch wipes all collections and rebuilds them.
func Open(path string) (*Store, error) {
	log := utils.GetLogger("store")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: opening store at %s: %v", utils.ErrInitializationFailed, path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		schema, err := tx.CreateBucketIfNotExists(bucketSchema)
		if err != nil {
			return err
		}
		current := schema.Get(keyVersion)
		if current != nil && (len(current) != 1 || current[0] != schemaVersion) {
			log.Warn().Int("want", int(schemaVersion)).Msg("Schema version mismatch, rebuilding collections")
			for _, name := range [][]byte{bucketMeta, bucketChunks, bucketSessions} {
				if tx.Bucket(name) != nil {
					if err := tx.DeleteBucket(name); err != nil {
						return err
					}
				}
			}
		}
		if err := schema.Put(keyVersion, []byte{schemaVersion}); err != nil {
			return err
		}
		for _, name := range [][]byte{bucketMeta, bucketChunks, bucketSessions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing schema: %v", utils.ErrInitializationFailed, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the filesystem location of the backing database.
func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) GetMeta(id string) (*TransferMeta, error) {
	if id == "" {
		return nil, errors.New("empty transfer id")
	}
	var meta *TransferMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get([]byte(id))
		if raw == nil {
			return nil
		}
		meta = &TransferMeta{}
		return json.Unmarshal(raw, meta)
	})
	if err != nil {
		return nil, fmt.Errorf("reading metadata for %s: %w", id, err)
	}
	return meta, nil
}

func (s *Store) PutMeta(meta *TransferMeta) error {
	if meta == nil || meta.ID == "" {
		return errors.New("metadata requires a transfer id")
	}
	meta.UpdatedAt = time.Now()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = meta.UpdatedAt
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(meta.ID), raw)
	})
}

func (s *Store) DeleteMeta(id string) error {
	if id == "" {
		return errors.New("empty transfer id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Delete([]byte(id))
	})
}

func (s *Store) ListMeta() ([]*TransferMeta, error) {
	var metas []*TransferMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			meta := &TransferMeta{}
			if err := json.Unmarshal(v, meta); err != nil {
				return err
			}
			metas = append(metas, meta)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing metadata: %w", err)
	}
	return metas, nil
}

// chunkKey encodes (id, start) so that a prefix cursor scan walks chunks
// in ascending start order.
func chunkKey(id string, start int64) []byte {
	key := make([]byte, len(id)+1+8)
	copy(key, id)
	key[len(id)] = '/'
	binary.BigEndian.PutUint64(key[len(id)+1:], uint64(start))
	return key
}

func chunkPrefix(id string) []byte {
	return append([]byte(id), '/')
}

// PutChunk stores a fully received byte range. Chunk records are
// immutable: writing the same (id, start) again simply replaces the
// record with identical content.
func (s *Store) PutChunk(id string, start int64, data []byte) error {
	if id == "" {
		return errors.New("chunk requires a transfer id")
	}
	if start < 0 {
		return fmt.Errorf("invalid chunk start %d", start)
	}
	if len(data) == 0 {
		return errors.New("refusing to store empty chunk")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChunks).Put(chunkKey(id, start), data)
	})
}

func (s *Store) GetChunk(id string, start int64) ([]byte, error) {
	if id == "" {
		return nil, errors.New("empty transfer id")
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketChunks).Get(chunkKey(id, start))
		if raw != nil {
			data = make([]byte, len(raw))
			copy(data, raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ListChunkStarts returns the start offsets of all persisted chunks for a
// transfer in ascending order. Used for resume gap scans and reassembly.
func (s *Store) ListChunkStarts(id string) ([]int64, error) {
	if id == "" {
		return nil, errors.New("empty transfer id")
	}
	var starts []int64
	prefix := chunkPrefix(id)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketChunks).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			starts = append(starts, int64(binary.BigEndian.Uint64(k[len(prefix):])))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning chunks for %s: %w", id, err)
	}
	return starts, nil
}

// ChunkCount returns the number of persisted chunks for a transfer.
func (s *Store) ChunkCount(id string) (int, error) {
	starts, err := s.ListChunkStarts(id)
	if err != nil {
		return 0, err
	}
	return len(starts), nil
}

func (s *Store) DeleteChunks(id string) error {
	if id == "" {
		return errors.New("empty transfer id")
	}
	prefix := chunkPrefix(id)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteChunk(id string, start int64) error {
	if id == "" {
		return errors.New("empty transfer id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChunks).Delete(chunkKey(id, start))
	})
}

func (s *Store) GetSession(pageID string) (*SessionRecord, error) {
	if pageID == "" {
		return nil, errors.New("empty page id")
	}
	var rec *SessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSessions).Get([]byte(pageID))
		if raw == nil {
			return nil
		}
		rec = &SessionRecord{}
		return json.Unmarshal(raw, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) PutSession(rec *SessionRecord) error {
	if rec == nil || rec.PageID == "" {
		return errors.New("session requires a page id")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(rec.PageID), raw)
	})
}

func (s *Store) DeleteSession(pageID string) error {
	if pageID == "" {
		return errors.New("empty page id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(pageID))
	})
}

func (s *Store) ListSessions() ([]*SessionRecord, error) {
	var recs []*SessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			rec := &SessionRecord{}
			if err := json.Unmarshal(v, rec); err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return recs, nil
}
