package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/vanguard/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketStatusLog      = []byte("status_transitions")
	bucketStatusSnapshot = []byte("status_snapshot")
	bucketCA             = []byte("ca")

	snapshotKey = []byte("current")
)

// BoltStore implements Store on top of go.etcd.io/bbolt.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "vanguard.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketStatusLog, bucketStatusSnapshot, bucketCA} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// AppendStatusTransition writes one entry to the transition log, keyed by a
// monotonically increasing sequence so ForEach iteration preserves order.
func (s *BoltStore) AppendStatusTransition(rec StatusTransitionRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatusLog)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(seqKey(rec.NodeID, seq), data)
	})
}

// SaveStatusSnapshot overwrites the compacted current-state bucket.
func (s *BoltStore) SaveStatusSnapshot(snapshot []types.BackendStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatusSnapshot)
		data, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		return b.Put(snapshotKey, data)
	})
}

// LoadStatusSnapshot returns the last saved snapshot, or nil if none exists.
func (s *BoltStore) LoadStatusSnapshot() ([]types.BackendStatus, error) {
	var snapshot []types.BackendStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatusSnapshot)
		data := b.Get(snapshotKey)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &snapshot)
	})
	return snapshot, err
}

// ListStatusTransitions returns up to limit most recent transitions for a
// backend, newest first.
func (s *BoltStore) ListStatusTransitions(nodeID int, limit int) ([]StatusTransitionRecord, error) {
	var records []StatusTransitionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatusLog)
		c := b.Cursor()
		prefix := nodePrefix(nodeID)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var rec StatusTransitionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// newest first
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte("root"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCA).Get([]byte("root"))
		if v == nil {
			return fmt.Errorf("CA not found")
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

// seqKey packs nodeID and a bbolt sequence number so transitions for the
// same node sort together and in append order.
func seqKey(nodeID int, seq uint64) []byte {
	key := make([]byte, 4+8)
	binary.BigEndian.PutUint32(key[0:4], uint32(nodeID))
	binary.BigEndian.PutUint64(key[4:12], seq)
	return key
}

func nodePrefix(nodeID int) []byte {
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(nodeID))
	return prefix
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
