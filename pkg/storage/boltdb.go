package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/bagleyctf/labrange/pkg/log"
	"github.com/bagleyctf/labrange/pkg/types"
)

var (
	// Bucket names
	bucketLabs       = []byte("labs")
	bucketRateLimits = []byte("rate_limits")
	bucketVerified   = []byte("verified_members")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db     *bolt.DB
	logger func(err error, bucket, key string)
}

// NewBoltStore opens (or creates) the orchestrator database under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "labrange.db")

	// The file lock is exclusive; a bounded wait keeps a second process
	// from blocking forever behind a running daemon.
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("database %s is locked by another labrange process (is serve running?): %w", dbPath, err)
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketLabs, bucketRateLimits, bucketVerified} {
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

	return &BoltStore{db: db, logger: logCorrupt}, nil
}

// logCorrupt records an undecodable record. Corruption is recovered by
// treating the record as absent, never propagated to the caller.
func logCorrupt(err error, bucket, key string) {
	log.Logger.Error().
		Err(fmt.Errorf("%w: %v", types.ErrPersistenceCorrupt, err)).
		Str("bucket", bucket).
		Str("key", key).
		Msg("skipping unreadable record")
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Lab registry operations

func (s *BoltStore) PutLab(lab *types.LabInstance) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLabs)
		data, err := json.Marshal(lab)
		if err != nil {
			return err
		}
		return b.Put([]byte(lab.Name), data)
	})
}

func (s *BoltStore) GetLab(name string) (*types.LabInstance, error) {
	var lab types.LabInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLabs)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("lab %s: %w", name, types.ErrNotFound)
		}
		if err := json.Unmarshal(data, &lab); err != nil {
			s.logger(err, "labs", name)
			return fmt.Errorf("lab %s: %w", name, types.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &lab, nil
}

func (s *BoltStore) ListLabs() ([]*types.LabInstance, error) {
	var labs []*types.LabInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLabs)
		return b.ForEach(func(k, v []byte) error {
			var lab types.LabInstance
			if err := json.Unmarshal(v, &lab); err != nil {
				s.logger(err, "labs", string(k))
				return nil
			}
			labs = append(labs, &lab)
			return nil
		})
	})
	return labs, err
}

func (s *BoltStore) ListLabsByOwner(owner string) ([]*types.LabInstance, error) {
	labs, err := s.ListLabs()
	if err != nil {
		return nil, err
	}

	var filtered []*types.LabInstance
	for _, lab := range labs {
		if lab.Owner == owner {
			filtered = append(filtered, lab)
		}
	}
	return filtered, nil
}

func (s *BoltStore) DeleteLab(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLabs)
		return b.Delete([]byte(name))
	})
}

// Rate limiter operations

func (s *BoltStore) GetRateLimit(identity string) (*types.RateLimitEntry, error) {
	var entry *types.RateLimitEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRateLimits)
		data := b.Get([]byte(identity))
		if data == nil {
			return nil
		}
		var e types.RateLimitEntry
		if err := json.Unmarshal(data, &e); err != nil {
			s.logger(err, "rate_limits", identity)
			return nil
		}
		entry = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		// Lazily created on first request
		entry = &types.RateLimitEntry{}
	}
	return entry, nil
}

func (s *BoltStore) PutRateLimit(identity string, entry *types.RateLimitEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRateLimits)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(identity), data)
	})
}

// Verified member operations

func (s *BoltStore) PutVerifiedMember(member *types.VerifiedMember) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVerified)
		data, err := json.Marshal(member)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(member.Identity), data); err != nil {
			return err
		}
		// Also indexed by numeric id so grants hold when only the id
		// is known at check time.
		if member.NumericID != 0 {
			key := strconv.FormatInt(member.NumericID, 10)
			return b.Put([]byte(key), data)
		}
		return nil
	})
}

func (s *BoltStore) GetVerifiedMember(identity string) (*types.VerifiedMember, error) {
	var member types.VerifiedMember
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVerified)
		data := b.Get([]byte(identity))
		if data == nil {
			return fmt.Errorf("member %s: %w", identity, types.ErrNotFound)
		}
		if err := json.Unmarshal(data, &member); err != nil {
			s.logger(err, "verified_members", identity)
			return fmt.Errorf("member %s: %w", identity, types.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *BoltStore) ListVerifiedMembers() ([]*types.VerifiedMember, error) {
	seen := make(map[string]bool)
	var members []*types.VerifiedMember
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVerified)
		return b.ForEach(func(k, v []byte) error {
			var m types.VerifiedMember
			if err := json.Unmarshal(v, &m); err != nil {
				s.logger(err, "verified_members", string(k))
				return nil
			}
			if seen[m.Identity] {
				return nil
			}
			seen[m.Identity] = true
			members = append(members, &m)
			return nil
		})
	})
	return members, err
}
