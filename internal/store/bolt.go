package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const boltRootBucket = "pii_mappings"

// BoltStore is a Store backed by an embedded bbolt database. Each session is
// a nested bucket under the root bucket, keyed by masked value.
type BoltStore struct {
	db     *bolt.DB
	logger *zap.Logger
}

// NewBoltStore opens (or creates) the bbolt database at path and ensures the
// root bucket exists.
func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, storageErr("open bbolt", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltRootBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, storageErr("create bbolt bucket", err)
	}

	logger.Info("Mapping store initialized", zap.String("backend", "bolt"), zap.String("path", path))
	return &BoltStore{db: db, logger: logger}, nil
}

// sessionBucket names the nested bucket; bbolt rejects empty bucket names.
func sessionBucket(sessionID string) []byte {
	return []byte("s:" + sessionID)
}

func (s *BoltStore) Store(ctx context.Context, m *Mapping) error {
	if err := prepare(m); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(boltRootBucket))
		b, err := root.CreateBucketIfNotExists(sessionBucket(m.SessionID))
		if err != nil {
			return err
		}
		if b.Get([]byte(m.MaskedValue)) != nil {
			return ErrDuplicate
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(storedRecord{
			ID:            int64(seq),
			MaskedValue:   m.MaskedValue,
			OriginalValue: m.OriginalValue,
			Category:      m.Category,
			Context:       m.Context,
			SessionID:     m.SessionID,
			CreatedAt:     m.CreatedAt,
		})
		if err != nil {
			return err
		}
		m.ID = int64(seq)
		return b.Put([]byte(m.MaskedValue), data)
	})
	if errors.Is(err, ErrDuplicate) {
		return ErrDuplicate
	}
	if err != nil {
		return storageErr("put mapping", err)
	}
	return nil
}

func (s *BoltStore) GetAll(ctx context.Context, sessionID string) (map[string]string, error) {
	mappings, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return latest(mappings), nil
}

func (s *BoltStore) List(ctx context.Context, sessionID string) ([]Mapping, error) {
	var mappings []Mapping
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltRootBucket)).Bucket(sessionBucket(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec storedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				s.logger.Warn("Skipping undecodable mapping",
					zap.String("session_id", sessionID),
					zap.Error(err))
				return nil
			}
			mappings = append(mappings, rec.mapping())
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list mappings", err)
	}

	sort.Slice(mappings, func(i, j int) bool {
		if mappings[i].CreatedAt.Equal(mappings[j].CreatedAt) {
			return mappings[i].ID < mappings[j].ID
		}
		return mappings[i].CreatedAt.Before(mappings[j].CreatedAt)
	})
	return mappings, nil
}

func (s *BoltStore) Clear(ctx context.Context, sessionID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket([]byte(boltRootBucket)).DeleteBucket(sessionBucket(sessionID))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return storageErr("clear session", err)
	}
	return nil
}

func (s *BoltStore) Purge(ctx context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(boltRootBucket)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket([]byte(boltRootBucket))
		return err
	})
	if err != nil {
		return storageErr("purge", err)
	}
	s.logger.Info("All mappings purged", zap.String("backend", "bolt"))
	return nil
}

func (s *BoltStore) Ping(ctx context.Context) error {
	if err := s.db.View(func(tx *bolt.Tx) error { return nil }); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
