// Package store persists scan results in a local BoltDB file and
// indexes them by cache key so duplicate uploads skip the cascade.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/docuflow/receiptscan/internal/extract"
)

const (
	resultsBucketName = "results"
	cacheBucketName   = "cache_index"
)

// ErrNotFound is returned when no result matches the lookup.
var ErrNotFound = errors.New("result not found")

// ScanResult is one persisted receipt scan.
type ScanResult struct {
	ID             string          `json:"id"`
	CacheKey       string          `json:"cache_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Language       string          `json:"language,omitempty"`
	EngineID       string          `json:"engine_id,omitempty"`
	Confidence     float64         `json:"confidence"`
	AdjustedScore  float64         `json:"adjusted_score"`
	EnginesTried   int             `json:"engines_tried"`
	ProcessingTime time.Duration   `json:"processing_time"`
	ContentHash    string          `json:"content_hash,omitempty"`
	PerceptualHash string          `json:"perceptual_hash,omitempty"`
	Record         *extract.Record `json:"record,omitempty"`
}

// DB defines the result storage operations.
type DB interface {
	// SaveResult persists a scan result, assigning an ID if missing
	SaveResult(result *ScanResult) error

	// GetResult retrieves a result by ID
	GetResult(id string) (*ScanResult, error)

	// GetByCacheKey retrieves a result by its cache key
	GetByCacheKey(key string) (*ScanResult, error)

	// ListResults returns all stored results
	ListResults() ([]*ScanResult, error)

	// DeleteResult removes a result and its cache index entry
	DeleteResult(id string) error

	// Count returns the number of stored results
	Count() (int, error)

	// Close closes the database
	Close() error
}

// BoltStore implements DB using BoltDB.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(resultsBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(cacheBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// SaveResult persists a scan result. A missing ID gets a fresh UUID and
// a zero CreatedAt is stamped with the current time.
func (b *BoltStore) SaveResult(result *ScanResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		if err := tx.Bucket([]byte(resultsBucketName)).Put([]byte(result.ID), data); err != nil {
			return err
		}
		if result.CacheKey != "" {
			return tx.Bucket([]byte(cacheBucketName)).Put([]byte(result.CacheKey), []byte(result.ID))
		}
		return nil
	})
}

// GetResult retrieves a result by ID.
func (b *BoltStore) GetResult(id string) (*ScanResult, error) {
	var result *ScanResult
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(resultsBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetByCacheKey retrieves a result through the cache index.
func (b *BoltStore) GetByCacheKey(key string) (*ScanResult, error) {
	var id string
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(cacheBucketName)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: cache key %s", ErrNotFound, key)
		}
		id = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.GetResult(id)
}

// ListResults returns all stored results.
func (b *BoltStore) ListResults() ([]*ScanResult, error) {
	results := make([]*ScanResult, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(resultsBucketName)).ForEach(func(k, v []byte) error {
			var result ScanResult
			if err := json.Unmarshal(v, &result); err != nil {
				return fmt.Errorf("unmarshaling result: %w", err)
			}
			results = append(results, &result)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// DeleteResult removes a result and its cache index entry.
func (b *BoltStore) DeleteResult(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(resultsBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		var result ScanResult
		if err := json.Unmarshal(data, &result); err != nil {
			return fmt.Errorf("unmarshaling result: %w", err)
		}
		if result.CacheKey != "" {
			if err := tx.Bucket([]byte(cacheBucketName)).Delete([]byte(result.CacheKey)); err != nil {
				return err
			}
		}
		return bucket.Delete([]byte(id))
	})
}

// Count returns the number of stored results.
func (b *BoltStore) Count() (int, error) {
	count := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(resultsBucketName)).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Close closes the database connection.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
