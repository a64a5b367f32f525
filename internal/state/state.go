package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory
	// (~/.gallery-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	fetchTimesBucket = []byte("fetch_times")
	fileIDsBucket    = []byte("file_ids")
)

// State wraps a bbolt database for all persistent application state:
// the fetch time estimator's key-to-average map and the stable id
// assigned to each library path.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. All buckets are created on open.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(fetchTimesBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(fileIDsBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// AllFetchTimes returns the persisted estimator averages, keyed by
// classification key. Durations are stored as JSON millisecond counts.
func (s *State) AllFetchTimes() (map[string]time.Duration, error) {
	result := make(map[string]time.Duration)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(fetchTimesBucket)

		return b.ForEach(func(k, v []byte) error {
			var ms int64
			if err := json.Unmarshal(v, &ms); err != nil {
				return err
			}

			result[string(k)] = time.Duration(ms) * time.Millisecond

			return nil
		})
	})

	return result, err
}

// SaveFetchTimes persists the estimator averages, replacing any
// previously stored entries for the same keys.
func (s *State) SaveFetchTimes(avgs map[string]time.Duration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(fetchTimesBucket)

		for key, avg := range avgs {
			data, err := json.Marshal(avg.Milliseconds())
			if err != nil {
				return err
			}

			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}

		return nil
	})
}

// FileID returns the stable id assigned to a library path, or empty
// string if none has been assigned yet.
func (s *State) FileID(path string) (string, error) {
	var id string

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(fileIDsBucket).Get([]byte(path))
		if v != nil {
			id = string(v)
		}

		return nil
	})

	return id, err
}

// SetFileIDs persists id assignments for newly discovered paths.
func (s *State) SetFileIDs(ids map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(fileIDsBucket)

		for path, id := range ids {
			if err := b.Put([]byte(path), []byte(id)); err != nil {
				return err
			}
		}

		return nil
	})
}

// AllFileIDs returns every persisted path-to-id assignment.
func (s *State) AllFileIDs() (map[string]string, error) {
	result := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(fileIDsBucket)

		return b.ForEach(func(k, v []byte) error {
			result[string(k)] = string(v)
			return nil
		})
	})

	return result, err
}

// DeleteFileID removes the id assignment for a path. Called when a
// file disappears from the library for good.
func (s *State) DeleteFileID(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(fileIDsBucket).Delete([]byte(path))
	})
}
