package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	BackendJSON = "json"
	BackendBolt = "bolt"
)

// Persister stores the serialized memory document. Load returns nil data
// without error when nothing has been persisted yet.
type Persister interface {
	Load() ([]byte, error)
	Save(data []byte) error
	Reset() error
	Close() error
}

func NewPersister(backend, path string) (Persister, error) {
	switch backend {
	case "", BackendJSON:
		return NewFilePersister(path), nil
	case BackendBolt:
		return NewBoltPersister(path)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", backend)
	}
}

// FilePersister keeps the document as an indented JSON file.
type FilePersister struct {
	path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

func (f *FilePersister) Load() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// Save writes through a temp file and rename so a crash never leaves a
// half-written document behind.
func (f *FilePersister) Save(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create memory dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write memory: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync memory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FilePersister) Reset() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *FilePersister) Close() error { return nil }

var (
	bucketMemory = []byte("memory")
	keyState     = []byte("state")
)

// BoltPersister keeps the document under a single key in a bbolt database.
type BoltPersister struct {
	db *bolt.DB
}

func NewBoltPersister(path string) (*BoltPersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create memory dir: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMemory)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucketMemory, err)
	}
	return &BoltPersister{db: db}, nil
}

func (b *BoltPersister) Load() ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMemory).Get(keyState); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, err
}

func (b *BoltPersister) Save(data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMemory).Put(keyState, data)
	})
}

func (b *BoltPersister) Reset() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMemory).Delete(keyState)
	})
}

func (b *BoltPersister) Close() error {
	return b.db.Close()
}
