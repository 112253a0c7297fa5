package storage

import (
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	bolt "go.etcd.io/bbolt"
)

// Database is a generic interface for a key-value store so the ledger can run
// against an in-memory backend in tests and a persistent one in production.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Close()
}

// ErrNotFound is returned when a key has no value in the store.
var ErrNotFound = fmt.Errorf("storage: key not found")

// IsNotFound reports whether the error indicates a missing key rather than an
// infrastructure failure.
func IsNotFound(err error) bool {
	return err == ErrNotFound
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

// --- LevelDB (default persistent backend) ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if err == lerrors.ErrNotFound {
		return nil, ErrNotFound
	}
	return value, err
}

// Delete removes a key-value pair.
func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}

// --- Bolt (single-file persistent backend) ---

var boltBucket = []byte("ledger")

// BoltDB is a persistent key-value store backed by a single bbolt file. It
// trades LevelDB's write throughput for a simpler operational footprint.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB creates or opens a bbolt database at the specified path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (bdb *BoltDB) Put(key []byte, value []byte) error {
	return bdb.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
}

// Get retrieves a value for a given key.
func (bdb *BoltDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := bdb.db.View(func(tx *bolt.Tx) error {
		stored := tx.Bucket(boltBucket).Get(key)
		if stored == nil {
			return ErrNotFound
		}
		value = append([]byte(nil), stored...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete removes a key-value pair.
func (bdb *BoltDB) Delete(key []byte) error {
	return bdb.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
}

// Close closes the database connection.
func (bdb *BoltDB) Close() {
	bdb.db.Close()
}
