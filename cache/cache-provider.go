package cache

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// CacheProvider is an interface for a cache provider.
// It keeps a set of named caches and stores []byte values, which represent HTTP responses,
// under keys that start with the name of the cache they belong to.
// Entries are only ever added or replaced, never expired or deleted.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Open creates the named cache if it does not exist yet.
	// It returns true if the cache was created by this call.
	Open(name string) (bool, error)
	// Names returns the names of all caches, sorted.
	Names() ([]string, error)
	// All returns all cache entries that have the specific key prefix, ordered by key.
	All(prefix string) ([]CacheEntry, error)
	// PutAll stores all of the given entries, replacing entries with the same key.
	// Either every entry is stored or none is.
	PutAll(entries []CacheEntry) error
	// Keys calls the given callback for each key with the given prefix.
	Keys(prefix string, cb func(string)) error
}

type CacheEntry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}

type memCacheEntry struct {
	storedAt time.Time
	bytes    []byte
}

type MemCache struct {
	mutex *sync.RWMutex
	names map[string]time.Time
	db    map[string]memCacheEntry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		names: make(map[string]time.Time),
		db:    make(map[string]memCacheEntry),
	}
}

func (m MemCache) Open(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.names[name]; ok {
		return false, nil
	}
	m.names[name] = time.Now()
	return true, nil
}

func (m MemCache) Names() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.names))
	for name := range m.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemCache) All(prefix string) ([]CacheEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries := make([]CacheEntry, 0)
	for key, val := range m.db {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, CacheEntry{
				Key:      key,
				StoredAt: val.storedAt,
				Bytes:    val.bytes,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (m MemCache) PutAll(entries []CacheEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, e := range entries {
		m.db[e.Key] = memCacheEntry{e.StoredAt, e.Bytes}
	}
	return nil
}

func (m MemCache) Keys(prefix string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db))
	for key := range m.db {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mutex.RUnlock()
	sort.Strings(keys)
	// callback runs without the lock so it may use the cache
	for _, key := range keys {
		cb(key)
	}
	return nil
}

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache opens (or creates) the sqlite database in the given file.
// Use "file::memory:?cache=shared" for an in-memory database.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, fmt.Errorf("open %s: %w", filename, err)
	}
	statements := []string{
		"CREATE TABLE IF NOT EXISTS caches (name TEXT PRIMARY KEY, created INTEGER)",
		"CREATE TABLE IF NOT EXISTS entries (key TEXT PRIMARY KEY, stored INTEGER, bytes BLOB)",
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, fmt.Errorf("init %s: %w", filename, err)
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Open(name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.Exec("INSERT OR IGNORE INTO caches (name, created) VALUES (?, ?)", name, time.Now().Unix())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s SQLiteCache) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM caches ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// prefix matching uses substr instead of LIKE, since keys contain URLs which may contain '%' and '_'
const prefixCondition = "substr(key, 1, length(?1)) = ?1"

func (s SQLiteCache) All(prefix string) ([]CacheEntry, error) {
	entries := make([]CacheEntry, 0)
	rows, err := s.db.Query("SELECT key, stored, bytes FROM entries WHERE "+prefixCondition+" ORDER BY key", prefix)
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	for rows.Next() {
		var entry CacheEntry
		var stored int64
		if err := rows.Scan(&entry.Key, &stored, &entry.Bytes); err != nil {
			return entries, err
		}
		entry.StoredAt = time.Unix(stored, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s SQLiteCache) PutAll(entries []CacheEntry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := tx.Exec("INSERT OR REPLACE INTO entries (key, stored, bytes) VALUES (?, ?, ?)", e.Key, e.StoredAt.Unix(), e.Bytes); err != nil {
			tx.Rollback()
			return fmt.Errorf("put %s: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

func (s SQLiteCache) Keys(prefix string, cb func(string)) error {
	rows, err := s.db.Query("SELECT key FROM entries WHERE "+prefixCondition+" ORDER BY key", prefix)
	if err != nil {
		return err
	}
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}

// Close closes the underlying database.
func (s SQLiteCache) Close() error {
	return s.db.Close()
}
