// Package memo turns units of work into invocations that are known whenever their
// result is already cached.
//
// A Work is keyed by the combined digest of its identity and input snapshots. If the
// cache holds an entry for that key, the Runner returns a Known invocation and
// nothing executes. Otherwise the invocation is Deferred: running it executes the
// work once, stores the output and returns it.
//
// Failed executions are not cached; the next run tries again.
package memo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"upcheck/internal/kv"
)

// ErrNilEntry is returned when Put is called with a nil entry.
var ErrNilEntry = errors.New("memo: cache entry is nil")

// Key identifies a cache entry. It is the hex encoding of a digest.
type Key string

// Entry is a stored result of executing a unit of work.
type Entry struct {
	// Key is the work key this entry belongs to.
	Key Key `json:"key"`

	// Work is the name of the work that produced the entry, for diagnostics.
	Work string `json:"work"`

	// Output is the work's result.
	Output []byte `json:"output"`
}

func (e *Entry) clone() *Entry {
	out := *e
	out.Output = append([]byte(nil), e.Output...)
	return &out
}

// Cache stores and retrieves work results.
type Cache interface {
	// Has reports whether an entry exists for key.
	Has(key Key) (bool, error)

	// Get returns the entry for key, or nil if there is none.
	Get(key Key) (*Entry, error)

	// Put stores an entry, replacing any previous entry with the same key.
	Put(entry *Entry) error
}

// MemoryCache is an in-memory Cache, safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[Key]*Entry)}
}

func (c *MemoryCache) Has(key Key) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok, nil
}

func (c *MemoryCache) Get(key Key) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return e.clone(), nil
}

func (c *MemoryCache) Put(entry *Entry) error {
	if entry == nil {
		return ErrNilEntry
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Key] = entry.clone()
	return nil
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// FileCache is a Cache on the local filesystem.
//
// Layout:
//
//	{Dir}/
//	  {key[0:2]}/
//	    {key}/
//	      metadata.json  (key, work)
//	      output.blob
//
// Entries are written into a temporary directory and renamed into place, so a
// crash never leaves a partial entry at the canonical path.
type FileCache struct {
	Dir string
}

func NewFileCache(dir string) *FileCache {
	return &FileCache{Dir: dir}
}

func (c *FileCache) Has(key Key) (bool, error) {
	_, err := os.Stat(filepath.Join(c.entryPath(key), "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking cache entry: %w", err)
	}
	return true, nil
}

func (c *FileCache) Get(key Key) (*Entry, error) {
	dir := c.entryPath(key)
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache metadata: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parsing cache metadata: %w", err)
	}
	if entry.Output, err = os.ReadFile(filepath.Join(dir, "output.blob")); err != nil {
		return nil, fmt.Errorf("reading cache output: %w", err)
	}
	return &entry, nil
}

func (c *FileCache) Put(entry *Entry) error {
	if entry == nil {
		return ErrNilEntry
	}
	entryDir := c.entryPath(entry.Key)
	parentDir := filepath.Dir(entryDir)
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmpDir, err := os.MkdirTemp(parentDir, "tmp-entry-")
	if err != nil {
		return fmt.Errorf("creating temp cache entry dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	// The blob goes first so metadata only appears once the output is complete.
	if err := writeFileAtomic(filepath.Join(tmpDir, "output.blob"), entry.Output, 0o644); err != nil {
		return fmt.Errorf("writing cache output: %w", err)
	}
	data, err := json.MarshalIndent(Entry{Key: entry.Key, Work: entry.Work}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache metadata: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(tmpDir, "metadata.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing cache metadata: %w", err)
	}

	// A crash between remove and rename yields a miss, not corruption.
	_ = os.RemoveAll(entryDir)
	if err := os.Rename(tmpDir, entryDir); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	committed = true
	return nil
}

func (c *FileCache) entryPath(key Key) string {
	s := string(key)
	if len(s) < 2 {
		return filepath.Join(c.Dir, s)
	}
	return filepath.Join(c.Dir, s[:2], s)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

const badgerPrefix = "memo/"

// BadgerCache is a Cache in an embedded BadgerDB store. The store is owned by the
// caller, which may share it with other consumers.
type BadgerCache struct {
	store *kv.Store
}

func NewBadgerCache(store *kv.Store) *BadgerCache {
	return &BadgerCache{store: store}
}

func (c *BadgerCache) Has(key Key) (bool, error) {
	return c.store.Has(badgerPrefix + string(key))
}

func (c *BadgerCache) Get(key Key) (*Entry, error) {
	data, ok, err := c.store.Get(badgerPrefix + string(key))
	if err != nil || !ok {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parsing cache entry %s: %w", key, err)
	}
	return &entry, nil
}

func (c *BadgerCache) Put(entry *Entry) error {
	if entry == nil {
		return ErrNilEntry
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	return c.store.Set(badgerPrefix+string(entry.Key), data)
}
