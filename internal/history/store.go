package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"upcheck/internal/kv"
)

// Store keeps the latest execution of every unit of work.
type Store interface {
	// Load returns the latest execution recorded for work, or nil if there is none.
	Load(work string) (*Execution, error)

	// Save records exec as the latest execution of exec.Work.
	Save(exec Execution) error

	// List returns the names of all recorded work, sorted.
	List() ([]string, error)
}

// FileStore keeps one JSON document per unit of work:
//
//	<dir>/<escaped work name>.json
//
// Writes are atomic and durable (file sync, rename, directory sync).
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("history: dir is required")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(work string) string {
	return filepath.Join(s.dir, url.PathEscape(work)+".json")
}

func (s *FileStore) Load(work string) (*Execution, error) {
	if strings.TrimSpace(work) == "" {
		return nil, ErrWorkRequired
	}
	var exec Execution
	if err := readJSONStrict(s.path(work), &exec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load %q: %w", work, err)
	}
	if err := exec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid execution on disk for %q: %w", work, err)
	}
	return &exec, nil
}

func (s *FileStore) Save(exec Execution) error {
	if err := exec.Validate(); err != nil {
		return fmt.Errorf("invalid execution: %w", err)
	}
	if err := ensureDirDurable(s.dir, 0o755); err != nil {
		return fmt.Errorf("ensure history dir: %w", err)
	}
	data, err := jsonMarshalStable(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	if err := writeFileAtomicDurable(s.path(exec.Work), data, 0o644); err != nil {
		return fmt.Errorf("write execution: %w", err)
	}
	return nil
}

func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var works []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok {
			continue
		}
		work, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		works = append(works, work)
	}
	slices.Sort(works)
	return works, nil
}

const badgerPrefix = "history/"

// BadgerStore keeps executions in an embedded BadgerDB store owned by the caller.
type BadgerStore struct {
	store *kv.Store
}

func NewBadgerStore(store *kv.Store) *BadgerStore {
	return &BadgerStore{store: store}
}

func (s *BadgerStore) Load(work string) (*Execution, error) {
	if strings.TrimSpace(work) == "" {
		return nil, ErrWorkRequired
	}
	data, ok, err := s.store.Get(badgerPrefix + work)
	if err != nil || !ok {
		return nil, err
	}
	var exec Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("load %q: %w", work, err)
	}
	if err := exec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stored execution for %q: %w", work, err)
	}
	return &exec, nil
}

func (s *BadgerStore) Save(exec Execution) error {
	if err := exec.Validate(); err != nil {
		return fmt.Errorf("invalid execution: %w", err)
	}
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	return s.store.Set(badgerPrefix+exec.Work, data)
}

func (s *BadgerStore) List() ([]string, error) {
	return s.store.Keys(badgerPrefix)
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}
	if parent := filepath.Dir(dir); parent != dir {
		return fsyncDir(parent)
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
