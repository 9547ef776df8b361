// Package store persists mediator entities as one JSON file per entity.
//
// Every file wraps its entity with a content hash; re-hashing on load must
// match or the file is quarantined (renamed with .corrupt) and the entity
// treated as absent. Rehydration optionally validates entities against a
// JSON schema before trusting them.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/canonicalize"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
)

// envelope wraps a persisted entity with its content hash.
type envelope struct {
	ContentHash string          `json:"content_hash"`
	Entity      json.RawMessage `json:"entity"`
}

// FileStore is a directory of JSON files, one per entity.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	schema *jsonschema.Schema
	logger *slog.Logger
}

// New creates the directory if needed. schemaJSON may be empty to skip
// schema validation on load.
func New(dir, schemaJSON string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{dir: dir, logger: logger}
	if schemaJSON != "" {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("entity.json", strings.NewReader(schemaJSON)); err != nil {
			return nil, fmt.Errorf("add schema resource: %w", err)
		}
		schema, err := compiler.Compile("entity.json")
		if err != nil {
			return nil, fmt.Errorf("compile schema: %w", err)
		}
		s.schema = schema
	}
	return s, nil
}

// Dir returns the store's root directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, sanitize(id)+".json")
}

// Save writes the entity atomically (temp file + rename), wrapped with its
// canonical content hash.
func (s *FileStore) Save(id string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal entity %s: %w", id, err)
	}
	hash, err := canonicalize.CanonicalHash(v)
	if err != nil {
		return fmt.Errorf("hash entity %s: %w", id, err)
	}
	data, err := json.MarshalIndent(envelope{ContentHash: hash, Entity: entity}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", id, err)
	}

	target := s.path(id)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename %s: %w", target, err)
	}
	return nil
}

// ErrNotFound is returned when no file exists for the requested entity.
var ErrNotFound = errors.New("entity not found")

// Load reads one entity into v, verifying its content hash and schema.
// A corrupt file is quarantined and reported as IntegrityError.
func (s *FileStore) Load(id string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(s.path(id), v)
}

func (s *FileStore) loadLocked(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return s.quarantine(path, fmt.Sprintf("malformed envelope: %v", err))
	}

	var generic interface{}
	if err := json.Unmarshal(env.Entity, &generic); err != nil {
		return s.quarantine(path, fmt.Sprintf("malformed entity: %v", err))
	}
	hash, err := canonicalize.CanonicalHash(generic)
	if err != nil {
		return fmt.Errorf("rehash %s: %w", path, err)
	}
	if hash != env.ContentHash {
		return s.quarantine(path, fmt.Sprintf("hash mismatch: stored %s recomputed %s", env.ContentHash, hash))
	}

	if s.schema != nil {
		if err := s.schema.Validate(generic); err != nil {
			return s.quarantine(path, fmt.Sprintf("schema violation: %v", err))
		}
	}

	if err := json.Unmarshal(env.Entity, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// quarantine renames a corrupt file and returns an IntegrityError.
func (s *FileStore) quarantine(path, reason string) error {
	corrupt := path + ".corrupt"
	if err := os.Rename(path, corrupt); err != nil {
		s.logger.Error("quarantine rename failed", "path", path, "error", err)
	} else {
		s.logger.Error("quarantined corrupt entity", "path", corrupt, "reason", reason)
	}
	return &errs.IntegrityError{Path: path, Reason: reason}
}

// List returns the IDs of all persisted entities, skipping quarantined and
// temp files.
func (s *FileStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// LoadEach rehydrates every entity in the store, calling fn with the raw ID.
// fn receives a fresh target from newTarget for each file. Corrupt files are
// logged and skipped; rehydration never fails the component.
func (s *FileStore) LoadEach(newTarget func() interface{}, fn func(id string, v interface{})) error {
	ids, err := s.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		v := newTarget()
		if err := s.Load(id, v); err != nil {
			var ie *errs.IntegrityError
			if errors.As(err, &ie) {
				continue // already quarantined and logged
			}
			s.logger.Error("skipping unreadable entity", "id", id, "error", err)
			continue
		}
		fn(id, v)
	}
	return nil
}

// Delete removes a persisted entity. Missing files are not an error.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// sanitize keeps entity IDs filesystem-safe.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
