package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var slugPattern = regexp.MustCompile(`[^-\w.]`)

// Store reads and writes service records below a state directory, one JSON
// file per service. It also guarantees that freshly generated service UUIDs
// are unique across all records it has handed out.
type Store struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	uuids map[uuid.UUID]bool
	cache map[string]*ServiceRecord
}

func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger,
		uuids:  make(map[uuid.UUID]bool),
		cache:  make(map[string]*ServiceRecord),
	}
}

// Load returns the record for the named service, creating a new one with a
// fresh unique UUID if none exists on disk. Records written by older versions
// are upgraded field by field and persisted back.
func (s *Store) Load(name string) (*ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.cache[name]; ok {
		return rec, nil
	}

	path := s.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read service record %s: %w", path, err)
		}
		s.logger.Warn("No service record found, creating a new one",
			zap.String("service", name),
			zap.String("path", path))
		rec := &ServiceRecord{
			Version: CurrentVersion,
			UUID:    s.uniqueUUID(),
		}
		if err := s.save(name, rec); err != nil {
			return nil, err
		}
		s.cache[name] = rec
		return rec, nil
	}

	var rec ServiceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("service record %s is corrupt: %w", path, err)
	}

	upgraded := s.upgrade(name, &rec)
	s.uuids[rec.UUID] = true
	if upgraded {
		if err := s.save(name, &rec); err != nil {
			return nil, err
		}
	}
	s.cache[name] = &rec
	return &rec, nil
}

// Save persists the record for the named service atomically.
func (s *Store) Save(name string, rec *ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[name] = rec
	return s.save(name, rec)
}

func (s *Store) save(name string, rec *ServiceRecord) error {
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal service record: %w", err)
	}

	// Write-then-rename so a crash mid-write never truncates the record.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write service record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace service record: %w", err)
	}
	return nil
}

func (s *Store) upgrade(name string, rec *ServiceRecord) bool {
	if rec.Version >= CurrentVersion {
		return false
	}

	s.logger.Info("Upgrading service record",
		zap.String("service", name),
		zap.Int("from", rec.Version),
		zap.Int("to", CurrentVersion))

	if rec.UUID == uuid.Nil {
		rec.UUID = s.uniqueUUID()
	}
	// v2: stirring state was added; zero values are valid defaults.
	rec.Version = CurrentVersion
	return true
}

func (s *Store) uniqueUUID() uuid.UUID {
	id := uuid.New()
	for s.uuids[id] {
		s.logger.Warn("Generated duplicate service UUID, retrying", zap.String("uuid", id.String()))
		id = uuid.New()
	}
	s.uuids[id] = true
	return id
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, slugify(name)+".json")
}

// slugify strips whitespace and filename-hostile characters from a service
// name so it can be used as a file name.
func slugify(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	return slugPattern.ReplaceAllString(name, "")
}
