// Package acl holds the Automode access list: for every (network, channel)
// pair, a map from identity pattern to the prefix mode letters it grants.
package acl

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
)

var (
	// ErrNoEntries is returned when a channel has no access entries at all
	ErrNoEntries = errors.New("acl: no entries for channel")
	// ErrNoSuchMask is returned when a channel has entries but not the one asked for
	ErrNoSuchMask = errors.New("acl: no entry for mask")
)

// channelPrefixes are the characters a channel name may start with
const channelPrefixes = "#&+!"

// Key names one channel on one network
type Key struct {
	Network string
	Channel string
}

// String renders the key the way it is stored on disk: network name
// immediately followed by the channel name
func (k Key) String() string {
	return k.Network + k.Channel
}

// ParseKey splits a stored key at its first channel prefix character
func ParseKey(s string) (Key, bool) {
	i := strings.IndexAny(s, channelPrefixes)
	if i <= 0 || i == len(s)-1 {
		return Key{}, false
	}
	return Key{Network: s[:i], Channel: s[i:]}, true
}

// Entry is one access rule
type Entry struct {
	Mask  string
	Modes string
}

// Store is the in-memory access list with durable persistence. Channel
// names are stored as given; callers fold them with the network's
// casemapping first.
type Store struct {
	path string
	log  *zap.SugaredLogger

	mu sync.RWMutex
	db map[Key]map[string]string

	// saveMu serialises writers of the database file
	saveMu sync.Mutex
}

// NewStore creates an empty store persisted at path
func NewStore(path string, log *zap.SugaredLogger) *Store {
	return &Store{
		path: path,
		log:  log.Named("acl"),
		db:   make(map[Key]map[string]string),
	}
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// Load replaces the in-memory table with the contents of the database
// file. A missing, unreadable or corrupt file leaves the store empty and
// logs a warning; it never fails startup. Comments and trailing commas in
// the file are tolerated.
func (s *Store) Load() {
	db, err := s.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Infow("No access database yet, starting empty", "path", s.path)
		} else {
			s.log.Warnw("Could not load access database, starting empty", "path", s.path, "error", err)
		}
		db = make(map[Key]map[string]string)
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	s.log.Infow("Loaded access database", "path", s.path, "channels", len(db))
}

func (s *Store) read() (map[Key]map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var raw map[string]map[string]string
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}

	db := make(map[Key]map[string]string, len(raw))
	for name, entries := range raw {
		key, ok := ParseKey(name)
		if !ok {
			s.log.Warnw("Skipping malformed access database key", "key", name)
			continue
		}
		clean := make(map[string]string, len(entries))
		for mask, modes := range entries {
			if mask != "" && modes != "" {
				clean[mask] = modes
			}
		}
		if len(clean) > 0 {
			db[key] = clean
		}
	}
	return db, nil
}

// Save writes a consistent snapshot of the table to disk atomically:
// temp file, fsync, rename, then fsync of the directory.
func (s *Store) Save() error {
	// snapshot and write are one step: saves land in the order taken
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	raw := make(map[string]map[string]string, len(s.db))
	for key, entries := range s.db {
		copied := make(map[string]string, len(entries))
		for mask, modes := range entries {
			copied[mask] = modes
		}
		raw[key.String()] = copied
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return fmt.Errorf("encode access database: %w", err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}
	s.log.Debugw("Saved access database", "path", s.path, "channels", len(raw))
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}

	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dir, err)
	}
	return nil
}

// Set grants modes to mask in a channel, replacing any previous value
func (s *Store) Set(key Key, mask, modes string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.db[key]
	if !ok {
		entries = make(map[string]string)
		s.db[key] = entries
	}
	entries[mask] = modes
}

// Unset removes one mask from a channel. The channel key disappears with
// its last entry.
func (s *Store) Unset(key Key, mask string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.db[key]
	if !ok {
		return ErrNoEntries
	}
	if _, ok := entries[mask]; !ok {
		return ErrNoSuchMask
	}
	delete(entries, mask)
	if len(entries) == 0 {
		delete(s.db, key)
	}
	return nil
}

// Clear removes every entry of a channel
func (s *Store) Clear(key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.db[key]; !ok {
		return ErrNoEntries
	}
	delete(s.db, key)
	return nil
}

// Get returns a channel's entries sorted by mask, or nil when it has none
func (s *Store) Get(key Key) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.db[key]
	if !ok {
		return nil
	}
	out := make([]Entry, 0, len(entries))
	for mask, modes := range entries {
		out = append(out, Entry{Mask: mask, Modes: modes})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mask < out[j].Mask })
	return out
}

// Keys returns every key with entries, sorted
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.db))
	for key := range s.db {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Network != keys[j].Network {
			return keys[i].Network < keys[j].Network
		}
		return keys[i].Channel < keys[j].Channel
	})
	return keys
}

// Channels returns the channels of one network that have entries, sorted
func (s *Store) Channels(network string) []string {
	var out []string
	for _, key := range s.Keys() {
		if key.Network == network {
			out = append(out, key.Channel)
		}
	}
	return out
}

// Len returns the number of channels with entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.db)
}
