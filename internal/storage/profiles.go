package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"personarelay/internal/logger"
	"personarelay/internal/models"
)

// ProfileDirectory serves character profiles read from a directory of JSON
// files, keyed by the profile's "name" field.
type ProfileDirectory struct {
	dir string
	log *slog.Logger

	mu       sync.RWMutex
	profiles map[string]*models.CharacterProfile
}

func NewProfileDirectory(dir string) *ProfileDirectory {
	return &ProfileDirectory{
		dir:      dir,
		log:      logger.For("profiles"),
		profiles: make(map[string]*models.CharacterProfile),
	}
}

// Load (re)reads every profile file. Malformed files are skipped and logged.
// A missing directory yields an empty set.
func (d *ProfileDirectory) Load() error {
	entries, err := os.ReadDir(d.dir)
	if errors.Is(err, os.ErrNotExist) {
		d.log.Warn("profile directory missing", "dir", d.dir)
		d.replace(map[string]*models.CharacterProfile{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("read profile directory: %w", err)
	}

	loaded := make(map[string]*models.CharacterProfile, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".json") {
			continue
		}
		profile, err := readProfile(filepath.Join(d.dir, name))
		if err != nil {
			d.log.Warn("skip profile", "file", name, "err", err)
			continue
		}
		loaded[profile.Name] = profile
	}
	d.replace(loaded)
	d.log.Info("profiles loaded", "count", len(loaded))
	return nil
}

func (d *ProfileDirectory) replace(profiles map[string]*models.CharacterProfile) {
	d.mu.Lock()
	d.profiles = profiles
	d.mu.Unlock()
}

// Get returns a copy of the named profile.
func (d *ProfileDirectory) Get(name string) (*models.CharacterProfile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[name]
	if !ok {
		return nil, false
	}
	clone := *p
	return &clone, true
}

// Names lists the characters available to owner in lexical order. Profiles
// without an owner are available to every account.
func (d *ProfileDirectory) Names(owner string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.profiles))
	for name, p := range d.profiles {
		if p.Owner == "" || p.Owner == owner {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func readProfile(path string) (*models.CharacterProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p models.CharacterProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, errors.New("missing name field")
	}
	return &p, nil
}
