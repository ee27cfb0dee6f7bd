package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"personarelay/internal/models"
)

const historyFileName = "chat_history.json"

// FileHistory keeps each transcript as a JSON array on disk:
// <root>/<owner>/<Character_Name>/chat_history.json.
type FileHistory struct {
	root  string
	locks *KeyedMutex
}

func NewFileHistory(root string) (*FileHistory, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create history root: %w", err)
	}
	return &FileHistory{root: root, locks: NewKeyedMutex()}, nil
}

func (f *FileHistory) Setup(_ context.Context, owner, character string) error {
	if err := os.MkdirAll(f.dir(owner, character), 0o755); err != nil {
		return wrapErr("setup history", err)
	}
	return nil
}

// Append loads the whole array, appends and writes it back atomically while
// holding the per-key lock.
func (f *FileHistory) Append(ctx context.Context, owner, character string, entry models.HistoryEntry) error {
	path := f.path(owner, character)
	return f.locks.WithLock(path, func() error {
		if err := ctx.Err(); err != nil {
			return wrapErr("append history", err)
		}
		entries, err := readEntries(path)
		if err != nil {
			return wrapErr("append history", err)
		}
		entries = append(entries, entry)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return wrapErr("append history", err)
		}
		return wrapErr("append history", writeEntries(path, entries))
	})
}

func (f *FileHistory) ReadAll(_ context.Context, owner, character string) ([]models.HistoryEntry, error) {
	path := f.path(owner, character)
	var entries []models.HistoryEntry
	err := f.locks.WithLock(path, func() error {
		var err error
		entries, err = readEntries(path)
		return err
	})
	if err != nil {
		return nil, wrapErr("read history", err)
	}
	return entries, nil
}

func (f *FileHistory) dir(owner, character string) string {
	return filepath.Join(f.root, pathSegment(owner, "default"), pathSegment(character, "unknown"))
}

func (f *FileHistory) path(owner, character string) string {
	return filepath.Join(f.dir(owner, character), historyFileName)
}

func readEntries(path string) ([]models.HistoryEntry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	entries := []models.HistoryEntry{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return entries, nil
}

func writeEntries(path string, entries []models.HistoryEntry) error {
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".chat_history-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// pathSegment turns a name into a single safe directory name; spaces become
// underscores as in "Elvith_Ma'for".
func pathSegment(name, fallback string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		return fallback
	}
	return name
}
