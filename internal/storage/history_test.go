package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"personarelay/internal/config"
	"personarelay/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newFileHistory(t *testing.T) *FileHistory {
	t.Helper()
	h, err := NewFileHistory(t.TempDir())
	if err != nil {
		t.Fatalf("new file history: %v", err)
	}
	return h
}

// backends runs fn against every HistoryStore implementation.
func backends(t *testing.T, fn func(t *testing.T, store HistoryStore)) {
	t.Run("file", func(t *testing.T) { fn(t, newFileHistory(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, NewSQLHistory(openTestDB(t), "sqlite3")) })
}

func TestHistoryRoundTrip(t *testing.T) {
	backends(t, func(t *testing.T, store HistoryStore) {
		ctx := context.Background()
		at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		var want []models.HistoryEntry
		for i := 0; i < 5; i++ {
			e := models.NewHistoryEntry(models.SenderOther, fmt.Sprintf("line %d", i), at)
			if i == 3 {
				e.RequestID = "42"
			}
			want = append(want, e)
			if err := store.Append(ctx, "Fullgazz", "Elvith Ma'for", e); err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
		}
		got, err := store.ReadAll(ctx, "Fullgazz", "Elvith Ma'for")
		if err != nil {
			t.Fatalf("read all: %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("expected %d entries, got %d", len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("entry %d = %#v, want %#v", i, got[i], want[i])
			}
		}
		if got[0].Timestamp != "2024-01-02 03:04:05" {
			t.Fatalf("timestamp layout = %q", got[0].Timestamp)
		}
	})
}

func TestHistoryMissingIsEmpty(t *testing.T) {
	backends(t, func(t *testing.T, store HistoryStore) {
		got, err := store.ReadAll(context.Background(), "nobody", "Ghost")
		if err != nil {
			t.Fatalf("missing history must not fail: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("expected empty non-nil slice, got %#v", got)
		}
	})
}

func TestHistoryKeysAreIsolated(t *testing.T) {
	backends(t, func(t *testing.T, store HistoryStore) {
		ctx := context.Background()
		e := models.NewHistoryEntry(models.SenderSelf, "hi", time.Now())
		if err := store.Append(ctx, "a", "Ayla", e); err != nil {
			t.Fatal(err)
		}
		if err := store.Append(ctx, "b", "Ayla", e); err != nil {
			t.Fatal(err)
		}
		got, _ := store.ReadAll(ctx, "a", "Ayla")
		if len(got) != 1 {
			t.Fatalf("owner a has %d entries", len(got))
		}
	})
}

func TestHistorySetupIsIdempotent(t *testing.T) {
	backends(t, func(t *testing.T, store HistoryStore) {
		ctx := context.Background()
		for i := 0; i < 2; i++ {
			if err := store.Setup(ctx, "Fullgazz", "Elvith Ma'for"); err != nil {
				t.Fatalf("setup %d: %v", i, err)
			}
		}
	})
}

func TestHistoryConcurrentAppends(t *testing.T) {
	backends(t, func(t *testing.T, store HistoryStore) {
		ctx := context.Background()
		const writers, perWriter = 8, 10
		var wg sync.WaitGroup
		errCh := make(chan error, writers*perWriter)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					e := models.NewHistoryEntry(models.SenderAI, fmt.Sprintf("%d-%d", w, i), time.Now())
					if err := store.Append(ctx, "acct", "Ayla", e); err != nil {
						errCh <- err
					}
				}
			}(w)
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			t.Fatalf("append: %v", err)
		}
		got, err := store.ReadAll(ctx, "acct", "Ayla")
		if err != nil {
			t.Fatalf("read all: %v", err)
		}
		if len(got) != writers*perWriter {
			t.Fatalf("lost entries: got %d, want %d", len(got), writers*perWriter)
		}
	})
}

func TestFileHistoryLayout(t *testing.T) {
	root := t.TempDir()
	h, err := NewFileHistory(root)
	if err != nil {
		t.Fatal(err)
	}
	e := models.NewHistoryEntry(models.SenderSelf, "hello", time.Now())
	if err := h.Append(context.Background(), "Fullgazz", "Elvith Ma'for", e); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, "Fullgazz", "Elvith_Ma'for", "chat_history.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected history file at %s: %v", path, err)
	}

	if err := h.Append(context.Background(), "../escape", "a/b", e); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, ".._escape", "a_b", "chat_history.json")); err != nil {
		t.Fatalf("unsafe names must stay inside the root: %v", err)
	}
}

func TestFileHistoryCorruptFileIsStorageError(t *testing.T) {
	root := t.TempDir()
	h, _ := NewFileHistory(root)
	dir := filepath.Join(root, "acct", "Ayla")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "chat_history.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := h.ReadAll(context.Background(), "acct", "Ayla")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	err = h.Append(context.Background(), "acct", "Ayla", models.NewHistoryEntry(models.SenderSelf, "x", time.Now()))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("append on corrupt file must fail with ErrStorage, got %v", err)
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := NewKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = k.WithLock("key", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d", counter)
	}
	if k.size() != 0 {
		t.Fatalf("lock entries leaked: %d", k.size())
	}
}
