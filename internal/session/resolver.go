// Package session tracks which character each account is currently playing.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"personarelay/internal/models"
)

var ErrUnknownCharacter = errors.New("unknown character")

// HistorySetup prepares per-character history storage.
type HistorySetup interface {
	Setup(ctx context.Context, owner, character string) error
}

// CharacterSet is the set of character names an account owns.
type CharacterSet map[string]struct{}

func NewCharacterSet(names ...string) CharacterSet {
	set := make(CharacterSet, len(names))
	for _, n := range names {
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func (s CharacterSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the names in lexical order.
func (s CharacterSet) Sorted() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolution is the outcome of attributing one message.
type Resolution struct {
	Character string
	// Switched is set when this message made Character the new active one.
	Switched bool
}

func (r Resolution) OK() bool { return r.Character != "" }

// Resolver attributes classified messages to an account's active character.
type Resolver struct {
	store   Store
	history HistorySetup

	mu sync.Mutex
}

func NewResolver(store Store, history HistorySetup) *Resolver {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Resolver{store: store, history: history}
}

// Resolve returns the character a message belongs to. Own speech from a
// known character (or from a full-form line carrying the caller's account)
// makes that speaker active; everything else resolves to the current active
// character, falling back to the first known character when none is set.
func (r *Resolver) Resolve(ctx context.Context, msg models.ClassifiedMessage, known CharacterSet, account string) (Resolution, error) {
	if msg.Kind == models.KindNoise {
		return Resolution{}, nil
	}
	if msg.Kind == models.KindOwnSpeech && msg.Speaker != "" &&
		(known.Has(msg.Speaker) || (account != "" && msg.Account == account)) {
		return r.switchTo(ctx, account, msg.Speaker)
	}

	name, ok, err := r.store.Active(ctx, account)
	if err != nil {
		return Resolution{}, fmt.Errorf("load active character: %w", err)
	}
	if ok && name != "" {
		return Resolution{Character: name}, nil
	}
	if seeded := known.Sorted(); len(seeded) > 0 {
		return Resolution{Character: seeded[0]}, nil
	}
	return Resolution{}, nil
}

// Activate makes name the active character for account. Unlike Resolve the
// name must belong to known.
func (r *Resolver) Activate(ctx context.Context, account, name string, known CharacterSet) (Resolution, error) {
	if !known.Has(name) {
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownCharacter, name)
	}
	return r.switchTo(ctx, account, name)
}

// Active returns the stored active character without seeding.
func (r *Resolver) Active(ctx context.Context, account string) (string, bool, error) {
	return r.store.Active(ctx, account)
}

func (r *Resolver) switchTo(ctx context.Context, account, name string) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok, err := r.store.Active(ctx, account)
	if err != nil {
		return Resolution{}, fmt.Errorf("load active character: %w", err)
	}
	if ok && current == name {
		return Resolution{Character: name}, nil
	}
	if r.history != nil {
		if err := r.history.Setup(ctx, account, name); err != nil {
			return Resolution{}, fmt.Errorf("setup history for %s: %w", name, err)
		}
	}
	if err := r.store.SetActive(ctx, account, name); err != nil {
		return Resolution{}, fmt.Errorf("store active character: %w", err)
	}
	return Resolution{Character: name, Switched: true}, nil
}
