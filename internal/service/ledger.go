package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Laisky/errors/v2"
	"github.com/agnivade/levenshtein"
)

// HistoryStore persists the ordered history list.
type HistoryStore interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, entries []string) error
}

// Ledger is the ordered set of validated queries, most recent first.
// Recording an existing query moves it to the front; entries never repeat.
type Ledger struct {
	mu      sync.Mutex
	store   HistoryStore
	entries []string
}

// NewLedger returns an empty ledger backed by store. A nil store keeps history in memory.
func NewLedger(store HistoryStore) *Ledger {
	return &Ledger{store: store}
}

// Load replaces the in-memory entries with the stored ones, dropping repeats.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	stored, err := l.store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load history")
	}
	seen := make(map[string]struct{}, len(stored))
	entries := make([]string, 0, len(stored))
	for _, q := range stored {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		entries = append(entries, q)
	}
	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	return nil
}

// Entries returns a copy, most recent first.
func (l *Ledger) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Record moves query to the most-recent position, adding it if absent.
func (l *Ledger) Record(ctx context.Context, query string) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}
	return l.mutate(ctx, func(cur []string) []string {
		next := make([]string, 0, len(cur)+1)
		next = append(next, q)
		for _, e := range cur {
			if e != q {
				next = append(next, e)
			}
		}
		return next
	})
}

// Delete removes one entry. Deleting an absent entry is a no-op.
func (l *Ledger) Delete(ctx context.Context, query string) error {
	q := strings.TrimSpace(query)
	return l.mutate(ctx, func(cur []string) []string {
		next := make([]string, 0, len(cur))
		for _, e := range cur {
			if e != q {
				next = append(next, e)
			}
		}
		return next
	})
}

// Clear empties the ledger.
func (l *Ledger) Clear(ctx context.Context) error {
	return l.mutate(ctx, func([]string) []string { return []string{} })
}

// mutate applies fn and persists the result. On save failure the in-memory
// entries are left as they were.
func (l *Ledger) mutate(ctx context.Context, fn func([]string) []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := fn(l.entries)
	if l.store != nil {
		if err := l.store.Save(ctx, next); err != nil {
			return errors.Wrap(err, "save history")
		}
	}
	l.entries = next
	return nil
}

// Suggest returns up to n entries resembling input: prefix matches first in
// recency order, then close misspellings by edit distance.
func (l *Ledger) Suggest(input string, n int) []string {
	in := strings.ToLower(strings.TrimSpace(input))
	entries := l.Entries()
	if n <= 0 {
		return nil
	}
	if in == "" {
		if len(entries) > n {
			entries = entries[:n]
		}
		return entries
	}

	var prefix []string
	type scored struct {
		q    string
		dist int
		rank int
	}
	var fuzzy []scored
	maxDist := len(in) / 3
	if maxDist < 2 {
		maxDist = 2
	}
	for i, e := range entries {
		lower := strings.ToLower(e)
		if strings.HasPrefix(lower, in) {
			prefix = append(prefix, e)
			continue
		}
		cmp := lower
		if len(cmp) > len(in) {
			cmp = cmp[:len(in)]
		}
		if d := levenshtein.ComputeDistance(in, cmp); d <= maxDist {
			fuzzy = append(fuzzy, scored{q: e, dist: d, rank: i})
		}
	}
	sort.SliceStable(fuzzy, func(i, j int) bool {
		if fuzzy[i].dist != fuzzy[j].dist {
			return fuzzy[i].dist < fuzzy[j].dist
		}
		return fuzzy[i].rank < fuzzy[j].rank
	})
	out := prefix
	for _, f := range fuzzy {
		out = append(out, f.q)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}
