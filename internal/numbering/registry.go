// Package numbering allocates document and account numbers.
//
// Numbers issued for a key strictly increase for the lifetime of the
// registry. A number handed out is never returned to the pool, even
// when the request that consumed it is rolled back; gaps are an
// accepted outcome.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Key identifies one number sequence.
type Key string

// DocumentKey builds the sequence key for a (book year, book) pair.
// Book names are compared case-insensitively.
func DocumentKey(year int, book string) Key {
	return Key(fmt.Sprintf("doc:%d:%s", year, strings.ToLower(strings.TrimSpace(book))))
}

// AccountKey builds the sequence key for an account number range.
func AccountKey(name string, from, thru int64) Key {
	return Key(fmt.Sprintf("acct:%s:%d-%d", strings.ToLower(strings.TrimSpace(name)), from, thru))
}

// ErrUnknownKey indicates Next was called before the key was seeded
// with SetMinimum. Callers must seed the floor from durable storage
// first so numbers are never reused after a restart.
var ErrUnknownKey = errors.New("numbering: key not seeded")

// RangeExhaustedError indicates the next number would exceed the
// ceiling. Floors holds the high-water mark reported by every
// subsystem consulted while seeding the key.
type RangeExhaustedError struct {
	Key       Key
	Attempted int64
	Ceiling   int64
	Floors    map[string]int64
}

func (e *RangeExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Floors))
	for source, floor := range e.Floors {
		parts = append(parts, fmt.Sprintf("%s=%d", source, floor))
	}
	sort.Strings(parts)
	return fmt.Sprintf("numbering: range exhausted for %s: next %d exceeds ceiling %d (floors: %s)",
		e.Key, e.Attempted, e.Ceiling, strings.Join(parts, " "))
}

// Registry hands out monotonically increasing numbers per key.
type Registry interface {
	// SetMinimum records that the next allocation for key must exceed
	// floor. Idempotent; keeps the maximum of all floors seen. The
	// source name identifies the subsystem the floor was read from.
	SetMinimum(ctx context.Context, key Key, floor int64, source string) error
	// Next returns last+step and advances the cursor. A ceiling of 0
	// means unbounded; exceeding a positive ceiling fails with
	// *RangeExhaustedError and does not advance the cursor.
	Next(ctx context.Context, key Key, step, ceiling int64) (int64, error)
}

// MemoryRegistry is the in-process Registry used for single-process
// deployments and tests. One registry-wide mutex guards all keys;
// per-key locking would buy nothing because the external ledger only
// ever allows one transaction cluster system-wide.
type MemoryRegistry struct {
	mu     sync.Mutex
	last   map[Key]int64
	floors map[Key]map[string]int64
}

// NewMemoryRegistry constructs an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		last:   make(map[Key]int64),
		floors: make(map[Key]map[string]int64),
	}
}

func (r *MemoryRegistry) SetMinimum(ctx context.Context, key Key, floor int64, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.last[key]; !ok || floor > current {
		r.last[key] = floor
	}
	marks := r.floors[key]
	if marks == nil {
		marks = make(map[string]int64)
		r.floors[key] = marks
	}
	if floor > marks[source] {
		marks[source] = floor
	}
	return nil
}

func (r *MemoryRegistry) Next(ctx context.Context, key Key, step, ceiling int64) (int64, error) {
	if step <= 0 {
		step = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.last[key]
	if !ok {
		return 0, ErrUnknownKey
	}
	next := last + step
	if ceiling > 0 && next > ceiling {
		return 0, &RangeExhaustedError{
			Key:       key,
			Attempted: next,
			Ceiling:   ceiling,
			Floors:    copyFloors(r.floors[key]),
		}
	}
	r.last[key] = next
	return next, nil
}

func copyFloors(marks map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(marks))
	for source, floor := range marks {
		out[source] = floor
	}
	return out
}
