// Package ledger is the per-user flag and value store behind the trust
// score activities. Every entry is namespaced by user id. Storage failures
// never surface to callers: reads degrade to misses and writes to no-ops.
package ledger

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
)

// Store is the durable backend. Keys passed to a Store are already
// namespaced.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, userID, key, value string) error
	Delete(ctx context.Context, key string) error
}

type Ledger struct {
	store Store
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store: store,
		log:   logger.With("component", "ledger"),
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) Get(ctx context.Context, userID string, key Key) (string, bool) {
	v, ok, err := l.store.Get(ctx, Namespaced(key, userID))
	if err != nil {
		l.log.Warn("ledger read failed", "key", key, "user_id", userID, "error", err)
		return "", false
	}
	return v, ok
}

func (l *Ledger) Set(ctx context.Context, userID string, key Key, value string) {
	if err := l.store.Set(ctx, userID, Namespaced(key, userID), value); err != nil {
		l.log.Warn("ledger write failed", "key", key, "user_id", userID, "error", err)
	}
}

func (l *Ledger) Remove(ctx context.Context, userID string, key Key) {
	if err := l.store.Delete(ctx, Namespaced(key, userID)); err != nil {
		l.log.Warn("ledger delete failed", "key", key, "user_id", userID, "error", err)
	}
}

// ClearAll removes every known key for the user.
func (l *Ledger) ClearAll(ctx context.Context, userID string) {
	for _, k := range AllKeys {
		l.Remove(ctx, userID, k)
	}
}

// ResetSession drops the session_used guards so each activity can score
// once more in the new login session.
func (l *Ledger) ResetSession(ctx context.Context, userID string) {
	for _, a := range Activities {
		l.Remove(ctx, userID, a.SessionKey())
	}
}

// Flag reports whether key holds "1".
func (l *Ledger) Flag(ctx context.Context, userID string, key Key) bool {
	v, ok := l.Get(ctx, userID, key)
	return ok && v == "1"
}

func (l *Ledger) SetFlag(ctx context.Context, userID string, key Key, on bool) {
	if on {
		l.Set(ctx, userID, key, "1")
		return
	}
	l.Set(ctx, userID, key, "0")
}

// Int parses key as a number, treating missing or malformed values as 0.
// Fractional values are truncated.
func (l *Ledger) Int(ctx context.Context, userID string, key Key) int {
	v, ok := l.Get(ctx, userID, key)
	if !ok || v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return int(f)
}

func (l *Ledger) SetInt(ctx context.Context, userID string, key Key, n int) {
	l.Set(ctx, userID, key, strconv.Itoa(n))
}

// Done reports whether the activity has scored in the current session.
func (l *Ledger) Done(ctx context.Context, userID string, a Activity) bool {
	return l.Flag(ctx, userID, a.SessionKey())
}

// Lock serializes the guard-check-then-write sequence of one activity for
// one user. The returned func releases the lock.
func (l *Ledger) Lock(userID string, a Activity) func() {
	name := userID + "/" + string(a)
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
