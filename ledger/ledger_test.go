package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/krishimitra/krishimitra-api/models"
	"github.com/krishimitra/krishimitra-api/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}
func (brokenStore) Set(context.Context, string, string, string) error { return errors.New("disk on fire") }
func (brokenStore) Delete(context.Context, string) error              { return errors.New("disk on fire") }

func TestNamespaced(t *testing.T) {
	assert.Equal(t, "km_started_u1", Namespaced(Started, "u1"))
	assert.Equal(t, "km_session_used_bank_u1", Namespaced(Bank.SessionKey(), "u1"))
	assert.Equal(t, "km_started", Namespaced(Started, ""))
	assert.Equal(t, Key("crop_awarded"), Crop.AwardedKey())
}

func TestParseActivity(t *testing.T) {
	a, err := ParseActivity("quiz")
	require.NoError(t, err)
	assert.Equal(t, Quiz, a)

	_, err = ParseActivity("karaoke")
	assert.Error(t, err)
}

func TestLedgerReadWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := New(store, nil)

	l.SetFlag(ctx, "u1", Started, true)
	l.SetInt(ctx, "u1", QuizAwarded, 15)
	l.Set(ctx, "u1", SensorAwarded, "20.0")

	assert.True(t, l.Flag(ctx, "u1", Started))
	assert.False(t, l.Flag(ctx, "u2", Started), "other users are isolated")
	assert.Equal(t, 15, l.Int(ctx, "u1", QuizAwarded))
	assert.Equal(t, 20, l.Int(ctx, "u1", SensorAwarded))
	assert.Equal(t, 0, l.Int(ctx, "u1", CropAwarded))

	v, ok, _ := store.Get(ctx, "km_quiz_awarded_u1")
	assert.True(t, ok)
	assert.Equal(t, "15", v)
}

func TestClearAllAndResetSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := New(store, nil)

	for _, k := range AllKeys {
		l.Set(ctx, "u1", k, "1")
	}
	l.Set(ctx, "u2", Started, "1")

	l.ResetSession(ctx, "u1")
	for _, a := range Activities {
		assert.False(t, l.Done(ctx, "u1", a))
	}
	assert.True(t, l.Flag(ctx, "u1", ProfileAwarded), "awarded values survive a session reset")

	l.ClearAll(ctx, "u1")
	for _, k := range AllKeys {
		_, ok := l.Get(ctx, "u1", k)
		assert.False(t, ok, "key %s should be cleared", k)
	}
	assert.Equal(t, 1, store.Len())
}

func TestStoreFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	l := New(brokenStore{}, nil)

	assert.NotPanics(t, func() {
		l.Set(ctx, "u1", Started, "1")
		l.Remove(ctx, "u1", Started)
		l.ClearAll(ctx, "u1")
	})
	_, ok := l.Get(ctx, "u1", Started)
	assert.False(t, ok)
	assert.False(t, l.Flag(ctx, "u1", Started))
}

func TestLockSerializesPerActivity(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore(), nil)

	var wg sync.WaitGroup
	awards := 0
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("u1", Crop)
			defer unlock()
			if l.Done(ctx, "u1", Crop) {
				return
			}
			mu.Lock()
			awards++
			mu.Unlock()
			l.SetFlag(ctx, "u1", Crop.SessionKey(), true)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, awards)
}

func TestGormStore(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)

	l := New(NewGormStore(db), nil)
	l.Set(ctx, "u1", QuizAwarded, "10")
	l.Set(ctx, "u1", QuizAwarded, "15")
	assert.Equal(t, 15, l.Int(ctx, "u1", QuizAwarded))

	var count int64
	db.Model(&models.LedgerEntry{}).Count(&count)
	assert.Equal(t, int64(1), count, "set overwrites in place")

	l.Remove(ctx, "u1", QuizAwarded)
	_, ok := l.Get(ctx, "u1", QuizAwarded)
	assert.False(t, ok)
}
