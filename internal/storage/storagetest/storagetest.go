// Package storagetest is a conformance suite every storage.Store
// implementation runs from its own tests.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletop-server/internal/storage"
)

// Factory returns an empty store. Cleanup is the factory's responsibility.
type Factory func(t *testing.T) storage.Store

// Run executes the full suite against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("LoadMissing", func(t *testing.T) { testLoadMissing(t, factory) })
	t.Run("SaveAndLoad", func(t *testing.T) { testSaveAndLoad(t, factory) })
	t.Run("SaveIncrementsVersion", func(t *testing.T) { testSaveIncrementsVersion(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("ListNewestFirstWithLimit", func(t *testing.T) { testList(t, factory) })
	t.Run("IsolationBetweenIDs", func(t *testing.T) { testIsolation(t, factory) })
	t.Run("Ping", func(t *testing.T) { testPing(t, factory) })
}

func ctxFor(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func blob(id string, n int) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"n":%d,"maps":[]}`, id, n))
}

func testLoadMissing(t *testing.T, factory Factory) {
	s := factory(t)
	_, err := s.Load(ctxFor(t), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testSaveAndLoad(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxFor(t)
	before := time.Now().Add(-time.Second)

	rec, err := s.Save(ctx, "abc123", blob("abc123", 1))
	require.NoError(t, err)
	assert.Equal(t, "abc123", rec.ID)
	assert.Equal(t, int64(1), rec.Version)
	assert.True(t, rec.UpdatedAt.After(before), "updated_at %v should be recent", rec.UpdatedAt)

	got, err := s.Load(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.ID)
	assert.Equal(t, int64(1), got.Version)
	assert.JSONEq(t, string(blob("abc123", 1)), string(got.Data))
	assert.WithinDuration(t, rec.UpdatedAt, got.UpdatedAt, time.Millisecond)
}

func testSaveIncrementsVersion(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxFor(t)

	for i := 1; i <= 3; i++ {
		rec, err := s.Save(ctx, "abc123", blob("abc123", i))
		require.NoError(t, err)
		assert.Equal(t, int64(i), rec.Version)
	}

	got, err := s.Load(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.JSONEq(t, string(blob("abc123", 3)), string(got.Data))
}

func testDelete(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxFor(t)

	_, err := s.Save(ctx, "abc123", blob("abc123", 1))
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.Load(ctx, "abc123")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	rec, err := s.Save(ctx, "abc123", blob("abc123", 2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version, "version restarts after delete")
}

func testList(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxFor(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Save(ctx, id, blob(id, 1))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	recs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)

	_, err = s.Save(ctx, "a", blob("a", 2))
	require.NoError(t, err)

	recs, err = s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{recs[0].ID, recs[1].ID, recs[2].ID})
	assert.Equal(t, int64(2), recs[0].Version)
}

func testIsolation(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxFor(t)

	_, err := s.Save(ctx, "one", blob("one", 1))
	require.NoError(t, err)
	_, err = s.Save(ctx, "two", blob("two", 7))
	require.NoError(t, err)
	_, err = s.Save(ctx, "two", blob("two", 8))
	require.NoError(t, err)

	one, err := s.Load(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, int64(1), one.Version)
	assert.JSONEq(t, string(blob("one", 1)), string(one.Data))

	_, err = s.Delete(ctx, "one")
	require.NoError(t, err)
	two, err := s.Load(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, int64(2), two.Version)
}

func testPing(t *testing.T, factory Factory) {
	s := factory(t)
	assert.NoError(t, s.Ping(ctxFor(t)))
}
