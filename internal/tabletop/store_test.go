package tabletop

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetOrCreateDefaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	st := NewStore(WithClock(func() time.Time { return now }))

	s := st.GetOrCreate("abc123")
	assert.Same(t, s, st.GetOrCreate("abc123"))
	assert.Equal(t, 1, st.Len())

	assert.Equal(t, DefaultGridSettings(), s.Grid)
	assert.Empty(t, s.Maps)
	assert.Empty(t, s.Scenes)
	assert.Empty(t, s.ActiveSceneID)
	assert.Equal(t, now, s.CreatedAt)

	raw, err := json.Marshal(s.Grid)
	require.NoError(t, err)
	assert.JSONEq(t, `{"enabled":true,"size":50,"color":"rgba(155,89,182,0.3)","lineWidth":1}`, string(raw))
}

func TestStore_ViewDoesNotCreate(t *testing.T) {
	st := NewStore()
	called := false
	assert.False(t, st.View("missing", func(*Session) { called = true }))
	assert.False(t, called)
	assert.Equal(t, 0, st.Len())
}

func TestStore_PutDeleteIDs(t *testing.T) {
	st := NewStore()
	st.GetOrCreate("b")
	st.Put(NewSession("a", time.Now()))

	assert.Equal(t, []string{"a", "b"}, st.IDs())
	assert.True(t, st.Delete("a"))
	assert.False(t, st.Delete("a"))
	_, ok := st.Get("a")
	assert.False(t, ok)
}

// Concurrent read-modify-write on one session must not lose updates.
func TestStore_UpdateSerializesPerSession(t *testing.T) {
	st := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st.Update("abc123", func(s *Session) {
				s.AddMap(item(fmt.Sprintf("m%d", i)))
			})
		}(i)
	}
	wg.Wait()

	st.View("abc123", func(s *Session) {
		assert.Len(t, s.Maps, 50)
	})
}

// Two full token submissions race; whichever the store applies last is the
// stored list, never a merge.
func TestStore_TokenRaceLastWriterWins(t *testing.T) {
	st := NewStore()
	a := []json.RawMessage{item("t1", "a"), item("t2", "a")}
	b := []json.RawMessage{item("t3", "b")}

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, tokens := range map[string][]json.RawMessage{"a": a, "b": b} {
		wg.Add(1)
		go func(name string, tokens []json.RawMessage) {
			defer wg.Done()
			st.Update("abc123", func(s *Session) {
				s.SetTokens(tokens)
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
			})
		}(name, tokens)
	}
	wg.Wait()

	require.Len(t, order, 2)
	want := a
	if order[1] == "b" {
		want = b
	}
	st.View("abc123", func(s *Session) {
		assert.Equal(t, want, s.Tokens)
	})
}

func TestStore_DifferentSessionsDoNotBlock(t *testing.T) {
	st := NewStore()
	entered := make(chan struct{})
	release := make(chan struct{})

	go st.Update("one", func(*Session) {
		close(entered)
		<-release
	})
	<-entered

	done := make(chan struct{})
	go func() {
		st.Update("two", func(*Session) {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("update on another session blocked")
	}
	close(release)
}
