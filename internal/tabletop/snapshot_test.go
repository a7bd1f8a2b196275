package tabletop

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSession("abc123", created)
	s.JoinPlayer("A", "Alice", "c1", created)
	s.JoinPlayer("B", "Bob", "c2", created)

	s.AddMap(item("m1"))
	s.SetTokens([]json.RawMessage{item("t1")})
	s.AppendDrawing(json.RawMessage(`{"p":[1]}`))
	fog := "fog-global"
	s.SetFog(&fog)
	s.SetGrid(GridSettings{Enabled: false, Size: 32, Color: "#fff", LineWidth: 2})

	s.CreateScene("s1", "Cave")
	visible := []string{"A"}
	_, err := s.UpdateScene("s1", SceneUpdate{VisibleToPlayers: &visible})
	require.NoError(t, err)
	_, err = s.SwitchScene("s1")
	require.NoError(t, err)
	s.AddEntity(item("e1"))

	_, err = s.SendMessage("A", "B", "hi", created)
	require.NoError(t, err)
	_, err = s.SendMessage(MasterID, "A", "yo", created)
	require.NoError(t, err)
	s.Touch(created.Add(time.Minute))

	data, err := s.Snapshot()
	require.NoError(t, err)

	r, err := RestoreSession(data)
	require.NoError(t, err)

	assert.Equal(t, "abc123", r.ID)
	assert.Equal(t, s.Content, r.Content)
	assert.Equal(t, s.Grid, r.Grid)
	assert.Equal(t, "s1", r.ActiveSceneID)
	require.Len(t, r.Scenes, 1)
	assert.True(t, r.Scenes[0].Active)
	assert.Equal(t, []string{"A"}, r.Scenes[0].VisibleToPlayers)
	assert.Len(t, r.Scenes[0].Entities, 1)
	assert.True(t, created.Equal(r.CreatedAt))
	assert.True(t, created.Add(time.Minute).Equal(r.UpdatedAt))

	assert.Empty(t, r.Players, "players are transient")
	assert.Empty(t, r.MasterConnID)

	ab := r.Conversation("A", "B")
	ba := r.Conversation("B", "A")
	require.Len(t, ab, 1)
	assert.Same(t, ab[0], ba[0])
	assert.Equal(t, 1, r.Unread("B", "A"))
	assert.Equal(t, 1, r.Unread(MasterID, "A|B"))
	assert.Equal(t, 1, r.Unread("A", MasterID))

	r.JoinPlayer("A", "Alice", "c9", time.Now())
	r.JoinPlayer("B", "Bob", "c10", time.Now())
	m, err := r.SendMessage("A", "B", "again", created)
	require.NoError(t, err)
	assert.Equal(t, "1772359200000_A_B_3", m.ID, "sequence continues after restore")
}

// Test: Granted permissions do not outlive a restore
// Why: Snapshots carry board state only; a returning player starts on defaults
func TestSnapshotRestore_DropsPermissions(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSession("abc123", now)
	s.JoinPlayer("A", "Alice", "c1", now)
	require.True(t, s.SetPermissions("A", Permissions{MoveTokens: []string{"t1"}, Draw: true, Ping: false}))

	data, err := s.Snapshot()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "moveTokens")

	r, err := RestoreSession(data)
	require.NoError(t, err)
	assert.Empty(t, r.Permissions)

	r.JoinPlayer("A", "Alice", "c2", now)
	assert.Equal(t, DefaultPermissions(), r.PermissionsFor("A"))
}

func TestRestoreSession_DanglingActiveScene(t *testing.T) {
	raw := `{"format":1,"id":"x","content":{},"scenes":[{"id":"s1","name":"One","active":true}],"active_scene_id":"gone"}`
	r, err := RestoreSession([]byte(raw))
	require.NoError(t, err)

	assert.Empty(t, r.ActiveSceneID)
	require.Len(t, r.Scenes, 1)
	assert.False(t, r.Scenes[0].Active)
	assert.NotNil(t, r.Scenes[0].Maps)
	assert.NotNil(t, r.Maps)
}

func TestRestoreSession_Rejects(t *testing.T) {
	_, err := RestoreSession([]byte(`not json`))
	assert.Error(t, err)

	_, err = RestoreSession([]byte(`{"format":1}`))
	assert.Error(t, err)

	_, err = RestoreSession([]byte(`{"format":99,"id":"x"}`))
	assert.Error(t, err)
}
