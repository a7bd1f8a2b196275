package tabletop

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionWithScene(t *testing.T) *Session {
	t.Helper()
	s := NewSession("abc123", time.Now())
	s.JoinPlayer("p1", "Alice", "c1", time.Now())
	s.JoinPlayer("p2", "Bob", "c2", time.Now())

	s.CreateScene("s1", "Cave")
	fog := "fog-s1"
	maps := []json.RawMessage{item("m1")}
	visible := []string{"p1"}
	_, err := s.UpdateScene("s1", SceneUpdate{Maps: &maps, FogImage: &fog, VisibleToPlayers: &visible})
	require.NoError(t, err)
	return s
}

func TestCreateScene(t *testing.T) {
	s := NewSession("abc123", time.Now())
	sc := s.CreateScene("s1", "Cave")

	assert.False(t, sc.Active)
	assert.Empty(t, sc.VisibleToPlayers)
	assert.Empty(t, sc.Maps)
	assert.Nil(t, s.ActiveScene())
	assert.Len(t, s.Scenes, 1)
}

func TestSwitchScene_ExactlyOneActive(t *testing.T) {
	s := NewSession("abc123", time.Now())
	s.CreateScene("s1", "One")
	s.CreateScene("s2", "Two")

	_, err := s.SwitchScene("s1")
	require.NoError(t, err)
	_, err = s.SwitchScene("s2")
	require.NoError(t, err)

	active := 0
	for _, sc := range s.Scenes {
		if sc.Active {
			active++
			assert.Equal(t, "s2", sc.ID)
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, "s2", s.ActiveSceneID)

	_, err = s.SwitchScene("missing")
	assert.ErrorIs(t, err, ErrSceneNotFound)
	assert.Equal(t, "s2", s.ActiveSceneID)
}

func TestSceneViewFor_VisibleAndPlaceholder(t *testing.T) {
	s := sessionWithScene(t)
	_, err := s.SwitchScene("s1")
	require.NoError(t, err)

	view, visible, ok := s.SceneViewFor("p1")
	require.True(t, ok)
	assert.True(t, visible)
	assert.Len(t, view.Maps, 1)
	require.NotNil(t, view.FogImage)

	view, visible, ok = s.SceneViewFor("p2")
	require.True(t, ok)
	assert.False(t, visible)
	assert.Equal(t, "s1", view.ID)
	assert.Equal(t, "Cave", view.Name)
	assert.Empty(t, view.Maps)
	assert.Empty(t, view.Entities)
	assert.Empty(t, view.Tokens)
	assert.Empty(t, view.Drawings)
	assert.Nil(t, view.FogImage)

	raw, err := json.Marshal(view)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"s1","name":"Cave","active":true,"visible_to_players":[],
		"maps":[],"entities":[],"tokens":[],"drawings":[],"fog_image":null}`, string(raw))

	view, visible, _ = s.SceneViewFor(MasterID)
	assert.True(t, visible)
	assert.Len(t, view.Maps, 1)
}

func TestSceneViewFor_NoActiveScene(t *testing.T) {
	s := sessionWithScene(t)
	_, _, ok := s.SceneViewFor("p1")
	assert.False(t, ok)

	s.AddMap(item("global"))
	content := s.ContentFor("p2")
	require.Len(t, content.Maps, 1)
	assert.Equal(t, "global", ItemID(content.Maps[0]))
}

func TestToggleSceneVisibility(t *testing.T) {
	s := sessionWithScene(t)
	_, err := s.SwitchScene("s1")
	require.NoError(t, err)

	assert.False(t, s.CanSeeLive("p2"))
	_, err = s.ToggleSceneVisibility("s1", "p2")
	require.NoError(t, err)
	assert.True(t, s.CanSeeLive("p2"))

	view, visible, _ := s.SceneViewFor("p2")
	assert.True(t, visible)
	assert.Len(t, view.Maps, 1)

	_, err = s.ToggleSceneVisibility("s1", "p2")
	require.NoError(t, err)
	_, visible, _ = s.SceneViewFor("p2")
	assert.False(t, visible)

	_, err = s.ToggleSceneVisibility("nope", "p2")
	assert.ErrorIs(t, err, ErrSceneNotFound)
}

func TestDeleteScene_ActiveClearsPointer(t *testing.T) {
	s := sessionWithScene(t)
	s.CreateScene("s2", "Town")
	_, err := s.SwitchScene("s1")
	require.NoError(t, err)

	wasActive, err := s.DeleteScene("s2")
	require.NoError(t, err)
	assert.False(t, wasActive)
	assert.Equal(t, "s1", s.ActiveSceneID)

	wasActive, err = s.DeleteScene("s1")
	require.NoError(t, err)
	assert.True(t, wasActive)
	assert.Empty(t, s.ActiveSceneID)
	assert.Nil(t, s.ActiveScene())
	assert.True(t, s.CanSeeLive("p2"))

	_, err = s.DeleteScene("s1")
	assert.ErrorIs(t, err, ErrSceneNotFound)
}

func TestUpdateScene_PartialFieldsAndClearFog(t *testing.T) {
	s := sessionWithScene(t)

	name := "Deep Cave"
	sc, err := s.UpdateScene("s1", SceneUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Deep Cave", sc.Name)
	assert.Len(t, sc.Maps, 1, "unset fields are kept")
	require.NotNil(t, sc.FogImage)

	sc, err = s.UpdateScene("s1", SceneUpdate{ClearFog: true})
	require.NoError(t, err)
	assert.Nil(t, sc.FogImage)

	_, err = s.UpdateScene("missing", SceneUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrSceneNotFound)
}

func TestSceneSummaries_HaveNoContent(t *testing.T) {
	s := sessionWithScene(t)
	raw, err := json.Marshal(s.SceneSummaries())
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"s1","name":"Cave","active":false,"visible_to_players":["p1"]}]`, string(raw))
}

func TestSceneList_IsDeepCopy(t *testing.T) {
	s := sessionWithScene(t)
	list := s.SceneList()
	list[0].Name = "mutated"
	list[0].VisibleToPlayers[0] = "px"

	sc, _ := s.Scene("s1")
	assert.Equal(t, "Cave", sc.Name)
	assert.Equal(t, []string{"p1"}, sc.VisibleToPlayers)
}
