package tabletop

import (
	"encoding/json"
	"errors"
	"slices"
)

var ErrSceneNotFound = errors.New("scene not found")

// Scene is a named layer set with its own per-player visibility.
type Scene struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Active           bool     `json:"active"`
	VisibleToPlayers []string `json:"visible_to_players"`
	Content
}

// SceneSummary is what players see in scenes_sync: no content.
type SceneSummary struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Active           bool     `json:"active"`
	VisibleToPlayers []string `json:"visible_to_players"`
}

// VisibleTo reports whether playerID was granted this scene.
func (sc *Scene) VisibleTo(playerID string) bool {
	return slices.Contains(sc.VisibleToPlayers, playerID)
}

// Placeholder keeps the scene's identity and drops its content.
func (sc *Scene) Placeholder() *Scene {
	return &Scene{
		ID:               sc.ID,
		Name:             sc.Name,
		Active:           sc.Active,
		VisibleToPlayers: []string{},
		Content:          EmptyContent(),
	}
}

func (sc *Scene) clone() *Scene {
	return &Scene{
		ID:               sc.ID,
		Name:             sc.Name,
		Active:           sc.Active,
		VisibleToPlayers: slices.Clone(sc.VisibleToPlayers),
		Content:          sc.Content.clone(),
	}
}

// SceneUpdate carries the optional fields of a scene_update. Nil fields keep
// their current value; ClearFog wins over FogImage.
type SceneUpdate struct {
	Name             *string
	Maps             *[]json.RawMessage
	Entities         *[]json.RawMessage
	Tokens           *[]json.RawMessage
	Drawings         *[]json.RawMessage
	FogImage         *string
	ClearFog         bool
	VisibleToPlayers *[]string
}

// CreateScene appends an inactive scene with empty content.
func (s *Session) CreateScene(id, name string) *Scene {
	sc := &Scene{
		ID:               id,
		Name:             name,
		VisibleToPlayers: []string{},
		Content:          EmptyContent(),
	}
	s.Scenes = append(s.Scenes, sc)
	return sc
}

// Scene looks a scene up by id.
func (s *Session) Scene(id string) (*Scene, bool) {
	for _, sc := range s.Scenes {
		if sc.ID == id {
			return sc, true
		}
	}
	return nil, false
}

// ActiveScene returns the active scene or nil.
func (s *Session) ActiveScene() *Scene {
	if s.ActiveSceneID == "" {
		return nil
	}
	sc, _ := s.Scene(s.ActiveSceneID)
	return sc
}

// DeleteScene removes a scene. When it was the active one the active pointer
// is cleared and the global layers become authoritative again.
func (s *Session) DeleteScene(id string) (wasActive bool, err error) {
	idx := slices.IndexFunc(s.Scenes, func(sc *Scene) bool { return sc.ID == id })
	if idx < 0 {
		return false, ErrSceneNotFound
	}
	wasActive = s.Scenes[idx].Active || s.ActiveSceneID == id
	s.Scenes = slices.Delete(s.Scenes, idx, idx+1)
	if wasActive {
		s.ActiveSceneID = ""
	}
	return wasActive, nil
}

// SwitchScene makes id the only active scene.
func (s *Session) SwitchScene(id string) (*Scene, error) {
	target, ok := s.Scene(id)
	if !ok {
		return nil, ErrSceneNotFound
	}
	for _, sc := range s.Scenes {
		sc.Active = sc.ID == id
	}
	s.ActiveSceneID = id
	return target, nil
}

// ToggleSceneVisibility flips playerID's membership in the scene's visible set.
func (s *Session) ToggleSceneVisibility(sceneID, playerID string) (*Scene, error) {
	sc, ok := s.Scene(sceneID)
	if !ok {
		return nil, ErrSceneNotFound
	}
	if idx := slices.Index(sc.VisibleToPlayers, playerID); idx >= 0 {
		sc.VisibleToPlayers = slices.Delete(slices.Clone(sc.VisibleToPlayers), idx, idx+1)
	} else {
		sc.VisibleToPlayers = append(slices.Clone(sc.VisibleToPlayers), playerID)
	}
	return sc, nil
}

// UpdateScene applies the set fields of u.
func (s *Session) UpdateScene(id string, u SceneUpdate) (*Scene, error) {
	sc, ok := s.Scene(id)
	if !ok {
		return nil, ErrSceneNotFound
	}
	if u.Name != nil {
		sc.Name = *u.Name
	}
	if u.Maps != nil {
		sc.Maps = cloneItems(*u.Maps)
	}
	if u.Entities != nil {
		sc.Entities = cloneItems(*u.Entities)
	}
	if u.Tokens != nil {
		sc.Tokens = cloneItems(*u.Tokens)
	}
	if u.Drawings != nil {
		sc.Drawings = cloneItems(*u.Drawings)
	}
	switch {
	case u.ClearFog:
		sc.FogImage = nil
	case u.FogImage != nil:
		fog := *u.FogImage
		sc.FogImage = &fog
	}
	if u.VisibleToPlayers != nil {
		sc.VisibleToPlayers = slices.Clone(*u.VisibleToPlayers)
	}
	sc.Content.normalize()
	if sc.VisibleToPlayers == nil {
		sc.VisibleToPlayers = []string{}
	}
	return sc, nil
}

// SceneViewFor computes what playerID may see of the active scene: the full
// scene when visible, a placeholder otherwise. ok is false when no scene is
// active. The master always gets the full scene.
func (s *Session) SceneViewFor(playerID string) (view *Scene, visible bool, ok bool) {
	sc := s.ActiveScene()
	if sc == nil {
		return nil, false, false
	}
	if playerID == MasterID || sc.VisibleTo(playerID) {
		return sc.clone(), true, true
	}
	return sc.Placeholder(), false, true
}

// ContentFor returns the layers playerID should render right now: the
// active scene's content (or an empty set when blocked), or the global
// layers when no scene is active.
func (s *Session) ContentFor(playerID string) Content {
	if view, _, ok := s.SceneViewFor(playerID); ok {
		return view.Content
	}
	return s.Content.clone()
}

// CanSeeLive reports whether playerID may receive live layer updates.
func (s *Session) CanSeeLive(playerID string) bool {
	sc := s.ActiveScene()
	return sc == nil || playerID == MasterID || sc.VisibleTo(playerID)
}

// SceneList returns deep copies of every scene, for the master.
func (s *Session) SceneList() []*Scene {
	out := make([]*Scene, 0, len(s.Scenes))
	for _, sc := range s.Scenes {
		out = append(out, sc.clone())
	}
	return out
}

// SceneSummaries returns the scenes without content, for players.
func (s *Session) SceneSummaries() []SceneSummary {
	out := make([]SceneSummary, 0, len(s.Scenes))
	for _, sc := range s.Scenes {
		out = append(out, SceneSummary{
			ID:               sc.ID,
			Name:             sc.Name,
			Active:           sc.Active,
			VisibleToPlayers: slices.Clone(sc.VisibleToPlayers),
		})
	}
	return out
}
