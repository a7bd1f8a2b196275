// Package tabletop holds the shared state of one tabletop session: the live
// layers (maps, entities, tokens, drawings, fog), the scenes, the connected
// players with their permissions, and the private chat between participants.
//
// Nothing here performs I/O. A Session is not safe for concurrent use on its
// own; callers serialize access through Store.Update.
package tabletop

import (
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"
)

// MasterID is the reserved participant id of the game master. The master is
// not a Player entity but takes part in every conversation that names it.
const MasterID = "master"

// MasterName is the display name used for the master in chat and pings.
const MasterName = "Master"

// GridSettings is an opaque configuration record for the map grid.
type GridSettings struct {
	Enabled   bool    `json:"enabled"`
	Size      float64 `json:"size"`
	Color     string  `json:"color"`
	LineWidth float64 `json:"lineWidth"`
}

// DefaultGridSettings returns the grid every new session starts with.
func DefaultGridSettings() GridSettings {
	return GridSettings{
		Enabled:   true,
		Size:      50,
		Color:     "rgba(155,89,182,0.3)",
		LineWidth: 1,
	}
}

// Content is a set of drawable layers. The session holds one global Content
// and every Scene carries its own.
//
// Items are opaque JSON objects passed through verbatim; only their "id"
// field is ever inspected.
type Content struct {
	Maps     []json.RawMessage `json:"maps"`
	Entities []json.RawMessage `json:"entities"`
	Tokens   []json.RawMessage `json:"tokens"`
	Drawings []json.RawMessage `json:"drawings"`
	FogImage *string           `json:"fog_image"`
}

// EmptyContent returns a Content whose lists are empty (not nil) so it
// serializes as [] rather than null.
func EmptyContent() Content {
	return Content{
		Maps:     []json.RawMessage{},
		Entities: []json.RawMessage{},
		Tokens:   []json.RawMessage{},
		Drawings: []json.RawMessage{},
	}
}

func (c Content) clone() Content {
	out := Content{
		Maps:     cloneItems(c.Maps),
		Entities: cloneItems(c.Entities),
		Tokens:   cloneItems(c.Tokens),
		Drawings: cloneItems(c.Drawings),
	}
	if c.FogImage != nil {
		fog := *c.FogImage
		out.FogImage = &fog
	}
	return out
}

func (c *Content) normalize() {
	if c.Maps == nil {
		c.Maps = []json.RawMessage{}
	}
	if c.Entities == nil {
		c.Entities = []json.RawMessage{}
	}
	if c.Tokens == nil {
		c.Tokens = []json.RawMessage{}
	}
	if c.Drawings == nil {
		c.Drawings = []json.RawMessage{}
	}
}

// Session is the aggregate for one session id.
type Session struct {
	mu sync.Mutex

	ID string

	// Content is the session-global layer set. It is authoritative only while
	// no scene is active; see Live.
	Content

	Grid          GridSettings
	Players       map[string]*Player
	Permissions   map[string]Permissions
	Scenes        []*Scene
	ActiveSceneID string

	// MasterConnID is the connection currently acting as master, or "".
	MasterConnID string

	chat chatLog
	rng  *rand.Rand

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession returns a session with empty collections and default grid.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:          id,
		Content:     EmptyContent(),
		Grid:        DefaultGridSettings(),
		Players:     make(map[string]*Player),
		Permissions: make(map[string]Permissions),
		Scenes:      []*Scene{},
		chat:        newChatLog(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Live returns the layer set that mutations apply to: the active scene's
// content when a scene is active, the global content otherwise.
func (s *Session) Live() *Content {
	if sc := s.ActiveScene(); sc != nil {
		return &sc.Content
	}
	return &s.Content
}

// Touch records a mutation time.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now
}
