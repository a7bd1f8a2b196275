package tabletop

import (
	"encoding/json"
	"slices"
	"sort"
	"time"
)

// Player is a connected participant. The record is removed as soon as its
// connection goes away; reconnecting with the same id replaces it.
type Player struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ConnectionID string    `json:"-"`
	JoinedAt     time.Time `json:"joined_at"`
}

// Permissions is the capability set consulted before accepting a player's
// token moves, strokes and pings.
type Permissions struct {
	MoveTokens []string `json:"moveTokens"`
	Draw       bool     `json:"draw"`
	Ping       bool     `json:"ping"`
}

// DefaultPermissions is what a player gets on join: no tokens, no drawing,
// pings allowed.
func DefaultPermissions() Permissions {
	return Permissions{MoveTokens: []string{}, Draw: false, Ping: true}
}

// CanMove reports whether tokenID is in the move set.
func (p Permissions) CanMove(tokenID string) bool {
	return slices.Contains(p.MoveTokens, tokenID)
}

func (p Permissions) normalized() Permissions {
	if p.MoveTokens == nil {
		p.MoveTokens = []string{}
	} else {
		p.MoveTokens = slices.Clone(p.MoveTokens)
	}
	return p
}

// PlayerInfo is the players_list entry.
type PlayerInfo struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Permissions Permissions `json:"permissions"`
}

// JoinPlayer creates or overwrites the player record and seeds default
// permissions. Re-joining with the same id replaces the stale entry.
func (s *Session) JoinPlayer(id, name, connID string, now time.Time) *Player {
	p := &Player{
		ID:           id,
		Name:         name,
		ConnectionID: connID,
		JoinedAt:     now,
	}
	s.Players[id] = p
	s.Permissions[id] = DefaultPermissions()
	return p
}

// RemovePlayerByConn deletes the player bound to connID together with its
// permissions. Chat history and unread counters are kept.
func (s *Session) RemovePlayerByConn(connID string) (*Player, bool) {
	if connID == "" {
		return nil, false
	}
	for id, p := range s.Players {
		if p.ConnectionID == connID {
			delete(s.Players, id)
			delete(s.Permissions, id)
			return p, true
		}
	}
	return nil, false
}

// Player looks up a connected player.
func (s *Session) Player(id string) (*Player, bool) {
	p, ok := s.Players[id]
	return p, ok
}

// PlayerList returns the players in join order with their permissions.
func (s *Session) PlayerList() []PlayerInfo {
	players := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].ID < players[j].ID
		}
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})

	out := make([]PlayerInfo, 0, len(players))
	for _, p := range players {
		out = append(out, PlayerInfo{
			ID:          p.ID,
			Name:        p.Name,
			Permissions: s.PermissionsFor(p.ID),
		})
	}
	return out
}

// ParticipantName resolves a display name for chat and pings.
func (s *Session) ParticipantName(id string) string {
	if id == MasterID {
		return MasterName
	}
	if p, ok := s.Players[id]; ok {
		return p.Name
	}
	return id
}

// PermissionsFor returns the stored permissions, or the defaults when the
// player has none.
func (s *Session) PermissionsFor(playerID string) Permissions {
	if p, ok := s.Permissions[playerID]; ok {
		return p.normalized()
	}
	return DefaultPermissions()
}

// SetPermissions replaces a connected player's permissions. It reports false
// when no such player exists.
func (s *Session) SetPermissions(playerID string, p Permissions) bool {
	if _, ok := s.Players[playerID]; !ok {
		return false
	}
	s.Permissions[playerID] = p.normalized()
	return true
}

// CanPing reports whether a participant may ping the map.
func (s *Session) CanPing(id string) bool {
	if id == MasterID {
		return true
	}
	if _, ok := s.Players[id]; !ok {
		return false
	}
	return s.PermissionsFor(id).Ping
}

// CanDraw reports whether a participant may add or clear strokes.
func (s *Session) CanDraw(id string) bool {
	if id == MasterID {
		return true
	}
	if _, ok := s.Players[id]; !ok {
		return false
	}
	return s.PermissionsFor(id).Draw
}

// CanSubmitTokens reports whether a player's full token list only touches
// tokens in the player's move set.
func (s *Session) CanSubmitTokens(id string, tokens []json.RawMessage) bool {
	if id == MasterID {
		return true
	}
	if _, ok := s.Players[id]; !ok {
		return false
	}
	perms := s.PermissionsFor(id)
	for _, tokenID := range tokensChanged(s.Live().Tokens, tokens) {
		if !perms.CanMove(tokenID) {
			return false
		}
	}
	return true
}
