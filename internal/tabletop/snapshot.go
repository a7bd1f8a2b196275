package tabletop

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// snapshotVersion is bumped when the blob layout changes incompatibly.
const snapshotVersion = 1

type snapshot struct {
	Format        int                   `json:"format"`
	ID            string                `json:"id"`
	Content       Content               `json:"content"`
	Grid          GridSettings          `json:"grid_settings"`
	Scenes        []*Scene              `json:"scenes"`
	ActiveSceneID string                `json:"active_scene_id,omitempty"`
	Threads       map[string][]*Message `json:"threads"`
	Unread        []unreadEntry         `json:"unread"`
	ChatSeq       uint64                `json:"chat_seq"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

type unreadEntry struct {
	Viewer      string `json:"viewer"`
	Counterpart string `json:"counterpart"`
	Count       int    `json:"count"`
}

// Snapshot serializes the durable part of the session: layers, grid, scenes
// and chat. Players, permissions and the master connection are transient and
// left out. Must be called while holding the session (see Store.View).
func (s *Session) Snapshot() ([]byte, error) {
	snap := snapshot{
		Format:        snapshotVersion,
		ID:            s.ID,
		Content:       s.Content.clone(),
		Grid:          s.Grid,
		Scenes:        s.SceneList(),
		ActiveSceneID: s.ActiveSceneID,
		Threads:       make(map[string][]*Message),
		Unread:        []unreadEntry{},
		ChatSeq:       s.chat.seq,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}

	for a, byOther := range s.chat.conversations {
		for b, msgs := range byOther {
			if a > b || len(msgs) == 0 {
				continue
			}
			thread := make([]*Message, len(msgs))
			for i, m := range msgs {
				cp := *m
				thread[i] = &cp
			}
			snap.Threads[PairKey(a, b)] = thread
		}
	}

	for k, n := range s.chat.unread {
		if n > 0 {
			snap.Unread = append(snap.Unread, unreadEntry{Viewer: k.viewer, Counterpart: k.counterpart, Count: n})
		}
	}
	sort.Slice(snap.Unread, func(i, j int) bool {
		if snap.Unread[i].Viewer == snap.Unread[j].Viewer {
			return snap.Unread[i].Counterpart < snap.Unread[j].Counterpart
		}
		return snap.Unread[i].Viewer < snap.Unread[j].Viewer
	})

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal session %s: %w", s.ID, err)
	}
	return data, nil
}

// RestoreSession rebuilds a session from a Snapshot blob. Each chat message
// is linked under both participants again.
func RestoreSession(data []byte) (*Session, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal session snapshot: %w", err)
	}
	if snap.ID == "" {
		return nil, fmt.Errorf("session snapshot has no id")
	}
	if snap.Format > snapshotVersion {
		return nil, fmt.Errorf("session snapshot %s: unsupported format %d", snap.ID, snap.Format)
	}

	s := NewSession(snap.ID, snap.CreatedAt)
	s.UpdatedAt = snap.UpdatedAt
	s.Content = snap.Content
	s.Content.normalize()
	s.Grid = snap.Grid

	for _, sc := range snap.Scenes {
		if sc == nil || sc.ID == "" {
			continue
		}
		sc.Content.normalize()
		if sc.VisibleToPlayers == nil {
			sc.VisibleToPlayers = []string{}
		}
		sc.Active = false
		s.Scenes = append(s.Scenes, sc)
	}
	if snap.ActiveSceneID != "" {
		if _, err := s.SwitchScene(snap.ActiveSceneID); err != nil {
			s.ActiveSceneID = ""
		}
	}

	for key, msgs := range snap.Threads {
		a, b, ok := SplitPairKey(key)
		if !ok {
			continue
		}
		for _, m := range msgs {
			if m == nil {
				continue
			}
			s.chat.appendMessage(a, b, m)
			s.chat.appendMessage(b, a, m)
		}
	}
	for _, u := range snap.Unread {
		if u.Count > 0 {
			s.chat.unread[unreadKey{u.Viewer, u.Counterpart}] = u.Count
		}
	}
	s.chat.seq = snap.ChatSeq

	return s, nil
}
