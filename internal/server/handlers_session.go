package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"tabletop-server/internal/tabletop"
)

const saveTimeout = 10 * time.Second

// actor resolves who acts on sessionID through c. A connection bound to the
// session acts in its bound role; any other connection acts as master.
func (s *Server) actor(c *Client, sessionID string) (Role, string) {
	if b, ok := s.connections.Binding(c.ID()); ok && b.SessionID == sessionID {
		return b.Role, viewerID(b)
	}
	return RoleMaster, tabletop.MasterID
}

func (s *Server) requireMaster(c *Client, sessionID, event string) bool {
	if role, _ := s.actor(c, sessionID); role != RoleMaster {
		s.denied(c, sessionID, event)
		return false
	}
	return true
}

// requireSelf checks a player acts only under its own id. The master may
// name any participant.
func (s *Server) requireSelf(c *Client, sessionID, claimed, event string) (string, bool) {
	role, id := s.actor(c, sessionID)
	if role == RolePlayer && claimed != id {
		s.denied(c, sessionID, event)
		return "", false
	}
	return id, true
}

// denied drops a request the caller's role does not allow. No reply is sent.
func (s *Server) denied(c *Client, sessionID, event string) {
	s.logger.Debug("permission denied",
		slog.String("conn", c.ID()),
		slog.String("session", sessionID),
		slog.String("event", event))
}

func (s *Server) sessionState(sess *tabletop.Session, viewer string) SessionState {
	content := sess.ContentFor(viewer)

	var scenes any = sess.SceneSummaries()
	if viewer == tabletop.MasterID {
		scenes = sess.SceneList()
	}

	var active *string
	if sess.ActiveSceneID != "" {
		id := sess.ActiveSceneID
		active = &id
	}

	return SessionState{
		Maps:          content.Maps,
		Entities:      content.Entities,
		Tokens:        content.Tokens,
		Drawings:      content.Drawings,
		Scenes:        scenes,
		FogImage:      content.FogImage,
		GridSettings:  sess.Grid,
		Players:       sess.PlayerList(),
		ActiveSceneID: active,
	}
}

func (s *Server) handleJoinSession(c *Client, req *JoinSessionRequest) {
	sid := req.SessionID
	var prev Binding
	var rebound bool
	var stale string

	s.sessions.Update(sid, func(sess *tabletop.Session) {
		var had bool
		prev, had = s.connections.Register(c.ID(), Binding{SessionID: sid, Role: RoleMaster, PlayerID: tabletop.MasterID})
		if had && prev.SessionID == sid && prev.Role == RolePlayer {
			s.departLocked(sess, prev, c.ID())
		}
		rebound = had && prev.SessionID != sid

		if sess.MasterConnID != c.ID() {
			stale = sess.MasterConnID
		}
		sess.MasterConnID = c.ID()

		s.send(c, "session_state", s.sessionState(sess, tabletop.MasterID))
		if view, _, ok := sess.SceneViewFor(tabletop.MasterID); ok {
			s.send(c, "scene_switched", SceneSwitched{SceneID: view.ID, Scene: view, Visible: true})
		}
	})

	s.logger.Info("master joined", slog.String("session", sid), slog.String("conn", c.ID()))

	if stale != "" {
		s.evict(stale, sid)
	}
	if rebound {
		s.depart(prev, c.ID())
	}
}

// evict closes a master connection superseded by a newer one.
func (s *Server) evict(connID, sessionID string) {
	old := s.connections.Client(connID)
	if old == nil {
		return
	}
	s.connections.LeaveRoom(connID, sessionID)
	s.send(old, "disconnected_elsewhere", DisconnectedElsewhere{
		Message: "This session was opened as master from another connection",
	})
	old.CloseAfterFlush(websocket.StatusPolicyViolation, "replaced by a newer master connection")
	s.logger.Info("evicted stale master connection", slog.String("session", sessionID), slog.String("conn", connID))
}

func (s *Server) handlePlayerJoin(c *Client, req *PlayerJoinRequest) {
	sid := req.SessionID
	var prev Binding
	var rebound bool

	s.sessions.Update(sid, func(sess *tabletop.Session) {
		now := s.sessions.Now()

		var had bool
		prev, had = s.connections.Register(c.ID(), Binding{SessionID: sid, Role: RolePlayer, PlayerID: req.PlayerID})
		if had && prev.SessionID == sid && (prev.Role != RolePlayer || prev.PlayerID != req.PlayerID) {
			s.departLocked(sess, prev, c.ID())
		}
		rebound = had && prev.SessionID != sid

		p := sess.JoinPlayer(req.PlayerID, req.PlayerName, c.ID(), now)
		content := sess.ContentFor(p.ID)

		s.send(c, "session_state", s.sessionState(sess, p.ID))
		s.send(c, "fog_state_sync", FogStateSync{FogImage: content.FogImage})
		s.send(c, "grid_settings_sync", GridSettingsSync{GridSettings: sess.Grid})
		s.send(c, "permissions_updated", PermissionsUpdated{PlayerID: p.ID, Permissions: sess.PermissionsFor(p.ID)})
		if view, visible, ok := sess.SceneViewFor(p.ID); ok {
			s.send(c, "scene_switched", SceneSwitched{SceneID: view.ID, Scene: view, Visible: visible})
		}

		s.broadcast(sid, "player_joined", PlayerNotification{PlayerID: p.ID, PlayerName: p.Name}, c)
		s.broadcast(sid, "players_list", PlayersList{Players: sess.PlayerList()}, nil)
	})

	s.logger.Info("player joined",
		slog.String("session", sid),
		slog.String("player", req.PlayerID),
		slog.String("conn", c.ID()))

	if rebound {
		s.depart(prev, c.ID())
	}
}

func (s *Server) handleLeaveSession(c *Client, req *LeaveSessionRequest) {
	if s.connections.LeaveRoom(c.ID(), req.SessionID) {
		s.logger.Debug("left room", slog.String("session", req.SessionID), slog.String("conn", c.ID()))
	}
}

// disconnect forgets a closed connection and removes what it held.
func (s *Server) disconnect(c *Client) {
	b, bound := s.connections.RemoveClient(c.ID())
	s.rateLimiter.RemoveConnection(c.ID())
	s.health.RemoveConnection(c.ID())
	if bound {
		s.depart(b, c.ID())
	}
}

func (s *Server) depart(b Binding, connID string) {
	s.sessions.View(b.SessionID, func(sess *tabletop.Session) {
		s.departLocked(sess, b, connID)
	})
}

// departLocked releases what connID held in sess under binding b. A player
// record is removed only while it still points at connID. Caller holds the
// session lock.
func (s *Server) departLocked(sess *tabletop.Session, b Binding, connID string) {
	if sess.MasterConnID == connID {
		sess.MasterConnID = ""
	}
	if b.Role != RolePlayer {
		return
	}
	p, ok := sess.RemovePlayerByConn(connID)
	if !ok {
		return
	}

	s.logger.Info("player left", slog.String("session", sess.ID), slog.String("player", p.ID))
	exclude := s.connections.Client(connID)
	s.broadcast(sess.ID, "player_left", PlayerNotification{PlayerID: p.ID, PlayerName: p.Name}, exclude)
	s.broadcast(sess.ID, "players_list", PlayersList{Players: sess.PlayerList()}, exclude)
}

func (s *Server) handleSaveSession(c *Client, req *SaveSessionRequest) {
	sid := req.SessionID
	if !s.requireMaster(c, sid, "save_session") {
		return
	}

	var data []byte
	var updated time.Time
	var err error
	s.sessions.Update(sid, func(sess *tabletop.Session) {
		data, err = sess.Snapshot()
		updated = sess.UpdatedAt
	})
	if err != nil {
		s.logger.Error("snapshot failed", slog.String("session", sid), slog.String("error", err.Error()))
		s.send(c, "session_saved", SessionSaved{Success: false, Message: "Failed to snapshot session"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	rec, err := s.persistence.SaveSnapshot(ctx, sid, data, updated)
	if err != nil {
		s.logger.Error("save failed", slog.String("session", sid), slog.String("error", err.Error()))
		s.send(c, "session_saved", SessionSaved{Success: false, Message: "Failed to save session"})
		return
	}

	s.logger.Info("session saved", slog.String("session", sid), slog.Int64("version", rec.Version))
	s.send(c, "session_saved", SessionSaved{Success: true, Version: rec.Version})
}
