package server

import (
	"log/slog"

	"tabletop-server/internal/tabletop"
)

// syncScenes sends the scene list to the room: full scenes for the master,
// summaries for players. Caller holds the session lock.
func (s *Server) syncScenes(sess *tabletop.Session) {
	full := ScenesSync{Scenes: sess.SceneList()}
	summaries := ScenesSync{Scenes: sess.SceneSummaries()}
	s.personalize(sess.ID, func(m Member) (string, any, bool) {
		if m.Binding.Role == RolePlayer {
			return "scenes_sync", summaries, true
		}
		return "scenes_sync", full, true
	})
}

// deliverActiveScene sends every room member its view of the active scene:
// the content when visible, a placeholder otherwise. Caller holds the
// session lock.
func (s *Server) deliverActiveScene(sess *tabletop.Session) {
	s.personalize(sess.ID, func(m Member) (string, any, bool) {
		view, visible, ok := sess.SceneViewFor(viewerID(m.Binding))
		if !ok {
			return "", nil, false
		}
		return "scene_switched", SceneSwitched{SceneID: view.ID, Scene: view, Visible: visible}, true
	})
}

func (s *Server) handleSceneCreate(c *Client, req *SceneCreateRequest) {
	if !s.requireMaster(c, req.SessionID, "scene_create") {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		sc := sess.CreateScene(s.newID(), req.Name)
		s.touch(sess)
		s.logger.Info("scene created", slog.String("session", sess.ID), slog.String("scene", sc.ID))
		s.syncScenes(sess)
	})
}

func (s *Server) handleSceneUpdate(c *Client, req *SceneUpdateRequest) {
	if !s.requireMaster(c, req.SessionID, "scene_update") {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		if _, err := sess.UpdateScene(req.SceneID, req.Update()); err != nil {
			s.logger.Debug("scene_update: no such scene", slog.String("session", sess.ID), slog.String("scene", req.SceneID))
			return
		}
		s.touch(sess)
		s.syncScenes(sess)
		if sess.ActiveSceneID == req.SceneID {
			s.deliverActiveScene(sess)
		}
	})
}

func (s *Server) handleSceneDelete(c *Client, req *SceneIDRequest) {
	if !s.requireMaster(c, req.SessionID, "scene_delete") {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		wasActive, err := sess.DeleteScene(req.SceneID)
		if err != nil {
			s.logger.Debug("scene_delete: no such scene", slog.String("session", sess.ID), slog.String("scene", req.SceneID))
			return
		}
		s.touch(sess)
		s.syncScenes(sess)
		if wasActive {
			s.broadcast(sess.ID, "no_active_scene", NoActiveScene{Content: sess.ContentFor(tabletop.MasterID)}, nil)
		}
	})
}

func (s *Server) handleSceneSwitch(c *Client, req *SceneIDRequest) {
	if !s.requireMaster(c, req.SessionID, "scene_switch") {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		if _, err := sess.SwitchScene(req.SceneID); err != nil {
			s.logger.Debug("scene_switch: no such scene", slog.String("session", sess.ID), slog.String("scene", req.SceneID))
			return
		}
		s.touch(sess)
		s.logger.Info("scene switched", slog.String("session", sess.ID), slog.String("scene", req.SceneID))
		s.syncScenes(sess)
		s.deliverActiveScene(sess)
	})
}

func (s *Server) handleSceneToggleVisibility(c *Client, req *SceneToggleVisibilityRequest) {
	if !s.requireMaster(c, req.SessionID, "scene_toggle_visibility") {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		if _, err := sess.ToggleSceneVisibility(req.SceneID, req.PlayerID); err != nil {
			s.logger.Debug("scene_toggle_visibility: no such scene", slog.String("session", sess.ID), slog.String("scene", req.SceneID))
			return
		}
		s.touch(sess)
		s.syncScenes(sess)
		if sess.ActiveSceneID == req.SceneID {
			s.deliverActiveScene(sess)
		}
	})
}

// handleRequestCurrentScene answers with the caller's view of the active
// scene, or the global layers when none is active.
func (s *Server) handleRequestCurrentScene(c *Client, req *RequestCurrentSceneRequest) {
	if _, ok := s.requireSelf(c, req.SessionID, req.PlayerID, "request_current_scene"); !ok {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		view, visible, ok := sess.SceneViewFor(req.PlayerID)
		switch {
		case !ok:
			s.send(c, "no_active_scene", NoActiveScene{Content: sess.ContentFor(req.PlayerID)})
		case visible:
			s.send(c, "scene_activated", SceneActivated{SceneID: view.ID, Scene: view})
		default:
			s.send(c, "scene_blocked", SceneBlocked{SceneID: view.ID, SceneName: view.Name})
		}
	})
}
