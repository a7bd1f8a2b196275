package server

import (
	"encoding/json"
	"log/slog"

	"github.com/buger/jsonparser"

	"tabletop-server/internal/imaging"
	"tabletop-server/internal/tabletop"
)

// compressImage rewrites an oversized data-URL "image" field of a map or
// entity as a downscaled JPEG. On any failure the item is returned as is.
func (s *Server) compressImage(item json.RawMessage) json.RawMessage {
	if s.cfg.ImageCompressThreshold < 0 {
		return item
	}
	img, err := jsonparser.GetString(item, "image")
	if err != nil || !imaging.IsDataImage(img) || imaging.Size(img) <= s.cfg.ImageCompressThreshold {
		return item
	}

	out, err := imaging.Compress(img, s.images)
	if err != nil {
		s.logger.Debug("image compression skipped", slog.String("error", err.Error()))
		return item
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return item
	}
	updated, err := jsonparser.Set(item, encoded, "image")
	if err != nil {
		return item
	}

	s.logger.Debug("image compressed", slog.Int("before", len(img)), slog.Int("after", len(out)))
	return updated
}

func (s *Server) touch(sess *tabletop.Session) {
	sess.Touch(s.sessions.Now())
}

func (s *Server) handleAddMap(c *Client, req *MapRequest) {
	if !s.requireMaster(c, req.SessionID, "add_map") {
		return
	}
	item := s.compressImage(req.Map)
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		maps := sess.AddMap(item)
		s.touch(sess)
		s.broadcastLayer(sess, "maps_sync", MapsSync{Maps: maps})
	})
}

func (s *Server) handleUpdateMap(c *Client, req *MapRequest) {
	if !s.requireMaster(c, req.SessionID, "update_map") {
		return
	}
	item := s.compressImage(req.Map)
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		maps, ok := sess.UpdateMap(item)
		if !ok {
			s.logger.Debug("update_map: no such map", slog.String("session", sess.ID), slog.String("map", tabletop.ItemID(item)))
			return
		}
		s.touch(sess)
		s.broadcastLayer(sess, "maps_sync", MapsSync{Maps: maps})
	})
}

func (s *Server) handleDeleteMap(c *Client, req *DeleteMapRequest) {
	if !s.requireMaster(c, req.SessionID, "delete_map") {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		maps, ok := sess.DeleteMap(req.MapID)
		if !ok {
			s.logger.Debug("delete_map: no such map", slog.String("session", sess.ID), slog.String("map", req.MapID))
			return
		}
		s.touch(sess)
		s.broadcastLayer(sess, "maps_sync", MapsSync{Maps: maps})
	})
}

func (s *Server) handleAddEntity(c *Client, req *EntityRequest) {
	if !s.requireMaster(c, req.SessionID, "add_entity") {
		return
	}
	item := s.compressImage(req.Entity)
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		entities := sess.AddEntity(item)
		s.touch(sess)
		s.broadcastLayer(sess, "entities_sync", EntitiesSync{Entities: entities})
	})
}

func (s *Server) handleUpdateEntity(c *Client, req *EntityRequest) {
	if !s.requireMaster(c, req.SessionID, "update_entity") {
		return
	}
	item := s.compressImage(req.Entity)
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		entities, ok := sess.UpdateEntity(item)
		if !ok {
			s.logger.Debug("update_entity: no such entity", slog.String("session", sess.ID), slog.String("entity", tabletop.ItemID(item)))
			return
		}
		s.touch(sess)
		s.broadcastLayer(sess, "entities_sync", EntitiesSync{Entities: entities})
	})
}

func (s *Server) handleDeleteEntity(c *Client, req *DeleteEntityRequest) {
	if !s.requireMaster(c, req.SessionID, "delete_entity") {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		entities, ok := sess.DeleteEntity(req.EntityID)
		if !ok {
			s.logger.Debug("delete_entity: no such entity", slog.String("session", sess.ID), slog.String("entity", req.EntityID))
			return
		}
		s.touch(sess)
		s.broadcastLayer(sess, "entities_sync", EntitiesSync{Entities: entities})
	})
}

// handleTokenUpdate replaces the whole token list. Players may only move
// tokens their permissions list.
func (s *Server) handleTokenUpdate(c *Client, req *TokenUpdateRequest) {
	role, id := s.actor(c, req.SessionID)
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		if role == RolePlayer && !sess.CanSubmitTokens(id, req.Tokens) {
			s.denied(c, sess.ID, "token_update")
			return
		}
		tokens := sess.SetTokens(req.Tokens)
		s.touch(sess)
		s.broadcastLayer(sess, "token_sync", TokenSync{Tokens: tokens})
	})
}

func (s *Server) handleDrawingUpdate(c *Client, req *DrawingUpdateRequest) {
	role, id := s.actor(c, req.SessionID)
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		if role == RolePlayer && !sess.CanDraw(id) {
			s.denied(c, sess.ID, "drawing_update")
			return
		}
		index := sess.AppendDrawing(req.Drawing)
		s.touch(sess)
		s.broadcastLayer(sess, "drawing_sync", DrawingSync{Drawing: req.Drawing, Index: index})
	})
}

func (s *Server) handleClearDrawings(c *Client, req *ClearDrawingsRequest) {
	role, id := s.actor(c, req.SessionID)
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		if role == RolePlayer && !sess.CanDraw(id) {
			s.denied(c, sess.ID, "clear_drawings")
			return
		}
		sess.ClearDrawings()
		s.touch(sess)
		s.broadcastLayer(sess, "drawings_cleared", DrawingsCleared{})
	})
}

func (s *Server) handleUpdateFog(c *Client, req *FogStateRequest) {
	if !s.requireMaster(c, req.SessionID, "update_fog_state") {
		return
	}
	s.setFog(req.SessionID, req.FogImage)
}

func (s *Server) handleClearFog(c *Client, req *ClearFogRequest) {
	if !s.requireMaster(c, req.SessionID, "clear_fog_state") {
		return
	}
	s.setFog(req.SessionID, nil)
}

func (s *Server) setFog(sessionID string, image *string) {
	s.sessions.Update(sessionID, func(sess *tabletop.Session) {
		sess.SetFog(image)
		s.touch(sess)
		s.broadcastLayer(sess, "fog_state_sync", FogStateSync{FogImage: sess.Live().FogImage})
	})
}

func (s *Server) handleUpdateGrid(c *Client, req *GridSettingsRequest) {
	if !s.requireMaster(c, req.SessionID, "update_grid_settings") {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		sess.SetGrid(*req.GridSettings)
		s.touch(sess)
		s.broadcast(sess.ID, "grid_settings_sync", GridSettingsSync{GridSettings: sess.Grid}, nil)
	})
}
