package server

import (
	"log/slog"

	"tabletop-server/internal/tabletop"
)

// handleUpdatePermissions replaces a player's permissions and tells that
// player only.
func (s *Server) handleUpdatePermissions(c *Client, req *UpdatePermissionsRequest) {
	if !s.requireMaster(c, req.SessionID, "update_permissions") {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		if !sess.SetPermissions(req.PlayerID, *req.Permissions) {
			s.logger.Debug("update_permissions: no such player",
				slog.String("session", sess.ID),
				slog.String("player", req.PlayerID))
			return
		}
		s.touch(sess)
		s.sendToConn(participantConn(sess, req.PlayerID), "permissions_updated", PermissionsUpdated{
			PlayerID:    req.PlayerID,
			Permissions: sess.PermissionsFor(req.PlayerID),
		})
	})
}

func (s *Server) handleGetPlayers(c *Client, req *GetPlayersRequest) {
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		s.send(c, "players_list", PlayersList{Players: sess.PlayerList()})
	})
}

func (s *Server) handleSendPing(c *Client, req *SendPingRequest) {
	if _, ok := s.requireSelf(c, req.SessionID, req.PlayerID, "send_ping"); !ok {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		if !sess.CanPing(req.PlayerID) {
			s.denied(c, sess.ID, "send_ping")
			return
		}
		s.broadcastLayer(sess, "ping_received", PingReceived{
			PlayerID:   req.PlayerID,
			PlayerName: sess.ParticipantName(req.PlayerID),
			X:          *req.X,
			Y:          *req.Y,
		})
	})
}

func (s *Server) handleRollDice(c *Client, req *RollDiceRequest) {
	if _, ok := s.requireSelf(c, req.SessionID, req.PlayerID, "roll_dice"); !ok {
		return
	}
	dice, err := tabletop.ParseDice(req.Notation)
	if err != nil {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		if req.PlayerID != tabletop.MasterID {
			if _, joined := sess.Player(req.PlayerID); !joined {
				s.denied(c, sess.ID, "roll_dice")
				return
			}
		}
		roll := sess.RollDice(dice, s.sessions.Now())
		s.broadcast(sess.ID, "dice_rolled", DiceRolled{
			PlayerID:   req.PlayerID,
			PlayerName: sess.ParticipantName(req.PlayerID),
			Roll:       roll,
		}, nil)
	})
}
