package server

import (
	"encoding/json"
	"log/slog"

	"tabletop-server/internal/tabletop"
)

func encode(msgType string, payload any) ([]byte, error) {
	return json.Marshal(ServerMessage{Type: msgType, Payload: payload})
}

// send unicasts one event to a client.
func (s *Server) send(c *Client, msgType string, payload any) {
	if c == nil {
		return
	}
	data, err := encode(msgType, payload)
	if err != nil {
		s.logger.Error("failed to encode message", slog.String("type", msgType), slog.String("error", err.Error()))
		return
	}
	c.Enqueue(data)
}

func (s *Server) sendError(c *Client, code, message string) {
	s.send(c, "error", ErrorMessage{
		Message: code + ": " + message,
		Code:    code,
	})
}

// sendToConn unicasts to a connection id, if it is still live.
func (s *Server) sendToConn(connID, msgType string, payload any) {
	if connID == "" {
		return
	}
	s.send(s.connections.Client(connID), msgType, payload)
}

// broadcast sends one event to every member of the session's room. The
// payload is encoded once. exclude may be nil.
func (s *Server) broadcast(sessionID, msgType string, payload any, exclude *Client) {
	s.broadcastWhere(sessionID, msgType, payload, func(m Member) bool {
		return exclude == nil || m.Client != exclude
	})
}

func (s *Server) broadcastWhere(sessionID, msgType string, payload any, keep func(Member) bool) {
	members := s.connections.Members(sessionID)
	if len(members) == 0 {
		return
	}
	data, err := encode(msgType, payload)
	if err != nil {
		s.logger.Error("failed to encode broadcast", slog.String("type", msgType), slog.String("error", err.Error()))
		return
	}
	for _, m := range members {
		if keep(m) {
			m.Client.Enqueue(data)
		}
	}
}

// broadcastLayer fans a live layer change out to the members allowed to see
// it: everyone when no scene is active, otherwise the master and the
// players the active scene is visible to. Caller holds the session lock.
func (s *Server) broadcastLayer(sess *tabletop.Session, msgType string, payload any) {
	s.broadcastWhere(sess.ID, msgType, payload, func(m Member) bool {
		return sess.CanSeeLive(viewerID(m.Binding))
	})
}

// personalize sends each room member its own rendering of an event. render
// returns ok=false to skip a member.
func (s *Server) personalize(sessionID string, render func(m Member) (msgType string, payload any, ok bool)) {
	for _, m := range s.connections.Members(sessionID) {
		msgType, payload, ok := render(m)
		if ok {
			s.send(m.Client, msgType, payload)
		}
	}
}

// viewerID is the participant id a binding renders as.
func viewerID(b Binding) string {
	if b.Role == RolePlayer {
		return b.PlayerID
	}
	return tabletop.MasterID
}

// participantConn returns the connection currently serving a participant.
func participantConn(sess *tabletop.Session, id string) string {
	if id == tabletop.MasterID {
		return sess.MasterConnID
	}
	if p, ok := sess.Player(id); ok {
		return p.ConnectionID
	}
	return ""
}
