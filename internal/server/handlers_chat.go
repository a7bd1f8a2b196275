package server

import (
	"log/slog"

	"tabletop-server/internal/tabletop"
)

// handleSendPrivateMessage stores a message and delivers it to the sender,
// the recipient and, for traffic between two players, the master.
func (s *Server) handleSendPrivateMessage(c *Client, req *SendPrivateMessageRequest) {
	if _, id := s.actor(c, req.SessionID); req.SenderID != id {
		s.denied(c, req.SessionID, "send_private_message")
		return
	}

	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		msg, err := sess.SendMessage(req.SenderID, req.RecipientID, req.Message, s.sessions.Now())
		if err != nil {
			s.logger.Debug("send_private_message dropped",
				slog.String("session", sess.ID),
				slog.String("error", err.Error()))
			return
		}
		s.touch(sess)

		recipientConn := participantConn(sess, msg.RecipientID)
		targets := []string{c.ID(), recipientConn}
		if msg.SenderID != tabletop.MasterID && msg.RecipientID != tabletop.MasterID {
			targets = append(targets, sess.MasterConnID)
		}

		data, err := encode("new_private_message", msg)
		if err != nil {
			s.logger.Error("failed to encode message", slog.String("error", err.Error()))
			return
		}
		delivered := make(map[string]bool, len(targets))
		for _, connID := range targets {
			if connID == "" || delivered[connID] {
				continue
			}
			delivered[connID] = true
			if target := s.connections.Client(connID); target != nil {
				target.Enqueue(data)
			}
		}

		if recipientConn != c.ID() {
			s.sendToConn(recipientConn, "chat_notification", ChatNotification{
				FromID:   msg.SenderID,
				FromName: msg.SenderName,
			})
		}
	})
}

func (s *Server) handleGetConversation(c *Client, req *ConversationRequest) {
	if _, ok := s.requireSelf(c, req.SessionID, req.UserID, "get_conversation"); !ok {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		s.send(c, "conversation_loaded", ConversationLoaded{
			OtherUserID: req.OtherUserID,
			Messages:    sess.Conversation(req.UserID, req.OtherUserID),
		})
	})
}

func (s *Server) handleGetChatContacts(c *Client, req *GetChatContactsRequest) {
	if _, ok := s.requireSelf(c, req.SessionID, req.UserID, "get_chat_contacts"); !ok {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		s.send(c, "chat_contacts_loaded", ChatContactsLoaded{Contacts: sess.Contacts(req.UserID)})
	})
}

// handleMarkConversationRead zeroes one unread counter and replies with the
// refreshed contact list.
func (s *Server) handleMarkConversationRead(c *Client, req *ConversationRequest) {
	if _, ok := s.requireSelf(c, req.SessionID, req.UserID, "mark_conversation_read"); !ok {
		return
	}
	s.sessions.Update(req.SessionID, func(sess *tabletop.Session) {
		sess.MarkRead(req.UserID, req.OtherUserID)
		s.send(c, "chat_contacts_loaded", ChatContactsLoaded{Contacts: sess.Contacts(req.UserID)})
	})
}
