package tabletop

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrEmptyMessage     = errors.New("message text is empty")
	ErrSelfMessage      = errors.New("sender and recipient are the same participant")
	ErrUnknownRecipient = errors.New("recipient is not connected")
	ErrUnknownSender    = errors.New("sender is not connected")
)

// pairSeparator joins two participant ids into a conversation key.
const pairSeparator = "|"

// Message is one private chat line. The same *Message is stored under both
// participants' conversation entries.
type Message struct {
	ID          string `json:"id"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	RecipientID string `json:"recipient_id"`
	Text        string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
	Read        bool   `json:"read"`
}

// ContactKind tells a chat client how to render a contact.
type ContactKind string

const (
	ContactMaster ContactKind = "master"
	ContactPlayer ContactKind = "player"
	ContactPair   ContactKind = "pair"
)

// Contact is one entry of a participant's contact list.
type Contact struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Kind   ContactKind `json:"kind"`
	Unread int         `json:"unread"`
}

type unreadKey struct {
	viewer      string
	counterpart string
}

type chatLog struct {
	conversations map[string]map[string][]*Message
	unread        map[unreadKey]int
	seq           uint64
}

func newChatLog() chatLog {
	return chatLog{
		conversations: make(map[string]map[string][]*Message),
		unread:        make(map[unreadKey]int),
	}
}

// PairKey is the order-independent key of a conversation between a and b.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + pairSeparator + b
}

// SplitPairKey reverses PairKey.
func SplitPairKey(key string) (a, b string, ok bool) {
	a, b, ok = strings.Cut(key, pairSeparator)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

func (c *chatLog) appendMessage(a, b string, m *Message) {
	if c.conversations[a] == nil {
		c.conversations[a] = make(map[string][]*Message)
	}
	c.conversations[a][b] = append(c.conversations[a][b], m)
}

func (s *Session) isParticipant(id string) bool {
	if id == MasterID {
		return true
	}
	_, ok := s.Players[id]
	return ok
}

// SendMessage stores a message under both participants and bumps the
// recipient's unread counter. Traffic between two players also bumps the
// master's counter for that pair.
func (s *Session) SendMessage(senderID, recipientID, text string, now time.Time) (*Message, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return nil, ErrEmptyMessage
	case senderID == recipientID:
		return nil, ErrSelfMessage
	case !s.isParticipant(senderID):
		return nil, ErrUnknownSender
	case !s.isParticipant(recipientID):
		return nil, ErrUnknownRecipient
	}

	s.chat.seq++
	ms := now.UnixMilli()
	m := &Message{
		ID:          fmt.Sprintf("%d_%s_%s_%d", ms, senderID, recipientID, s.chat.seq),
		SenderID:    senderID,
		SenderName:  s.ParticipantName(senderID),
		RecipientID: recipientID,
		Text:        text,
		Timestamp:   ms,
	}

	s.chat.appendMessage(senderID, recipientID, m)
	s.chat.appendMessage(recipientID, senderID, m)
	s.chat.unread[unreadKey{recipientID, senderID}]++

	if senderID != MasterID && recipientID != MasterID {
		s.chat.unread[unreadKey{MasterID, PairKey(senderID, recipientID)}]++
	}
	return m, nil
}

// Conversation returns the messages between userID and otherID, oldest
// first. The master may pass a pair key as otherID to read a thread between
// two players.
func (s *Session) Conversation(userID, otherID string) []*Message {
	a, b := userID, otherID
	if userID == MasterID {
		if x, y, ok := SplitPairKey(otherID); ok {
			a, b = x, y
		}
	}
	msgs := s.chat.conversations[a][b]
	out := make([]*Message, len(msgs))
	copy(out, msgs)
	return out
}

// Unread returns viewer's unread count for counterpart (a participant id, or
// a pair key when viewer is the master).
func (s *Session) Unread(viewer, counterpart string) int {
	return s.chat.unread[unreadKey{viewer, counterpart}]
}

// MarkRead zeroes one unread counter and flags the messages addressed to the
// viewer as read.
func (s *Session) MarkRead(viewer, counterpart string) {
	delete(s.chat.unread, unreadKey{viewer, counterpart})
	if _, _, isPair := SplitPairKey(counterpart); isPair {
		return
	}
	for _, m := range s.chat.conversations[viewer][counterpart] {
		if m.RecipientID == viewer {
			m.Read = true
		}
	}
}

// Contacts builds userID's contact list. Players see the master and every
// other connected player. The master sees every connected player plus every
// pair of players that ever exchanged a message, connected or not.
func (s *Session) Contacts(userID string) []Contact {
	contacts := []Contact{}

	if userID != MasterID {
		contacts = append(contacts, Contact{
			ID:     MasterID,
			Name:   MasterName,
			Kind:   ContactMaster,
			Unread: s.Unread(userID, MasterID),
		})
	}

	for _, p := range s.PlayerList() {
		if p.ID == userID {
			continue
		}
		contacts = append(contacts, Contact{
			ID:     p.ID,
			Name:   p.Name,
			Kind:   ContactPlayer,
			Unread: s.Unread(userID, p.ID),
		})
	}

	if userID == MasterID {
		contacts = append(contacts, s.pairContacts()...)
	}
	return contacts
}

func (s *Session) pairContacts() []Contact {
	seen := make(map[string]bool)
	var pairs []Contact
	for a, byOther := range s.chat.conversations {
		if a == MasterID {
			continue
		}
		for b, msgs := range byOther {
			if b == MasterID || len(msgs) == 0 {
				continue
			}
			key := PairKey(a, b)
			if seen[key] {
				continue
			}
			seen[key] = true
			x, y, _ := SplitPairKey(key)
			pairs = append(pairs, Contact{
				ID:     key,
				Name:   s.pairName(x, y, msgs),
				Kind:   ContactPair,
				Unread: s.Unread(MasterID, key),
			})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })
	return pairs
}

// pairName prefers live player names and falls back to the names recorded
// on the messages, so departed players still read well.
func (s *Session) pairName(a, b string, msgs []*Message) string {
	name := func(id string) string {
		if p, ok := s.Players[id]; ok {
			return p.Name
		}
		for _, m := range msgs {
			if m.SenderID == id {
				return m.SenderName
			}
		}
		return id
	}
	return name(a) + " ↔ " + name(b)
}
