package chat

import (
	"fmt"
	"time"
)

// DeletedPlaceholder replaces the content of a soft-deleted message.
const DeletedPlaceholder = "[Message deleted]"

// Room is a named, membership-scoped broadcast context.
type Room struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	IsGlobal      bool      `json:"isGlobal"`
	Members       []string  `json:"members"`
	MessageCount  int64     `json:"messageCount"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	CreatedBy     string    `json:"createdBy,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// HasMember reports whether userID is in the room's recorded member set.
func (r *Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// CanPost reports whether userID may send to the room. The global room is
// open to any authenticated identity.
func (r *Room) CanPost(userID string) bool {
	return r.IsGlobal || r.HasMember(userID)
}

// User is the stored view of an identity with its presence.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"username"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Reaction is one (identity, emoji) pair on a message.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// Message is either room-addressed (RoomID set) or private-addressed
// (IsPrivate with RecipientID set), never both.
type Message struct {
	ID                string     `json:"id"`
	SenderID          string     `json:"senderId"`
	SenderDisplayName string     `json:"senderUsername"`
	Content           string     `json:"content"`
	RoomID            string     `json:"roomId,omitempty"`
	IsPrivate         bool       `json:"isPrivate"`
	RecipientID       string     `json:"recipientId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	ReadBy            []string   `json:"readBy"`
	Reactions         []Reaction `json:"reactions"`
	Read              bool       `json:"read"`
	DeletedAt         *time.Time `json:"deletedAt"`
}

// Validate checks the addressing invariant.
func (m *Message) Validate() error {
	switch {
	case m.IsPrivate && m.RoomID != "":
		return fmt.Errorf("%w: message %s is both private and room-addressed", ErrValidation, m.ID)
	case m.IsPrivate && m.RecipientID == "":
		return fmt.Errorf("%w: private message %s has no recipient", ErrValidation, m.ID)
	case !m.IsPrivate && m.RoomID == "":
		return fmt.Errorf("%w: message %s has no room", ErrValidation, m.ID)
	case !m.IsPrivate && m.RecipientID != "":
		return fmt.Errorf("%w: room message %s has a recipient", ErrValidation, m.ID)
	}
	return nil
}

// Deleted reports whether the message has been soft-deleted.
func (m *Message) Deleted() bool { return m.DeletedAt != nil }

// HasReader reports whether userID is in ReadBy.
func (m *Message) HasReader(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// HasReaction reports whether the exact (identity, emoji) pair is present.
func (m *Message) HasReaction(r Reaction) bool {
	for _, existing := range m.Reactions {
		if existing == r {
			return true
		}
	}
	return false
}

// Parties returns the two identities addressed by a private message.
func (m *Message) Parties() []string {
	if m.RecipientID == m.SenderID {
		return []string{m.SenderID}
	}
	return []string{m.SenderID, m.RecipientID}
}

// IsParty reports whether userID sent or received the private message m.
func (m *Message) IsParty(userID string) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// Audience is the set of live connections the message was originally
// delivered to; later events about the message go to the same set.
func (m *Message) Audience() Audience {
	if m.IsPrivate {
		return ToUsers(m.Parties()...)
	}
	return ToRoom(m.RoomID)
}

// ReadAggregate reports whether every currently addressed party has read m.
// Private messages need both parties; room messages need every current member
// of the room. A room with no members is never fully read.
func ReadAggregate(m *Message, members []string) bool {
	if m.IsPrivate {
		members = m.Parties()
	}
	if len(members) == 0 {
		return false
	}
	for _, member := range members {
		if !m.HasReader(member) {
			return false
		}
	}
	return true
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
