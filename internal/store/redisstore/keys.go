package redisstore

import "strings"

const (
	keyRooms     = "rooms"
	keyRoomNames = "rooms:names"
	keyGlobal    = "rooms:global"
	keyOnline    = "users:online"
)

type keyspace struct {
	prefix string
}

func (k keyspace) key(parts ...string) string {
	return k.prefix + strings.Join(parts, ":")
}

func (k keyspace) rooms() string     { return k.key(keyRooms) }
func (k keyspace) roomNames() string { return k.key(keyRoomNames) }
func (k keyspace) global() string    { return k.key(keyGlobal) }
func (k keyspace) online() string    { return k.key(keyOnline) }

func (k keyspace) room(id string) string         { return k.key("room", id) }
func (k keyspace) members(id string) string      { return k.key("room", id, "members") }
func (k keyspace) roomMessages(id string) string { return k.key("room", id, "messages") }

func (k keyspace) user(id string) string { return k.key("user", id) }

func (k keyspace) message(id string) string   { return k.key("msg", id) }
func (k keyspace) readBy(id string) string    { return k.key("msg", id, "readby") }
func (k keyspace) reactions(id string) string { return k.key("msg", id, "reactions") }

func (k keyspace) conversation(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return k.key("dm", a, b)
}

// reactionMember encodes a reaction as a sorted set member. The unit
// separator cannot appear in a user id or an emoji.
func reactionMember(userID, emoji string) string {
	return userID + "\x1f" + emoji
}

func parseReactionMember(member string) (string, string, bool) {
	return strings.Cut(member, "\x1f")
}
