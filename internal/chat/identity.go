package chat

// Identity is the server-trusted principal bound to a connection at handshake.
type Identity struct {
	ID          string `json:"userId"`
	DisplayName string `json:"username"`
}

// Session is the immutable context a connection carries for its lifetime.
// It is created once by the handshake and passed into every operation; nothing
// in an event payload can change it.
type Session struct {
	id       string
	identity Identity
}

// NewSession binds identity to the connection identified by id.
func NewSession(id string, identity Identity) *Session {
	return &Session{id: id, identity: identity}
}

// ID returns the connection's session id.
func (s *Session) ID() string { return s.id }

// Identity returns the identity bound at handshake.
func (s *Session) Identity() Identity { return s.identity }

// UserID is shorthand for Identity().ID.
func (s *Session) UserID() string { return s.identity.ID }
