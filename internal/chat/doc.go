// Package chat implements the coordination layer of the chat server: presence,
// room membership, the message lifecycle and typing relay.
//
// Every operation takes the *Session produced by the handshake and reads the
// acting identity only from it. Shared state lives behind the Store contract,
// whose mutating methods are single atomic updates, and live delivery goes
// through the Fanout contract implemented by the transport.
package chat
