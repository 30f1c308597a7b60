// Package server implements the WebSocket and HTTP surface of relaychat.
//
// A Hub indexes live connections by session, identity and room and serves as
// the engine's fanout. Each Client owns one authenticated connection, decodes
// inbound event frames, runs them against the chat engine and acknowledges
// them. The REST API under /api exposes the read paths and room creation
// behind the same bearer authentication.
package server
