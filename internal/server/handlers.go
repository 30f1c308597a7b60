// Package server exposes HTTP handlers, including the authenticated WebSocket
// upgrade, health checks, and the built-in test page.
package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/observability"
)

// WebSocketHandler binds a bearer-authenticated identity to a new connection.
// It rejects non-GET requests, disallowed origins and invalid credentials
// before upgrading, so no event handler is reachable without an identity.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if !checkOrigin(r) {
		observability.HandshakeRejections.WithLabelValues("origin").Inc()
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	identity, err := s.authn.Authenticate(auth.TokenFromRequest(r))
	if err != nil {
		observability.HandshakeRejections.WithLabelValues("unauthenticated").Inc()
		s.log.Info("handshake rejected", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.HandshakeRejections.WithLabelValues("upgrade").Inc()
		s.log.Warn("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	session := chat.NewSession(uuid.NewString(), identity)
	client := NewClient(conn, s.hub, s.engine, session, r.RemoteAddr)

	// The hub launches the pump goroutines.
	if !s.hub.Register(client) {
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "RelayChat server is running!")
}

// TestPageHandler serves an HTML test page for exercising the WebSocket
// protocol by hand: connect with a token, join a room and send messages.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		zap.L().Warn("error writing HTML response", zap.Error(err))
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>RelayChat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
            font-size: 12px;
        }
        input[type="text"] {
            width: 300px;
            padding: 5px;
            margin-right: 10px;
        }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .row { margin: 6px 0; }
        .status {
            margin: 10px 0;
            padding: 5px;
            border-radius: 3px;
        }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>RelayChat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div class="row">
        <input type="text" id="tokenInput" placeholder="Bearer token">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div class="row">
        <input type="text" id="roomInput" placeholder="Room ID">
        <button onclick="send('join-room', {roomId: roomInput.value})">Join</button>
        <button onclick="send('leave-room', {roomId: roomInput.value})">Leave</button>
    </div>
    <div class="row">
        <input type="text" id="messageInput" placeholder="Type a message...">
        <button onclick="sendMessage()">Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        let seq = 0;
        const messagesDiv = document.getElementById('messages');
        const tokenInput = document.getElementById('tokenInput');
        const roomInput = document.getElementById('roomInput');
        const messageInput = document.getElementById('messageInput');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.color = color || 'gray';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?token=' + encodeURIComponent(tokenInput.value));
            ws.onopen = function() { addLine('Connected'); updateStatus(true); };
            ws.onmessage = function(event) { addLine('<- ' + event.data, 'green'); };
            ws.onclose = function() { addLine('Connection closed'); updateStatus(false); ws = null; };
            ws.onerror = function() { addLine('Connection error', 'red'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function send(event, data) {
            if (!ws || ws.readyState !== WebSocket.OPEN) {
                return;
            }
            const frame = JSON.stringify({event: event, id: String(++seq), data: data});
            ws.send(frame);
            addLine('-> ' + frame, 'blue');
        }

        function sendMessage() {
            const content = messageInput.value.trim();
            if (content) {
                send('send-message', {roomId: roomInput.value, content: content});
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
