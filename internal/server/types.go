package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// Client-to-server event names.
const (
	eventJoinRoom    = "join-room"
	eventLeaveRoom   = "leave-room"
	eventTyping      = "typing"
	eventStopTyping  = "stop-typing"
	eventSendMessage = "send-message"
	eventDelete      = "delete-message"
	eventReaction    = "add-reaction"
	eventMarkRead    = "mark-message-read"
)

// Server-to-client frames that are not domain events.
const (
	eventAck          = "ack"
	eventError        = "error"
	eventRoomError    = "room-error"
	eventMessageError = "message-error"
)

// inboundFrame is a client request. ID is echoed in the ack when present.
type inboundFrame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// outboundFrame is everything the server writes to a connection.
type outboundFrame struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data"`
}

// ackPayload is the success body of an ack.
type ackPayload struct {
	Success     bool   `json:"success"`
	RoomID      string `json:"roomId,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
	Action      string `json:"action,omitempty"`
	AllRead     *bool  `json:"allRead,omitempty"`
	AlreadyRead bool   `json:"alreadyRead,omitempty"`
	Message     string `json:"message,omitempty"`
}

// errorPayload is the failure body of an ack and of error events.
type errorPayload struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// request is implemented by every inbound payload type.
type request interface {
	Validate() error
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

func (r *roomRequest) Validate() error {
	r.RoomID = strings.TrimSpace(r.RoomID)
	if r.RoomID == "" {
		return chat.ErrRoomIDRequired
	}
	return nil
}

type sendRequest struct {
	Content     string `json:"content"`
	RoomID      string `json:"roomId"`
	IsPrivate   bool   `json:"isPrivate"`
	RecipientID string `json:"recipientId"`
}

func (r *sendRequest) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return chat.ErrEmptyContent
	}
	if r.IsPrivate {
		if strings.TrimSpace(r.RecipientID) == "" {
			return chat.ErrRecipientRequired
		}
		return nil
	}
	if strings.TrimSpace(r.RoomID) == "" {
		return chat.ErrRoomIDRequired
	}
	return nil
}

func (r *sendRequest) command() chat.SendCommand {
	cmd := chat.SendCommand{Content: r.Content, IsPrivate: r.IsPrivate}
	if r.IsPrivate {
		cmd.RecipientID = r.RecipientID
	} else {
		cmd.RoomID = r.RoomID
	}
	return cmd
}

// messageRequest addresses an existing message. RoomID and IsPrivate are
// accepted for compatibility but the audience always comes from the stored
// message.
type messageRequest struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	IsPrivate bool   `json:"isPrivate"`
}

func (r *messageRequest) Validate() error {
	r.MessageID = strings.TrimSpace(r.MessageID)
	if r.MessageID == "" {
		return chat.ErrMessageIDRequired
	}
	return nil
}

type reactionRequest struct {
	messageRequest
	Emoji string `json:"emoji"`
}

func (r *reactionRequest) Validate() error {
	if err := r.messageRequest.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Emoji) == "" {
		return chat.ErrEmptyEmoji
	}
	return nil
}

// decodeRequest unmarshals data into req and validates it. Unknown fields are
// ignored; a missing payload validates as the zero value.
func decodeRequest(data json.RawMessage, req request) error {
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, req); err != nil {
			return fmt.Errorf("%w: malformed payload: %v", chat.ErrValidation, err)
		}
	}
	return req.Validate()
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
