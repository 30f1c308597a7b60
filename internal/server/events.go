package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/observability"
)

// eventHandler binds an inbound event name to the operation it runs and the
// side-channel event its failures are reported on.
type eventHandler struct {
	errorEvent string
	handle     func(ctx context.Context, c *Client, data json.RawMessage) (any, error)
}

var eventHandlers = map[string]eventHandler{
	eventJoinRoom:    {errorEvent: eventRoomError, handle: handleJoinRoom},
	eventLeaveRoom:   {errorEvent: eventRoomError, handle: handleLeaveRoom},
	eventTyping:      {errorEvent: eventRoomError, handle: typingHandler(true)},
	eventStopTyping:  {errorEvent: eventRoomError, handle: typingHandler(false)},
	eventSendMessage: {errorEvent: eventMessageError, handle: handleSendMessage},
	eventDelete:      {errorEvent: eventMessageError, handle: handleDeleteMessage},
	eventReaction:    {errorEvent: eventMessageError, handle: handleReaction},
	eventMarkRead:    {errorEvent: eventMessageError, handle: handleMarkRead},
}

// handleFrame decodes one inbound frame, runs its operation and reports the
// outcome. Failures never close the connection.
func (c *Client) handleFrame(ctx context.Context, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.log.Debug("invalid frame", zap.Error(err))
		observability.EventsTotal.WithLabelValues("invalid", "error").Inc()
		c.reply(outboundFrame{
			Event: eventError,
			Data:  newErrorPayload(fmt.Errorf("%w: malformed frame", chat.ErrValidation), err.Error()),
		})
		return
	}

	handler, ok := eventHandlers[frame.Event]
	if !ok {
		observability.EventsTotal.WithLabelValues("unknown", "error").Inc()
		c.fail(frame, eventError, fmt.Errorf("%w: unknown event %q", chat.ErrValidation, frame.Event))
		return
	}

	start := time.Now()
	result, err := handler.handle(ctx, c, frame.Data)
	observability.EventDuration.WithLabelValues(frame.Event).Observe(time.Since(start).Seconds())

	if err != nil {
		observability.EventsTotal.WithLabelValues(frame.Event, "error").Inc()
		c.fail(frame, handler.errorEvent, err)
		return
	}

	observability.EventsTotal.WithLabelValues(frame.Event, "ok").Inc()
	if frame.ID != "" {
		c.reply(outboundFrame{Event: eventAck, ID: frame.ID, Data: result})
	}
}

// fail reports err as a failed ack, when the frame asked for one, and on the
// given error event.
func (c *Client) fail(frame inboundFrame, errorEvent string, err error) {
	if chat.IsDomainError(err) {
		c.log.Debug("event rejected", zap.String("event", frame.Event), zap.Error(err))
	} else {
		c.log.Error("event failed", zap.String("event", frame.Event), zap.Error(err))
	}

	payload := newErrorPayload(err, frame.Event)
	if frame.ID != "" {
		c.reply(outboundFrame{Event: eventAck, ID: frame.ID, Data: payload})
	}
	c.reply(outboundFrame{Event: errorEvent, Data: payload})
}

func handleJoinRoom(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var req roomRequest
	if err := decodeRequest(data, &req); err != nil {
		return nil, err
	}
	if _, err := c.engine.JoinRoom(ctx, c.session, req.RoomID); err != nil {
		return nil, err
	}
	return ackPayload{Success: true, RoomID: req.RoomID, Message: "Successfully joined room"}, nil
}

func handleLeaveRoom(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var req roomRequest
	if err := decodeRequest(data, &req); err != nil {
		return nil, err
	}
	result, err := c.engine.LeaveRoom(ctx, c.session, req.RoomID)
	if err != nil {
		return nil, err
	}
	return ackPayload{Success: true, RoomID: result.RoomID, Message: result.Message}, nil
}

func typingHandler(active bool) func(context.Context, *Client, json.RawMessage) (any, error) {
	return func(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
		var req roomRequest
		if err := decodeRequest(data, &req); err != nil {
			return nil, err
		}
		if err := c.engine.Typing(ctx, c.session, req.RoomID, active); err != nil {
			return nil, err
		}
		return ackPayload{Success: true}, nil
	}
}

func handleSendMessage(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var req sendRequest
	if err := decodeRequest(data, &req); err != nil {
		return nil, err
	}
	msg, err := c.engine.SendMessage(ctx, c.session, req.command())
	if err != nil {
		return nil, err
	}
	return ackPayload{Success: true, MessageID: msg.ID, Message: "Message sent successfully"}, nil
}

func handleDeleteMessage(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var req messageRequest
	if err := decodeRequest(data, &req); err != nil {
		return nil, err
	}
	if _, err := c.engine.DeleteMessage(ctx, c.session, req.MessageID); err != nil {
		return nil, err
	}
	return ackPayload{Success: true, MessageID: req.MessageID, Message: "Message deleted successfully"}, nil
}

func handleReaction(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var req reactionRequest
	if err := decodeRequest(data, &req); err != nil {
		return nil, err
	}
	result, err := c.engine.React(ctx, c.session, req.MessageID, req.Emoji)
	if err != nil {
		return nil, err
	}
	if result.Added {
		return ackPayload{Success: true, Action: "added", Message: "Reaction added successfully"}, nil
	}
	return ackPayload{Success: true, Action: "removed", Message: "Reaction removed"}, nil
}

func handleMarkRead(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var req messageRequest
	if err := decodeRequest(data, &req); err != nil {
		return nil, err
	}
	result, err := c.engine.MarkRead(ctx, c.session, req.MessageID)
	if err != nil {
		return nil, err
	}
	allRead := result.AllRead
	if result.AlreadyRead {
		return ackPayload{Success: true, AllRead: &allRead, AlreadyRead: true, Message: "Message already marked as read"}, nil
	}
	return ackPayload{Success: true, AllRead: &allRead, Message: "Message marked as read"}, nil
}
