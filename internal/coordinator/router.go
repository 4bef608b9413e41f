// This file wires the Coordinator up as a realtime.Router: the single
// dispatch point every inbound socket event passes through once
// authenticated. Typing events are handled here too (rather than wiring a
// second Router into the Hub) since a socket only ever needs one place to
// send decoded events.

package coordinator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
	"chatcore/internal/realtime"
	"chatcore/internal/typing"
)

// sendRequest is the payload shape for a "message:send" event.
type sendRequest struct {
	ChatID      string         `json:"chatId" validate:"required,uuid"`
	Content     string         `json:"content" validate:"required,max=10000"`
	ContentType string         `json:"contentType" validate:"omitempty,oneof=text image system"`
	Metadata    map[string]any `json:"metadata"`
	ReplyToID   *string        `json:"replyToId" validate:"omitempty,uuid"`
}

type editRequest struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	Content   string `json:"content" validate:"required,max=10000"`
}

type messageIDRequest struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
}

type chatIDRequest struct {
	ChatID string `json:"chatId" validate:"required,uuid"`
}

type reactionRequest struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	Emoji     string `json:"emoji" validate:"required,max=16"`
}

type presenceUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=online away offline"`
}

// attachmentUploadRequest is the payload shape for an "attachment:upload"
// event: Data is base64-encoded object bytes, kept small by the socket
// frame limit (maxMessageSize in internal/realtime) rather than a dedicated
// size cap here — large transfers are expected to use a pre-signed URL
// obtained out of band, not this event.
type attachmentUploadRequest struct {
	ObjectKey string  `json:"objectKey" validate:"required,max=256"`
	MimeType  string  `json:"mimeType" validate:"required,max=128"`
	Data      string  `json:"data" validate:"required,base64"`
	MessageID *string `json:"messageId" validate:"omitempty,uuid"`
}

// WithTyping attaches the typing tracker so the Coordinator can serve as
// the Hub's single Router. Returns the receiver for chaining at wiring
// time.
func (c *Coordinator) WithTyping(t *typing.Tracker) *Coordinator {
	c.typing = t
	return c
}

// Route implements realtime.Router.
func (c *Coordinator) Route(userID, sessionID, eventType string, payload json.RawMessage) {
	var err error
	switch eventType {
	case "message:send":
		err = c.routeSend(userID, payload)
	case "message:edit":
		err = c.routeEdit(userID, payload)
	case "message:delete":
		err = c.routeDelete(userID, payload)
	case "reaction:add":
		err = c.routeReactionAdd(userID, payload)
	case "reaction:remove":
		err = c.routeReactionRemove(userID, payload)
	case "delivery:ack":
		err = c.routeMarkDelivered(userID, payload)
	case "message:read":
		err = c.routeMarkRead(userID, payload)
	case "chat:mark-all-read":
		err = c.routeMarkChatRead(userID, payload)
	case "typing:start":
		err = c.routeTyping(userID, payload, true)
	case "typing:stop":
		err = c.routeTyping(userID, payload, false)
	case "presence:update":
		err = c.routePresenceUpdate(userID, payload)
	case "presence:heartbeat":
		err = c.routePresenceHeartbeat(userID, sessionID)
	case "attachment:upload":
		err = c.routeUploadAttachment(userID, payload)
	default:
		err = apperrors.New(apperrors.BadRequest, "unknown event type: "+eventType)
	}

	if err != nil {
		c.hub.DeliverToUser(userID, realtime.Envelope{Type: "error", Data: errorPayload(err)})
	}
}

func errorPayload(err error) map[string]any {
	appErr, ok := apperrors.As(err)
	if !ok {
		return map[string]any{"kind": apperrors.Internal, "message": "internal error"}
	}
	payload := map[string]any{"kind": appErr.Kind, "message": appErr.Message}
	if len(appErr.Details) > 0 {
		payload["details"] = appErr.Details
	}
	if appErr.RetryAfter > 0 {
		payload["retryAfterMs"] = appErr.RetryAfter
	}
	return payload
}

var validate = validator.New()

// routeSend acks the sender out-of-band rather than through the generic
// error envelope: a success replies `message:sent`, a failure replies
// `message:error` carrying the chatId the client sent, per SPEC_FULL.md
// §4.4 and §6.
func (c *Coordinator) routeSend(userID string, payload json.RawMessage) error {
	var req sendRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.New(apperrors.BadRequest, "malformed message:send payload")
	}
	if err := validate.Struct(req); err != nil {
		return apperrors.New(apperrors.Validation, err.Error())
	}
	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = "text"
	}

	enriched, err := c.Send(userID, req.ChatID, req.Content, contentTypeOf(contentType), req.Metadata, req.ReplyToID)
	if err != nil {
		c.hub.DeliverToUser(userID, realtime.Envelope{Type: "message:error", Data: map[string]string{
			"chatId": req.ChatID,
			"error":  string(apperrors.KindOf(err)),
		}})
		return nil
	}

	c.hub.DeliverToUser(userID, realtime.Envelope{Type: "message:sent", Data: map[string]any{
		"messageId": enriched.Message.ID,
		"chatId":    req.ChatID,
		"timestamp": enriched.Message.CreatedAt,
	}})
	return nil
}

func (c *Coordinator) routeEdit(userID string, payload json.RawMessage) error {
	var req editRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.New(apperrors.BadRequest, "malformed message:edit payload")
	}
	if err := validate.Struct(req); err != nil {
		return apperrors.New(apperrors.Validation, err.Error())
	}
	_, err := c.Edit(userID, req.MessageID, req.Content)
	return err
}

func (c *Coordinator) routeDelete(userID string, payload json.RawMessage) error {
	var req messageIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.New(apperrors.BadRequest, "malformed message:delete payload")
	}
	if err := validate.Struct(req); err != nil {
		return apperrors.New(apperrors.Validation, err.Error())
	}
	_, err := c.Delete(userID, req.MessageID)
	return err
}

func (c *Coordinator) routeReactionAdd(userID string, payload json.RawMessage) error {
	var req reactionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.New(apperrors.BadRequest, "malformed reaction:add payload")
	}
	if err := validate.Struct(req); err != nil {
		return apperrors.New(apperrors.Validation, err.Error())
	}
	_, err := c.AddReaction(userID, req.MessageID, req.Emoji)
	return err
}

func (c *Coordinator) routeReactionRemove(userID string, payload json.RawMessage) error {
	var req reactionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.New(apperrors.BadRequest, "malformed reaction:remove payload")
	}
	if err := validate.Struct(req); err != nil {
		return apperrors.New(apperrors.Validation, err.Error())
	}
	_, err := c.RemoveReaction(userID, req.MessageID, req.Emoji)
	return err
}

func (c *Coordinator) routeMarkDelivered(userID string, payload json.RawMessage) error {
	var req messageIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.New(apperrors.BadRequest, "malformed delivery:ack payload")
	}
	if err := validate.Struct(req); err != nil {
		return apperrors.New(apperrors.Validation, err.Error())
	}
	return c.MarkDelivered(userID, req.MessageID)
}

func (c *Coordinator) routeMarkRead(userID string, payload json.RawMessage) error {
	var req messageIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.New(apperrors.BadRequest, "malformed message:read payload")
	}
	if err := validate.Struct(req); err != nil {
		return apperrors.New(apperrors.Validation, err.Error())
	}
	return c.MarkRead(userID, req.MessageID)
}

func (c *Coordinator) routeMarkChatRead(userID string, payload json.RawMessage) error {
	var req chatIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.New(apperrors.BadRequest, "malformed chat:mark-all-read payload")
	}
	if err := validate.Struct(req); err != nil {
		return apperrors.New(apperrors.Validation, err.Error())
	}
	return c.MarkChatRead(userID, req.ChatID)
}

// routeTyping forwards the transition to the Tracker (which publishes
// fleet-wide) and, on an actual start/stop transition, also delivers it
// to this node's own local sockets directly: the pubsub bridge suppresses
// self-echoes from its own node, so same-node recipients would otherwise
// never see a same-node sender's typing events.
func (c *Coordinator) routeTyping(userID string, payload json.RawMessage, start bool) error {
	var req chatIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.New(apperrors.BadRequest, "malformed typing payload")
	}
	if err := validate.Struct(req); err != nil {
		return apperrors.New(apperrors.Validation, err.Error())
	}
	if c.typing == nil {
		return nil
	}

	var transitioned bool
	var err error
	if start {
		transitioned, err = c.typing.Start(req.ChatID, userID)
	} else {
		transitioned, err = c.typing.Stop(req.ChatID, userID)
	}
	if err != nil {
		return err
	}
	if transitioned {
		c.DeliverTyping(req.ChatID, userID, start)
	}
	return nil
}

func (c *Coordinator) routePresenceUpdate(userID string, payload json.RawMessage) error {
	var req presenceUpdateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.New(apperrors.BadRequest, "malformed presence:update payload")
	}
	if err := validate.Struct(req); err != nil {
		return apperrors.New(apperrors.Validation, err.Error())
	}
	return c.presence.SetStatus(userID, models.UserStatus(req.Status))
}

func (c *Coordinator) routePresenceHeartbeat(userID, sessionID string) error {
	return c.presence.Heartbeat(userID, sessionID)
}

// routeUploadAttachment decodes and stores a small object inline, then
// notifies the uploader's own sockets (not the chat room: a bare
// attachment upload isn't yet attached to a delivered message, so there is
// nothing for other participants to see until a message referencing it is
// sent).
func (c *Coordinator) routeUploadAttachment(userID string, payload json.RawMessage) error {
	if c.attachments == nil {
		return apperrors.New(apperrors.ServiceUnavailable, "attachment storage is not configured")
	}
	var req attachmentUploadRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.New(apperrors.BadRequest, "malformed attachment:upload payload")
	}
	if err := validate.Struct(req); err != nil {
		return apperrors.New(apperrors.Validation, err.Error())
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return apperrors.New(apperrors.Validation, "attachment data is not valid base64")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()
	attachment, err := c.attachments.Upload(ctx, userID, req.MessageID, req.ObjectKey, req.MimeType, data)
	if err != nil {
		return err
	}

	c.hub.DeliverToUser(userID, realtime.Envelope{Type: "attachment:uploaded", Data: attachment})
	return nil
}
