package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind tags the variant carried by an envelope. The validator routes on
// it with an explicit dispatch table; downstream stages switch on it when one
// queue carries more than one variant.
type EventKind string

const (
	KindText       EventKind = "text"
	KindAttachment EventKind = "attachment"
	KindCallback   EventKind = "callback"
	KindOutgoing   EventKind = "outgoing"
	KindGroupReady EventKind = "group_ready"
)

// Envelope is the message passed between pipeline stages. MessageID is
// generated at first enqueue and preserved across hops, so it doubles as the
// end-to-end trace id and the idempotency key for consuming stages.
// AttemptCount is set by the consuming stage from the queue's receive count.
type Envelope struct {
	MessageID     string          `json:"message_id"`
	OriginEventID string          `json:"origin_event_id"`
	Kind          EventKind       `json:"kind"`
	AttemptCount  int             `json:"attempt_count"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds a first-hop envelope with a freshly generated MessageID.
func NewEnvelope(messageID, originEventID string, kind EventKind, payload any) (Envelope, error) {
	if messageID == "" {
		return Envelope{}, errors.New("domain: envelope message id is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("domain: marshal envelope payload: %w", err)
	}
	return Envelope{
		MessageID:     messageID,
		OriginEventID: originEventID,
		Kind:          kind,
		Payload:       raw,
	}, nil
}

// Hop derives a follow-up envelope for the next stage. MessageID and
// OriginEventID carry over unchanged; the attempt count resets because each
// queue tracks its own deliveries.
func (e Envelope) Hop(kind EventKind, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("domain: marshal hop payload: %w", err)
	}
	return Envelope{
		MessageID:     e.MessageID,
		OriginEventID: e.OriginEventID,
		Kind:          kind,
		Payload:       raw,
	}, nil
}

// Decode unmarshals the stage-specific payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("domain: decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// ProcessingPayload is consumed by the message router. UploadedKeys is set on
// the follow-up hop the attachment handler emits after persisting blobs.
type ProcessingPayload struct {
	UserID       string   `json:"user_id"`
	ChatID       string   `json:"chat_id"`
	MessageID    int      `json:"message_id"`
	Text         string   `json:"text,omitempty"`
	Caption      string   `json:"caption,omitempty"`
	MediaGroupID string   `json:"media_group_id,omitempty"`
	UploadedKeys []string `json:"uploaded_keys,omitempty"`
}

// AttachmentPayload is consumed by the attachment handler. It carries the
// platform file reference, never binary content.
type AttachmentPayload struct {
	UserID       string   `json:"user_id"`
	ChatID       string   `json:"chat_id"`
	MessageID    int      `json:"message_id"`
	Caption      string   `json:"caption,omitempty"`
	MediaGroupID string   `json:"media_group_id,omitempty"`
	File         FileInfo `json:"file"`
}

// GroupReadyPayload fires once per media burst after the quiet window.
type GroupReadyPayload struct {
	UserID       string `json:"user_id"`
	ChatID       string `json:"chat_id"`
	MessageID    int    `json:"message_id"`
	MediaGroupID string `json:"media_group_id"`
}

// CallbackPayload is consumed by the callback handler.
type CallbackPayload struct {
	CallbackID string `json:"callback_id"`
	UserID     string `json:"user_id"`
	ChatID     string `json:"chat_id"`
	MessageID  int    `json:"message_id"`
	Data       string `json:"data"`
}

// OutgoingPayload is consumed by the outbound sender.
type OutgoingPayload struct {
	UserID    string `json:"user_id"`
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ReplyTo   int    `json:"reply_to_message_id,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}
