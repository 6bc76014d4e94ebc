package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"tgbot-pipeline/internal/domain"
	"tgbot-pipeline/internal/integrations/telegram"
)

// QueueRoutes holds the queue URLs the validator dispatches to.
type QueueRoutes struct {
	Processing string
	Attachment string
	Callback   string
}

// ValidateService terminates the inbound webhook: it authenticates the
// caller, shapes the event, writes the inbound conversation entry and then
// enqueues exactly one envelope to the queue matching the event kind. The
// log write strictly precedes the enqueue so a crash between the two leaves
// "logged but not routed", never the reverse.
type ValidateService struct {
	store  ConversationStore
	queues Publisher
	routes map[domain.EventKind]string
	secret []byte
	logger *slog.Logger
}

// ValidateInput is one raw webhook call.
type ValidateInput struct {
	Body        []byte
	SecretToken string
}

// ValidateOutput reports what the validator did. MessageID is empty when the
// update was acknowledged without routing (unsupported update kinds).
type ValidateOutput struct {
	MessageID string
	Kind      domain.EventKind
}

// NewValidateService builds the validator with its explicit dispatch table.
func NewValidateService(store ConversationStore, queues Publisher, routes QueueRoutes, webhookSecret string, logger *slog.Logger) (*ValidateService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if queues == nil {
		return nil, errors.New("usecase: queue publisher must not be nil")
	}
	if routes.Processing == "" || routes.Attachment == "" || routes.Callback == "" {
		return nil, errors.New("usecase: all queue routes are required")
	}
	if webhookSecret == "" {
		return nil, errors.New("usecase: webhook secret must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ValidateService{
		store:  store,
		queues: queues,
		routes: map[domain.EventKind]string{
			domain.KindText:       routes.Processing,
			domain.KindAttachment: routes.Attachment,
			domain.KindCallback:   routes.Callback,
		},
		secret: []byte(webhookSecret),
		logger: logger,
	}, nil
}

// HandleUpdate processes one webhook call. Unauthenticated or malformed
// events are rejected with no side effects.
func (s *ValidateService) HandleUpdate(ctx context.Context, in ValidateInput) (ValidateOutput, error) {
	if subtle.ConstantTimeCompare(s.secret, []byte(in.SecretToken)) != 1 {
		return ValidateOutput{}, newError(ErrorValidation, "secret_mismatch", nil)
	}

	update, err := telegram.ParseUpdate(in.Body)
	if err != nil {
		return ValidateOutput{}, newError(ErrorValidation, "malformed_update", err)
	}
	ev, err := telegram.ExtractEvent(update)
	if err != nil {
		if errors.Is(err, telegram.ErrUnsupportedUpdate) {
			// Acknowledged so the platform stops re-posting it; nothing to route.
			s.logger.Info("ignoring unsupported update")
			return ValidateOutput{}, nil
		}
		return ValidateOutput{}, newError(ErrorValidation, "invalid_event", err)
	}

	entry, err := s.store.AppendEntry(ctx, domain.ConversationEntry{
		UserID:            ev.UserID,
		ChatID:            ev.ChatID,
		Direction:         domain.DirectionInbound,
		Status:            domain.StatusReceived,
		Message:           ev.DisplayText(),
		PlatformMessageID: ev.MessageID,
		SenderID:          ev.SenderID,
		IsBot:             ev.IsBot,
		MediaGroupID:      ev.MediaGroupID,
		FileInfo:          ev.File,
	})
	if err != nil {
		return ValidateOutput{}, newError(ErrorTransient, "log_write_error", err)
	}

	env, err := buildEnvelope(ev, entry)
	if err != nil {
		return ValidateOutput{}, newError(ErrorValidation, "envelope_error", err)
	}
	queueURL, ok := s.routes[ev.Kind]
	if !ok {
		return ValidateOutput{}, newError(ErrorValidation, "unroutable_kind", nil)
	}
	if err := s.queues.Send(ctx, queueURL, env); err != nil {
		return ValidateOutput{}, newError(ErrorTransient, "enqueue_error", err)
	}

	s.logger.Info("update routed",
		"message_id", env.MessageID,
		"origin_event_id", env.OriginEventID,
		"kind", ev.Kind,
		"user_id", ev.UserID)
	return ValidateOutput{MessageID: env.MessageID, Kind: ev.Kind}, nil
}

// buildEnvelope shapes the stage payload for the event's kind.
func buildEnvelope(ev domain.InboundEvent, entry domain.ConversationEntry) (domain.Envelope, error) {
	switch ev.Kind {
	case domain.KindText:
		return domain.NewEnvelope(newUUID(), entry.EntryID(), domain.KindText, domain.ProcessingPayload{
			UserID:    ev.UserID,
			ChatID:    ev.ChatID,
			MessageID: ev.MessageID,
			Text:      ev.Text,
		})
	case domain.KindAttachment:
		return domain.NewEnvelope(newUUID(), entry.EntryID(), domain.KindAttachment, domain.AttachmentPayload{
			UserID:       ev.UserID,
			ChatID:       ev.ChatID,
			MessageID:    ev.MessageID,
			Caption:      ev.Caption,
			MediaGroupID: ev.MediaGroupID,
			File:         *ev.File,
		})
	case domain.KindCallback:
		return domain.NewEnvelope(newUUID(), entry.EntryID(), domain.KindCallback, domain.CallbackPayload{
			CallbackID: ev.CallbackID,
			UserID:     ev.UserID,
			ChatID:     ev.ChatID,
			MessageID:  ev.MessageID,
			Data:       ev.CallbackData,
		})
	default:
		return domain.Envelope{}, errors.New("usecase: unknown event kind")
	}
}
