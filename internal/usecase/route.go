package usecase

import (
	"context"
	"errors"
	"log/slog"

	"tgbot-pipeline/internal/domain"
)

// RouteService consumes processing-queue messages one at a time, resolves
// intent through the pluggable handler and enqueues the follow-up: an
// outgoing reply, or an attachment hand-off when the response needs binary
// content fetched.
type RouteService struct {
	store         ConversationStore
	queues        Publisher
	intents       IntentHandler
	outgoingURL   string
	attachmentURL string
	maxAttempts   int
	logger        *slog.Logger
}

func NewRouteService(store ConversationStore, queues Publisher, intents IntentHandler, outgoingURL, attachmentURL string, maxAttempts int, logger *slog.Logger) (*RouteService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if queues == nil {
		return nil, errors.New("usecase: queue publisher must not be nil")
	}
	if intents == nil {
		return nil, errors.New("usecase: intent handler must not be nil")
	}
	if outgoingURL == "" || attachmentURL == "" {
		return nil, errors.New("usecase: outgoing and attachment queue URLs are required")
	}
	if maxAttempts <= 0 {
		return nil, errors.New("usecase: max attempts must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RouteService{
		store:         store,
		queues:        queues,
		intents:       intents,
		outgoingURL:   outgoingURL,
		attachmentURL: attachmentURL,
		maxAttempts:   maxAttempts,
		logger:        logger,
	}, nil
}

// Handle processes one envelope. Redelivery of an already-handled message id
// is absorbed without a second reply.
func (s *RouteService) Handle(ctx context.Context, env domain.Envelope) error {
	var in domain.ProcessingPayload
	if err := env.Decode(&in); err != nil {
		// Redelivery cannot fix a payload that does not parse.
		s.logger.Error("dropping malformed processing payload", "message_id", env.MessageID, "err", err)
		return nil
	}

	failedEntry := domain.ConversationEntry{
		UserID:            in.UserID,
		ChatID:            in.ChatID,
		Direction:         domain.DirectionInbound,
		Message:           in.Text,
		PlatformMessageID: in.MessageID,
		MediaGroupID:      in.MediaGroupID,
	}

	seen, err := s.store.HasProcessed(ctx, "route:"+env.MessageID)
	if err != nil {
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "idempotency_check_error", err))
	}
	if seen {
		s.logger.Info("duplicate delivery absorbed", "message_id", env.MessageID, "stage", "router")
		return nil
	}

	reply, err := s.intents.Resolve(ctx, in)
	if err != nil {
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorPermanent, "intent_error", err))
	}

	switch {
	case reply.Fetch != nil:
		hop, err := env.Hop(domain.KindAttachment, domain.AttachmentPayload{
			UserID:       in.UserID,
			ChatID:       in.ChatID,
			MessageID:    in.MessageID,
			Caption:      in.Caption,
			MediaGroupID: in.MediaGroupID,
			File:         *reply.Fetch,
		})
		if err != nil {
			return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorPermanent, "hop_error", err))
		}
		if err := s.queues.Send(ctx, s.attachmentURL, hop); err != nil {
			return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "enqueue_error", err))
		}
	case reply.Text != "":
		hop, err := env.Hop(domain.KindOutgoing, domain.OutgoingPayload{
			UserID:  in.UserID,
			ChatID:  in.ChatID,
			Text:    reply.Text,
			ReplyTo: reply.ReplyTo,
		})
		if err != nil {
			return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorPermanent, "hop_error", err))
		}
		if err := s.queues.Send(ctx, s.outgoingURL, hop); err != nil {
			return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "enqueue_error", err))
		}
	}

	if err := s.store.MarkProcessed(ctx, "route:"+env.MessageID); err != nil && !errors.Is(err, domain.ErrDuplicate) {
		// A lost mark means one extra hop on redelivery, which the sender's
		// own idempotency check absorbs; log and move on.
		s.logger.Warn("failed to mark message processed", "message_id", env.MessageID, "err", err)
	}

	s.logger.Info("message routed", "message_id", env.MessageID, "user_id", in.UserID)
	return nil
}
