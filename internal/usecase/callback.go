package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"tgbot-pipeline/internal/domain"
)

// CallbackAnswerer clears the platform's loading state for an inline-button
// press. *telegram.Client satisfies this interface.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// CallbackService consumes callback-queue messages: it answers the callback
// query, appends the recorded choice to the conversation log and enqueues
// exactly one outgoing reply.
type CallbackService struct {
	store       ConversationStore
	queues      Publisher
	platform    CallbackAnswerer
	outgoingURL string
	maxAttempts int
	logger      *slog.Logger
}

func NewCallbackService(store ConversationStore, queues Publisher, platform CallbackAnswerer, outgoingURL string, maxAttempts int, logger *slog.Logger) (*CallbackService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if queues == nil {
		return nil, errors.New("usecase: queue publisher must not be nil")
	}
	if platform == nil {
		return nil, errors.New("usecase: callback answerer must not be nil")
	}
	if outgoingURL == "" {
		return nil, errors.New("usecase: outgoing queue URL is required")
	}
	if maxAttempts <= 0 {
		return nil, errors.New("usecase: max attempts must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CallbackService{
		store:       store,
		queues:      queues,
		platform:    platform,
		outgoingURL: outgoingURL,
		maxAttempts: maxAttempts,
		logger:      logger,
	}, nil
}

// callbackAction maps a callback data prefix to the toast shown on the
// pressed button and the reply sent to the chat.
type callbackAction struct {
	toast string
	reply string
}

func actionFor(data string) callbackAction {
	switch {
	case strings.HasPrefix(data, "confirm_"):
		return callbackAction{toast: "✅ File confirmed!", reply: "Thank you for confirming the file!"}
	case strings.HasPrefix(data, "delete_"):
		return callbackAction{toast: "❌ File marked for deletion", reply: "File will be deleted shortly."}
	default:
		return callbackAction{toast: "Unknown action", reply: "Sorry, I don't recognize that action."}
	}
}

// Handle processes one callback envelope with the same idempotency and retry
// discipline as the router.
func (s *CallbackService) Handle(ctx context.Context, env domain.Envelope) error {
	var in domain.CallbackPayload
	if err := env.Decode(&in); err != nil {
		s.logger.Error("dropping malformed callback payload", "message_id", env.MessageID, "err", err)
		return nil
	}

	failedEntry := domain.ConversationEntry{
		UserID:            in.UserID,
		ChatID:            in.ChatID,
		Direction:         domain.DirectionInbound,
		Message:           "callback " + in.Data,
		PlatformMessageID: in.MessageID,
	}

	seen, err := s.store.HasProcessed(ctx, "callback:"+env.MessageID)
	if err != nil {
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "idempotency_check_error", err))
	}
	if seen {
		s.logger.Info("duplicate delivery absorbed", "message_id", env.MessageID, "stage", "callbacks")
		return nil
	}

	action := actionFor(in.Data)

	if err := s.platform.AnswerCallback(ctx, in.CallbackID, action.toast); err != nil {
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "answer_callback_error", err))
	}

	// Record the choice as a new entry; history is never rewritten. The
	// append carries its own mark so a redelivery after a failed enqueue
	// does not record the choice twice.
	switch err := s.store.MarkProcessed(ctx, "callback-entry:"+env.MessageID); {
	case errors.Is(err, domain.ErrDuplicate):
	case err != nil:
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "log_write_error", err))
	default:
		if _, err := s.store.AppendEntry(ctx, domain.ConversationEntry{
			UserID:            in.UserID,
			ChatID:            in.ChatID,
			Direction:         domain.DirectionInbound,
			Status:            domain.StatusProcessing,
			Message:           "choice: " + in.Data,
			PlatformMessageID: in.MessageID,
		}); err != nil {
			return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "log_write_error", err))
		}
	}

	hop, err := env.Hop(domain.KindOutgoing, domain.OutgoingPayload{
		UserID: in.UserID,
		ChatID: in.ChatID,
		Text:   action.reply,
	})
	if err != nil {
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorPermanent, "hop_error", err))
	}
	if err := s.queues.Send(ctx, s.outgoingURL, hop); err != nil {
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "enqueue_error", err))
	}

	if err := s.store.MarkProcessed(ctx, "callback:"+env.MessageID); err != nil && !errors.Is(err, domain.ErrDuplicate) {
		s.logger.Warn("failed to mark message processed", "message_id", env.MessageID, "err", err)
	}

	s.logger.Info("callback handled", "message_id", env.MessageID, "user_id", in.UserID, "data", in.Data)
	return nil
}
