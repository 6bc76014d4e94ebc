package usecase

import (
	"context"
	"errors"
	"log/slog"

	"tgbot-pipeline/internal/domain"
)

// MessageSender delivers one outbound message to the chat platform.
// *telegram.Client satisfies this interface.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, text string, replyTo int) (domain.DeliveryResult, error)
}

// SendService consumes outgoing-queue messages one at a time and delivers
// them. The outbound conversation entry is written after confirmed delivery
// with the timestamp assigned at send time, so history reflects actual
// delivery order.
type SendService struct {
	store       ConversationStore
	platform    MessageSender
	maxAttempts int
	logger      *slog.Logger
}

func NewSendService(store ConversationStore, platform MessageSender, maxAttempts int, logger *slog.Logger) (*SendService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if platform == nil {
		return nil, errors.New("usecase: message sender must not be nil")
	}
	if maxAttempts <= 0 {
		return nil, errors.New("usecase: max attempts must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SendService{store: store, platform: platform, maxAttempts: maxAttempts, logger: logger}, nil
}

// Handle delivers one envelope. Redelivery of an already-sent message id is
// absorbed so the user never sees the same reply twice.
func (s *SendService) Handle(ctx context.Context, env domain.Envelope) error {
	var in domain.OutgoingPayload
	if err := env.Decode(&in); err != nil {
		s.logger.Error("dropping malformed outgoing payload", "message_id", env.MessageID, "err", err)
		return nil
	}

	userID := in.UserID
	if userID == "" {
		userID = in.ChatID
	}
	failedEntry := domain.ConversationEntry{
		UserID:    userID,
		ChatID:    in.ChatID,
		Direction: domain.DirectionOutbound,
		Message:   in.Text,
		IsBot:     true,
	}

	seen, err := s.store.HasProcessed(ctx, "send:"+env.MessageID)
	if err != nil {
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "idempotency_check_error", err))
	}
	if seen {
		s.logger.Info("duplicate delivery absorbed", "message_id", env.MessageID, "stage", "sender")
		return nil
	}

	result, err := s.platform.SendMessage(ctx, in.ChatID, in.Text, in.ReplyTo)
	if err != nil {
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "send_error", err))
	}

	// Delivery is confirmed; the mark lands before the log entry so a crash
	// in between can lose the entry but never repeat the send.
	if err := s.store.MarkProcessed(ctx, "send:"+env.MessageID); err != nil && !errors.Is(err, domain.ErrDuplicate) {
		s.logger.Warn("failed to mark message sent", "message_id", env.MessageID, "err", err)
	}

	if _, err := s.store.AppendEntry(ctx, domain.ConversationEntry{
		UserID:            userID,
		ChatID:            in.ChatID,
		Direction:         domain.DirectionOutbound,
		Status:            domain.StatusSent,
		Message:           in.Text,
		PlatformMessageID: result.PlatformMessageID,
		SenderID:          result.SenderID,
		IsBot:             result.IsBot,
	}); err != nil {
		// Best effort: the message is already with the user, re-driving the
		// queue would duplicate it.
		s.logger.Error("failed to log delivered message", "message_id", env.MessageID, "err", err)
	}

	s.logger.Info("message delivered",
		"message_id", env.MessageID,
		"chat_id", in.ChatID,
		"platform_message_id", result.PlatformMessageID)
	return nil
}
