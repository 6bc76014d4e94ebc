package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tgbot-pipeline/internal/domain"
)

// ConversationStore is the durable conversation log consumed by every stage.
// *repository.Store satisfies this interface.
type ConversationStore interface {
	AppendEntry(ctx context.Context, entry domain.ConversationEntry) (domain.ConversationEntry, error)
	MarkProcessed(ctx context.Context, key string) error
	HasProcessed(ctx context.Context, key string) (bool, error)
	QueryMediaGroup(ctx context.Context, mediaGroupID string) ([]domain.ConversationEntry, error)
}

// Publisher is the queue fabric surface stages enqueue through.
// *queue.Client satisfies this interface.
type Publisher interface {
	Send(ctx context.Context, queueURL string, env domain.Envelope) error
	SendDelayed(ctx context.Context, queueURL string, env domain.Envelope, delay time.Duration) error
}

var newUUID = func() string {
	return uuid.NewString()
}

// resolveFailure settles one failed processing attempt. Within the attempt
// ceiling the cause propagates, so the stage nacks and the queue's
// redelivery retries it. At the ceiling the message dead-letters: a failed
// entry is appended for operational follow-up and the message is absorbed so
// it is never redelivered again.
func resolveFailure(ctx context.Context, store ConversationStore, logger *slog.Logger, env domain.Envelope, maxAttempts int, entry domain.ConversationEntry, cause error) error {
	if domain.Advance(env.AttemptCount, maxAttempts, false) != domain.StatusFailed {
		return cause
	}
	logger.Error("message dead-lettered",
		"message_id", env.MessageID,
		"origin_event_id", env.OriginEventID,
		"kind", env.Kind,
		"attempts", env.AttemptCount,
		"err", cause)
	if entry.UserID == "" {
		return nil
	}
	entry.Status = domain.StatusFailed
	if _, err := store.AppendEntry(ctx, entry); err != nil {
		// Without the failure record the dead-letter is invisible, so keep
		// the message retryable until the record lands.
		return newError(ErrorTransient, "dead_letter_log_error", err)
	}
	return nil
}
