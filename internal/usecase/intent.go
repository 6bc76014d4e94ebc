package usecase

import (
	"context"
	"strings"

	"tgbot-pipeline/internal/domain"
)

const welcomeMessage = `👋 Welcome!

This bot accepts text messages and file uploads and replies asynchronously.

Commands:
/start - Show this welcome message
/help - Show usage instructions`

const helpMessage = `ℹ️ Usage

Send a text message or upload a file (photo, video, document, audio or voice).
Uploads are stored and confirmed once processing finishes.

Available commands:
/start - Show welcome message
/help - Show this help message`

const unknownCommandMessage = `❌ Unknown command.

Please use:
/start - Show welcome message
/help - Show help message`

// Reply is the router's resolved response. Text enqueues an outbound message;
// a non-nil Fetch hands the message off to the attachment stage instead.
type Reply struct {
	Text    string
	ReplyTo int
	Fetch   *domain.FileInfo
}

// IntentHandler resolves business intent for one processing-queue message.
// The pipeline treats it as a pluggable collaborator: implementations must be
// idempotent under redelivery of the same message id.
type IntentHandler interface {
	Resolve(ctx context.Context, in domain.ProcessingPayload) (Reply, error)
}

// BotIntents is the built-in handler: command replies plus upload
// confirmations.
type BotIntents struct{}

func (BotIntents) Resolve(_ context.Context, in domain.ProcessingPayload) (Reply, error) {
	switch {
	case len(in.UploadedKeys) == 1:
		return Reply{
			Text:    "✅ File has been uploaded successfully: " + in.UploadedKeys[0],
			ReplyTo: in.MessageID,
		}, nil
	case len(in.UploadedKeys) > 1:
		return Reply{
			Text:    "✅ All files in your album have been uploaded:\n" + strings.Join(in.UploadedKeys, "\n"),
			ReplyTo: in.MessageID,
		}, nil
	case strings.TrimSpace(in.Text) == "/start":
		return Reply{Text: welcomeMessage, ReplyTo: in.MessageID}, nil
	case strings.TrimSpace(in.Text) == "/help":
		return Reply{Text: helpMessage, ReplyTo: in.MessageID}, nil
	default:
		return Reply{Text: unknownCommandMessage, ReplyTo: in.MessageID}, nil
	}
}
