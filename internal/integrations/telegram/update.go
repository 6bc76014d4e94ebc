package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgbot-pipeline/internal/domain"
)

// ErrUnsupportedUpdate marks updates that carry neither a message nor a
// callback query (edits, channel posts, member updates). They are
// acknowledged without side effects.
var ErrUnsupportedUpdate = errors.New("telegram: unsupported update kind")

// ParseUpdate decodes one webhook body into a Bot API update.
func ParseUpdate(body []byte) (*tgbotapi.Update, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, fmt.Errorf("telegram: decode update: %w", err)
	}
	return &update, nil
}

// ExtractEvent shapes an update into the tagged inbound event the validator
// routes on. It returns an error when the update is structurally incomplete
// (missing sender or chat), matching the reject-with-no-side-effects contract.
func ExtractEvent(update *tgbotapi.Update) (domain.InboundEvent, error) {
	switch {
	case update == nil:
		return domain.InboundEvent{}, errors.New("telegram: nil update")
	case update.CallbackQuery != nil:
		return extractCallback(update.CallbackQuery)
	case update.Message != nil:
		return extractMessage(update.Message)
	default:
		return domain.InboundEvent{}, ErrUnsupportedUpdate
	}
}

func extractMessage(msg *tgbotapi.Message) (domain.InboundEvent, error) {
	if msg.From == nil || msg.From.ID == 0 {
		return domain.InboundEvent{}, errors.New("telegram: message missing sender")
	}
	if msg.Chat == nil || msg.Chat.ID == 0 {
		return domain.InboundEvent{}, errors.New("telegram: message missing chat")
	}

	ev := domain.InboundEvent{
		Kind:         domain.KindText,
		UserID:       strconv.FormatInt(msg.From.ID, 10),
		ChatID:       strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:    msg.MessageID,
		SenderID:     strconv.FormatInt(msg.From.ID, 10),
		IsBot:        msg.From.IsBot,
		Text:         msg.Text,
		Caption:      msg.Caption,
		MediaGroupID: msg.MediaGroupID,
	}
	if file := extractFile(msg); file != nil {
		ev.Kind = domain.KindAttachment
		ev.File = file
	}
	return ev, nil
}

func extractCallback(cb *tgbotapi.CallbackQuery) (domain.InboundEvent, error) {
	if cb.From == nil || cb.From.ID == 0 {
		return domain.InboundEvent{}, errors.New("telegram: callback missing sender")
	}
	if cb.ID == "" {
		return domain.InboundEvent{}, errors.New("telegram: callback missing id")
	}
	ev := domain.InboundEvent{
		Kind:         domain.KindCallback,
		UserID:       strconv.FormatInt(cb.From.ID, 10),
		SenderID:     strconv.FormatInt(cb.From.ID, 10),
		IsBot:        cb.From.IsBot,
		CallbackID:   cb.ID,
		CallbackData: cb.Data,
	}
	if cb.Message != nil {
		ev.MessageID = cb.Message.MessageID
		if cb.Message.Chat != nil {
			ev.ChatID = strconv.FormatInt(cb.Message.Chat.ID, 10)
		}
	}
	if ev.ChatID == "" {
		return domain.InboundEvent{}, errors.New("telegram: callback missing chat")
	}
	return ev, nil
}

// extractFile pulls the attachment reference out of a message. For photos,
// Telegram sends every available size; the last element is the largest.
func extractFile(msg *tgbotapi.Message) *domain.FileInfo {
	switch {
	case len(msg.Photo) > 0:
		p := msg.Photo[len(msg.Photo)-1]
		return &domain.FileInfo{
			Type:         "photo",
			FileID:       p.FileID,
			FileUniqueID: p.FileUniqueID,
			FileSize:     int64(p.FileSize),
		}
	case msg.Video != nil:
		return &domain.FileInfo{
			Type:         "video",
			FileID:       msg.Video.FileID,
			FileUniqueID: msg.Video.FileUniqueID,
			FileSize:     int64(msg.Video.FileSize),
			MimeType:     msg.Video.MimeType,
			FileName:     msg.Video.FileName,
		}
	case msg.Document != nil:
		return &domain.FileInfo{
			Type:         "document",
			FileID:       msg.Document.FileID,
			FileUniqueID: msg.Document.FileUniqueID,
			FileSize:     int64(msg.Document.FileSize),
			MimeType:     msg.Document.MimeType,
			FileName:     msg.Document.FileName,
		}
	case msg.Audio != nil:
		return &domain.FileInfo{
			Type:         "audio",
			FileID:       msg.Audio.FileID,
			FileUniqueID: msg.Audio.FileUniqueID,
			FileSize:     int64(msg.Audio.FileSize),
			MimeType:     msg.Audio.MimeType,
			FileName:     msg.Audio.FileName,
		}
	case msg.Voice != nil:
		return &domain.FileInfo{
			Type:         "voice",
			FileID:       msg.Voice.FileID,
			FileUniqueID: msg.Voice.FileUniqueID,
			FileSize:     int64(msg.Voice.FileSize),
			MimeType:     msg.Voice.MimeType,
		}
	default:
		return nil
	}
}
