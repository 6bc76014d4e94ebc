package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tgbot-pipeline/internal/domain"
	"tgbot-pipeline/internal/integrations/blobstore"
)

const processingFileMessage = "📤 Processing your file..."

// FileFetcher is the platform file API surface the attachment handler needs.
// *telegram.Client satisfies this interface.
type FileFetcher interface {
	GetFilePath(ctx context.Context, fileID string) (string, error)
	DownloadFile(ctx context.Context, filePath string) ([]byte, error)
}

// BlobStore persists attachment payloads. *blobstore.Store satisfies this
// interface.
type BlobStore interface {
	Put(ctx context.Context, ref blobstore.Ref, contentType string, data []byte) (string, error)
}

// AttachQueues holds the queue URLs the attachment handler enqueues to. The
// attachment queue itself receives the delayed media-group check messages.
type AttachQueues struct {
	Processing string
	Attachment string
	Outgoing   string
}

// AttachService consumes attachment-queue messages: it fetches the referenced
// binary from the platform, persists it to the blob store and enqueues a
// follow-up carrying the blob key, never the bytes. Media bursts are
// aggregated with a bounded quiet window: the first part schedules one
// delayed group-ready check; when it fires, whatever parts have landed are
// handled as one unit.
type AttachService struct {
	store       ConversationStore
	queues      Publisher
	blobs       BlobStore
	platform    FileFetcher
	urls        AttachQueues
	quietWindow time.Duration
	maxAttempts int
	logger      *slog.Logger
}

func NewAttachService(store ConversationStore, queues Publisher, blobs BlobStore, platform FileFetcher, urls AttachQueues, quietWindow time.Duration, maxAttempts int, logger *slog.Logger) (*AttachService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if queues == nil {
		return nil, errors.New("usecase: queue publisher must not be nil")
	}
	if blobs == nil {
		return nil, errors.New("usecase: blob store must not be nil")
	}
	if platform == nil {
		return nil, errors.New("usecase: file fetcher must not be nil")
	}
	if urls.Processing == "" || urls.Attachment == "" || urls.Outgoing == "" {
		return nil, errors.New("usecase: all attachment queue URLs are required")
	}
	if quietWindow <= 0 {
		return nil, errors.New("usecase: quiet window must be positive")
	}
	if maxAttempts <= 0 {
		return nil, errors.New("usecase: max attempts must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AttachService{
		store:       store,
		queues:      queues,
		blobs:       blobs,
		platform:    platform,
		urls:        urls,
		quietWindow: quietWindow,
		maxAttempts: maxAttempts,
		logger:      logger,
	}, nil
}

// Handle dispatches on the envelope kind: attachment parts and the delayed
// group-ready checks share the attachment queue.
func (s *AttachService) Handle(ctx context.Context, env domain.Envelope) error {
	switch env.Kind {
	case domain.KindAttachment:
		return s.handlePart(ctx, env)
	case domain.KindGroupReady:
		return s.handleGroupReady(ctx, env)
	default:
		s.logger.Error("dropping envelope with unexpected kind", "message_id", env.MessageID, "kind", env.Kind)
		return nil
	}
}

func (s *AttachService) handlePart(ctx context.Context, env domain.Envelope) error {
	var in domain.AttachmentPayload
	if err := env.Decode(&in); err != nil {
		s.logger.Error("dropping malformed attachment payload", "message_id", env.MessageID, "err", err)
		return nil
	}

	failedEntry := domain.ConversationEntry{
		UserID:            in.UserID,
		ChatID:            in.ChatID,
		Direction:         domain.DirectionInbound,
		Message:           blobFileName(in.File),
		PlatformMessageID: in.MessageID,
		MediaGroupID:      in.MediaGroupID,
		FileInfo:          &in.File,
	}

	seen, err := s.store.HasProcessed(ctx, "attach:"+env.MessageID)
	if err != nil {
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "idempotency_check_error", err))
	}
	if seen {
		s.logger.Info("duplicate delivery absorbed", "message_id", env.MessageID, "stage", "attachments")
		return nil
	}

	key, err := s.fetchAndStore(ctx, in)
	if err != nil {
		return s.failPart(ctx, env, in, failedEntry, err)
	}

	// The entry append carries its own mark so a redelivery after a failed
	// enqueue does not record the part twice.
	switch err := s.store.MarkProcessed(ctx, "attach-entry:"+env.MessageID); {
	case errors.Is(err, domain.ErrDuplicate):
	case err != nil:
		return s.failPart(ctx, env, in, failedEntry, newError(ErrorTransient, "log_write_error", err))
	default:
		if _, err := s.store.AppendEntry(ctx, domain.ConversationEntry{
			UserID:            in.UserID,
			ChatID:            in.ChatID,
			Direction:         domain.DirectionInbound,
			Status:            domain.StatusProcessing,
			Message:           blobFileName(in.File),
			PlatformMessageID: in.MessageID,
			MediaGroupID:      in.MediaGroupID,
			BlobKey:           key,
			FileInfo:          &in.File,
		}); err != nil {
			return s.failPart(ctx, env, in, failedEntry, newError(ErrorTransient, "log_write_error", err))
		}
	}

	if in.MediaGroupID == "" {
		hop, err := env.Hop(domain.KindText, domain.ProcessingPayload{
			UserID:       in.UserID,
			ChatID:       in.ChatID,
			MessageID:    in.MessageID,
			Caption:      in.Caption,
			UploadedKeys: []string{key},
		})
		if err != nil {
			return s.failPart(ctx, env, in, failedEntry, newError(ErrorPermanent, "hop_error", err))
		}
		if err := s.queues.Send(ctx, s.urls.Processing, hop); err != nil {
			return s.failPart(ctx, env, in, failedEntry, newError(ErrorTransient, "enqueue_error", err))
		}
	} else if err := s.scheduleGroupCheck(ctx, env.OriginEventID, in); err != nil {
		return s.failPart(ctx, env, in, failedEntry, err)
	}

	if err := s.store.MarkProcessed(ctx, "attach:"+env.MessageID); err != nil && !errors.Is(err, domain.ErrDuplicate) {
		s.logger.Warn("failed to mark message processed", "message_id", env.MessageID, "err", err)
	}

	s.logger.Info("attachment stored", "message_id", env.MessageID, "blob_key", key, "media_group_id", in.MediaGroupID)
	return nil
}

// fetchAndStore performs the retryable external work: resolve the file path,
// download the content, persist the blob. Failures are transient; the
// queue's redelivery is the retry mechanism.
func (s *AttachService) fetchAndStore(ctx context.Context, in domain.AttachmentPayload) (string, error) {
	filePath, err := s.platform.GetFilePath(ctx, in.File.FileID)
	if err != nil {
		return "", newError(ErrorTransient, "file_path_error", err)
	}
	data, err := s.platform.DownloadFile(ctx, filePath)
	if err != nil {
		return "", newError(ErrorTransient, "download_error", err)
	}
	key, err := s.blobs.Put(ctx, blobstore.Ref{
		ChatID:       in.ChatID,
		MediaGroupID: in.MediaGroupID,
		MessageID:    in.MessageID,
		FileName:     blobFileName(in.File),
	}, in.File.MimeType, data)
	if err != nil {
		return "", newError(ErrorTransient, "blob_put_error", err)
	}
	return key, nil
}

// groupAckID and groupCheckID derive the envelope ids for the per-burst side
// effects from the media group id. Re-enqueues from redelivered or concurrent
// parts then collapse downstream: the sender's send: mark absorbs duplicate
// acks and the group handler's group: mark absorbs duplicate checks.
func groupAckID(mediaGroupID string) string   { return "mg-ack:" + mediaGroupID }
func groupCheckID(mediaGroupID string) string { return "mg-check:" + mediaGroupID }

// scheduleGroupCheck runs once per media burst: the first part acks the user
// and schedules the delayed group-ready check that closes the quiet window.
// The first-part mark lands only after both enqueues succeed, so a transient
// enqueue failure stays retryable; the derived envelope ids keep the retry's
// re-enqueues safe.
func (s *AttachService) scheduleGroupCheck(ctx context.Context, origin string, in domain.AttachmentPayload) error {
	seen, err := s.store.HasProcessed(ctx, "mg-first:"+in.MediaGroupID)
	if err != nil {
		return newError(ErrorTransient, "group_mark_error", err)
	}
	if seen {
		return nil
	}

	ack, err := domain.NewEnvelope(groupAckID(in.MediaGroupID), origin, domain.KindOutgoing, domain.OutgoingPayload{
		UserID:  in.UserID,
		ChatID:  in.ChatID,
		Text:    processingFileMessage,
		ReplyTo: in.MessageID,
	})
	if err != nil {
		return newError(ErrorPermanent, "envelope_error", err)
	}
	if err := s.queues.Send(ctx, s.urls.Outgoing, ack); err != nil {
		return newError(ErrorTransient, "enqueue_error", err)
	}

	check, err := domain.NewEnvelope(groupCheckID(in.MediaGroupID), origin, domain.KindGroupReady, domain.GroupReadyPayload{
		UserID:       in.UserID,
		ChatID:       in.ChatID,
		MessageID:    in.MessageID,
		MediaGroupID: in.MediaGroupID,
	})
	if err != nil {
		return newError(ErrorPermanent, "envelope_error", err)
	}
	if err := s.queues.SendDelayed(ctx, s.urls.Attachment, check, s.quietWindow); err != nil {
		return newError(ErrorTransient, "enqueue_error", err)
	}

	if err := s.store.MarkProcessed(ctx, "mg-first:"+in.MediaGroupID); err != nil && !errors.Is(err, domain.ErrDuplicate) {
		s.logger.Warn("failed to mark media group first part", "media_group_id", in.MediaGroupID, "err", err)
	}
	return nil
}

func (s *AttachService) handleGroupReady(ctx context.Context, env domain.Envelope) error {
	var in domain.GroupReadyPayload
	if err := env.Decode(&in); err != nil {
		s.logger.Error("dropping malformed group-ready payload", "message_id", env.MessageID, "err", err)
		return nil
	}

	failedEntry := domain.ConversationEntry{
		UserID:       in.UserID,
		ChatID:       in.ChatID,
		Direction:    domain.DirectionInbound,
		Message:      "media group " + in.MediaGroupID,
		MediaGroupID: in.MediaGroupID,
	}

	seen, err := s.store.HasProcessed(ctx, "group:"+env.MessageID)
	if err != nil {
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "idempotency_check_error", err))
	}
	if seen {
		s.logger.Info("duplicate delivery absorbed", "message_id", env.MessageID, "stage", "attachments")
		return nil
	}

	parts, err := s.store.QueryMediaGroup(ctx, in.MediaGroupID)
	if err != nil {
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "group_query_error", err))
	}
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.BlobKey != "" {
			keys = append(keys, part.BlobKey)
		}
	}
	if len(keys) == 0 {
		// The quiet window elapsed with no stored parts; nothing to confirm.
		s.logger.Warn("media group settled empty", "media_group_id", in.MediaGroupID)
		return nil
	}

	hop, err := env.Hop(domain.KindText, domain.ProcessingPayload{
		UserID:       in.UserID,
		ChatID:       in.ChatID,
		MessageID:    in.MessageID,
		MediaGroupID: in.MediaGroupID,
		UploadedKeys: keys,
	})
	if err != nil {
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorPermanent, "hop_error", err))
	}
	if err := s.queues.Send(ctx, s.urls.Processing, hop); err != nil {
		return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, newError(ErrorTransient, "enqueue_error", err))
	}

	if err := s.store.MarkProcessed(ctx, "group:"+env.MessageID); err != nil && !errors.Is(err, domain.ErrDuplicate) {
		s.logger.Warn("failed to mark message processed", "message_id", env.MessageID, "err", err)
	}

	s.logger.Info("media group aggregated", "message_id", env.MessageID, "media_group_id", in.MediaGroupID, "parts", len(keys))
	return nil
}

// failPart settles a failed attachment attempt. At the ceiling the user gets
// a failure notice alongside the dead-letter entry; the original message id
// keyed the reply, so redelivered dead-letters do not repeat the notice.
func (s *AttachService) failPart(ctx context.Context, env domain.Envelope, in domain.AttachmentPayload, failedEntry domain.ConversationEntry, cause error) error {
	if domain.Advance(env.AttemptCount, s.maxAttempts, false) == domain.StatusFailed {
		notice, hopErr := env.Hop(domain.KindOutgoing, domain.OutgoingPayload{
			UserID:  in.UserID,
			ChatID:  in.ChatID,
			Text:    fmt.Sprintf("❌ Failed to process file: %s", blobFileName(in.File)),
			ReplyTo: in.MessageID,
		})
		if hopErr == nil {
			if err := s.queues.Send(ctx, s.urls.Outgoing, notice); err != nil {
				s.logger.Warn("failed to enqueue failure notice", "message_id", env.MessageID, "err", err)
			}
		}
	}
	return resolveFailure(ctx, s.store, s.logger, env, s.maxAttempts, failedEntry, cause)
}

// mimeExtensions maps the attachment content types the bot commonly sees to
// file extensions for blob names.
var mimeExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"audio/mpeg":      ".mp3",
	"audio/ogg":       ".ogg",
	"application/pdf": ".pdf",
}

// blobFileName picks the stored file name: the platform name when present,
// otherwise the unique file id plus an extension inferred from the type.
func blobFileName(file domain.FileInfo) string {
	if file.FileName != "" {
		return file.FileName
	}
	ext := ""
	if file.Type == "photo" {
		ext = ".jpg"
	} else if e, ok := mimeExtensions[file.MimeType]; ok {
		ext = e
	}
	if file.FileUniqueID != "" {
		return file.FileUniqueID + ext
	}
	return "file_" + file.FileID + ext
}
