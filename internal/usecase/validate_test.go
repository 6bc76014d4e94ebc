package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"tgbot-pipeline/internal/domain"
)

var testRoutes = QueueRoutes{
	Processing: "https://sqs.test/processing",
	Attachment: "https://sqs.test/attachments",
	Callback:   "https://sqs.test/callbacks",
}

func newValidateService(t *testing.T, store *fakeStore, queues *fakeQueue) *ValidateService {
	t.Helper()
	svc, err := NewValidateService(store, queues, testRoutes, "s3cret", testLogger())
	require.NoError(t, err)
	return svc
}

const textUpdate = `{"update_id":1,"message":{"message_id":7,"from":{"id":42,"is_bot":false},"chat":{"id":42},"text":"/start"}}`

const photoUpdate = `{"update_id":2,"message":{"message_id":8,"from":{"id":42},"chat":{"id":42},"caption":"holiday","media_group_id":"g1","photo":[{"file_id":"small","file_unique_id":"u-small","file_size":10},{"file_id":"big","file_unique_id":"u-big","file_size":9000}]}}`

const callbackUpdate = `{"update_id":3,"callback_query":{"id":"cb-1","from":{"id":42},"message":{"message_id":7,"chat":{"id":42}},"data":"confirm_abc"}}`

func TestNewValidateService_ValidatesDependencies(t *testing.T) {
	_, err := NewValidateService(nil, &fakeQueue{}, testRoutes, "s3cret", nil)
	require.Error(t, err)

	_, err = NewValidateService(newFakeStore(), nil, testRoutes, "s3cret", nil)
	require.Error(t, err)

	_, err = NewValidateService(newFakeStore(), &fakeQueue{}, QueueRoutes{Processing: "p"}, "s3cret", nil)
	require.Error(t, err)

	_, err = NewValidateService(newFakeStore(), &fakeQueue{}, testRoutes, "", nil)
	require.Error(t, err)
}

func TestHandleUpdate_SecretMismatch(t *testing.T) {
	store := newFakeStore()
	queues := &fakeQueue{}
	svc := newValidateService(t, store, queues)

	_, err := svc.HandleUpdate(context.Background(), ValidateInput{Body: []byte(textUpdate), SecretToken: "wrong"})
	expectStageError(t, err, ErrorValidation, "secret_mismatch")
	require.Empty(t, store.entries)
	require.Empty(t, queues.sent)
}

func TestHandleUpdate_MalformedBody(t *testing.T) {
	svc := newValidateService(t, newFakeStore(), &fakeQueue{})

	_, err := svc.HandleUpdate(context.Background(), ValidateInput{Body: []byte("not-json"), SecretToken: "s3cret"})
	expectStageError(t, err, ErrorValidation, "malformed_update")
}

func TestHandleUpdate_UnsupportedUpdateIsAcked(t *testing.T) {
	store := newFakeStore()
	queues := &fakeQueue{}
	svc := newValidateService(t, store, queues)

	out, err := svc.HandleUpdate(context.Background(), ValidateInput{
		Body:        []byte(`{"update_id":9,"edited_message":{"message_id":7,"from":{"id":42},"chat":{"id":42},"text":"edit"}}`),
		SecretToken: "s3cret",
	})
	require.NoError(t, err)
	require.Empty(t, out.MessageID)
	require.Empty(t, store.entries)
	require.Empty(t, queues.sent)
}

func TestHandleUpdate_TextMessageRouted(t *testing.T) {
	stubUUID(t, "uuid-1")
	store := newFakeStore()
	queues := &fakeQueue{}
	svc := newValidateService(t, store, queues)

	out, err := svc.HandleUpdate(context.Background(), ValidateInput{Body: []byte(textUpdate), SecretToken: "s3cret"})
	require.NoError(t, err)
	require.Equal(t, "uuid-1", out.MessageID)
	require.Equal(t, domain.KindText, out.Kind)

	entry := store.lastEntry(t)
	require.Equal(t, "42", entry.UserID)
	require.Equal(t, domain.DirectionInbound, entry.Direction)
	require.Equal(t, domain.StatusReceived, entry.Status)
	require.Equal(t, "/start", entry.Message)
	require.Equal(t, 7, entry.PlatformMessageID)

	require.Len(t, queues.sent, 1)
	sent := queues.sent[0]
	require.Equal(t, testRoutes.Processing, sent.URL)
	require.Equal(t, "uuid-1", sent.Env.MessageID)
	require.Equal(t, entry.EntryID(), sent.Env.OriginEventID)
	require.Equal(t, domain.KindText, sent.Env.Kind)

	in := decodePayload[domain.ProcessingPayload](t, sent.Env)
	require.Equal(t, "42", in.UserID)
	require.Equal(t, "/start", in.Text)
	require.Equal(t, 7, in.MessageID)
}

func TestHandleUpdate_AttachmentRouted(t *testing.T) {
	stubUUID(t, "uuid-2")
	store := newFakeStore()
	queues := &fakeQueue{}
	svc := newValidateService(t, store, queues)

	out, err := svc.HandleUpdate(context.Background(), ValidateInput{Body: []byte(photoUpdate), SecretToken: "s3cret"})
	require.NoError(t, err)
	require.Equal(t, domain.KindAttachment, out.Kind)

	require.Len(t, queues.sent, 1)
	require.Equal(t, testRoutes.Attachment, queues.sent[0].URL)

	in := decodePayload[domain.AttachmentPayload](t, queues.sent[0].Env)
	require.Equal(t, "g1", in.MediaGroupID)
	require.Equal(t, "holiday", in.Caption)
	// Largest photo size wins.
	require.Equal(t, "big", in.File.FileID)

	entry := store.lastEntry(t)
	require.Equal(t, "holiday", entry.Message)
	require.Equal(t, "g1", entry.MediaGroupID)
	require.NotNil(t, entry.FileInfo)
}

func TestHandleUpdate_CallbackRouted(t *testing.T) {
	stubUUID(t, "uuid-3")
	queues := &fakeQueue{}
	svc := newValidateService(t, newFakeStore(), queues)

	out, err := svc.HandleUpdate(context.Background(), ValidateInput{Body: []byte(callbackUpdate), SecretToken: "s3cret"})
	require.NoError(t, err)
	require.Equal(t, domain.KindCallback, out.Kind)

	require.Len(t, queues.sent, 1)
	require.Equal(t, testRoutes.Callback, queues.sent[0].URL)

	in := decodePayload[domain.CallbackPayload](t, queues.sent[0].Env)
	require.Equal(t, "cb-1", in.CallbackID)
	require.Equal(t, "confirm_abc", in.Data)
}

func TestHandleUpdate_LogWriteFailure(t *testing.T) {
	store := newFakeStore()
	store.appendErr = errors.New("dynamodb down")
	queues := &fakeQueue{}
	svc := newValidateService(t, store, queues)

	_, err := svc.HandleUpdate(context.Background(), ValidateInput{Body: []byte(textUpdate), SecretToken: "s3cret"})
	expectStageError(t, err, ErrorTransient, "log_write_error")
	require.Empty(t, queues.sent)
}

func TestHandleUpdate_EnqueueFailure_EntryAlreadyLogged(t *testing.T) {
	store := newFakeStore()
	queues := &fakeQueue{sendErr: errors.New("sqs down")}
	svc := newValidateService(t, store, queues)

	_, err := svc.HandleUpdate(context.Background(), ValidateInput{Body: []byte(textUpdate), SecretToken: "s3cret"})
	expectStageError(t, err, ErrorTransient, "enqueue_error")
	// The log write precedes the enqueue.
	require.Len(t, store.entries, 1)
}
