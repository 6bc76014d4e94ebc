package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tgbot-pipeline/internal/domain"
)

type fakeStore struct {
	entries []domain.ConversationEntry
	marks   map[string]bool
	groups  map[string][]domain.ConversationEntry
	journal []string
	seq     int

	appendErr error
	markErr   error
	hasErr    error
	queryErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		marks:  map[string]bool{},
		groups: map[string][]domain.ConversationEntry{},
	}
}

func (f *fakeStore) AppendEntry(_ context.Context, entry domain.ConversationEntry) (domain.ConversationEntry, error) {
	f.journal = append(f.journal, "append:"+string(entry.Status))
	if f.appendErr != nil {
		return domain.ConversationEntry{}, f.appendErr
	}
	f.seq++
	entry.Timestamp = fmt.Sprintf("ts-%d", f.seq)
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *fakeStore) MarkProcessed(_ context.Context, key string) error {
	f.journal = append(f.journal, "mark:"+key)
	if f.markErr != nil {
		return f.markErr
	}
	if f.marks[key] {
		return fmt.Errorf("mark %q: %w", key, domain.ErrDuplicate)
	}
	f.marks[key] = true
	return nil
}

func (f *fakeStore) HasProcessed(_ context.Context, key string) (bool, error) {
	if f.hasErr != nil {
		return false, f.hasErr
	}
	return f.marks[key], nil
}

func (f *fakeStore) QueryMediaGroup(_ context.Context, mediaGroupID string) ([]domain.ConversationEntry, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.groups[mediaGroupID], nil
}

func (f *fakeStore) lastEntry(t *testing.T) domain.ConversationEntry {
	t.Helper()
	require.NotEmpty(t, f.entries)
	return f.entries[len(f.entries)-1]
}

type sentEnvelope struct {
	URL   string
	Env   domain.Envelope
	Delay time.Duration
}

type fakeQueue struct {
	sent []sentEnvelope

	sendErr    error
	delayedErr error
	failURL    string
	failTimes  int // when > 0, sendErr clears after that many failed sends
}

func (f *fakeQueue) Send(_ context.Context, queueURL string, env domain.Envelope) error {
	if f.sendErr != nil && (f.failURL == "" || f.failURL == queueURL) {
		err := f.sendErr
		if f.failTimes > 0 {
			f.failTimes--
			if f.failTimes == 0 {
				f.sendErr = nil
			}
		}
		return err
	}
	f.sent = append(f.sent, sentEnvelope{URL: queueURL, Env: env})
	return nil
}

func (f *fakeQueue) SendDelayed(_ context.Context, queueURL string, env domain.Envelope, delay time.Duration) error {
	if f.delayedErr != nil {
		return f.delayedErr
	}
	f.sent = append(f.sent, sentEnvelope{URL: queueURL, Env: env, Delay: delay})
	return nil
}

func (f *fakeQueue) sentTo(url string) []sentEnvelope {
	var out []sentEnvelope
	for _, s := range f.sent {
		if s.URL == url {
			out = append(out, s)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stubUUID(t *testing.T, v string) {
	t.Helper()
	orig := newUUID
	newUUID = func() string { return v }
	t.Cleanup(func() { newUUID = orig })
}

func mustEnvelope(t *testing.T, id string, kind domain.EventKind, payload any) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(id, "42/ts-0", kind, payload)
	require.NoError(t, err)
	env.AttemptCount = 1
	return env
}

func decodePayload[T any](t *testing.T, env domain.Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, env.Decode(&out))
	return out
}

func expectStageError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var stageErr *Error
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, code, stageErr.Code)
	require.Equal(t, reason, stageErr.Reason)
}
