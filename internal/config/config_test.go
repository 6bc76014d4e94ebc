package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setStageEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MESSAGE_LOGS_TABLE", "message-logs")
	t.Setenv("PROCESSING_QUEUE_URL", "https://sqs.test/processing")
	t.Setenv("ATTACHMENT_QUEUE_URL", "https://sqs.test/attachments")
	t.Setenv("CALLBACK_QUEUE_URL", "https://sqs.test/callbacks")
	t.Setenv("OUTGOING_QUEUE_URL", "https://sqs.test/outgoing")
	t.Setenv("FILE_STORAGE_BUCKET", "uploads")
	t.Setenv("PARAM_PREFIX", "/bot")
}

func TestLoad_Validator(t *testing.T) {
	setStageEnv(t)

	cfg, err := Load(StageValidator)
	require.NoError(t, err)
	require.Equal(t, "message-logs", cfg.MessageLogsTable)
	require.Equal(t, "https://sqs.test/processing", cfg.ProcessingQueueURL)
	require.Equal(t, "https://sqs.test/callbacks", cfg.CallbackQueueURL)
	require.Equal(t, "/bot", cfg.ParamPrefix)
	require.Equal(t, 3, cfg.MaxRetryAttempts)
	require.Equal(t, 30*time.Second, cfg.MediaGroupQuiet)
	require.Equal(t, 90*24*time.Hour, cfg.EntryTTL)
}

func TestLoad_AllStages(t *testing.T) {
	setStageEnv(t)
	for _, stage := range []Stage{StageValidator, StageRouter, StageAttachments, StageCallbacks, StageSender} {
		_, err := Load(stage)
		require.NoError(t, err, "stage %s", stage)
	}
}

func TestLoad_MissingRequiredVariable(t *testing.T) {
	setStageEnv(t)
	t.Setenv("FILE_STORAGE_BUCKET", "")

	// The sender does not need the bucket; the attachment stage does.
	_, err := Load(StageSender)
	require.NoError(t, err)

	_, err = Load(StageAttachments)
	require.Error(t, err)
	require.Contains(t, err.Error(), "FILE_STORAGE_BUCKET")
}

func TestLoad_UnknownStage(t *testing.T) {
	setStageEnv(t)
	_, err := Load(Stage("mystery"))
	require.Error(t, err)
}

func TestLoad_Overrides(t *testing.T) {
	setStageEnv(t)
	t.Setenv("MAX_RETRY_ATTEMPTS", "5")
	t.Setenv("MEDIA_GROUP_QUIET_SECONDS", "10")
	t.Setenv("ENTRY_TTL_DAYS", "7")

	cfg, err := Load(StageSender)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.MaxRetryAttempts)
	require.Equal(t, 10*time.Second, cfg.MediaGroupQuiet)
	require.Equal(t, 7*24*time.Hour, cfg.EntryTTL)
}

func TestLoad_InvalidOverridesFallBack(t *testing.T) {
	setStageEnv(t)
	t.Setenv("MAX_RETRY_ATTEMPTS", "lots")
	t.Setenv("MEDIA_GROUP_QUIET_SECONDS", "-1")

	cfg, err := Load(StageSender)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.MaxRetryAttempts)
	require.Equal(t, 30*time.Second, cfg.MediaGroupQuiet)
}
