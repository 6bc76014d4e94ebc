package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Stage names one pipeline consumer; each stage requires its own subset of
// the environment, validated at startup so a misdeployed function fails fast.
type Stage string

const (
	StageValidator   Stage = "validator"
	StageRouter      Stage = "router"
	StageAttachments Stage = "attachments"
	StageCallbacks   Stage = "callbacks"
	StageSender      Stage = "sender"
)

const (
	defaultMaxRetryAttempts = 3
	defaultQuietWindowSecs  = 30
	defaultEntryTTLDays     = 90
)

// Config is the deployment-owned surface the pipeline consumes: queue URLs,
// store identifiers, the SSM prefix holding platform credentials, and the
// retry/windowing knobs.
type Config struct {
	MessageLogsTable   string
	ProcessingQueueURL string
	AttachmentQueueURL string
	CallbackQueueURL   string
	OutgoingQueueURL   string
	FileStorageBucket  string
	ParamPrefix        string

	MaxRetryAttempts int
	MediaGroupQuiet  time.Duration
	EntryTTL         time.Duration
}

// required lists the environment variables each stage cannot run without.
var required = map[Stage][]string{
	StageValidator:   {"MESSAGE_LOGS_TABLE", "PROCESSING_QUEUE_URL", "ATTACHMENT_QUEUE_URL", "CALLBACK_QUEUE_URL", "PARAM_PREFIX"},
	StageRouter:      {"MESSAGE_LOGS_TABLE", "OUTGOING_QUEUE_URL", "ATTACHMENT_QUEUE_URL"},
	StageAttachments: {"MESSAGE_LOGS_TABLE", "FILE_STORAGE_BUCKET", "PROCESSING_QUEUE_URL", "ATTACHMENT_QUEUE_URL", "OUTGOING_QUEUE_URL", "PARAM_PREFIX"},
	StageCallbacks:   {"MESSAGE_LOGS_TABLE", "OUTGOING_QUEUE_URL", "PARAM_PREFIX"},
	StageSender:      {"MESSAGE_LOGS_TABLE", "PARAM_PREFIX"},
}

// Load reads the configuration for one stage from the environment. A local
// .env file, when present, seeds variables for development runs; deployed
// functions get everything from the function environment.
func Load(stage Stage) (Config, error) {
	_ = godotenv.Load()

	names, ok := required[stage]
	if !ok {
		return Config{}, fmt.Errorf("config: unknown stage %q", stage)
	}
	for _, name := range names {
		if os.Getenv(name) == "" {
			return Config{}, fmt.Errorf("config: %s: required environment variable %s is not set", stage, name)
		}
	}

	cfg := Config{
		MessageLogsTable:   os.Getenv("MESSAGE_LOGS_TABLE"),
		ProcessingQueueURL: os.Getenv("PROCESSING_QUEUE_URL"),
		AttachmentQueueURL: os.Getenv("ATTACHMENT_QUEUE_URL"),
		CallbackQueueURL:   os.Getenv("CALLBACK_QUEUE_URL"),
		OutgoingQueueURL:   os.Getenv("OUTGOING_QUEUE_URL"),
		FileStorageBucket:  os.Getenv("FILE_STORAGE_BUCKET"),
		ParamPrefix:        os.Getenv("PARAM_PREFIX"),
		MaxRetryAttempts:   envInt("MAX_RETRY_ATTEMPTS", defaultMaxRetryAttempts),
		MediaGroupQuiet:    time.Duration(envInt("MEDIA_GROUP_QUIET_SECONDS", defaultQuietWindowSecs)) * time.Second,
		EntryTTL:           time.Duration(envInt("ENTRY_TTL_DAYS", defaultEntryTTLDays)) * 24 * time.Hour,
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = defaultMaxRetryAttempts
	}
	if cfg.MediaGroupQuiet <= 0 {
		cfg.MediaGroupQuiet = defaultQuietWindowSecs * time.Second
	}
	return cfg, nil
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
