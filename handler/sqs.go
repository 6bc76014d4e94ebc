package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"tgbot-pipeline/internal/domain"
)

// EnvelopeHandler is the per-stage contract: process one envelope, return an
// error to trigger redelivery.
type EnvelopeHandler interface {
	Handle(ctx context.Context, env domain.Envelope) error
}

// SQSHandler adapts SQS Lambda events to a stage service. Batch size is
// fixed at 1 by deployment, but failures are still reported per record via
// batch item failures: a returned failure is the nack that leaves the
// message for the visibility timeout to redeliver. Acked messages are
// deleted by the Lambda/SQS integration.
type SQSHandler struct {
	stage  string
	svc    EnvelopeHandler
	logger *slog.Logger
}

func NewSQSHandler(stage string, svc EnvelopeHandler, logger *slog.Logger) (*SQSHandler, error) {
	if stage == "" {
		return nil, errors.New("handler: stage name must not be empty")
	}
	if svc == nil {
		return nil, errors.New("handler: envelope handler must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSHandler{stage: stage, svc: svc, logger: logger.With("stage", stage)}, nil
}

func (h *SQSHandler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range event.Records {
		env, err := decodeRecord(record)
		if err != nil {
			// A body that does not parse will never parse; drop it rather
			// than poison the queue.
			h.logger.Error("dropping undecodable record", "sqs_message_id", record.MessageId, "err", err)
			continue
		}
		if err := h.svc.Handle(ctx, env); err != nil {
			h.logger.Error("record failed, leaving for redelivery",
				"message_id", env.MessageID,
				"attempt", env.AttemptCount,
				"err", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}
	return resp, nil
}

// decodeRecord unmarshals the envelope and stamps the attempt count from the
// queue's receive count, which survives consumer crashes the embedded
// counter cannot see.
func decodeRecord(record events.SQSMessage) (domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal([]byte(record.Body), &env); err != nil {
		return domain.Envelope{}, err
	}
	if env.MessageID == "" {
		return domain.Envelope{}, errors.New("handler: envelope missing message id")
	}
	env.AttemptCount = receiveCount(record)
	return env, nil
}

func receiveCount(record events.SQSMessage) int {
	raw, ok := record.Attributes["ApproximateReceiveCount"]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
