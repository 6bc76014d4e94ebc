package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"tgbot-pipeline/internal/usecase"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// ValidateUseCase is the ingress contract the webhook handler invokes.
type ValidateUseCase interface {
	HandleUpdate(ctx context.Context, in usecase.ValidateInput) (usecase.ValidateOutput, error)
}

// WebhookHandler adapts API Gateway proxy events to the ingress validator.
// The response is a bare acknowledgement independent of downstream queue
// depth: the caller never waits on stage completion.
type WebhookHandler struct {
	svc    ValidateUseCase
	logger *slog.Logger
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewWebhookHandler(svc ValidateUseCase, logger *slog.Logger) (*WebhookHandler, error) {
	if svc == nil {
		return nil, errors.New("handler: validate use case must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{svc: svc, logger: logger}, nil
}

func (h *WebhookHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, "X-Correlation-Id")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	out, err := h.svc.HandleUpdate(ctx, usecase.ValidateInput{
		Body:        []byte(req.Body),
		SecretToken: headerValue(req.Headers, secretTokenHeader),
	})
	if err != nil {
		status := statusFor(err)
		h.logger.Error("webhook rejected",
			"status", status,
			"reason", usecase.ReasonOf(err),
			"correlation_id", correlationID,
			"err", err)
		return jsonResponse(status, errorResponse{Error: string(usecase.CodeOf(err))}, correlationID), nil
	}

	h.logger.Info("webhook accepted",
		"message_id", out.MessageID,
		"kind", out.Kind,
		"correlation_id", correlationID)
	return jsonResponse(http.StatusOK, statusResponse{Status: "ok"}, correlationID), nil
}

// statusFor maps the error taxonomy onto HTTP statuses. Transient store and
// queue failures return 500 so the platform re-posts the update.
func statusFor(err error) int {
	switch usecase.CodeOf(err) {
	case usecase.ErrorValidation:
		if usecase.ReasonOf(err) == "secret_mismatch" {
			return http.StatusUnauthorized
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func jsonResponse(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(`{"error":"INTERNAL"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": correlationID,
		},
		Body: string(raw),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
