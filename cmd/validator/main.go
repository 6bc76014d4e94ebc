package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"tgbot-pipeline/handler"
	"tgbot-pipeline/internal/config"
	"tgbot-pipeline/internal/integrations/paramstore"
	"tgbot-pipeline/internal/integrations/queue"
	"tgbot-pipeline/internal/repository"
	"tgbot-pipeline/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.Default()

	cfg, err := config.Load(config.StageValidator)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.MessageLogsTable, cfg.EntryTTL)
	if err != nil {
		logger.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}
	queues, err := queue.New(awssqs.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("failed to create queue client", "err", err)
		os.Exit(1)
	}
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.ParamPrefix)
	if err != nil {
		logger.Error("failed to create paramstore client", "err", err)
		os.Exit(1)
	}

	secret, err := params.WebhookSecret(ctx)
	if err != nil {
		logger.Error("failed to load webhook secret", "err", err)
		os.Exit(1)
	}

	svc, err := usecase.NewValidateService(store, queues, usecase.QueueRoutes{
		Processing: cfg.ProcessingQueueURL,
		Attachment: cfg.AttachmentQueueURL,
		Callback:   cfg.CallbackQueueURL,
	}, secret, logger)
	if err != nil {
		logger.Error("failed to create validate service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewWebhookHandler(svc, logger)
	if err != nil {
		logger.Error("failed to create webhook handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
