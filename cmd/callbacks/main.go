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
	"tgbot-pipeline/internal/integrations/telegram"
	"tgbot-pipeline/internal/repository"
	"tgbot-pipeline/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.Default()

	cfg, err := config.Load(config.StageCallbacks)
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
	platform, err := telegram.NewClient(params)
	if err != nil {
		logger.Error("failed to create telegram client", "err", err)
		os.Exit(1)
	}

	svc, err := usecase.NewCallbackService(store, queues, platform, cfg.OutgoingQueueURL, cfg.MaxRetryAttempts, logger)
	if err != nil {
		logger.Error("failed to create callback service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewSQSHandler("callbacks", svc, logger)
	if err != nil {
		logger.Error("failed to create SQS handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
