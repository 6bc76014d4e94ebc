package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"tgbot-pipeline/internal/domain"
)

// Queue-managed delay tops out at 15 minutes.
const maxDelay = 15 * time.Minute

// sqsAPI is the minimal SQS interface required by Client.
// *sqs.Client from aws-sdk-go-v2 satisfies this interface.
type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Client publishes envelopes to SQS queues. It satisfies the publisher
// interface the pipeline stages consume.
type Client struct {
	api sqsAPI
}

// New creates a Client with the given SQS API implementation.
func New(api sqsAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("queue: api must not be nil")
	}
	return &Client{api: api}, nil
}

// Send enqueues one envelope.
func (c *Client) Send(ctx context.Context, queueURL string, env domain.Envelope) error {
	return c.send(ctx, queueURL, env, 0)
}

// SendDelayed enqueues one envelope that becomes visible after delay. Used
// for the media-group quiet window.
func (c *Client) SendDelayed(ctx context.Context, queueURL string, env domain.Envelope, delay time.Duration) error {
	if delay < 0 || delay > maxDelay {
		return fmt.Errorf("queue: delay %s out of range [0, %s]", delay, maxDelay)
	}
	return c.send(ctx, queueURL, env, delay)
}

func (c *Client) send(ctx context.Context, queueURL string, env domain.Envelope, delay time.Duration) error {
	if queueURL == "" {
		return errors.New("queue: queue URL is required")
	}
	if env.MessageID == "" {
		return errors.New("queue: envelope message id is required")
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("queue: marshal envelope: %w", err)
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	}
	if delay > 0 {
		in.DelaySeconds = int32(delay / time.Second)
	}
	if _, err := c.api.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("queue: send to %s: %w", queueURL, err)
	}
	return nil
}
