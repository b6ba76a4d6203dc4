// Package queue implements the durable work queue of spec.md §6 that
// decouples job submission from job execution: JobOrchestrator.StartJob
// runs in cmd/worker, triggered by messages this package delivers
// at-least-once. Grounded on the teacher's pkg/queue.SQSClient (the
// SQSAPI interface-injection pattern that lets tests substitute a fake
// without touching the real AWS SDK).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// JobMessage is the payload enqueued when a job is created or resumed;
// the worker's receive loop turns each one into an
// orchestrator.StartJob call, or an orchestrator.Resume call when
// Resume is set.
type JobMessage struct {
	JobID  string `json:"job_id"`
	Resume bool   `json:"resume"`
}

// Queue is the contract cmd/worker depends on: at-least-once delivery
// with a visibility timeout long enough to cover one chunk, and
// explicit delete-on-success so a crashed worker's in-flight message
// becomes visible again for another worker to pick up.
type Queue interface {
	Enqueue(ctx context.Context, msg JobMessage) error

	// Receive returns up to maxMessages JobMessages with their receipt
	// handles; waitSeconds configures SQS long polling. An empty
	// result with a nil error means no messages were available within
	// the wait window, not a failure.
	Receive(ctx context.Context, maxMessages int32, waitSeconds int32) ([]JobMessage, []string, error)

	// Delete acknowledges a message, permanently removing it from the
	// queue. Must be called only after the message's work is durably
	// recorded (the job's checkpoint/terminal status is already
	// persisted), since redelivery after Delete is not possible.
	Delete(ctx context.Context, receiptHandle string) error

	Close() error
}

// API is the subset of the generated SQS client this package calls,
// narrowed so tests can inject a fake instead of a real AWS session.
type API interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, input *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSQueue is the default Queue, backed by Amazon SQS.
type SQSQueue struct {
	client              API
	queueURL            string
	visibilityTimeoutSec int32
}

// Config configures SQSQueue.
type Config struct {
	QueueURL             string
	Region               string
	VisibilityTimeoutSec int32
}

// New builds an SQSQueue from the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*SQSQueue, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	queueURL := cfg.QueueURL
	if queueURL == "" {
		queueURL = os.Getenv("REPOINDEX_QUEUE_URL")
	}
	return NewWithAPI(sqs.NewFromConfig(awsCfg), queueURL, cfg.VisibilityTimeoutSec), nil
}

// NewWithAPI injects a custom API, used by tests and by LocalStack
// wiring alike.
func NewWithAPI(api API, queueURL string, visibilityTimeoutSec int32) *SQSQueue {
	if visibilityTimeoutSec <= 0 {
		visibilityTimeoutSec = 900
	}
	return &SQSQueue{client: api, queueURL: queueURL, visibilityTimeoutSec: visibilityTimeoutSec}
}

func (q *SQSQueue) Enqueue(ctx context.Context, msg JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling job message: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sending job message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int32, waitSeconds int32) ([]JobMessage, []string, error) {
	resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitSeconds,
		VisibilityTimeout:   q.visibilityTimeoutSec,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("receiving job messages: %w", err)
	}

	var messages []JobMessage
	var receipts []string
	for _, raw := range resp.Messages {
		var msg JobMessage
		if raw.Body == nil {
			continue
		}
		if err := json.Unmarshal([]byte(*raw.Body), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
		receipts = append(receipts, aws.ToString(raw.ReceiptHandle))
	}
	return messages, receipts, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("deleting job message: %w", err)
	}
	return nil
}

// ExtendVisibility resets a message's visibility timeout to the
// configured value, so the message stays hidden from other workers for
// longer. It is not part of the Queue interface, and cmd/worker's
// receive loop does not call it.
func (q *SQSQueue) ExtendVisibility(ctx context.Context, receiptHandle string) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: q.visibilityTimeoutSec,
	})
	if err != nil {
		return fmt.Errorf("extending message visibility: %w", err)
	}
	return nil
}

func (q *SQSQueue) Close() error { return nil }
