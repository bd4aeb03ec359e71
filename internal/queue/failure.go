// Package queue provides SQS-based message producers for handing work off to
// operators and downstream consumers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"llcstack/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// FailurePublisher parks failed deferred-subscription reconciliations on an
// SQS queue so operators can create the subscription by hand.
type FailurePublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewFailurePublisher creates a publisher for the given queue URL.
func NewFailurePublisher(client SQSSender, queueURL string, logger *slog.Logger) *FailurePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailurePublisher{client: client, queueURL: queueURL, logger: logger}
}

// PublishReconcileFailure serializes the failure to JSON and sends it with
// its kind and error code as message attributes.
func (p *FailurePublisher) PublishReconcileFailure(ctx context.Context, failure types.ReconcileFailure) error {
	body, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal ReconcileFailure: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"deferred_kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(failure.Kind)),
			},
			"error_code": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(failure.ErrorCode)),
			},
		},
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue: failed to send ReconcileFailure to %s: %w", p.queueURL, err)
	}

	attrs := []any{
		"queue_url", p.queueURL,
		"message_id", failure.MessageID,
		"session_id", failure.SessionID,
		"deferred_kind", string(failure.Kind),
		"error_code", string(failure.ErrorCode),
	}
	if out != nil && out.MessageId != nil {
		attrs = append(attrs, "sqs_message_id", *out.MessageId)
	}
	p.logger.InfoContext(ctx, "reconcile failure parked", attrs...)

	return nil
}
