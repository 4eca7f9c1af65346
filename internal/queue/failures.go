// Package queue exports notifications that could not be redelivered to an
// SQS queue so that they can be re-driven later.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"notifyreplay/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// FailureMessage is the SQS body for one undelivered notification. Payload is
// the exact byte sequence that was posted, carried as a string so a re-drive
// sends the same bytes.
type FailureMessage struct {
	CorrelationID string         `json:"correlation_id"`
	RunID         string         `json:"run_id,omitempty"`
	Event         string         `json:"event"`
	ObjectID      string         `json:"object_id"`
	Destination   string         `json:"destination"`
	SourceURL     string         `json:"source_url,omitempty"`
	Outcome       string         `json:"outcome"`
	StatusCode    int            `json:"status_code,omitempty"`
	Error         string         `json:"error,omitempty"`
	AttemptedAt   time.Time      `json:"attempted_at"`
	Headers       []types.Header `json:"headers,omitempty"`
	Payload       string         `json:"payload"`
}

var _ types.FailureSink = (*FailurePublisher)(nil)

// FailurePublisher implements types.FailureSink on top of SQS.
type FailurePublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewFailurePublisher creates a FailurePublisher targeting queueURL.
func NewFailurePublisher(client SQSSender, queueURL string, logger types.Logger) (*FailurePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("queue: sqs client is nil")
	}
	if queueURL == "" {
		return nil, fmt.Errorf("queue: failure queue url is empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("queue: logger is nil")
	}
	return &FailurePublisher{client: client, queueURL: queueURL, logger: logger}, nil
}

// PublishFailure sends env together with the outcome of its attempt.
func (p *FailurePublisher) PublishFailure(ctx context.Context, env *types.NotificationEnvelope, attempt types.DeliveryAttempt) error {
	msg := FailureMessage{
		CorrelationID: attempt.CorrelationID,
		RunID:         attempt.RunID,
		Event:         env.Event,
		ObjectID:      env.ObjectID,
		Destination:   env.URL,
		SourceURL:     env.SourceURL,
		Outcome:       string(attempt.Outcome),
		StatusCode:    attempt.StatusCode,
		Error:         attempt.Error,
		AttemptedAt:   attempt.AttemptedAt,
		Headers:       env.Headers,
		Payload:       string(env.SerializedPayload),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal FailureMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event": {
				DataType:    aws.String("String"),
				StringValue: aws.String(env.Event),
			},
			"correlation_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(attempt.CorrelationID),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send FailureMessage to %s: %w", p.queueURL, err)
	}

	p.logger.Info("undelivered notification exported",
		"queue_url", p.queueURL,
		"correlation_id", attempt.CorrelationID,
		"object_id", env.ObjectID,
		"event", env.Event,
	)
	return nil
}
