// Package queue provides SQS-based message producers for dispatching critical
// alert events to downstream operator channels.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"crosswatch/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// alertReason is the value of the reason message attribute on every critical
// alert message. Downstream consumers filter on it.
const alertReason = "critical_alert"

// AlertPublisher sends CriticalAlertEvent messages to the operator alert
// queue. The intelligence service calls it from a post-assembly hook whenever
// a snapshot carries at least one critical-level alert.
type AlertPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewAlertPublisher creates a new AlertPublisher targeting the given queue.
func NewAlertPublisher(client SQSSender, queueURL string, logger *slog.Logger) *AlertPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish serializes the event and dispatches it to the alert queue. A missing
// EventID is assigned here; message identity belongs to the publisher, not the
// assembler.
func (p *AlertPublisher) Publish(ctx context.Context, event types.CriticalAlertEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal CriticalAlertEvent: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alertReason),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send CriticalAlertEvent to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "critical alert event sent",
		"queue_url", p.queueURL,
		"event_id", event.EventID,
		"intersection_id", event.IntersectionID,
		"alert_count", len(event.Alerts),
		"intersection_status", string(event.Status),
	)

	return nil
}
