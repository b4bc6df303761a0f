package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/imrishuroy/go-order-saga/internal/events"
)

// Publisher wraps an SQS client and a queue URL. It forwards saga events so
// the worker Lambda can consume them.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// Forward sends env as a JSON message body. Topic, event id and partition key
// travel as message attributes. On FIFO queues the partition key is the
// message group so per-order ordering survives the hop.
func (p *Publisher) Forward(ctx context.Context, env events.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.SendMessage(ctx, string(body), env.Key(), map[string]string{
		"topic":    string(env.Topic),
		"event_id": env.ID,
		"key":      env.Key(),
	})
}

// Publish validates env and forwards it. The worker uses it in place of the
// in-process bus so every stage output becomes an SQS message.
func (p *Publisher) Publish(ctx context.Context, env events.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	return p.Forward(ctx, env)
}

// SendMessage sends a raw message body. attributes are sent as String
// MessageAttributes.
func (p *Publisher) SendMessage(ctx context.Context, messageBody, groupKey string, attributes map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &messageBody,
	}
	if strings.HasSuffix(p.QueueURL, ".fifo") {
		input.MessageGroupId = String(groupKey)
		if id, ok := attributes["event_id"]; ok {
			input.MessageDeduplicationId = String(id)
		}
	}
	if len(attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range attributes {
			if v == "" {
				continue
			}
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    String("String"),
				StringValue: String(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}

	_, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
