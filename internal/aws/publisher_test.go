package aws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-order-saga/internal/events"
)

type mockSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

func failedPayment() events.Envelope {
	return events.New(events.PaymentFailed{
		OrderID: "order-1",
		Status:  "failed",
		Reason:  "Payment declined",
		StoreID: "X",
	})
}

func TestForward_StandardQueue(t *testing.T) {
	m := &mockSQS{}
	p := NewPublisher(m, "https://sqs.us-east-1.amazonaws.com/123/orders")

	env := failedPayment()
	require.NoError(t, p.Forward(context.Background(), env))
	require.Len(t, m.inputs, 1)

	in := m.inputs[0]
	assert.Nil(t, in.MessageGroupId)
	assert.Equal(t, "payment.failed", *in.MessageAttributes["topic"].StringValue)
	assert.Equal(t, "order-1", *in.MessageAttributes["key"].StringValue)

	var got events.Envelope
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &got))
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, "Payment declined", got.Payload.(events.PaymentFailed).Reason)
}

func TestForward_FIFOQueueGroupsByOrder(t *testing.T) {
	m := &mockSQS{}
	p := NewPublisher(m, "https://sqs.us-east-1.amazonaws.com/123/orders.fifo")

	env := failedPayment()
	require.NoError(t, p.Forward(context.Background(), env))

	in := m.inputs[0]
	require.NotNil(t, in.MessageGroupId)
	assert.Equal(t, "order-1", *in.MessageGroupId)
	assert.Equal(t, env.ID, *in.MessageDeduplicationId)
}

func TestForward_SendError(t *testing.T) {
	m := &mockSQS{err: errors.New("throttled")}
	p := NewPublisher(m, "q")

	err := p.Forward(context.Background(), failedPayment())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestPublish_RejectsInvalidEvent(t *testing.T) {
	m := &mockSQS{}
	p := NewPublisher(m, "q")

	err := p.Publish(context.Background(), events.New(events.PaymentFailed{OrderID: "order-1"}))
	require.ErrorIs(t, err, events.ErrValidation)
	assert.Empty(t, m.inputs)

	require.NoError(t, p.Publish(context.Background(), failedPayment()))
	assert.Len(t, m.inputs, 1)
}
