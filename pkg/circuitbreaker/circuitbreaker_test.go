package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/saga-choreography/pkg/kafka"
)

type stubSender struct {
	err   error
	calls int
	last  *kafka.Message
}

func (s *stubSender) SendMessage(_ context.Context, msg *kafka.Message) error {
	s.calls++
	s.last = msg
	return s.err
}

func testSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	}
}

func TestProducer_Publish(t *testing.T) {
	sender := &stubSender{}
	p := Wrap(sender, NewWithSettings("kafka", testSettings()))

	err := p.Publish(context.Background(), kafka.TopicPaymentStart, []byte("tx-1"), []byte(`{}`))

	require.NoError(t, err)
	require.NotNil(t, sender.last)
	assert.Equal(t, kafka.TopicPaymentStart, sender.last.Topic)
	assert.Equal(t, "tx-1", string(sender.last.Key))
}

func TestProducer_OpensAfterFailures(t *testing.T) {
	// Arrange
	sender := &stubSender{err: errors.New("leader not available")}
	b := NewWithSettings("kafka", testSettings())
	p := Wrap(sender, b)
	ctx := context.Background()

	// Act
	for i := 0; i < 2; i++ {
		err := p.SendMessage(ctx, &kafka.Message{Topic: kafka.TopicInventoryStart})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrOpen)
	}
	err := p.SendMessage(ctx, &kafka.Message{Topic: kafka.TopicInventoryStart})

	// Assert
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.Equal(t, 2, sender.calls, "открытый breaker не обращается к Kafka")
}

func TestProducer_CanceledContextIsNotFailure(t *testing.T) {
	sender := &stubSender{err: context.Canceled}
	b := NewWithSettings("kafka", testSettings())
	p := Wrap(sender, b)

	for i := 0; i < 3; i++ {
		_ = p.SendMessage(context.Background(), &kafka.Message{})
	}

	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 3, sender.calls)
}

func TestProducer_SendToDLQ(t *testing.T) {
	sender := &stubSender{}
	p := Wrap(sender, New("kafka"))

	err := p.SendToDLQ(context.Background(), &kafka.Message{Topic: kafka.TopicNotifyEnding, Key: []byte("tx-1")}, errors.New("boom"))

	require.NoError(t, err)
	assert.Equal(t, kafka.TopicDLQ, sender.last.Topic)
	assert.Equal(t, kafka.TopicNotifyEnding, sender.last.Headers["dlq_original_topic"])
	assert.Equal(t, "kafka", p.breaker.Name())
}
