package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/saga-choreography/pkg/kafka"
)

type published struct {
	topic string
	key   string
	event *Event
}

// fakePublisher запоминает опубликованные события; первые failures вызовов падают.
type fakePublisher struct {
	mu       sync.Mutex
	sent     []published
	failures int
	calls    int
}

func (f *fakePublisher) Publish(_ context.Context, topic string, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}

	ev, err := DecodeEvent(value)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, published{topic: topic, key: string(key), event: ev})
	return nil
}

func (f *fakePublisher) last(t *testing.T) published {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "ничего не опубликовано")
	return f.sent[len(f.sent)-1]
}

func paymentTopics(t *testing.T) Topics {
	t.Helper()
	topics, err := DefaultTopics(SourcePayment)
	require.NoError(t, err)
	return topics
}

func TestRouter_NextTopic(t *testing.T) {
	r := NewRouter("payment-service", paymentTopics(t), &fakePublisher{})

	tests := []struct {
		status Status
		want   string
	}{
		{StatusSuccess, kafka.TopicInventoryStart},
		{StatusFail, kafka.TopicProductValidationFail},
		{StatusRollbackPending, kafka.TopicPaymentFail},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			got, err := r.NextTopic(tt.status)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := r.NextTopic("UNKNOWN")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestDefaultTopics(t *testing.T) {
	pv, err := DefaultTopics(SourceProductValidation)
	require.NoError(t, err)
	assert.Equal(t, kafka.TopicNotifyEnding, pv.PredecessorCompensation, "у первого участника нет предшественника")
	assert.NoError(t, pv.Validate())

	inv, err := DefaultTopics(SourceInventory)
	require.NoError(t, err)
	assert.Equal(t, kafka.TopicNotifyEnding, inv.Advance)
	assert.Equal(t, kafka.TopicPaymentFail, inv.PredecessorCompensation)

	_, err = DefaultTopics(SourceOrder)
	assert.Error(t, err)
}

func TestTopics_Override(t *testing.T) {
	topics := paymentTopics(t).Override("", "custom-advance", "", "")

	assert.Equal(t, "custom-advance", topics.Advance)
	assert.Equal(t, kafka.TopicPaymentStart, topics.Start)
	assert.Equal(t, kafka.TopicPaymentFail, topics.OwnCompensation)
}

func TestRouter_Route_IsDeterministic(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRouter("payment-service", paymentTopics(t), pub)

	ev := sampleEvent()
	ev.Status = StatusFail
	ev.Source = SourcePayment

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Route(context.Background(), ev))
	}

	require.Len(t, pub.sent, 3)
	for _, p := range pub.sent {
		assert.Equal(t, kafka.TopicProductValidationFail, p.topic)
		assert.Equal(t, ev.TransactionID, p.key)
		require.Len(t, p.event.History, len(ev.History))
		assert.Equal(t, ev.History[0].Message, p.event.History[0].Message)
	}
}

func TestRouter_Route_RetriesPublish(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	r := NewRouter("payment-service", paymentTopics(t), pub, WithPublishRetries(3, time.Millisecond))

	require.NoError(t, r.Route(context.Background(), sampleEvent()))

	assert.Equal(t, 3, pub.calls)
	assert.Len(t, pub.sent, 1)
}

func TestRouter_Route_GivesUp(t *testing.T) {
	pub := &fakePublisher{failures: 10}
	r := NewRouter("payment-service", paymentTopics(t), pub, WithPublishRetries(2, time.Millisecond))

	err := r.Route(context.Background(), sampleEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), kafka.TopicInventoryStart)
	assert.Equal(t, 3, pub.calls)
}

func TestRouter_Route_UnknownStatusPublishesNothing(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRouter("payment-service", paymentTopics(t), pub)

	ev := sampleEvent()
	ev.Status = "LOST"

	require.ErrorIs(t, r.Route(context.Background(), ev), ErrUnknownStatus)
	assert.Zero(t, pub.calls)
}
