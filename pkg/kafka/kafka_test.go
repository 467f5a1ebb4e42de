package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		f.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func TestConsumerRetriesUntilHandlerSucceeds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader := &fakeReader{
		messages: []kafka.Message{{Offset: 1, Value: []byte("a")}, {Offset: 2, Value: []byte("b")}},
		cancel:   cancel,
	}

	attempts := map[string]int{}
	c := newConsumer(reader, "telemetry-events", func(_ context.Context, _ []byte, value []byte) error {
		attempts[string(value)]++
		if string(value) == "a" && attempts["a"] < 3 {
			return errors.New("store unavailable")
		}
		return nil
	})
	c.minBackoff = time.Millisecond

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, 3, attempts["a"])
	assert.Equal(t, 1, attempts["b"])
	assert.Equal(t, []int64{1, 2}, reader.committed)
}

func TestConsumerLeavesMessageUncommittedOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{messages: []kafka.Message{{Offset: 9}}, cancel: cancel}
	c := newConsumer(reader, "t", func(context.Context, []byte, []byte) error {
		cancel()
		return errors.New("down")
	})

	require.NoError(t, c.Start(ctx))
	assert.Empty(t, reader.committed)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func TestProducerPublish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: newConsumer(nil, "t", nil).logger}

	require.NoError(t, p.Publish(context.Background(), Event{Key: "iap", Value: map[string]int{"n": 1}}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "iap", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"n":1}`, string(w.msgs[0].Value))

	w.err = errors.New("leader not available")
	err := p.PublishBatch(context.Background(), []Event{{Key: "a", Value: 1}, {Key: "b", Value: 2}})
	assert.ErrorContains(t, err, "publishing 2 message(s)")

	err = p.Publish(context.Background(), Event{Value: make(chan int)})
	assert.ErrorContains(t, err, "marshaling")
}

func TestDecodeJSON(t *testing.T) {
	v, err := DecodeJSON[map[string]string]([]byte(`{"kind":"iap"}`))
	require.NoError(t, err)
	assert.Equal(t, "iap", v["kind"])

	_, err = DecodeJSON[map[string]string]([]byte(`{`))
	assert.Error(t, err)
}
