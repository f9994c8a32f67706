package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_FanOut(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	defer b.Close()

	pub, err := b.NewPublisher(ctx, "state_pubsub")
	require.NoError(t, err)

	var subs []Subscriber
	for i := 0; i < 3; i++ {
		s, err := b.NewSubscriber(ctx, "state_pubsub")
		require.NoError(t, err)
		require.NoError(t, s.Subscribe(ctx, "state"))
		subs = append(subs, s)
	}

	require.NoError(t, pub.Publish(ctx, "state", []byte(`{"cmd":"update"}`)))

	// 每个订阅者各收到一份
	for _, s := range subs {
		m, err := s.Receive(ctx, 100*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "state", m.Topic)
		assert.Equal(t, "state_pubsub", m.Channel)
		assert.JSONEq(t, `{"cmd":"update"}`, string(m.Data))
	}
}

func TestMemoryBackend_TopicFilter(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	pub, _ := b.NewPublisher(ctx, "c")
	s, _ := b.NewSubscriber(ctx, "c")
	require.NoError(t, s.Subscribe(ctx, "command"))

	require.NoError(t, pub.Publish(ctx, "state", []byte("x")))
	m, err := s.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, m, "未订阅的主题不投递")

	require.NoError(t, pub.Publish(ctx, "command", []byte("y")))
	m, err = s.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "y", string(m.Data))
}

func TestMemoryBackend_ChannelsAreIsolated(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	pub, _ := b.NewPublisher(ctx, "a")
	s, _ := b.NewSubscriber(ctx, "b")
	require.NoError(t, s.Subscribe(ctx, "state"))

	require.NoError(t, pub.Publish(ctx, "state", []byte("x")))
	m, err := s.Receive(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMemoryBackend_PublishCopiesData(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	pub, _ := b.NewPublisher(ctx, "c")
	s, _ := b.NewSubscriber(ctx, "c")
	require.NoError(t, s.Subscribe(ctx, "t"))

	data := []byte("abc")
	require.NoError(t, pub.Publish(ctx, "t", data))
	data[0] = 'z'

	m, _ := s.Receive(ctx, 0)
	require.NotNil(t, m)
	assert.Equal(t, "abc", string(m.Data))
}

func TestMemoryBackend_ReceiveWaits(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	pub, _ := b.NewPublisher(ctx, "c")
	s, _ := b.NewSubscriber(ctx, "c")
	require.NoError(t, s.Subscribe(ctx, "t"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = pub.Publish(ctx, "t", []byte("late"))
	}()
	m, err := s.Receive(ctx, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "late", string(m.Data))
}

func TestMemorySubscriber_Close(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	pub, _ := b.NewPublisher(ctx, "c")
	s, _ := b.NewSubscriber(ctx, "c")
	require.NoError(t, s.Subscribe(ctx, "t"))
	require.NoError(t, s.Close())

	require.NoError(t, pub.Publish(ctx, "t", []byte("x")))
	_, err := s.Receive(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Subscribe(ctx, "t2"), ErrClosed)
}

func TestMemoryBackend_Close(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	s, _ := b.NewSubscriber(ctx, "c")
	require.NoError(t, s.Subscribe(ctx, "t"))
	require.NoError(t, b.Close())

	_, err := s.Receive(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.NewPublisher(ctx, "c")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNoOpBackend(t *testing.T) {
	ctx := context.Background()
	b := NewNoOpBackend()
	s, _ := b.NewSubscriber(ctx, "c")
	m, err := s.Receive(ctx, time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, m)
}
