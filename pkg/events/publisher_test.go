// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{Kafka: KafkaConfig{RequiredAcks: 7}}
	cfg.Validate()

	assert.Equal(t, PolicyLog, cfg.ErrorPolicy)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tus:events", cfg.Redis.Channel)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, "tus-events", cfg.Kafka.Topic)
	assert.Equal(t, 1, cfg.Kafka.RequiredAcks)
	assert.Equal(t, "snappy", cfg.Kafka.Compression)
	assert.Equal(t, 10*time.Second, cfg.Kafka.WriteTimeout)
	assert.False(t, cfg.HasPublishers())

	cfg.Kafka.Enabled = true
	assert.True(t, cfg.HasPublishers())
}

// =============================================================================
// Redis
// =============================================================================

func TestNewRedisPublisher_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewRedisPublisher(RedisConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis address is required")

	_, err = NewRedisPublisher(RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestRedisPublisher_ChannelFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix   string
		kind     Kind
		expected string
	}{
		{"tus:events", KindCreated, "tus:events:created"},
		{"custom", KindComplete, "custom:complete"},
		{"", KindTerminated, "tus:events:terminated"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			t.Parallel()
			pub := NewRedisPublisherWithClient(nil, tt.prefix)
			assert.Equal(t, tt.expected, pub.Channel(tt.kind))
		})
	}
}

func TestRedisPublisher_Publish(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	pub := NewRedisPublisherWithClient(client, "tus:events")
	t.Cleanup(func() { pub.Close() })

	ctx := context.Background()
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()}).Subscribe(ctx, "tus:events:complete")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n, err := NewNotifier(NotifierConfig{ErrorPolicy: PolicyPropagate})
	require.NoError(t, err)
	n.RegisterAll(pub.Name(), NewPublishingListener(pub))

	_, err = n.Emit(ctx, NewEvent(KindComplete, testUpload()))
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, KindComplete, got.Kind)
		assert.Equal(t, "abc", got.UploadID)
		assert.Equal(t, "a.txt", got.Metadata.Lookup("filename"))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRedisPublisher_PublishError(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	pub := NewRedisPublisherWithClient(client, "tus:events")
	t.Cleanup(func() { pub.Close() })

	mr.Close()

	err := pub.Publish(context.Background(), KindCreated, "abc", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis publish")
}

func TestRedisPublisher_Close(t *testing.T) {
	t.Parallel()

	pub := &RedisPublisher{}
	assert.NoError(t, pub.Close())
}

// =============================================================================
// Kafka
// =============================================================================

func TestNewKafkaPublisher_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaPublisher(KafkaConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one Kafka broker is required")
}

func TestKafkaPublisher_Publish(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "abc" {
			return errors.New("expected key to be upload id")
		}
		if msg.Topic != "tus-events" {
			return errors.New("expected topic to be tus-events")
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(KindProgress) {
			return errors.New("expected kind header")
		}
		return nil
	})

	pub := NewKafkaPublisherWithProducer(producer, "tus-events")
	listener := NewPublishingListener(pub)

	result, err := listener.Handle(context.Background(), NewEvent(KindProgress, testUpload()))
	require.NoError(t, err)
	assert.Equal(t, Continue, result)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(errors.New("broker unavailable"))

	pub := NewKafkaPublisherWithProducer(producer, "tus-events")

	err := pub.Publish(context.Background(), KindCreated, "abc", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka publish")
	assert.Contains(t, err.Error(), "broker unavailable")
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_Close(t *testing.T) {
	t.Parallel()

	pub := &KafkaPublisher{}
	assert.NoError(t, pub.Close())
}

func TestNewSaramaConfig(t *testing.T) {
	t.Parallel()

	compression := []struct {
		in       string
		expected sarama.CompressionCodec
	}{
		{"gzip", sarama.CompressionGZIP},
		{"snappy", sarama.CompressionSnappy},
		{"lz4", sarama.CompressionLZ4},
		{"zstd", sarama.CompressionZSTD},
		{"none", sarama.CompressionNone},
		{"unknown", sarama.CompressionSnappy},
	}
	for _, tt := range compression {
		cfg := newSaramaConfig(KafkaConfig{Compression: tt.in})
		assert.Equal(t, tt.expected, cfg.Producer.Compression, tt.in)
	}

	acks := []struct {
		in       int
		expected sarama.RequiredAcks
	}{
		{0, sarama.NoResponse},
		{1, sarama.WaitForLocal},
		{-1, sarama.WaitForAll},
		{99, sarama.WaitForLocal},
	}
	for _, tt := range acks {
		cfg := newSaramaConfig(KafkaConfig{RequiredAcks: tt.in})
		assert.Equal(t, tt.expected, cfg.Producer.RequiredAcks)
	}

	cfg := newSaramaConfig(KafkaConfig{
		SASLMechanism: "SCRAM-SHA-512",
		SASLUsername:  "user",
		SASLPassword:  "pass",
	})
	assert.True(t, cfg.Net.SASL.Enable)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), cfg.Net.SASL.Mechanism)
	require.NotNil(t, cfg.Net.SASL.SCRAMClientGeneratorFunc)

	client := cfg.Net.SASL.SCRAMClientGeneratorFunc()
	require.NoError(t, client.Begin("user", "pass", ""))
	first, err := client.Step("")
	require.NoError(t, err)
	assert.Contains(t, first, "n=user")
	assert.False(t, client.Done())
}

func TestSetup_NoPublishers(t *testing.T) {
	t.Parallel()

	n, err := NewNotifier(NotifierConfig{})
	require.NoError(t, err)

	pubs, err := Setup(n, Config{})
	require.NoError(t, err)
	assert.Empty(t, pubs)
	assert.Equal(t, 0, n.Len(KindCreated))
	assert.NoError(t, CloseAll(pubs))
}
