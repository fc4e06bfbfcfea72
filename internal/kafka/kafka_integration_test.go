//go:build integration

package kafka_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcKafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
	"github.com/rhoffman0214/BobsComponents/internal/kafka"
	"github.com/rhoffman0214/BobsComponents/internal/queue"
)

var testKafkaBrokers []string

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	kafkaCtr, err := tcKafka.Run(ctx, "confluentinc/confluent-local:7.7.1",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Kafka Server started").
				WithStartupTimeout(90*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start kafka container: %v", err)
	}
	defer kafkaCtr.Terminate(ctx) //nolint:errcheck

	brokers, err := kafkaCtr.Brokers(ctx)
	if err != nil {
		log.Fatalf("kafka brokers: %v", err)
	}
	testKafkaBrokers = brokers

	return m.Run()
}

// createTopic creates the topic up front; the first publish can otherwise
// race auto-creation and fail with UNKNOWN_TOPIC_OR_PARTITION.
func createTopic(t *testing.T, base string) string {
	t.Helper()
	topic := fmt.Sprintf("%s-%d", base, time.Now().UnixNano())

	conn, err := kafkago.DialContext(context.Background(), "tcp", testKafkaBrokers[0])
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
	return topic
}

// consume runs handler against topic until the test ends.
func consume(t *testing.T, topic, groupID string, handler kafka.HandlerFunc) {
	t.Helper()
	c := kafka.NewConsumer(testKafkaBrokers, topic, groupID, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Subscribe(ctx, handler) //nolint:errcheck
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		c.Close() //nolint:errcheck
	})
}

func TestProducerConsumer_RoundTrip(t *testing.T) {
	topic := createTopic(t, "roundtrip")
	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck

	payload := []byte(`{"type":"registered"}`)
	require.NoError(t, producer.Publish(context.Background(), topic, "action-1", payload))

	received := make(chan kafka.Message, 1)
	consume(t, topic, "group-roundtrip", func(_ context.Context, m kafka.Message) error {
		received <- m
		return nil
	})

	select {
	case m := <-received:
		assert.Equal(t, payload, m.Value)
		assert.Equal(t, []byte("action-1"), m.Key)
		assert.Equal(t, "application/json", kafka.HeaderCarrier(m.Headers).Get("content-type"))
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for Kafka message")
	}
}

func TestConsumer_RedeliversAfterHandlerError(t *testing.T) {
	topic := createTopic(t, "redelivery")
	groupID := fmt.Sprintf("group-redelivery-%d", time.Now().UnixNano())

	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck
	require.NoError(t, producer.Publish(context.Background(), topic, "k", []byte(`{}`)))

	first := kafka.NewConsumer(testKafkaBrokers, topic, groupID, slog.Default())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	seen := make(chan struct{}, 1)
	go func() {
		first.Subscribe(ctx, func(context.Context, kafka.Message) error { //nolint:errcheck
			select {
			case seen <- struct{}{}:
			default:
			}
			return errors.New("handler failed")
		})
	}()

	select {
	case <-seen:
	case <-ctx.Done():
		t.Fatal("first consumer never saw the message")
	}
	cancel()
	time.Sleep(300 * time.Millisecond)
	first.Close() //nolint:errcheck

	redelivered := make(chan struct{}, 1)
	consume(t, topic, groupID, func(context.Context, kafka.Message) error {
		select {
		case redelivered <- struct{}{}:
		default:
		}
		return nil
	})

	select {
	case <-redelivered:
	case <-time.After(30 * time.Second):
		t.Fatal("uncommitted message was not redelivered")
	}
}

func TestPublisher_EndToEnd(t *testing.T) {
	topic := createTopic(t, "changes")
	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck

	q := queue.NewService()
	p := kafka.NewPublisher(producer, topic)
	t.Cleanup(p.Watch(q))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Run(ctx) //nolint:errcheck

	a, ok := q.RegisterAction("fetch-posts")
	require.True(t, ok)
	q.UpdateActionState(a.ID, domain.StateSuccess, "")

	events := make(chan kafka.ChangeEvent, 4)
	consume(t, topic, "group-changes", kafka.HandleChanges(slog.Default(), func(_ context.Context, ev kafka.ChangeEvent) error {
		events <- ev
		return nil
	}))

	var got []kafka.ChangeEvent
	timeout := time.After(30 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("received %d of 2 change events", len(got))
		}
	}

	assert.Equal(t, queue.ChangeRegistered, got[0].Type)
	assert.Equal(t, queue.ChangeState, got[1].Type)
	require.Len(t, got[1].Actions, 1)
	assert.Equal(t, domain.StateSuccess, got[1].Actions[0].State)
}
