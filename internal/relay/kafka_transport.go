package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultKafkaTopic carries signaling for every room, keyed by room.
const DefaultKafkaTopic = "classroom-signaling"

// KafkaConfig configures a KafkaTransport.
type KafkaConfig struct {
	Brokers string
	Topic   string
	Room    string
}

// KafkaTransport is a signaling transport over a Kafka topic. Each transport
// consumes with its own group starting at the latest offset, so it sees only
// what is published after it connects.
type KafkaTransport struct {
	producer *kafka.Producer
	consumer *kafka.Consumer
	topic    string
	room     string
	msgs     chan []byte
	logger   *zap.Logger

	cancel       context.CancelFunc
	consumerDone chan struct{}
	producerDone chan struct{}
	once         sync.Once
}

// NewKafkaTransport connects a producer and a consumer for cfg.Room.
func NewKafkaTransport(cfg KafkaConfig, logger *zap.Logger) (*KafkaTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultKafkaTopic
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"group.id":           "classroom-" + uuid.NewString(),
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(cfg.Topic, nil); err != nil {
		p.Close()
		_ = c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", cfg.Topic, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &KafkaTransport{
		producer:     p,
		consumer:     c,
		topic:        cfg.Topic,
		room:         cfg.Room,
		msgs:         make(chan []byte, sendBuffer),
		logger:       logger.With(zap.String("topic", cfg.Topic), zap.String("room", cfg.Room)),
		cancel:       cancel,
		consumerDone: make(chan struct{}),
		producerDone: make(chan struct{}),
	}
	go t.deliveryReportHandler()
	go t.consumeLoop(ctx)
	return t, nil
}

func (t *KafkaTransport) deliveryReportHandler() {
	defer close(t.producerDone)
	for e := range t.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			t.logger.Warn("kafka delivery failed", zap.Error(m.TopicPartition.Error))
		}
	}
}

func (t *KafkaTransport) consumeLoop(ctx context.Context) {
	defer close(t.consumerDone)
	defer close(t.msgs)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		switch ev := t.consumer.Poll(500).(type) {
		case *kafka.Message:
			data, ok := roomFrame(ev, t.room)
			if !ok {
				continue
			}
			select {
			case t.msgs <- data:
			case <-ctx.Done():
				return
			}
		case kafka.Error:
			t.logger.Warn("kafka consumer error", zap.Error(ev))
		}
	}
}

// Publish produces data to the room's partition.
func (t *KafkaTransport) Publish(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.producer.Produce(roomMessage(t.topic, t.room, data), nil); err != nil {
		var kerr kafka.Error
		if errors.As(err, &kerr) && kerr.Code() == kafka.ErrQueueFull {
			return fmt.Errorf("kafka queue full: %w", err)
		}
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// roomMessage builds the record for one frame, keyed by room so a room stays
// on one partition.
func roomMessage(topic, room string, data []byte) *kafka.Message {
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(room),
		Value: data,
	}
}

// roomFrame returns the frame carried by m when it belongs to room.
func roomFrame(m *kafka.Message, room string) ([]byte, bool) {
	if m == nil || string(m.Key) != room || len(m.Value) == 0 {
		return nil, false
	}
	return m.Value, true
}

func (t *KafkaTransport) Messages() <-chan []byte { return t.msgs }

// Close stops consuming, flushes pending messages and closes both clients.
func (t *KafkaTransport) Close() error {
	var err error
	t.once.Do(func() {
		t.cancel()
		<-t.consumerDone
		if cerr := t.consumer.Close(); cerr != nil {
			err = fmt.Errorf("failed to close kafka consumer: %w", cerr)
		}
		t.producer.Flush(5000)
		t.producer.Close()
		<-t.producerDone
	})
	return err
}
