package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/shortontech/crawlwatch/internal/event"
)

// KafkaConfig holds configuration for Kafka producer
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Acks        string
	Compression string

	// SASL config
	SASLMechanism string
	SASLUser      string
	SASLPassword  string

	// TLS config
	TLSCAPath     string
	TLSSkipVerify bool
}

// KafkaSink produces detection events keyed by event_id
type KafkaSink struct {
	config   KafkaConfig
	producer *kafka.Producer
}

// NewKafkaSinkFromEnv creates a KafkaSink from environment variables
func NewKafkaSinkFromEnv() *KafkaSink {
	brokers := strings.Split(getEnvOr("KAFKA_BROKERS", "localhost:9092"), ",")
	for i, broker := range brokers {
		brokers[i] = strings.TrimSpace(broker)
	}

	return &KafkaSink{config: KafkaConfig{
		Brokers:       brokers,
		Topic:         getEnvOr("KAFKA_TOPIC", "crawlwatch.detections"),
		Acks:          getEnvOr("KAFKA_ACKS", "all"),
		Compression:   os.Getenv("KAFKA_COMPRESSION"),
		SASLMechanism: os.Getenv("KAFKA_SASL_MECHANISM"),
		SASLUser:      os.Getenv("KAFKA_SASL_USER"),
		SASLPassword:  os.Getenv("KAFKA_SASL_PASSWORD"),
		TLSCAPath:     os.Getenv("KAFKA_TLS_CA"),
		TLSSkipVerify: getBoolEnv("KAFKA_TLS_SKIP_VERIFY", false),
	}}
}

// NewKafkaSink creates a KafkaSink with explicit configuration
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		config: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
			Acks:    "all",
		},
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) configMap() kafka.ConfigMap {
	cm := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(s.config.Brokers, ","),
		"acks":              s.config.Acks,
		"retries":           10,
		"retry.backoff.ms":  100,
		"batch.size":        16384,
		"linger.ms":         10,
	}

	if s.config.Compression != "" {
		cm["compression.type"] = s.config.Compression
	}

	if s.config.SASLMechanism != "" {
		cm["security.protocol"] = "SASL_SSL"
		cm["sasl.mechanism"] = s.config.SASLMechanism
		if s.config.SASLUser != "" {
			cm["sasl.username"] = s.config.SASLUser
		}
		if s.config.SASLPassword != "" {
			cm["sasl.password"] = s.config.SASLPassword
		}
	}

	if s.config.TLSCAPath != "" {
		if s.config.SASLMechanism == "" {
			cm["security.protocol"] = "SSL"
		}
		cm["ssl.ca.location"] = s.config.TLSCAPath
	}

	if s.config.TLSSkipVerify {
		cm["ssl.endpoint.identification.algorithm"] = "none"
	}
	return cm
}

func (s *KafkaSink) Start(ctx context.Context) error {
	cm := s.configMap()
	producer, err := kafka.NewProducer(&cm)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	s.producer = producer

	go s.handleDeliveryReports(ctx)
	return nil
}

func (s *KafkaSink) Enqueue(e event.Event) error {
	if s.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}
	msg, err := s.message(e)
	if err != nil {
		return err
	}
	if err := s.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// message builds the Kafka record for e; consumers can filter on the
// bot_type and source headers without decoding the payload.
func (s *KafkaSink) message(e event.Event) (*kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.config.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(e.EventID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "bot_type", Value: []byte(e.BotType)},
			{Key: "source", Value: []byte(e.Metadata.Source)},
			{Key: "is_bot", Value: []byte(strconv.FormatBool(e.Metadata.IsBot))},
			{Key: "schema", Value: []byte("v1")},
		},
	}, nil
}

func (s *KafkaSink) Close() error {
	if s.producer == nil {
		return nil
	}

	// Wait up to 10 seconds for in-flight messages
	remaining := s.producer.Flush(10 * 1000)
	s.producer.Close()
	if remaining > 0 {
		return fmt.Errorf("failed to flush %d remaining messages", remaining)
	}
	return nil
}

func (s *KafkaSink) handleDeliveryReports(ctx context.Context) {
	events := s.producer.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					log.Printf("kafka: delivery failed: %v", e.TopicPartition.Error)
				}
			case kafka.Error:
				log.Printf("kafka: client error: %v", e)
			}
		}
	}
}

// Helper functions
func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return defaultValue
}
