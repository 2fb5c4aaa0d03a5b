package cdc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	stringpool "github.com/ajitpratap0/pgcdc/pkg/strings"
)

// KafkaProducer publishes change events to Kafka. Plain deliveries go
// through an async producer; with ExactlyOnce enabled every batch is
// wrapped in a Kafka transaction on a sync producer instead.
type KafkaProducer struct {
	config KafkaConfig
	logger *zap.Logger

	client        sarama.Client
	producer      sarama.SyncProducer // transactional batches
	asyncProducer sarama.AsyncProducer
	transactional bool

	serializer MessageSerializer

	topicMu sync.RWMutex
	topics  map[string]string // table or database.table to topic

	statsMu sync.Mutex
	stats   KafkaMetrics

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// KafkaConfig holds broker, delivery and topic routing settings.
type KafkaConfig struct {
	Brokers               []string `json:"brokers" yaml:"brokers"`
	SecurityProtocol      string   `json:"security_protocol" yaml:"security_protocol"`
	SASLMechanism         string   `json:"sasl_mechanism" yaml:"sasl_mechanism"`
	SASLUsername          string   `json:"sasl_username" yaml:"sasl_username"`
	SASLPassword          string   `json:"sasl_password" yaml:"sasl_password"`
	TLSInsecureSkipVerify bool     `json:"tls_insecure_skip_verify" yaml:"tls_insecure_skip_verify"`

	// Producer settings
	ProducerAcks        string `json:"producer_acks" yaml:"producer_acks"` // all, 1, 0
	ProducerRetries     int    `json:"producer_retries" yaml:"producer_retries"`
	ProducerCompression string `json:"producer_compression" yaml:"producer_compression"` // none, gzip, snappy, lz4
	EnableIdempotence   bool   `json:"enable_idempotence" yaml:"enable_idempotence"`
	TransactionalID     string `json:"transactional_id" yaml:"transactional_id"`

	// Topic settings
	TopicPrefix  string            `json:"topic_prefix" yaml:"topic_prefix"`
	TopicSuffix  string            `json:"topic_suffix" yaml:"topic_suffix"`
	TopicMapping map[string]string `json:"topic_mapping" yaml:"topic_mapping"`
	DefaultTopic string            `json:"default_topic" yaml:"default_topic"`

	// Message settings
	MessageFormat string `json:"message_format" yaml:"message_format"` // json, avro

	// Exactly-once settings
	ExactlyOnce          bool `json:"exactly_once" yaml:"exactly_once"`
	TransactionTimeoutMS int  `json:"transaction_timeout_ms" yaml:"transaction_timeout_ms"`
}

// Validate checks the configuration and fills defaults.
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one Kafka broker is required")
	}

	switch c.MessageFormat {
	case "":
		c.MessageFormat = "json"
	case "json", "avro":
	default:
		return fmt.Errorf("unsupported message format: %s", c.MessageFormat)
	}

	if c.ExactlyOnce && c.TransactionalID == "" {
		return fmt.Errorf("exactly-once delivery requires a transactional ID")
	}

	if c.TransactionTimeoutMS <= 0 {
		c.TransactionTimeoutMS = 60000
	}

	return nil
}

// KafkaMetrics is a snapshot of producer delivery counters.
type KafkaMetrics struct {
	MessagesProduced      int64         `json:"messages_produced"`
	MessagesFailed        int64         `json:"messages_failed"`
	BytesProduced         int64         `json:"bytes_produced"`
	ProducerLatency       time.Duration `json:"producer_latency"`
	TransactionsCommitted int64         `json:"transactions_committed"`
	TransactionsAborted   int64         `json:"transactions_aborted"`
	LastProducedTime      time.Time     `json:"last_produced_time"`
}

// NewKafkaProducer validates config and prepares a producer. No broker
// connection happens until Connect.
func NewKafkaProducer(config KafkaConfig, logger *zap.Logger) (*KafkaProducer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var serializer MessageSerializer
	switch config.MessageFormat {
	case "avro":
		avro, err := NewAvroMessageSerializer()
		if err != nil {
			return nil, fmt.Errorf("failed to build Avro serializer: %w", err)
		}
		serializer = avro
	default:
		serializer = &JSONMessageSerializer{}
	}

	kp := &KafkaProducer{
		config:        config,
		logger:        logger.With(zap.String("component", "kafka_producer")),
		serializer:    serializer,
		topics:        make(map[string]string, len(config.TopicMapping)),
		stopCh:        make(chan struct{}),
		transactional: config.ExactlyOnce && config.TransactionalID != "",
	}
	for table, topic := range config.TopicMapping {
		kp.topics[table] = topic
	}

	return kp, nil
}

// Connect dials the brokers and starts the producer matching the
// configured delivery mode.
func (kp *KafkaProducer) Connect() error {
	if kp.running.Load() {
		return fmt.Errorf("producer is already connected")
	}

	client, err := sarama.NewClient(kp.config.Brokers, kp.buildSaramaConfig())
	if err != nil {
		return fmt.Errorf("failed to create Kafka client: %w", err)
	}
	kp.client = client

	if kp.transactional {
		kp.producer, err = sarama.NewSyncProducerFromClient(client)
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to create sync producer: %w", err)
		}
	} else {
		kp.asyncProducer, err = sarama.NewAsyncProducerFromClient(client)
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to create async producer: %w", err)
		}
		kp.wg.Add(1)
		go kp.drainAsyncResults()
	}

	kp.running.Store(true)
	kp.logger.Info("connected to Kafka",
		zap.Strings("brokers", kp.config.Brokers),
		zap.Bool("transactional", kp.transactional))
	return nil
}

// ProduceEvent publishes a single change event.
func (kp *KafkaProducer) ProduceEvent(ctx context.Context, event ChangeEvent) error {
	return kp.ProduceEvents(ctx, []ChangeEvent{event})
}

// ProduceEvents publishes a batch of change events. With ExactlyOnce on,
// the whole batch commits atomically or not at all.
func (kp *KafkaProducer) ProduceEvents(ctx context.Context, events []ChangeEvent) error {
	if !kp.running.Load() {
		return fmt.Errorf("producer is not connected")
	}
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		kp.noteLatency(time.Since(start))
	}()

	// Serialize everything up front so a bad event fails the batch
	// before a transaction is opened.
	messages, bytes, err := kp.buildMessages(events)
	if err != nil {
		return err
	}

	if kp.transactional {
		err = kp.sendTransactional(messages)
	} else {
		err = kp.sendAsync(ctx, messages)
	}
	if err != nil {
		return err
	}

	kp.noteDelivery(len(messages), bytes)
	return nil
}

func (kp *KafkaProducer) buildMessages(events []ChangeEvent) ([]*sarama.ProducerMessage, int64, error) {
	messages := make([]*sarama.ProducerMessage, len(events))
	var bytes int64
	for i, event := range events {
		message, err := kp.buildProducerMessage(event)
		if err != nil {
			return nil, 0, err
		}
		messages[i] = message
		bytes += int64(message.Key.Length() + message.Value.Length())
	}
	return messages, bytes, nil
}

// sendTransactional publishes the batch inside one Kafka transaction so
// read-committed consumers see all of it or none of it.
func (kp *KafkaProducer) sendTransactional(messages []*sarama.ProducerMessage) error {
	if err := kp.producer.BeginTxn(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, message := range messages {
		partition, offset, err := kp.producer.SendMessage(message)
		if err != nil {
			kp.abortTxn()
			return fmt.Errorf("failed to send message to %s: %w", message.Topic, err)
		}
		kp.logger.Debug("produced message",
			zap.String("topic", message.Topic),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset))
	}

	if err := kp.producer.CommitTxn(); err != nil {
		kp.abortTxn()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	kp.noteTransaction(true)
	return nil
}

func (kp *KafkaProducer) abortTxn() {
	if err := kp.producer.AbortTxn(); err != nil {
		kp.logger.Error("failed to abort transaction", zap.Error(err))
	}
	kp.noteTransaction(false)
}

// sendAsync queues the batch on the async producer. Delivery results
// arrive on the drain loop, not here.
func (kp *KafkaProducer) sendAsync(ctx context.Context, messages []*sarama.ProducerMessage) error {
	for _, message := range messages {
		select {
		case kp.asyncProducer.Input() <- message:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// buildProducerMessage serializes one event into a keyed, headered
// Kafka message.
func (kp *KafkaProducer) buildProducerMessage(event ChangeEvent) (*sarama.ProducerMessage, error) {
	key, err := kp.serializer.SerializeKey(event)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message key: %w", err)
	}

	value, err := kp.serializer.Serialize(event)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message value: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic:     kp.getTopicForEvent(event),
		Key:       sarama.ByteEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   eventHeaders(event, kp.serializer.ContentType()),
		Timestamp: event.Timestamp,
	}, nil
}

// eventHeaders exposes routing metadata so consumers can filter without
// decoding the payload.
func eventHeaders(event ChangeEvent, contentType string) []sarama.RecordHeader {
	headers := []sarama.RecordHeader{
		{Key: []byte("source"), Value: []byte(event.Source.Plugin)},
		{Key: []byte("operation"), Value: []byte(event.Operation)},
		{Key: []byte("database"), Value: []byte(event.Database)},
		{Key: []byte("table"), Value: []byte(event.Table)},
		{Key: []byte("lsn"), Value: []byte(event.Position.String())},
		{Key: []byte("content-type"), Value: []byte(contentType)},
	}

	if event.TransactionID != 0 {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte("transaction-id"),
			Value: []byte(strconv.FormatUint(uint64(event.TransactionID), 10)),
		})
	}

	return headers
}

// getTopicForEvent resolves the destination topic: explicit mappings
// win, then the default topic, then a name generated from the table.
func (kp *KafkaProducer) getTopicForEvent(event ChangeEvent) string {
	if topic, ok := kp.mappedTopic(event); ok {
		return topic
	}
	if kp.config.DefaultTopic != "" {
		return kp.config.DefaultTopic
	}

	builder := stringpool.GetBuilder(stringpool.Small)
	defer stringpool.PutBuilder(builder, stringpool.Small)

	builder.WriteString(kp.config.TopicPrefix)
	builder.WriteString(event.QualifiedTable())
	builder.WriteString(kp.config.TopicSuffix)

	// Dots and underscores collide in Kafka's metric names, so
	// qualified table names are flattened to underscores. ReplaceAll
	// copies when it replaces; the no-dot path must copy explicitly so
	// the topic never aliases the pooled buffer.
	topic := builder.String()
	if strings.Contains(topic, ".") {
		return strings.ReplaceAll(topic, ".", "_")
	}
	return stringpool.Clone(topic)
}

// mappedTopic looks up the table in the routing map, bare name first,
// then qualified with the database.
func (kp *KafkaProducer) mappedTopic(event ChangeEvent) (string, bool) {
	kp.topicMu.RLock()
	defer kp.topicMu.RUnlock()

	if topic, ok := kp.topics[event.Table]; ok {
		return topic, true
	}
	topic, ok := kp.topics[stringpool.Sprintf("%s.%s", event.Database, event.Table)]
	return topic, ok
}

// drainAsyncResults consumes delivery reports until shutdown. Without a
// reader here the async producer's feedback channels fill up and block
// every send.
func (kp *KafkaProducer) drainAsyncResults() {
	defer kp.wg.Done()

	for {
		select {
		case success, ok := <-kp.asyncProducer.Successes():
			if !ok {
				return
			}
			kp.logger.Debug("message produced",
				zap.String("topic", success.Topic),
				zap.Int32("partition", success.Partition),
				zap.Int64("offset", success.Offset))

		case perr, ok := <-kp.asyncProducer.Errors():
			if !ok {
				return
			}
			kp.noteFailure()
			kp.logger.Error("failed to produce message",
				zap.String("topic", perr.Msg.Topic),
				zap.Error(perr.Err))

		case <-kp.stopCh:
			return
		}
	}
}

// buildSaramaConfig translates KafkaConfig into sarama's configuration.
func (kp *KafkaProducer) buildSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()

	config.Producer.RequiredAcks = requiredAcks(kp.config.ProducerAcks)
	config.Producer.Compression = compressionCodec(kp.config.ProducerCompression)
	config.Producer.Retry.Max = kp.config.ProducerRetries
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	if kp.config.EnableIdempotence || kp.transactional {
		// Idempotence needs one in-flight request per broker to keep
		// sequence numbers ordered.
		config.Producer.Idempotent = true
		config.Net.MaxOpenRequests = 1
	}
	if kp.transactional {
		config.Producer.Transaction.ID = kp.config.TransactionalID
		config.Producer.Transaction.Timeout = time.Duration(kp.config.TransactionTimeoutMS) * time.Millisecond
	}

	if kp.config.SecurityProtocol == "SASL_SSL" || kp.config.SecurityProtocol == "SSL" {
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: kp.config.TLSInsecureSkipVerify,
		}
	}

	if kp.config.SASLMechanism != "" {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = kp.config.SASLUsername
		config.Net.SASL.Password = kp.config.SASLPassword

		switch kp.config.SASLMechanism {
		case "PLAIN":
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		}
	}

	return config
}

func requiredAcks(acks string) sarama.RequiredAcks {
	switch acks {
	case "1":
		return sarama.WaitForLocal
	case "0":
		return sarama.NoResponse
	default:
		// "all", "-1" and unset wait for the full ISR.
		return sarama.WaitForAll
	}
}

func compressionCodec(name string) sarama.CompressionCodec {
	switch name {
	case "gzip":
		return sarama.CompressionGZIP
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	default:
		return sarama.CompressionNone
	}
}

// Close stops the drain loop, closes the producers and the client, and
// waits for the drain goroutine to exit.
func (kp *KafkaProducer) Close() error {
	if !kp.running.CompareAndSwap(true, false) {
		return fmt.Errorf("producer is not running")
	}

	close(kp.stopCh)

	var errs []error
	if kp.producer != nil {
		if err := kp.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sync producer: %w", err))
		}
	}
	if kp.asyncProducer != nil {
		if err := kp.asyncProducer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close async producer: %w", err))
		}
	}
	if kp.client != nil {
		if err := kp.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close client: %w", err))
		}
	}

	kp.wg.Wait()
	kp.logger.Info("Kafka producer closed")
	return errors.Join(errs...)
}

// GetMetrics returns a snapshot of the delivery counters.
func (kp *KafkaProducer) GetMetrics() KafkaMetrics {
	kp.statsMu.Lock()
	defer kp.statsMu.Unlock()
	return kp.stats
}

func (kp *KafkaProducer) noteDelivery(count int, bytes int64) {
	kp.statsMu.Lock()
	kp.stats.MessagesProduced += int64(count)
	kp.stats.BytesProduced += bytes
	kp.stats.LastProducedTime = time.Now()
	kp.statsMu.Unlock()
}

func (kp *KafkaProducer) noteLatency(d time.Duration) {
	kp.statsMu.Lock()
	kp.stats.ProducerLatency = d
	kp.statsMu.Unlock()
}

func (kp *KafkaProducer) noteFailure() {
	kp.statsMu.Lock()
	kp.stats.MessagesFailed++
	kp.statsMu.Unlock()
}

func (kp *KafkaProducer) noteTransaction(committed bool) {
	kp.statsMu.Lock()
	if committed {
		kp.stats.TransactionsCommitted++
	} else {
		kp.stats.TransactionsAborted++
	}
	kp.statsMu.Unlock()
}
