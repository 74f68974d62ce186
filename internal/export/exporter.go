package export

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/vmtel/vmeventbuf/internal/config/dto"
	"github.com/vmtel/vmeventbuf/internal/observability"
	"github.com/vmtel/vmeventbuf/pkg/event"
)

// Event type names published to Kafka, one per telemetry kind.
const (
	TypeClassLoad  = "com.vmtel.vmeventbuf.class_load"
	TypeFirstCall  = "com.vmtel.vmeventbuf.first_call"
	TypeToJavaCall = "com.vmtel.vmeventbuf.to_java_call"
)

// Exporter publishes delivered telemetry events to a Kafka topic as
// CloudEvents. It implements event.Handler so it can sit directly behind
// the flush and queue-drain paths; a failed publish fails only that event.
type Exporter struct {
	producer sarama.SyncProducer
	enc      Encoder
	topic    string
	source   string
	log      *slog.Logger
	metrics  *observability.Metrics
}

var _ event.Handler = (*Exporter)(nil)

// New creates a Kafka exporter from the export configuration.
func New(cfg dto.ExportConfig, log *slog.Logger, metrics *observability.Metrics) (*Exporter, error) {
	enc, err := NewEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Retry.Backoff = 100 * time.Millisecond

	if err := configureSecurity(saramaConfig, cfg, log); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(cfg.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info("Kafka exporter created",
		slog.Any("brokers", cfg.BootstrapServers),
		slog.String("topic", cfg.Topic),
		slog.String("format", cfg.Format),
		slog.String("securityProtocol", cfg.SecurityProtocol),
	)

	return &Exporter{
		producer: producer,
		enc:      enc,
		topic:    cfg.Topic,
		source:   cfg.Source,
		log:      log,
		metrics:  metrics,
	}, nil
}

// OnClassLoad publishes a class-load event.
func (x *Exporter) OnClassLoad(ev event.ClassLoadEvent) error {
	data := map[string]interface{}{
		"loader_id": ev.LoaderID,
		"class_id":  ev.ClassID,
		"name":      ev.Name,
	}
	if len(ev.OriginalHash) > 0 {
		data["original_hash"] = hex.EncodeToString(ev.OriginalHash)
	}
	if len(ev.Hash) > 0 {
		data["hash"] = hex.EncodeToString(ev.Hash)
	}
	if ev.Source != "" {
		data["source"] = ev.Source
	}
	return x.publish(TypeClassLoad, ev.Name, data)
}

// OnFirstCall publishes a first-invocation event.
func (x *Exporter) OnFirstCall(ev event.FirstCallEvent) error {
	return x.publish(TypeFirstCall, ev.Method, map[string]interface{}{
		"holder_id": ev.HolderID,
		"method":    ev.Method,
	})
}

// OnToJavaCall publishes a native-to-managed call event.
func (x *Exporter) OnToJavaCall(ev event.ToJavaCallEvent) error {
	return x.publish(TypeToJavaCall, ev.Name, map[string]interface{}{
		"name": ev.Name,
	})
}

// Close closes the underlying Kafka producer.
func (x *Exporter) Close() error {
	if x.producer != nil {
		return x.producer.Close()
	}
	return nil
}

// publish wraps the event data in a CloudEvent and sends it to the topic.
func (x *Exporter) publish(eventType, subject string, data map[string]interface{}) error {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetSource(x.source)
	ce.SetType(eventType)
	ce.SetSubject(subject)
	ce.SetTime(time.Now().UTC())
	if err := ce.SetData(cloudevents.ApplicationJSON, data); err != nil {
		x.metrics.IncExportEvents("error")
		return fmt.Errorf("failed to set event data: %w", err)
	}

	payload, err := x.enc.Encode(ce)
	if err != nil {
		x.metrics.IncExportEvents("error")
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: x.topic,
		Key:   sarama.StringEncoder(ce.ID()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("ce_specversion"), Value: []byte(ce.SpecVersion())},
			{Key: []byte("ce_type"), Value: []byte(ce.Type())},
			{Key: []byte("ce_source"), Value: []byte(ce.Source())},
			{Key: []byte("ce_id"), Value: []byte(ce.ID())},
			{Key: []byte("content-type"), Value: []byte(x.enc.ContentType())},
		},
	}

	partition, offset, err := x.producer.SendMessage(msg)
	if err != nil {
		x.metrics.IncExportEvents("error")
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	x.metrics.IncExportEvents("success")
	x.log.Debug("event exported",
		slog.String("topic", x.topic),
		slog.Int("partition", int(partition)),
		slog.Int64("offset", offset),
		slog.String("eventType", eventType),
	)
	return nil
}

// configureSecurity configures SASL and TLS settings on the producer.
func configureSecurity(saramaConfig *sarama.Config, cfg dto.ExportConfig, log *slog.Logger) error {
	switch cfg.SecurityProtocol {
	case "PLAINTEXT", "":
		// No security.

	case "SASL_SSL":
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.TLS.Enable = true
		if err := configureSASL(saramaConfig, cfg, log); err != nil {
			return err
		}

	case "SASL_PLAINTEXT":
		saramaConfig.Net.SASL.Enable = true
		if err := configureSASL(saramaConfig, cfg, log); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported security protocol: %s", cfg.SecurityProtocol)
	}

	return nil
}

// configureSASL configures the SASL authentication mechanism.
func configureSASL(saramaConfig *sarama.Config, cfg dto.ExportConfig, log *slog.Logger) error {
	saramaConfig.Net.SASL.User = cfg.SASLUsername
	saramaConfig.Net.SASL.Password = cfg.SASLPassword

	switch cfg.SASLMechanism {
	case "PLAIN":
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		log.Info("using SASL PLAIN authentication")

	case "SCRAM-SHA-256":
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: SHA256}
		}
		log.Info("using SASL SCRAM-SHA-256 authentication")

	case "SCRAM-SHA-512":
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: SHA512}
		}
		log.Info("using SASL SCRAM-SHA-512 authentication")

	default:
		return fmt.Errorf("unsupported SASL mechanism: %s", cfg.SASLMechanism)
	}

	return nil
}
