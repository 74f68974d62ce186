package export

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/linkedin/goavro/v2"
)

// AvroEncoder serializes events as single Avro binary records. The schema
// carries the CloudEvents envelope fields plus the event data as a JSON
// string, so one schema covers every telemetry kind.
type AvroEncoder struct {
	codec *goavro.Codec
}

// NewAvroEncoder creates an Avro encoder for the telemetry event schema.
func NewAvroEncoder() (*AvroEncoder, error) {
	codec, err := goavro.NewCodec(avroSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}
	return &AvroEncoder{codec: codec}, nil
}

// avroSchema returns the Avro schema for exported telemetry events.
func avroSchema() string {
	return `{
		"type": "record",
		"name": "TelemetryEvent",
		"namespace": "com.vmtel.vmeventbuf",
		"fields": [
			{"name": "spec_version", "type": "string"},
			{"name": "id", "type": "string"},
			{"name": "source", "type": "string"},
			{"name": "type", "type": "string"},
			{"name": "subject", "type": ["null", "string"], "default": null},
			{"name": "time", "type": ["null", "string"], "default": null},
			{"name": "data", "type": "string"}
		]
	}`
}

// Encode converts the event to the Avro record and returns its binary form.
func (e *AvroEncoder) Encode(ce cloudevents.Event) ([]byte, error) {
	avroMap := map[string]interface{}{
		"spec_version": ce.SpecVersion(),
		"id":           ce.ID(),
		"source":       ce.Source(),
		"type":         ce.Type(),
		"data":         string(ce.Data()),
	}

	if subject := ce.Subject(); subject != "" {
		avroMap["subject"] = goavro.Union("string", subject)
	} else {
		avroMap["subject"] = nil
	}

	if t := ce.Time(); !t.IsZero() {
		avroMap["time"] = goavro.Union("string", t.Format(time.RFC3339Nano))
	} else {
		avroMap["time"] = nil
	}

	payload, err := e.codec.BinaryFromNative(nil, avroMap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode avro record: %w", err)
	}
	return payload, nil
}

// ContentType returns the Avro binary content type.
func (e *AvroEncoder) ContentType() string {
	return "application/avro"
}

// Decode parses a binary record back into its Avro map form.
func (e *AvroEncoder) Decode(payload []byte) (map[string]interface{}, error) {
	native, _, err := e.codec.NativeFromBinary(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode avro record: %w", err)
	}
	record, ok := native.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected avro native type %T", native)
	}
	return record, nil
}
