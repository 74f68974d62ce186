// Package export publishes delivered telemetry events to Kafka as
// CloudEvents. It is an optional sink: when disabled, events stay inside
// the process and are only handed to the registered in-process handler.
package export

import (
	"encoding/json"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Encoder serializes a CloudEvent into a Kafka message payload.
type Encoder interface {
	Encode(e cloudevents.Event) ([]byte, error)
	ContentType() string
}

// NewEncoder creates the payload encoder for the configured format.
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case "json", "":
		return &JSONEncoder{}, nil
	case "avro":
		return NewAvroEncoder()
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// JSONEncoder serializes events in CloudEvents structured JSON mode.
type JSONEncoder struct{}

// Encode marshals the whole event envelope as JSON.
func (e *JSONEncoder) Encode(ce cloudevents.Event) ([]byte, error) {
	payload, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CloudEvent: %w", err)
	}
	return payload, nil
}

// ContentType returns the structured-mode JSON content type.
func (e *JSONEncoder) ContentType() string {
	return cloudevents.ApplicationCloudEventsJSON
}
