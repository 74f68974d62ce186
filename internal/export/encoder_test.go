package export

import (
	"encoding/json"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

func testEvent(t *testing.T) cloudevents.Event {
	t.Helper()
	ce := cloudevents.NewEvent()
	ce.SetID("e6c2bbbd-2f68-4a5a-9c6b-d6cf2e9fcb17")
	ce.SetSource("urn:vmeventbuf")
	ce.SetType(TypeClassLoad)
	ce.SetSubject("java/lang/String")
	ce.SetTime(time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC))
	if err := ce.SetData(cloudevents.ApplicationJSON, map[string]interface{}{
		"loader_id": 1,
		"class_id":  42,
		"name":      "java/lang/String",
	}); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	return ce
}

func TestNewEncoder(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
	}{
		{"json", false},
		{"", false},
		{"avro", false},
		{"parquet", true},
	}
	for _, tt := range tests {
		_, err := NewEncoder(tt.format)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewEncoder(%q) error = %v, wantErr %v", tt.format, err, tt.wantErr)
		}
	}
}

func TestJSONEncoderRoundTrip(t *testing.T) {
	enc := &JSONEncoder{}
	payload, err := enc.Encode(testEvent(t))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeClassLoad {
		t.Errorf("type = %v, want %s", decoded["type"], TypeClassLoad)
	}
	if decoded["source"] != "urn:vmeventbuf" {
		t.Errorf("source = %v, want urn:vmeventbuf", decoded["source"])
	}
	if enc.ContentType() != cloudevents.ApplicationCloudEventsJSON {
		t.Errorf("ContentType() = %q", enc.ContentType())
	}
}

func TestAvroEncoderRoundTrip(t *testing.T) {
	enc, err := NewAvroEncoder()
	if err != nil {
		t.Fatalf("NewAvroEncoder failed: %v", err)
	}

	ce := testEvent(t)
	payload, err := enc.Encode(ce)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	record, err := enc.Decode(payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if record["id"] != ce.ID() {
		t.Errorf("id = %v, want %s", record["id"], ce.ID())
	}
	if record["type"] != TypeClassLoad {
		t.Errorf("type = %v, want %s", record["type"], TypeClassLoad)
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(record["data"].(string)), &data); err != nil {
		t.Fatalf("data is not valid JSON: %v", err)
	}
	if data["name"] != "java/lang/String" {
		t.Errorf("data.name = %v, want java/lang/String", data["name"])
	}
}

func TestAvroEncoderOptionalFields(t *testing.T) {
	enc, err := NewAvroEncoder()
	if err != nil {
		t.Fatalf("NewAvroEncoder failed: %v", err)
	}

	ce := cloudevents.NewEvent()
	ce.SetID("1")
	ce.SetSource("urn:vmeventbuf")
	ce.SetType(TypeFirstCall)
	if err := ce.SetData(cloudevents.ApplicationJSON, map[string]interface{}{"method": "main"}); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	payload, err := enc.Encode(ce)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	record, err := enc.Decode(payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if record["subject"] != nil {
		t.Errorf("subject = %v, want nil", record["subject"])
	}
}
