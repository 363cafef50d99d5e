// Package mqtt provides MQTT telemetry publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/adc-pwm-pipeline/internal/pipeline"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "pipeline/adc-pwm"

// Topics are the telemetry topics under one prefix.
type Topics struct {
	Samples string
	Duty    string
	System  string
}

// NewTopics derives the telemetry topics from prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Samples: prefix + "/samples",
		Duty:    prefix + "/duty",
		System:  prefix + "/system",
	}
}

// Publisher publishes telemetry to MQTT.
type Publisher interface {
	// PublishSample sends one sampler reading.
	// Returns error if publishing fails (should not crash the process).
	PublishSample(s pipeline.Sample) error

	// PublishDuty sends one actuator command and the driver's result.
	PublishDuty(cmd pipeline.DutyCommand, writeErr error) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SamplePayload is the message published for each sample.
type SamplePayload struct {
	Sample SampleInner `json:"sample"`
}

// SampleInner contains the sample details.
type SampleInner struct {
	Timestamp  string `json:"timestamp"`
	Seq        uint64 `json:"seq"`
	Raw        uint16 `json:"raw"`
	Millivolts int    `json:"mv"`
	Stale      bool   `json:"stale,omitempty"`
	OutOfRange bool   `json:"out_of_range,omitempty"`
}

// FormatSamplePayload creates the JSON payload for a sample.
func FormatSamplePayload(s pipeline.Sample) ([]byte, error) {
	return json.Marshal(SamplePayload{
		Sample: SampleInner{
			Timestamp:  s.Time.UTC().Format(time.RFC3339Nano),
			Seq:        s.Seq,
			Raw:        s.Raw,
			Millivolts: s.Millivolts,
			Stale:      s.Stale,
			OutOfRange: s.OutOfRange,
		},
	})
}

// DutyPayload is the message published for each actuation.
type DutyPayload struct {
	Duty DutyInner `json:"duty"`
}

// DutyInner contains the duty command details.
type DutyInner struct {
	Timestamp string `json:"timestamp"`
	Seq       uint64 `json:"seq"`
	Percent   uint32 `json:"percent"`
	PeriodUs  uint32 `json:"period_us"`
	Polarity  string `json:"polarity"`
	Error     string `json:"error,omitempty"`
}

// FormatDutyPayload creates the JSON payload for a duty command.
func FormatDutyPayload(cmd pipeline.DutyCommand, writeErr error) ([]byte, error) {
	inner := DutyInner{
		Timestamp: cmd.Time.UTC().Format(time.RFC3339Nano),
		Seq:       cmd.Seq,
		Percent:   cmd.Percent,
		PeriodUs:  cmd.PeriodUs,
		Polarity:  cmd.Polarity.String(),
	}
	if writeErr != nil {
		inner.Error = writeErr.Error()
	}
	return json.Marshal(DutyPayload{Duty: inner})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
