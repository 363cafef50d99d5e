package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	RunID         string       `json:"run_id,omitempty"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Sample        *SampleJSON  `json:"sample,omitempty"`
	Duty          *DutyJSON    `json:"duty,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	Coupling      CouplingJSON `json:"coupling"`
	Config        ConfigJSON   `json:"config"`
}

// SampleJSON is the latest reading.
type SampleJSON struct {
	Seq        uint64 `json:"seq"`
	Raw        uint16 `json:"raw"`
	Millivolts int    `json:"mv"`
	Stale      bool   `json:"stale,omitempty"`
	OutOfRange bool   `json:"out_of_range,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// DutyJSON is the latest successful duty command.
type DutyJSON struct {
	Seq      uint64 `json:"seq"`
	Percent  uint32 `json:"percent"`
	PeriodUs uint32 `json:"period_us"`
	Polarity string `json:"polarity"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of activity counters.
type CountsJSON struct {
	Samples     uint64 `json:"samples"`
	Filtered    uint64 `json:"filtered"`
	Actuations  uint64 `json:"actuations"`
	ReadErrors  uint64 `json:"read_errors"`
	WriteErrors uint64 `json:"write_errors"`
	OutOfRange  uint64 `json:"out_of_range"`
	Overruns    uint64 `json:"overruns"`
	Missed      uint64 `json:"missed_releases"`
}

// CouplingJSON reports the two hand-offs.
type CouplingJSON struct {
	Kind     string    `json:"kind"`
	Samples  StageJSON `json:"samples"`
	Filtered StageJSON `json:"filtered"`
}

// StageJSON is one hand-off's delivery counters.
type StageJSON struct {
	Sent        uint64 `json:"sent"`
	Received    uint64 `json:"received"`
	Overwritten uint64 `json:"overwritten"`
	Pending     int    `json:"pending"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PeriodMs       int64  `json:"period_ms"`
	OverrunPolicy  string `json:"overrun_policy"`
	ActuatorSource string `json:"actuator_source"`
	ADCBackend     string `json:"adc_backend"`
	PWMBackend     string `json:"pwm_backend"`
	PWMPeriodUs    uint32 `json:"pwm_period_us"`
	HeartbeatMs    int64  `json:"heartbeat_ms"`
	Broker         string `json:"broker"`
	HTTPAddr       string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		RunID:         snap.Config.RunID,
		Ready:         snap.HasSample,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		LastError:     snap.LastError,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Samples:     snap.Counts.Samples,
			Filtered:    snap.Counts.Filtered,
			Actuations:  snap.Counts.Actuations,
			ReadErrors:  snap.Counts.ReadErrors,
			WriteErrors: snap.Counts.WriteErrors,
			OutOfRange:  snap.Counts.OutOfRange,
			Overruns:    snap.Counts.Overruns,
			Missed:      snap.Counts.Missed,
		},
		Coupling: CouplingJSON{
			Kind:     snap.Config.Coupling,
			Samples:  StageJSON(snap.Coupling.Samples),
			Filtered: StageJSON(snap.Coupling.Filtered),
		},
		Config: ConfigJSON{
			PeriodMs:       snap.Config.PeriodMs,
			OverrunPolicy:  snap.Config.OverrunPolicy,
			ActuatorSource: snap.Config.ActuatorSource,
			ADCBackend:     snap.Config.ADCBackend,
			PWMBackend:     snap.Config.PWMBackend,
			PWMPeriodUs:    snap.Config.PWMPeriodUs,
			HeartbeatMs:    snap.Config.HeartbeatMs,
			Broker:         snap.Config.Broker,
			HTTPAddr:       snap.Config.HTTPAddr,
		},
	}

	if snap.HasSample {
		s := snap.LastSample
		inner.Sample = &SampleJSON{
			Seq:        s.Seq,
			Raw:        s.Raw,
			Millivolts: s.Millivolts,
			Stale:      s.Stale,
			OutOfRange: s.OutOfRange,
			Timestamp:  s.Time.UTC().Format(time.RFC3339Nano),
		}
	}
	if snap.HasDuty {
		d := snap.LastDuty
		inner.Duty = &DutyJSON{
			Seq:      d.Seq,
			Percent:  d.Percent,
			PeriodUs: d.PeriodUs,
			Polarity: d.Polarity.String(),
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
