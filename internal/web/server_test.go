package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/adc-pwm-pipeline/internal/metrics"
	"github.com/sweeney/adc-pwm-pipeline/internal/pipeline"
	"github.com/sweeney/adc-pwm-pipeline/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker, *metrics.Recorder) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		RunID:         "3f1c",
		Coupling:      "channel",
		PeriodMs:      1000,
		OverrunPolicy: "accumulate_drift",
		HeartbeatMs:   900000,
		Broker:        "tcp://192.168.1.200:1883",
		HTTPAddr:      ":80",
	}
	tr := status.NewTracker(start, cfg)
	rec := metrics.NewRecorder()
	srv := New(":0", tr, rec.Registry())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr, rec
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	tr.Sampled(pipeline.Sample{Seq: 4, Raw: 341, Millivolts: 1000})
	tr.Actuated(pipeline.DutyCommand{Seq: 4, Percent: 33, PeriodUs: 1000}, nil)
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}

	if !sj.Status.Ready {
		t.Error("expected Ready=true")
	}
	if sj.Status.Sample == nil || sj.Status.Sample.Raw != 341 {
		t.Errorf("Sample: got %+v", sj.Status.Sample)
	}
	if sj.Status.Duty == nil || sj.Status.Duty.Percent != 33 {
		t.Errorf("Duty: got %+v", sj.Status.Duty)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q, want tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	}
	if sj.Status.Config.PeriodMs != 1000 {
		t.Errorf("Config.PeriodMs: got %d, want 1000", sj.Status.Config.PeriodMs)
	}
	if sj.Status.RunID != "3f1c" {
		t.Errorf("RunID: got %q, want 3f1c", sj.Status.RunID)
	}
}

func TestJSONBeforeFirstSample(t *testing.T) {
	ts, _, _ := newTestServer(t)

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Ready {
		t.Error("expected Ready=false before the first sample")
	}
	if sj.Status.Sample != nil {
		t.Errorf("expected no sample, got %+v", sj.Status.Sample)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	tr.Sampled(pipeline.Sample{Seq: 1, Raw: 1023, Millivolts: 3000, Stale: true})
	tr.Actuated(pipeline.DutyCommand{Seq: 1, Percent: 100, PeriodUs: 1000}, nil)
	tr.ReadFailed(2, errors.New("adc: read failed"))

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"3000 mV", "100%", "(stale)", "adc: read failed", "accumulate_drift"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "none yet") {
		t.Error("expected placeholder before the first sample")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, rec := newTestServer(t)
	rec.Sampled(pipeline.Sample{Seq: 1, Raw: 341, Millivolts: 1000})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "adc_pwm_samples_total 1") {
		t.Errorf("metrics missing samples counter:\n%s", body)
	}
	if !strings.Contains(string(body), "adc_pwm_last_millivolts 1000") {
		t.Errorf("metrics missing millivolts gauge:\n%s", body)
	}
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	srv := New(":0", status.NewTracker(time.Now(), status.Config{}), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr, _ := newTestServer(t)

	sj1 := getJSON(t, ts.URL+"/index.json")
	if sj1.Status.Ready {
		t.Error("expected Ready=false initially")
	}

	tr.Sampled(pipeline.Sample{Seq: 1, Raw: 512, Millivolts: 1501})
	tr.SetMQTTConnected(true)

	sj2 := getJSON(t, ts.URL+"/index.json")
	if !sj2.Status.Ready {
		t.Error("expected Ready=true after update")
	}
	if sj2.Status.Counts.Samples != 1 {
		t.Errorf("Counts.Samples: got %d, want 1", sj2.Status.Counts.Samples)
	}
	if !sj2.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}
