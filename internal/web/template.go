package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/adc-pwm-pipeline/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>ADC → PWM Pipeline</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; }
.warn { color: orange; }
.bad { color: red; }
.bar { display: inline-block; height: 10px; background: #4a4; vertical-align: middle; }
</style>
</head>
<body>
<h1>ADC → PWM Pipeline</h1>

<h2>Signal</h2>
<table>
{{if .HasSample}}<tr><th>Sample</th><td>#{{.LastSample.Seq}}</td></tr>
<tr><th>Raw</th><td{{if .LastSample.OutOfRange}} class="warn"{{end}}>{{.LastSample.Raw}}{{if .LastSample.Stale}} <span class="warn">(stale)</span>{{end}}</td></tr>
<tr><th>Voltage</th><td>{{.LastSample.Millivolts}} mV</td></tr>
{{else}}<tr><th>Sample</th><td class="warn">none yet</td></tr>{{end}}
{{if .HasDuty}}<tr><th>Duty</th><td>{{.LastDuty.Percent}}% <span class="bar" style="width: {{.LastDuty.Percent}}px"></span></td></tr>
<tr><th>PWM period</th><td>{{.LastDuty.PeriodUs}} µs ({{.LastDuty.Polarity}})</td></tr>
{{else}}<tr><th>Duty</th><td class="warn">none yet</td></tr>{{end}}
{{if .LastError}}<tr><th>Last error</th><td class="bad">{{.LastError}}</td></tr>{{end}}
</table>

<h2>Counters</h2>
<table>
<tr><th>Samples</th><td>{{.Counts.Samples}}</td></tr>
<tr><th>Filtered</th><td>{{.Counts.Filtered}}</td></tr>
<tr><th>Actuations</th><td>{{.Counts.Actuations}}</td></tr>
<tr><th>Read errors</th><td>{{.Counts.ReadErrors}}</td></tr>
<tr><th>Write errors</th><td>{{.Counts.WriteErrors}}</td></tr>
<tr><th>Out of range</th><td>{{.Counts.OutOfRange}}</td></tr>
<tr><th>Overruns</th><td>{{.Counts.Overruns}} ({{.Counts.Missed}} releases skipped)</td></tr>
</table>

<h2>Coupling ({{.Config.Coupling}})</h2>
<table>
<tr><th></th><th>sent</th><th>received</th><th>overwritten</th><th>pending</th></tr>
<tr><th>Sampler → Filter</th><td>{{.Coupling.Samples.Sent}}</td><td>{{.Coupling.Samples.Received}}</td><td>{{.Coupling.Samples.Overwritten}}</td><td>{{.Coupling.Samples.Pending}}</td></tr>
<tr><th>Filter → Actuator</th><td>{{.Coupling.Filtered.Sent}}</td><td>{{.Coupling.Filtered.Received}}</td><td>{{.Coupling.Filtered.Overwritten}}</td><td>{{.Coupling.Filtered.Pending}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}ok{{else}}bad{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Run</th><td>{{.Config.RunID}}</td></tr>
<tr><th>Period</th><td>{{.Config.PeriodMs}}ms ({{.Config.OverrunPolicy}})</td></tr>
<tr><th>Actuator source</th><td>{{.Config.ActuatorSource}}</td></tr>
<tr><th>Drivers</th><td>adc={{.Config.ADCBackend}} pwm={{.Config.PWMBackend}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
