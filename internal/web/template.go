package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/flow-sensor/internal/flow"
	"github.com/sweeney/flow-sensor/internal/status"
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
	"liters": func(v float64) string {
		return fmt.Sprintf("%.3f L", v)
	},
	"orNever": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
	"orUnknown": func(s string) string {
		if s == "" {
			return "unknown"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Flow Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.low { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Flow Sensor: pin {{.Config.Pin}}</h1>

<h2>Keg</h2>
<table>
<tr><th>Contents</th><td>{{orUnknown .Config.Contents}}</td></tr>
<tr><th>Type</th><td>{{orUnknown .Config.Keg}}</td></tr>
<tr><th>Remaining</th><td{{if le .Flow.RemainingVolume 0.0}} class="low"{{end}}>{{liters .Flow.RemainingVolume}}</td></tr>
<tr><th>Poured</th><td>{{liters .Stats.TotalPour}}</td></tr>
</table>

<h2>Pours</h2>
<table>
<tr><th>Pour sessions</th><td>{{.Stats.TotalPourEvents}}</td></tr>
<tr><th>Pour time</th><td>{{printf "%.1f" .Stats.TotalPourTime}}s</td></tr>
<tr><th>Average pour</th><td>{{liters .Stats.AvgPour}}</td></tr>
<tr><th>Average flow</th><td>{{printf "%.4f" .Stats.AvgFlowRate}} L/s</td></tr>
<tr><th>Average frequency</th><td>{{printf "%.2f" .Stats.AvgFrequency}} Hz</td></tr>
<tr><th>Pulses</th><td>{{.Flow.TotalEvents}} ({{.RunPulses}} this run)</td></tr>
<tr><th>Last pulse</th><td>{{orNever .LastPulse}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}{{if .MQTTBuffered}} ({{.MQTTBuffered}} buffered){{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}: {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Meter</th><td>{{orUnknown .Config.Meter}} (K={{.Config.FlowConstant}})</td></tr>
<tr><th>Pour gap</th><td>{{.Config.DeltaThresholdMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>State file</th><td>{{.Config.StateFile}}</td></tr>
<tr><th>Last save</th><td>{{orNever .LastSave}}{{if .SaveError}} <span class="low">{{.SaveError}}</span>{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/state">state</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() and Stats() methods but the template reads fields.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Stats  flow.Stats
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Stats:    snap.Stats(),
	}
	return indexTmpl.Execute(w, data)
}
