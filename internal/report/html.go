package report

import (
	"fmt"
	"html/template"
	"io"
	"time"
)

var htmlTpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"cost": formatCost,
	"clock": func(t time.Time) string {
		return t.Format("15:04:05")
	},
	"pct": func(part, whole int) string {
		if whole == 0 {
			return "0.0%"
		}
		return fmt.Sprintf("%.1f%%", float64(part)/float64(whole)*100)
	},
}).Parse(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>{{ .BlockTitle }} report</title>
    <style>
      body { margin: 0; padding: 24px; background: #f6f8fb; font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; color: #111827; }
      .card { max-width: 960px; margin: 0 auto 16px; background: #fff; border: 1px solid #e6e8ef; border-radius: 12px; padding: 20px; }
      .kpis { display: flex; gap: 16px; flex-wrap: wrap; }
      .kpi { flex: 1; min-width: 140px; background: #fafbff; border: 1px solid #eef0f6; border-radius: 10px; padding: 12px; }
      .kpi .v { font-size: 20px; font-weight: 700; }
      .kpi .k { font-size: 12px; color: #6b7280; }
      table { width: 100%; border-collapse: collapse; font-size: 12px; }
      th, td { padding: 8px 10px; border-bottom: 1px solid #eef0f6; text-align: left; }
      th { background: #fafbff; color: #6b7280; }
      tr.error td { color: #b91c1c; }
    </style>
  </head>
  <body>
    <div class="card">
      <h1 style="margin:0 0 4px;font-size:20px;">{{ .BlockTitle }}</h1>
      <div style="color:#6b7280;font-size:12px;">{{ .BlockID }} · {{ .Day.Format "2006-01-02" }} · generated {{ .GeneratedAt.Format "2006-01-02 15:04 MST" }}</div>
    </div>
    <div class="card kpis">
      <div class="kpi"><div class="v">{{ .Totals.Operations }}</div><div class="k">Operations</div></div>
      <div class="kpi"><div class="v">{{ pct .Totals.Successful .Totals.Operations }}</div><div class="k">Success rate</div></div>
      <div class="kpi"><div class="v">{{ .Totals.Viewers }}</div><div class="k">Viewers purchased</div></div>
      <div class="kpi"><div class="v">{{ cost .Totals.Cost }}</div><div class="k">Total cost</div></div>
      <div class="kpi"><div class="v">{{ .Totals.PeakViewers }}</div><div class="k">Peak concurrent</div></div>
      <div class="kpi"><div class="v">{{ .Totals.CoveredBuckets }}</div><div class="k">Covered minutes</div></div>
    </div>
    <div class="card">
      <table>
        <thead>
          <tr><th>#</th><th>Outcome</th><th>Requested</th><th>Order</th><th>Status</th><th>Duration</th><th>Cost</th><th>Started</th><th>Error</th></tr>
        </thead>
        <tbody>
          {{ range .Summary }}
          <tr{{ if eq .Outcome "error" }} class="error"{{ end }}>
            <td>{{ .Operation }}</td>
            <td>{{ .Outcome }}</td>
            <td>{{ .RequestedCount }}</td>
            <td>{{ .OrderID }}</td>
            <td>{{ .OrderStatus }}</td>
            <td>{{ .ServiceDuration }}</td>
            <td>{{ cost .Cost }}</td>
            <td>{{ clock .StartedAt }}</td>
            <td>{{ .Error }}</td>
          </tr>
          {{ end }}
        </tbody>
      </table>
      {{ if .Skipped }}<p style="color:#6b7280;font-size:12px;">Operations outside the report window: {{ range $i, $op := .Skipped }}{{ if $i }}, {{ end }}{{ $op }}{{ end }}</p>{{ end }}
    </div>
  </body>
</html>
`))

// WriteHTML renders r as a standalone executive summary page.
func WriteHTML(w io.Writer, r *Report) error {
	if err := htmlTpl.Execute(w, r); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}
