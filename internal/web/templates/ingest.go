// Package templates holds the HTML views of the web server as templ
// components.
package templates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/delimload/internal/ingest"
)

// refreshSeconds is how often the status page reloads while an ingest runs.
const refreshSeconds = 2

const pageStyle = `body{font-family:system-ui,sans-serif;margin:2rem;max-width:60rem}` +
	`table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.25rem .5rem;text-align:left}` +
	`progress{width:20rem}.error{color:#b00020}.muted{color:#666}`

// IngestStatus renders the status page of one ingest. res is nil while
// the ingest is still running.
func IngestStatus(p ingest.Progress, res *ingest.Result) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		ew := &errWriter{w: w}

		refresh := ""
		if !p.Phase.Done() {
			refresh = fmt.Sprintf(`<meta http-equiv="refresh" content="%d">`, refreshSeconds)
		}
		ew.printf(`<!doctype html><html><head><meta charset="utf-8">%s<title>Ingest %s</title><style>%s</style></head><body>`,
			refresh, esc(p.IngestID.String()), pageStyle)

		ew.printf(`<h1>%s</h1>`, esc(p.FileName))
		ew.printf(`<p class="muted">Ingest %s</p>`, esc(p.IngestID.String()))
		ew.printf(`<p>Phase: <strong>%s</strong></p>`, esc(string(p.Phase)))
		ew.printf(`<p><progress max="100" value="%d"></progress> %d%%</p>`, p.Percent(), p.Percent())

		ew.print(`<table><tbody>`)
		row(ew, "Records", strconv.Itoa(p.Records))
		row(ew, "Valid", strconv.Itoa(p.Valid))
		row(ew, "Invalid", strconv.Itoa(p.Invalid))
		row(ew, "Written", strconv.FormatInt(p.Written, 10))
		if res != nil {
			row(ew, "Identifier column", res.IDColumn)
			row(ew, "Duration", res.Duration.String())
		}
		ew.print(`</tbody></table>`)

		if p.Error != "" {
			msg := ingest.MapError(errors.New(p.Error))
			ew.printf(`<p class="error">%s (Code: %s). %s</p>`, esc(msg.Message), esc(msg.Code), esc(msg.Action))
		}

		if res != nil && len(res.FailedRows) > 0 {
			failedRows(ew, res)
		}

		ew.print(`</body></html>`)
		return ew.err
	})
}

func failedRows(ew *errWriter, res *ingest.Result) {
	ew.printf(`<h2>Rejected rows</h2><p><a href="/api/ingest/%s/failed-rows">Download CSV</a></p>`,
		esc(res.IngestID.String()))
	ew.print(`<table><thead><tr><th>Line</th><th>Reason</th><th>Text</th></tr></thead><tbody>`)
	for _, fr := range res.FailedRows {
		ew.printf(`<tr><td>%d</td><td>%s</td><td><code>%s</code></td></tr>`, fr.Line, esc(fr.Reason), esc(fr.Text))
	}
	ew.print(`</tbody></table>`)
	if res.Truncated {
		ew.printf(`<p class="muted">Showing the first %d of %d rejected rows.</p>`, len(res.FailedRows), res.Invalid)
	}
}

// ErrorPage renders a full page for a failed page request.
func ErrorPage(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		ew := &errWriter{w: w}
		ew.printf(`<!doctype html><html><head><meta charset="utf-8"><title>Error</title><style>%s</style></head><body>`, pageStyle)
		ew.printf(`<p class="error">%s</p>`, esc(message))
		if action != "" {
			ew.printf(`<p>%s</p>`, esc(action))
		}
		ew.printf(`<p class="muted">Code: %s</p></body></html>`, esc(code))
		return ew.err
	})
}

func row(ew *errWriter, label, value string) {
	ew.printf(`<tr><th>%s</th><td>%s</td></tr>`, esc(label), esc(value))
}

func esc(s string) string {
	return templ.EscapeString(s)
}

// errWriter keeps the first write error so rendering code can stay linear.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) print(s string) {
	if e.err == nil {
		_, e.err = io.WriteString(e.w, s)
	}
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err == nil {
		_, e.err = fmt.Fprintf(e.w, format, args...)
	}
}
