package overlay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jonny5532/wagtail-liveedit/pkg/block"
	"github.com/jonny5532/wagtail-liveedit/pkg/schema"
)

// Panel is the edit panel shown in the overlay frame.
type Panel struct {
	Title     string
	BlockType string
	Block     string // JSON description of the block being edited
	Widgets   []schema.Widget
	Error     string // Block-level validation message
	CanDelete bool
	History   string
}

// NewPanel builds a panel for def holding value v. err is the validation
// error of a rejected submission, or nil.
func NewPanel(def *schema.Def, id string, v block.Value, err error) *Panel {
	p := &Panel{
		Title:     def.Title(),
		BlockType: def.Name,
		Widgets:   def.Widgets(v, schema.FormPrefix, err),
	}
	desc, _ := json.Marshal(map[string]any{
		"id":    id,
		"type":  def.Name,
		"label": def.Title(),
		"value": block.Interface(v),
	})
	p.Block = string(desc)
	if len(p.Widgets) > 0 {
		p.Error = p.Widgets[0].Error
	}
	return p
}

// SetHistory describes the latest revision relative to now.
func (p *Panel) SetHistory(author string, at, now time.Time) {
	if at.IsZero() {
		p.History = "No revisions yet"
		return
	}
	p.History = fmt.Sprintf("Last revision by %s, %s", author, humanize.RelTime(at, now, "ago", "from now"))
}

var panelTemplate = template.Must(template.New("panel").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Edit {{.Title}}</title>
</head>
<body class="liveedit-panel">
<form method="post">
<div id="block_edit_form" data-block="{{.Block}}">
{{- if .Error}}
<p class="error-message">{{.Error}}</p>
{{- end}}
{{- range $i, $w := .Widgets}}{{with $w}}
{{- if eq .Input "group"}}
<div class="group depth-{{.Depth}}" data-name="{{.Name}}"><span class="label">{{.Label}}</span></div>
{{- else if eq .Input "hidden"}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{- else if eq .Input "textarea"}}
<label for="{{.Name}}">{{.Label}}</label>
<textarea id="{{.Name}}" name="{{.Name}}">{{.Value}}</textarea>
{{- else if eq .Input "checkbox"}}
<label for="{{.Name}}">{{.Label}}</label>
<input type="checkbox" id="{{.Name}}" name="{{.Name}}"{{if .Checked}} checked{{end}}>
{{- else}}
<label for="{{.Name}}">{{.Label}}</label>
<input type="{{.Input}}" id="{{.Name}}" name="{{.Name}}" value="{{.Value}}">
{{- end}}
{{- if and .Error (or $i (ne .Input "group"))}}
<p class="error-message" data-for="{{.Name}}">{{.Error}}</p>
{{- end}}
{{- end}}{{end}}
</div>
<button type="submit" class="save">Save</button>
{{- if .CanDelete}}
<button type="submit" class="delete" name="delete" value="1">Delete</button>
{{- end}}
</form>
{{- if .History}}
<p class="history">{{.History}}</p>
{{- end}}
</body>
</html>
`))

// WritePanel renders the panel as a same-origin frame response.
func WritePanel(w http.ResponseWriter, p *Panel) error {
	var buf bytes.Buffer
	if err := panelTemplate.Execute(&buf, p); err != nil {
		return err
	}
	SameOrigin(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(buf.Bytes())
	return err
}
