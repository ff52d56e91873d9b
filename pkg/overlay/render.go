// ABOUTME: Renders stream fields for display, stamping each block with overlay attributes
// ABOUTME: Nested blocks are stamped too since they are independently editable

package overlay

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"io"
	"sync"

	"github.com/jonny5532/wagtail-liveedit/pkg/block"
	"github.com/jonny5532/wagtail-liveedit/pkg/schema"
)

// Stamp returns the overlay attribute for a block. A nil Stamp renders
// plain content.
type Stamp func(n *block.Node) template.HTMLAttr

// ObjectStamp stamps blocks of one object field.
func ObjectStamp(base Attributes) Stamp {
	return func(n *block.Node) template.HTMLAttr {
		return base.ForBlock(n.ID, n.Type).Attr()
	}
}

// BlockData is passed to custom block templates.
type BlockData struct {
	Attrs  template.HTMLAttr        // Overlay attribute, empty when not editable
	Value  any                      // Plain value
	Body   template.HTML            // Default rendering of the value
	Fields map[string]template.HTML // Rendered struct members
}

// Renderer renders block content. Custom block templates are parsed once.
type Renderer struct {
	mu        sync.Mutex
	templates map[*schema.Def]*template.Template
}

// NewRenderer creates a renderer.
func NewRenderer() *Renderer {
	return &Renderer{templates: make(map[*schema.Def]*template.Template)}
}

// Field renders a stream field. Empty fields render the placeholder when
// placeholder is non-empty.
func (r *Renderer) Field(def *schema.Def, seq *block.Sequence, stamp Stamp, placeholder template.HTML) (template.HTML, error) {
	if seq == nil || seq.Len() == 0 {
		return placeholder, nil
	}
	var buf bytes.Buffer
	if err := r.sequence(&buf, def, seq, stamp); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func (r *Renderer) sequence(w *bytes.Buffer, container *schema.Def, seq *block.Sequence, stamp Stamp) error {
	for _, n := range seq.Nodes {
		def, ok := container.Child(n.Type)
		if !ok {
			fmt.Fprintf(w, "<!-- unknown block type %s -->", html.EscapeString(n.Type))
			continue
		}
		if err := r.block(w, def, n, stamp); err != nil {
			return fmt.Errorf("block %s: %w", n.ID, err)
		}
	}
	return nil
}

func (r *Renderer) block(w *bytes.Buffer, def *schema.Def, n *block.Node, stamp Stamp) error {
	var attrs template.HTMLAttr
	if stamp != nil {
		attrs = stamp(n)
	}

	body, fields, err := r.value(def, n.Value, stamp)
	if err != nil {
		return err
	}

	if def.Template == "" {
		fmt.Fprintf(w, `<div class="block-%s" %s>%s</div>`, html.EscapeString(n.Type), attrs, body)
		return nil
	}

	tmpl, err := r.template(def)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, BlockData{Attrs: attrs, Value: block.Interface(n.Value), Body: body, Fields: fields})
}

func (r *Renderer) value(def *schema.Def, v block.Value, stamp Stamp) (template.HTML, map[string]template.HTML, error) {
	switch def.Kind {
	case schema.KindRichText:
		return template.HTML(plain(v)), nil, nil

	case schema.KindStruct:
		st, _ := v.(*block.Struct)
		fields := make(map[string]template.HTML, len(def.Fields))
		var buf bytes.Buffer
		for _, f := range def.Fields {
			var member block.Value
			if st != nil {
				member, _ = st.Get(f.Name)
			}
			inner, _, err := r.value(f, member, stamp)
			if err != nil {
				return "", nil, err
			}
			fields[f.Name] = inner
			fmt.Fprintf(&buf, `<div class="field-%s">%s</div>`, html.EscapeString(f.Name), inner)
		}
		return template.HTML(buf.String()), fields, nil

	case schema.KindStream, schema.KindList:
		seq, _ := v.(*block.Sequence)
		if seq == nil {
			return "", nil, nil
		}
		var buf bytes.Buffer
		if err := r.sequence(&buf, def, seq, stamp); err != nil {
			return "", nil, err
		}
		return template.HTML(buf.String()), nil, nil
	}
	return template.HTML(html.EscapeString(plain(v))), nil, nil
}

func (r *Renderer) template(def *schema.Def) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.templates[def]; ok {
		return t, nil
	}
	t, err := template.New(def.Name).Parse(def.Template)
	if err != nil {
		return nil, fmt.Errorf("parse template for %s: %w", def.Name, err)
	}
	r.templates[def] = t
	return t, nil
}

func plain(v block.Value) string {
	switch s := block.Interface(v).(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// PageData is the input of the public page template.
type PageData struct {
	Title     string
	Assets    bool   // Include the overlay script and stylesheet
	AssetBase string // URL prefix of the overlay assets
	Fields    []template.HTML
	Extra     template.HTML
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{- if .Assets}}
<link rel="stylesheet" type="text/css" href="{{.AssetBase}}css/liveedit.css">
{{- end}}
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Fields}}<main>{{.}}</main>
{{end}}
{{- .Extra}}
{{- if .Assets}}
<script type="text/javascript" src="{{.AssetBase}}js/liveedit.js"></script>
{{- end}}
</body>
</html>
`))

// RenderPage writes a public page.
func RenderPage(w io.Writer, data PageData) error {
	return pageTemplate.Execute(w, data)
}
