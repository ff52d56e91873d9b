// ABOUTME: Content model definitions: block types and editable object models
// ABOUTME: Loaded from YAML; drives validation, form decoding and rendering

package schema

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Kind names the shape of a block type's value.
type Kind string

const (
	KindText     Kind = "text"
	KindRichText Kind = "richtext"
	KindInteger  Kind = "integer"
	KindBoolean  Kind = "boolean"
	KindStruct   Kind = "struct"
	KindStream   Kind = "stream"
	KindList     Kind = "list"
)

// IsContainer reports whether values of this kind are block sequences.
func (k Kind) IsContainer() bool {
	return k == KindStream || k == KindList
}

// ObjectKind distinguishes objects with a draft/publish lifecycle.
type ObjectKind string

const (
	ObjectPage    ObjectKind = "page"
	ObjectSnippet ObjectKind = "snippet"
)

// Def describes one block type.
type Def struct {
	Name       string `yaml:"name"`
	Kind       Kind   `yaml:"kind"`
	Label      string `yaml:"label,omitempty"`
	Required   bool   `yaml:"required,omitempty"`
	Fields     []*Def `yaml:"fields,omitempty"`   // struct members
	Children   []*Def `yaml:"children,omitempty"` // stream block types
	Item       *Def   `yaml:"item,omitempty"`     // list item type
	Constraint string `yaml:"cue,omitempty"`      // CUE constraint on the cleaned value
	Template   string `yaml:"template,omitempty"` // html/template body for rendering

	constraint *cue.Value
}

// Title returns the human readable label.
func (d *Def) Title() string {
	if d.Label != "" {
		return d.Label
	}
	return cases.Title(language.English).String(strings.ReplaceAll(d.Name, "_", " "))
}

// Child returns the definition for a block type allowed directly inside a
// container of this type.
func (d *Def) Child(typ string) (*Def, bool) {
	switch d.Kind {
	case KindStream:
		for _, c := range d.Children {
			if c.Name == typ {
				return c, true
			}
		}
	case KindList:
		if d.Item != nil {
			return d.Item, true
		}
	}
	return nil, false
}

// Field returns the definition of a struct member.
func (d *Def) Field(name string) (*Def, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Model describes an editable object type and its stream fields.
type Model struct {
	ContentTypeID int64      `yaml:"content_type_id"`
	Name          string     `yaml:"name"`
	App           string     `yaml:"app"`
	Kind          ObjectKind `yaml:"kind"`
	Editable      []string   `yaml:"editable"`
	Fields        []*Def     `yaml:"fields"`
}

// Draftable reports whether objects of this model have revisions and drafts.
func (m *Model) Draftable() bool {
	return m.Kind == ObjectPage
}

// Field returns a stream field definition by name.
func (m *Model) Field(name string) (*Def, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// EditableFields returns the fields shown on the model's edit surface.
func (m *Model) EditableFields() []string {
	return m.Editable
}

// file is the on-disk layout of a content model document.
type file struct {
	Models []*Model `yaml:"models"`
}

// Registry resolves content types to models.
type Registry struct {
	byID   map[int64]*Model
	byName map[string]*Model
	models []*Model
}

// Load reads a content model file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content models: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML. Block definitions may be shared between
// models with YAML anchors.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse content models: %w", err)
	}

	r := &Registry{
		byID:   make(map[int64]*Model),
		byName: make(map[string]*Model),
	}
	for _, m := range f.Models {
		if err := r.add(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(m *Model) error {
	if m.ContentTypeID <= 0 {
		return fmt.Errorf("model %q: content_type_id must be positive", m.Name)
	}
	if m.Name == "" {
		return fmt.Errorf("model %d: name is required", m.ContentTypeID)
	}
	if _, dup := r.byID[m.ContentTypeID]; dup {
		return fmt.Errorf("model %q: duplicate content_type_id %d", m.Name, m.ContentTypeID)
	}
	if m.Kind == "" {
		m.Kind = ObjectSnippet
	}
	if m.Kind != ObjectPage && m.Kind != ObjectSnippet {
		return fmt.Errorf("model %q: unknown kind %q", m.Name, m.Kind)
	}
	for _, f := range m.Fields {
		if !f.Kind.IsContainer() {
			return fmt.Errorf("model %q: field %q must be a stream or list", m.Name, f.Name)
		}
		if err := compile(f, map[*Def]bool{}); err != nil {
			return fmt.Errorf("model %q: field %q: %w", m.Name, f.Name, err)
		}
	}
	r.byID[m.ContentTypeID] = m
	r.byName[m.Name] = m
	r.models = append(r.models, m)
	return nil
}

// compile checks a definition tree and compiles its CUE constraints.
// Shared (aliased) definitions are compiled once.
func compile(d *Def, seen map[*Def]bool) error {
	if seen[d] {
		return nil
	}
	seen[d] = true

	if d.Name == "" {
		return fmt.Errorf("block definition without a name")
	}
	switch d.Kind {
	case KindText, KindRichText, KindInteger, KindBoolean:
	case KindStruct:
		for _, f := range d.Fields {
			if err := compile(f, seen); err != nil {
				return fmt.Errorf("%s.%w", d.Name, err)
			}
		}
	case KindStream:
		for _, c := range d.Children {
			if err := compile(c, seen); err != nil {
				return fmt.Errorf("%s: %w", d.Name, err)
			}
		}
	case KindList:
		if d.Item == nil {
			return fmt.Errorf("%s: list without item definition", d.Name)
		}
		if err := compile(d.Item, seen); err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
	default:
		return fmt.Errorf("%s: unknown kind %q", d.Name, d.Kind)
	}

	if d.Constraint != "" {
		v, err := compileConstraint(d.Constraint)
		if err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
		d.constraint = &v
	}
	return nil
}

// Model returns the model registered under a content type id.
func (r *Registry) Model(contentTypeID int64) (*Model, bool) {
	m, ok := r.byID[contentTypeID]
	return m, ok
}

// ModelByName returns the model with the given name.
func (r *Registry) ModelByName(name string) (*Model, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// Models returns all models in declaration order.
func (r *Registry) Models() []*Model {
	return r.models
}
